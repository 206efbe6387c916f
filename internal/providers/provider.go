// Package providers delivers alerts to external channels.
package providers

import (
	"context"

	"telemetry-service/internal/models"
)

// Provider delivers alerts to one channel.
type Provider interface {
	Name() string
	Send(ctx context.Context, a models.Alert) error
}
