package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
)

const (
	// DedupWindow is how long an unacknowledged alert suppresses an identical one.
	DedupWindow = 2 * time.Minute
	// ListLimit caps the fleet-wide alert listing.
	ListLimit = 100
	// DeviceListLimit caps a single device's alert listing.
	DeviceListLimit = 50
)

// Store is the alert persistence the engine needs.
type Store interface {
	// FindActiveAlert returns the newest unacknowledged alert matching key
	// created at or after since, or models.ErrNotFound.
	FindActiveAlert(ctx context.Context, key models.DedupKey, since time.Time) (models.Alert, error)
	CreateAlert(ctx context.Context, alert models.Alert) (models.Alert, error)
	// AcknowledgeAlert stamps acknowledgedAt if it is still unset and reports
	// whether it changed anything. Returns models.ErrNotFound for unknown ids.
	AcknowledgeAlert(ctx context.Context, id string, at time.Time) (models.Alert, bool, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
}

// Publisher receives live events. The broker bus implements it.
type Publisher interface {
	Publish(ev models.Event)
}

// CreateResult reports what CreateIfNotSpam did.
type CreateResult struct {
	Skipped bool   `json:"skipped"`
	AlertID string `json:"alertId"`
}

// AckResult identifies an acknowledged alert.
type AckResult struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"deviceId"`
	AcknowledgedAt time.Time `json:"acknowledgedAt"`
}

// Engine creates, acknowledges and lists alerts.
type Engine struct {
	store  Store
	pub    Publisher
	logger *logging.Logger
	locks  *keyLock
	now    func() time.Time
}

// New constructs an alert Engine.
func New(store Store, pub Publisher, logger *logging.Logger) *Engine {
	return &Engine{
		store:  store,
		pub:    pub,
		logger: logger,
		locks:  newKeyLock(),
		now:    time.Now,
	}
}

// Raise runs every candidate through CreateIfNotSpam and stops at the first store error.
func (e *Engine) Raise(ctx context.Context, deviceID string, candidates []models.AlertCandidate) ([]CreateResult, error) {
	results := make([]CreateResult, 0, len(candidates))
	for _, c := range candidates {
		res, err := e.CreateIfNotSpam(ctx, deviceID, c.Type, c.Message, c.Severity)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// CreateIfNotSpam creates an alert unless an identical unacknowledged one was
// created inside the dedup window, in which case the existing id is returned.
// Lookup and insert run under a lock scoped to (deviceID, type, message), so
// concurrent identical submissions yield a single alert.
func (e *Engine) CreateIfNotSpam(ctx context.Context, deviceID string, typ models.AlertType, message string, severity models.AlertSeverity) (CreateResult, error) {
	key := models.DedupKey{DeviceID: deviceID, Type: typ, Message: message}
	unlock := e.locks.lock(key)
	defer unlock()

	now := e.now()
	recent, err := e.store.FindActiveAlert(ctx, key, now.Add(-DedupWindow))
	switch {
	case err == nil:
		e.logger.Debugf("Alert %s for device %s suppressed by %s", typ, deviceID, recent.ID)
		return CreateResult{Skipped: true, AlertID: recent.ID}, nil
	case !errors.Is(err, models.ErrNotFound):
		return CreateResult{}, fmt.Errorf("failed to look up recent alert: %w", err)
	}

	created, err := e.store.CreateAlert(ctx, models.Alert{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		Type:      typ,
		Severity:  severity,
		Message:   message,
		CreatedAt: now,
	})
	if err != nil {
		return CreateResult{}, fmt.Errorf("failed to create alert: %w", err)
	}

	e.logger.Infof("Alert created: id=%s device=%s type=%s", created.ID, deviceID, typ)
	e.pub.Publish(models.NewAlertEvent(created))
	return CreateResult{Skipped: false, AlertID: created.ID}, nil
}

// Ack acknowledges an alert. Acknowledging twice keeps the first timestamp
// and only the first call publishes an ack event.
func (e *Engine) Ack(ctx context.Context, alertID string) (AckResult, error) {
	alert, changed, err := e.store.AcknowledgeAlert(ctx, alertID, e.now())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return AckResult{}, fmt.Errorf("alert %s: %w", alertID, err)
		}
		return AckResult{}, fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	res := AckResult{ID: alert.ID, DeviceID: alert.DeviceID}
	if alert.AcknowledgedAt != nil {
		res.AcknowledgedAt = *alert.AcknowledgedAt
	}

	if !changed {
		e.logger.Debugf("Alert %s already acknowledged", alertID)
		return res, nil
	}

	e.logger.Infof("Alert acknowledged: id=%s device=%s", alert.ID, alert.DeviceID)
	e.pub.Publish(models.NewAlertAckEvent(alert))
	return res, nil
}

// List returns alerts newest first, at most ListLimit of them.
func (e *Engine) List(ctx context.Context, deviceID string, unacked bool) ([]models.Alert, error) {
	return e.list(ctx, models.AlertFilter{DeviceID: deviceID, Unacked: unacked, Limit: ListLimit})
}

// ListForDevice returns one device's alerts newest first, at most DeviceListLimit of them.
func (e *Engine) ListForDevice(ctx context.Context, deviceID string, unacked bool) ([]models.Alert, error) {
	return e.list(ctx, models.AlertFilter{DeviceID: deviceID, Unacked: unacked, Limit: DeviceListLimit})
}

func (e *Engine) list(ctx context.Context, f models.AlertFilter) ([]models.Alert, error) {
	list, err := e.store.ListAlerts(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	if list == nil {
		list = []models.Alert{}
	}
	return list, nil
}
