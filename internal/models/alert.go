package models

import "time"

type AlertType string

const (
	AlertLowBattery  AlertType = "LOW_BATTERY"
	AlertHighTemp    AlertType = "HIGH_TEMP"
	AlertOverload    AlertType = "OVERLOAD"
	AlertGridLoss    AlertType = "GRID_LOSS"
	AlertWarnGeneric AlertType = "WARN_GENERIC"
)

type AlertSeverity string

const (
	SeverityWarn     AlertSeverity = "WARN"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// Alert is a threshold breach raised for a device. Only AcknowledgedAt ever changes.
type Alert struct {
	ID             string        `json:"id"`
	DeviceID       string        `json:"deviceId"`
	Type           AlertType     `json:"type"`
	Severity       AlertSeverity `json:"severity"`
	Message        string        `json:"message"`
	CreatedAt      time.Time     `json:"createdAt"`
	AcknowledgedAt *time.Time    `json:"acknowledgedAt"`
}

// Acknowledged reports whether the alert has been acknowledged.
func (a Alert) Acknowledged() bool {
	return a.AcknowledgedAt != nil
}

// AlertCandidate is a rule match that has not been persisted yet.
type AlertCandidate struct {
	Type     AlertType
	Severity AlertSeverity
	Message  string
}

// AlertFilter narrows an alert listing.
type AlertFilter struct {
	DeviceID string
	Unacked  bool
	Limit    int
}

// DedupKey identifies alerts that suppress each other inside the dedup window.
type DedupKey struct {
	DeviceID string
	Type     AlertType
	Message  string
}
