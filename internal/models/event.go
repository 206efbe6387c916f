package models

import (
	"fmt"
	"time"
)

// EventKind tags what an event carries so consumers never guess from its fields.
type EventKind string

const (
	KindTelemetry EventKind = "telemetry"
	KindAlert     EventKind = "alert"
	KindAlertAck  EventKind = "alert_ack"
	KindPing      EventKind = "ping"
)

// Event is one message on the live fan-out bus.
type Event struct {
	Seq      int64       `json:"seq,omitempty"`
	Topic    string      `json:"topic,omitempty"`
	Kind     EventKind   `json:"kind"`
	DeviceID string      `json:"deviceId,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

// TelemetryTopic is the broadcast topic for a device's readings.
func TelemetryTopic(deviceID string) string {
	return fmt.Sprintf("device:%s", deviceID)
}

// AlertTopic is the broadcast topic for a device's new alerts.
func AlertTopic(deviceID string) string {
	return fmt.Sprintf("device:%s:alert", deviceID)
}

// AlertAckTopic is the broadcast topic for a device's acknowledgements.
func AlertAckTopic(deviceID string) string {
	return fmt.Sprintf("device:%s:alert:ack", deviceID)
}

// TelemetryEvent is the live payload published for a reading.
type TelemetryEvent struct {
	Timestamp string       `json:"ts"`
	SolarW    int          `json:"solarW"`
	LoadW     int          `json:"loadW"`
	GridW     int          `json:"gridW"`
	SOC       *int         `json:"soc"`
	TempC     *float64     `json:"tempC"`
	Status    DeviceStatus `json:"status"`
}

// AlertAckEvent is the live payload published when an alert is acknowledged.
type AlertAckEvent struct {
	ID       string `json:"id"`
	DeviceID string `json:"deviceId"`
}

// PingEvent is the heartbeat payload. It exists only to keep connections open.
type PingEvent struct {
	Timestamp string `json:"ts"`
}

// NewTelemetryEvent builds a telemetry bus event from a stored reading.
func NewTelemetryEvent(r Reading) Event {
	return Event{
		Topic:    TelemetryTopic(r.DeviceID),
		Kind:     KindTelemetry,
		DeviceID: r.DeviceID,
		Data: TelemetryEvent{
			Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
			SolarW:    intOrZero(r.SolarW),
			LoadW:     intOrZero(r.LoadW),
			GridW:     intOrZero(r.GridW),
			SOC:       r.SOC,
			TempC:     r.TempC,
			Status:    r.Status,
		},
	}
}

// NewAlertEvent builds an alert-created bus event.
func NewAlertEvent(a Alert) Event {
	return Event{Topic: AlertTopic(a.DeviceID), Kind: KindAlert, DeviceID: a.DeviceID, Data: a}
}

// NewAlertAckEvent builds an alert-acknowledged bus event.
func NewAlertAckEvent(a Alert) Event {
	return Event{
		Topic:    AlertAckTopic(a.DeviceID),
		Kind:     KindAlertAck,
		DeviceID: a.DeviceID,
		Data:     AlertAckEvent{ID: a.ID, DeviceID: a.DeviceID},
	}
}

// NewPingEvent builds a heartbeat event.
func NewPingEvent(deviceID string, at time.Time) Event {
	return Event{Kind: KindPing, DeviceID: deviceID, Data: PingEvent{Timestamp: at.UTC().Format(time.RFC3339)}}
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
