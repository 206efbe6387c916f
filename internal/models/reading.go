package models

import "time"

// DeviceStatus is the self-reported state of an inverter.
type DeviceStatus string

const (
	StatusOK      DeviceStatus = "OK"
	StatusWarn    DeviceStatus = "WARN"
	StatusFault   DeviceStatus = "FAULT"
	StatusOffline DeviceStatus = "OFFLINE"
)

// Valid reports whether s is one of the known statuses.
func (s DeviceStatus) Valid() bool {
	switch s {
	case StatusOK, StatusWarn, StatusFault, StatusOffline:
		return true
	}
	return false
}

// Reading is one persisted telemetry sample. Immutable once stored.
type Reading struct {
	ID        string       `json:"id"`
	DeviceID  string       `json:"deviceId"`
	Timestamp time.Time    `json:"ts"`
	SolarW    *int         `json:"solarW"`
	LoadW     *int         `json:"loadW"`
	GridW     *int         `json:"gridW"`
	InverterW *int         `json:"inverterW"`
	BatteryV  *float64     `json:"batteryV"`
	BatteryA  *float64     `json:"batteryA"`
	SOC       *int         `json:"soc"`
	TempC     *float64     `json:"tempC"`
	Status    DeviceStatus `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
}

// TelemetryPayload is the raw body a device submits. Every field is optional.
type TelemetryPayload struct {
	Timestamp *string  `json:"ts,omitempty"`
	SolarW    *int     `json:"solarW,omitempty"`
	LoadW     *int     `json:"loadW,omitempty"`
	GridW     *int     `json:"gridW,omitempty"`
	InverterW *int     `json:"inverterW,omitempty"`
	BatteryV  *float64 `json:"batteryV,omitempty"`
	BatteryA  *float64 `json:"batteryA,omitempty"`
	SOC       *int     `json:"soc,omitempty"`
	TempC     *float64 `json:"tempC,omitempty"`
	Status    *string  `json:"status,omitempty"`
}

// Signals exposes the fields alert rules look at.
func (p TelemetryPayload) Signals() Signals {
	s := Signals{SOC: p.SOC, TempC: p.TempC, LoadW: p.LoadW, GridW: p.GridW}
	if p.Status != nil {
		st := DeviceStatus(*p.Status)
		s.Status = &st
	}
	return s
}

// Signals exposes the fields alert rules look at.
func (r Reading) Signals() Signals {
	st := r.Status
	return Signals{SOC: r.SOC, TempC: r.TempC, LoadW: r.LoadW, GridW: r.GridW, Status: &st}
}

// Signals is the subset of a reading that threshold rules evaluate.
// A nil field means the value was not reported.
type Signals struct {
	SOC    *int
	TempC  *float64
	LoadW  *int
	GridW  *int
	Status *DeviceStatus
}

// ReadingQuery selects a time range of readings for one device.
type ReadingQuery struct {
	DeviceID string
	From     time.Time
	To       time.Time
	Limit    int
}
