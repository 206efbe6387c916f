package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
)

// Reading query bounds.
const (
	DefaultReadingsWindow = 6 * time.Hour
	DefaultReadingsLimit  = 500
	MaxReadingsLimit      = 5000
)

// noDataStatus is reported for devices that never sent a reading.
const noDataStatus = "NO_DATA"

// Store is the read side the device service needs.
type Store interface {
	GetDevice(ctx context.Context, id string) (models.Device, error)
	ListDevices(ctx context.Context) ([]models.Device, error)
	ListReadings(ctx context.Context, q models.ReadingQuery) ([]models.Reading, error)
	LatestReading(ctx context.Context, deviceID string) (models.Reading, error)
	CountUnackedAlerts(ctx context.Context, deviceID string) (int, error)
}

// Broadcaster republishes a stored reading to live subscribers.
type Broadcaster interface {
	Broadcast(r models.Reading)
}

// Service answers dashboard queries about devices and their readings.
type Service struct {
	store  Store
	live   Broadcaster
	logger *logging.Logger
	now    func() time.Time
}

// New constructs a device Service
func New(store Store, live Broadcaster, logger *logging.Logger) *Service {
	return &Service{store: store, live: live, logger: logger, now: time.Now}
}

// ReadingsParams are the optional filters of a readings query.
type ReadingsParams struct {
	From  *time.Time
	To    *time.Time
	Limit *int
}

// ChartPoint is a reading shaped for charting. Missing power values render as 0.
type ChartPoint struct {
	Timestamp string              `json:"ts"`
	SolarW    int                 `json:"solarW"`
	LoadW     int                 `json:"loadW"`
	GridW     int                 `json:"gridW"`
	InverterW int                 `json:"inverterW"`
	SOC       *int                `json:"soc"`
	TempC     *float64            `json:"tempC"`
	BatteryV  *float64            `json:"batteryV"`
	BatteryA  *float64            `json:"batteryA"`
	Status    models.DeviceStatus `json:"status"`
}

// Summary is the latest state of one device.
type Summary struct {
	DeviceID      string     `json:"deviceId"`
	LastSeen      *time.Time `json:"lastSeen"`
	Status        string     `json:"status"`
	SolarW        int        `json:"solarW"`
	LoadW         int        `json:"loadW"`
	GridW         int        `json:"gridW"`
	BatterySOC    *int       `json:"batterySoc"`
	BatteryV      *float64   `json:"batteryV"`
	TempC         *float64   `json:"tempC"`
	UnackedAlerts int        `json:"unackedAlerts"`
}

// FleetDevice is a device with its latest reading folded in.
type FleetDevice struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Serial        string     `json:"serial"`
	Location      string     `json:"location"`
	Timezone      string     `json:"timezone"`
	LastSeen      *time.Time `json:"lastSeen"`
	Status        string     `json:"status"`
	SolarW        int        `json:"solarW"`
	LoadW         int        `json:"loadW"`
	GridW         int        `json:"gridW"`
	SOC           *int       `json:"soc"`
	TempC         *float64   `json:"tempC"`
	UnackedAlerts int        `json:"unackedAlerts"`
}

// Overview aggregates the whole fleet.
type Overview struct {
	TotalDevices   int `json:"totalDevices"`
	OnlineDevices  int `json:"onlineDevices"`
	WarningDevices int `json:"warningDevices"`
	UnackedAlerts  int `json:"unackedAlerts"`
}

// PushResult reports a republished reading.
type PushResult struct {
	OK       bool                  `json:"ok"`
	DeviceID string                `json:"deviceId"`
	Pushed   models.TelemetryEvent `json:"pushed"`
}

// ListDevices returns every device, newest first.
func (s *Service) ListDevices(ctx context.Context) ([]models.Device, error) {
	list, err := s.store.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if list == nil {
		list = []models.Device{}
	}
	return list, nil
}

// Readings returns readings in [from, to] ascending. The window defaults to
// the last six hours and the limit to 500.
func (s *Service) Readings(ctx context.Context, deviceID string, p ReadingsParams) ([]ChartPoint, error) {
	if _, err := s.store.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	now := s.now()
	to := now
	if p.To != nil {
		to = *p.To
	}
	from := now.Add(-DefaultReadingsWindow)
	if p.From != nil {
		from = *p.From
	}
	if from.After(to) {
		return nil, &models.ValidationError{Field: "from", Reason: `"from" must be <= "to"`}
	}

	limit := DefaultReadingsLimit
	if p.Limit != nil {
		limit = *p.Limit
		if limit < 1 || limit > MaxReadingsLimit {
			return nil, &models.ValidationError{Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d", MaxReadingsLimit)}
		}
	}

	rows, err := s.store.ListReadings(ctx, models.ReadingQuery{DeviceID: deviceID, From: from, To: to, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}

	out := make([]ChartPoint, len(rows))
	for i, r := range rows {
		out[i] = ChartPoint{
			Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
			SolarW:    valueOrZero(r.SolarW),
			LoadW:     valueOrZero(r.LoadW),
			GridW:     valueOrZero(r.GridW),
			InverterW: valueOrZero(r.InverterW),
			SOC:       r.SOC,
			TempC:     r.TempC,
			BatteryV:  r.BatteryV,
			BatteryA:  r.BatteryA,
			Status:    r.Status,
		}
	}
	return out, nil
}

// Summary returns the latest state of a device, or NO_DATA when it has no readings.
func (s *Service) Summary(ctx context.Context, deviceID string) (Summary, error) {
	if _, err := s.store.GetDevice(ctx, deviceID); err != nil {
		return Summary{}, err
	}

	unacked, err := s.store.CountUnackedAlerts(ctx, deviceID)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to count alerts: %w", err)
	}

	latest, found, err := s.latest(ctx, deviceID)
	if err != nil {
		return Summary{}, err
	}
	if !found {
		return Summary{DeviceID: deviceID, Status: noDataStatus, UnackedAlerts: unacked}, nil
	}

	ts := latest.Timestamp
	return Summary{
		DeviceID:      deviceID,
		LastSeen:      &ts,
		Status:        string(latest.Status),
		SolarW:        valueOrZero(latest.SolarW),
		LoadW:         valueOrZero(latest.LoadW),
		GridW:         valueOrZero(latest.GridW),
		BatterySOC:    latest.SOC,
		BatteryV:      latest.BatteryV,
		TempC:         latest.TempC,
		UnackedAlerts: unacked,
	}, nil
}

// Fleet returns every device with its latest reading and open alert count.
func (s *Service) Fleet(ctx context.Context) ([]FleetDevice, error) {
	devices, err := s.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]FleetDevice, 0, len(devices))
	for _, d := range devices {
		fd := FleetDevice{
			ID:       d.ID,
			Name:     d.Name,
			Serial:   d.Serial,
			Location: d.Location,
			Timezone: d.Timezone,
			Status:   noDataStatus,
		}

		latest, found, err := s.latest(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if found {
			ts := latest.Timestamp
			fd.LastSeen = &ts
			fd.Status = string(latest.Status)
			fd.SolarW = valueOrZero(latest.SolarW)
			fd.LoadW = valueOrZero(latest.LoadW)
			fd.GridW = valueOrZero(latest.GridW)
			fd.SOC = latest.SOC
			fd.TempC = latest.TempC
		}

		if fd.UnackedAlerts, err = s.store.CountUnackedAlerts(ctx, d.ID); err != nil {
			return nil, fmt.Errorf("failed to count alerts for %s: %w", d.ID, err)
		}
		out = append(out, fd)
	}
	return out, nil
}

// Overview counts devices, devices that reported at least once, devices whose
// latest status is not OK, and open alerts fleet-wide.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	devices, err := s.ListDevices(ctx)
	if err != nil {
		return Overview{}, err
	}

	ov := Overview{TotalDevices: len(devices)}
	if ov.TotalDevices == 0 {
		return ov, nil
	}

	for _, d := range devices {
		latest, found, err := s.latest(ctx, d.ID)
		if err != nil {
			return Overview{}, err
		}
		if !found {
			continue
		}
		ov.OnlineDevices++
		if latest.Status != models.StatusOK {
			ov.WarningDevices++
		}
	}

	if ov.UnackedAlerts, err = s.store.CountUnackedAlerts(ctx, ""); err != nil {
		return Overview{}, fmt.Errorf("failed to count alerts: %w", err)
	}
	return ov, nil
}

// Push republishes a device's latest reading to live subscribers.
func (s *Service) Push(ctx context.Context, deviceID string) (PushResult, error) {
	latest, err := s.store.LatestReading(ctx, deviceID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return PushResult{}, fmt.Errorf("no telemetry yet for device %s: %w", deviceID, models.ErrNotFound)
		}
		return PushResult{}, fmt.Errorf("failed to load latest reading: %w", err)
	}

	s.live.Broadcast(latest)
	s.logger.Infof("Pushed latest reading %s for device %s", latest.ID, deviceID)

	return PushResult{
		OK:       true,
		DeviceID: deviceID,
		Pushed:   models.NewTelemetryEvent(latest).Data.(models.TelemetryEvent),
	}, nil
}

func (s *Service) latest(ctx context.Context, deviceID string) (models.Reading, bool, error) {
	r, err := s.store.LatestReading(ctx, deviceID)
	switch {
	case err == nil:
		return r, true, nil
	case errors.Is(err, models.ErrNotFound):
		return models.Reading{}, false, nil
	default:
		return models.Reading{}, false, fmt.Errorf("failed to load latest reading for %s: %w", deviceID, err)
	}
}

func valueOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
