package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"telemetry-service/internal/alerts"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
)

// ReadingStore persists readings.
type ReadingStore interface {
	InsertReading(ctx context.Context, r models.Reading) (models.Reading, error)
	// InsertReadings stores rows as one unit: all of them or none.
	InsertReadings(ctx context.Context, rows []models.Reading) (int, error)
}

// DeviceLookup resolves device ids against the registry.
type DeviceLookup interface {
	GetDevice(ctx context.Context, id string) (models.Device, error)
}

// AlertRaiser turns rule matches into deduplicated alerts.
type AlertRaiser interface {
	Raise(ctx context.Context, deviceID string, candidates []models.AlertCandidate) ([]alerts.CreateResult, error)
}

// Publisher receives live events.
type Publisher interface {
	Publish(ev models.Event)
}

// Gateway validates, persists, alerts on and broadcasts single readings.
type Gateway struct {
	store   ReadingStore
	devices DeviceLookup
	alerts  AlertRaiser
	pub     Publisher
	logger  *logging.Logger
	now     func() time.Time
}

func NewGateway(store ReadingStore, devices DeviceLookup, raiser AlertRaiser, pub Publisher, logger *logging.Logger) *Gateway {
	return &Gateway{
		store:   store,
		devices: devices,
		alerts:  raiser,
		pub:     pub,
		logger:  logger,
		now:     time.Now,
	}
}

// Ingest stores one reading for deviceID, publishes it on the device's
// telemetry topic and then raises alerts computed from the raw payload.
//
// Validation and device lookup happen before anything is written. Once the
// reading is stored, alert failures are logged and do not fail the call.
func (g *Gateway) Ingest(ctx context.Context, deviceID string, p models.TelemetryPayload) (models.Reading, error) {
	if _, err := g.devices.GetDevice(ctx, deviceID); err != nil {
		return models.Reading{}, err
	}

	reading, err := g.buildReading(deviceID, p)
	if err != nil {
		return models.Reading{}, err
	}

	stored, err := g.store.InsertReading(ctx, reading)
	if err != nil {
		return models.Reading{}, fmt.Errorf("failed to store reading: %w", err)
	}

	g.Broadcast(stored)

	log := g.logger.WithField("device_id", deviceID)

	if candidates := alerts.Evaluate(p.Signals()); len(candidates) > 0 {
		results, err := g.alerts.Raise(ctx, deviceID, candidates)
		if err != nil {
			log.Errorf("Alert evaluation failed after storing reading %s: %v", stored.ID, err)
		} else {
			log.Debugf("Reading %s raised %d alert candidates", stored.ID, len(results))
		}
	}

	return stored, nil
}

// IngestBatch stores a pre-built batch as one unit. It neither alerts nor publishes.
func (g *Gateway) IngestBatch(ctx context.Context, rows []models.Reading) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := g.store.InsertReadings(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("failed to store %d readings: %w", len(rows), err)
	}
	return n, nil
}

// Broadcast publishes a stored reading on its device's telemetry topic.
func (g *Gateway) Broadcast(r models.Reading) {
	g.pub.Publish(models.NewTelemetryEvent(r))
}

func (g *Gateway) buildReading(deviceID string, p models.TelemetryPayload) (models.Reading, error) {
	ts := g.now()
	if p.Timestamp != nil {
		parsed, err := ParseTimestamp(*p.Timestamp)
		if err != nil {
			return models.Reading{}, err
		}
		ts = parsed
	}

	if p.SOC != nil && (*p.SOC < 0 || *p.SOC > 100) {
		return models.Reading{}, &models.ValidationError{Field: "soc", Reason: fmt.Sprintf("%d is outside [0, 100]", *p.SOC)}
	}

	status := models.StatusOK
	if p.Status != nil {
		status = models.DeviceStatus(*p.Status)
		if !status.Valid() {
			return models.Reading{}, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *p.Status)}
		}
	}

	return models.Reading{
		DeviceID:  deviceID,
		Timestamp: ts,
		SolarW:    p.SolarW,
		LoadW:     p.LoadW,
		GridW:     p.GridW,
		InverterW: p.InverterW,
		BatteryV:  p.BatteryV,
		BatteryA:  p.BatteryA,
		SOC:       p.SOC,
		TempC:     p.TempC,
		Status:    status,
		CreatedAt: g.now(),
	}, nil
}

// timestampLayouts covers the ISO-8601 forms devices send: colon, basic and
// hour-only offsets, minute precision, and a space instead of the T.
var timestampLayouts = withSpaceSeparator([]string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
	"2006-01-02T15:04Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
})

func withSpaceSeparator(layouts []string) []string {
	out := append([]string(nil), layouts...)
	for _, l := range layouts {
		if strings.Contains(l, "T") {
			out = append(out, strings.Replace(l, "T", " ", 1))
		}
	}
	return out
}

// ParseTimestamp accepts ISO-8601 timestamps. Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &models.ValidationError{Field: "ts", Reason: fmt.Sprintf("cannot parse %q as an ISO-8601 timestamp", s)}
}
