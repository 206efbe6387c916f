package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"telemetry-service/internal/alerts"
	"telemetry-service/internal/ingest"
	"telemetry-service/internal/models"
	"telemetry-service/internal/services"
)

var (
	_ alerts.Store        = (*DB)(nil)
	_ ingest.ReadingStore = (*DB)(nil)
	_ ingest.DeviceLookup = (*DB)(nil)
	_ services.Store      = (*DB)(nil)
)

// openTestDB connects to TEST_DB_DSN and skips when it is unset.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	d, err := New(dsn)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(d.Close)
	if err := d.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return d
}

func seedDevice(t *testing.T, d *DB) models.Device {
	t.Helper()
	dev, err := d.UpsertDevice(context.Background(), models.Device{
		Name:     "Test inverter",
		Serial:   "TEST-" + uuid.New().String(),
		Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("UpsertDevice() failed: %v", err)
	}
	return dev
}

func TestReadingsRoundTrip(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	dev := seedDevice(t, d)

	base := time.Now().UTC().Truncate(time.Second)
	soc := 55
	rows := make([]models.Reading, 5)
	for i := range rows {
		rows[i] = models.Reading{DeviceID: dev.ID, Timestamp: base.Add(time.Duration(i) * time.Minute), SOC: &soc, Status: models.StatusOK}
	}
	n, err := d.InsertReadings(ctx, rows)
	if err != nil || n != 5 {
		t.Fatalf("InsertReadings() = %d, %v", n, err)
	}

	got, err := d.ListReadings(ctx, models.ReadingQuery{DeviceID: dev.ID, From: base, To: base.Add(time.Hour), Limit: 3})
	if err != nil {
		t.Fatalf("ListReadings() failed: %v", err)
	}
	if len(got) != 3 || !got[0].Timestamp.Equal(base) || got[0].SolarW != nil || *got[0].SOC != 55 {
		t.Errorf("ListReadings() = %+v", got)
	}

	latest, err := d.LatestReading(ctx, dev.ID)
	if err != nil {
		t.Fatalf("LatestReading() failed: %v", err)
	}
	if !latest.Timestamp.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("latest ts = %v", latest.Timestamp)
	}
}

func TestAlertLifecycle(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	dev := seedDevice(t, d)

	now := time.Now().UTC().Truncate(time.Millisecond)
	a, err := d.CreateAlert(ctx, models.Alert{DeviceID: dev.ID, Type: models.AlertLowBattery, Severity: models.SeverityWarn, Message: "Battery low (10%)", CreatedAt: now})
	if err != nil {
		t.Fatalf("CreateAlert() failed: %v", err)
	}

	key := models.DedupKey{DeviceID: dev.ID, Type: models.AlertLowBattery, Message: "Battery low (10%)"}
	found, err := d.FindActiveAlert(ctx, key, now.Add(-time.Minute))
	if err != nil || found.ID != a.ID {
		t.Fatalf("FindActiveAlert() = %+v, %v", found, err)
	}

	acked, changed, err := d.AcknowledgeAlert(ctx, a.ID, now.Add(time.Second))
	if err != nil || !changed || acked.AcknowledgedAt == nil {
		t.Fatalf("AcknowledgeAlert() = %+v, %v, %v", acked, changed, err)
	}
	again, changed, err := d.AcknowledgeAlert(ctx, a.ID, now.Add(time.Hour))
	if err != nil || changed || !again.AcknowledgedAt.Equal(*acked.AcknowledgedAt) {
		t.Errorf("second AcknowledgeAlert() = %+v, %v, %v", again, changed, err)
	}

	if _, err := d.FindActiveAlert(ctx, key, now.Add(-time.Minute)); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("FindActiveAlert() after ack error = %v, want ErrNotFound", err)
	}
	if _, _, err := d.AcknowledgeAlert(ctx, uuid.New().String(), now); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("AcknowledgeAlert(unknown) error = %v, want ErrNotFound", err)
	}

	open, err := d.CountUnackedAlerts(ctx, dev.ID)
	if err != nil || open != 0 {
		t.Errorf("CountUnackedAlerts() = %d, %v", open, err)
	}
}
