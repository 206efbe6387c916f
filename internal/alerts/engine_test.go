package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
	"telemetry-service/internal/storage"
)

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(ev models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) kinds() []models.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventKind, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestEngine() (*Engine, *storage.MemoryStore, *recordingPublisher, *fakeClock) {
	store := storage.NewMemoryStore()
	pub := &recordingPublisher{}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	e := New(store, pub, logging.Discard())
	e.now = clock.Now
	return e, store, pub, clock
}

func TestCreateIfNotSpamSuppressesDuplicates(t *testing.T) {
	e, store, pub, clock := newTestEngine()
	ctx := context.Background()

	first, err := e.CreateIfNotSpam(ctx, "dev-1", models.AlertLowBattery, "Battery low (15%)", models.SeverityWarn)
	if err != nil {
		t.Fatalf("CreateIfNotSpam() failed: %v", err)
	}
	if first.Skipped || first.AlertID == "" {
		t.Fatalf("first result = %+v, want a new alert", first)
	}

	clock.Advance(90 * time.Second)
	second, err := e.CreateIfNotSpam(ctx, "dev-1", models.AlertLowBattery, "Battery low (15%)", models.SeverityWarn)
	if err != nil {
		t.Fatalf("CreateIfNotSpam() failed: %v", err)
	}
	if !second.Skipped || second.AlertID != first.AlertID {
		t.Errorf("second result = %+v, want skipped referencing %s", second, first.AlertID)
	}

	list, _ := store.ListAlerts(ctx, models.AlertFilter{})
	if len(list) != 1 {
		t.Errorf("stored %d alerts, want 1", len(list))
	}
	if kinds := pub.kinds(); len(kinds) != 1 || kinds[0] != models.KindAlert {
		t.Errorf("published %v, want one alert event", kinds)
	}
}

func TestCreateIfNotSpamWindowExpires(t *testing.T) {
	e, store, _, clock := newTestEngine()
	ctx := context.Background()

	first, _ := e.CreateIfNotSpam(ctx, "dev-1", models.AlertLowBattery, "Battery low (15%)", models.SeverityWarn)
	clock.Advance(DedupWindow + time.Second)
	second, err := e.CreateIfNotSpam(ctx, "dev-1", models.AlertLowBattery, "Battery low (15%)", models.SeverityWarn)
	if err != nil {
		t.Fatalf("CreateIfNotSpam() failed: %v", err)
	}
	if second.Skipped || second.AlertID == first.AlertID {
		t.Errorf("result after window = %+v, want a new alert", second)
	}

	list, _ := store.ListAlerts(ctx, models.AlertFilter{})
	if len(list) != 2 {
		t.Errorf("stored %d alerts, want 2", len(list))
	}
}

func TestCreateIfNotSpamKeyedOnMessageAndDevice(t *testing.T) {
	e, store, _, _ := newTestEngine()
	ctx := context.Background()

	e.CreateIfNotSpam(ctx, "dev-1", models.AlertLowBattery, "Battery low (15%)", models.SeverityWarn)
	e.CreateIfNotSpam(ctx, "dev-1", models.AlertLowBattery, "Battery low (14%)", models.SeverityWarn)
	e.CreateIfNotSpam(ctx, "dev-2", models.AlertLowBattery, "Battery low (15%)", models.SeverityWarn)

	list, _ := store.ListAlerts(ctx, models.AlertFilter{})
	if len(list) != 3 {
		t.Errorf("stored %d alerts, want 3", len(list))
	}
}

func TestAcknowledgedAlertDoesNotSuppress(t *testing.T) {
	e, _, _, clock := newTestEngine()
	ctx := context.Background()

	first, _ := e.CreateIfNotSpam(ctx, "dev-1", models.AlertHighTemp, "Temperature high (70°C)", models.SeverityCritical)
	if _, err := e.Ack(ctx, first.AlertID); err != nil {
		t.Fatalf("Ack() failed: %v", err)
	}
	clock.Advance(time.Second)

	second, _ := e.CreateIfNotSpam(ctx, "dev-1", models.AlertHighTemp, "Temperature high (70°C)", models.SeverityCritical)
	if second.Skipped {
		t.Error("acknowledged alert suppressed a new one")
	}
}

func TestConcurrentIdenticalAlertsCreateOne(t *testing.T) {
	e, store, _, _ := newTestEngine()
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]CreateResult, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.CreateIfNotSpam(ctx, "dev-1", models.AlertOverload, "Load overload (6000W)", models.SeverityCritical)
			if err != nil {
				t.Errorf("CreateIfNotSpam() failed: %v", err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	list, _ := store.ListAlerts(ctx, models.AlertFilter{})
	if len(list) != 1 {
		t.Fatalf("stored %d alerts, want 1", len(list))
	}
	created := 0
	for _, res := range results {
		if !res.Skipped {
			created++
		}
		if res.AlertID != list[0].ID {
			t.Errorf("result references %s, want %s", res.AlertID, list[0].ID)
		}
	}
	if created != 1 {
		t.Errorf("%d calls reported a new alert, want 1", created)
	}
	if n := e.locks.size(); n != 0 {
		t.Errorf("key lock holds %d entries after use, want 0", n)
	}
}

func TestAckRemovesFromUnackedListing(t *testing.T) {
	e, _, pub, clock := newTestEngine()
	ctx := context.Background()

	res, _ := e.CreateIfNotSpam(ctx, "dev-1", models.AlertLowBattery, "Battery low (10%)", models.SeverityWarn)
	clock.Advance(time.Minute)

	ack, err := e.Ack(ctx, res.AlertID)
	if err != nil {
		t.Fatalf("Ack() failed: %v", err)
	}
	if ack.ID != res.AlertID || ack.DeviceID != "dev-1" {
		t.Errorf("Ack() = %+v", ack)
	}
	if !ack.AcknowledgedAt.Equal(clock.Now()) {
		t.Errorf("AcknowledgedAt = %v, want %v", ack.AcknowledgedAt, clock.Now())
	}

	unacked, err := e.List(ctx, "dev-1", true)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(unacked) != 0 {
		t.Errorf("unacked listing has %d alerts, want 0", len(unacked))
	}

	all, _ := e.List(ctx, "dev-1", false)
	if len(all) != 1 || all[0].AcknowledgedAt == nil {
		t.Errorf("full listing = %+v, want one acknowledged alert", all)
	}

	kinds := pub.kinds()
	if len(kinds) != 2 || kinds[1] != models.KindAlertAck {
		t.Errorf("published %v, want [alert alert_ack]", kinds)
	}
}

func TestAckTwiceKeepsFirstTimestamp(t *testing.T) {
	e, _, pub, clock := newTestEngine()
	ctx := context.Background()

	res, _ := e.CreateIfNotSpam(ctx, "dev-1", models.AlertLowBattery, "Battery low (10%)", models.SeverityWarn)
	first, _ := e.Ack(ctx, res.AlertID)
	clock.Advance(time.Hour)
	second, err := e.Ack(ctx, res.AlertID)
	if err != nil {
		t.Fatalf("second Ack() failed: %v", err)
	}
	if !second.AcknowledgedAt.Equal(first.AcknowledgedAt) {
		t.Errorf("second ack re-stamped: %v != %v", second.AcknowledgedAt, first.AcknowledgedAt)
	}
	if n := len(pub.kinds()); n != 2 {
		t.Errorf("published %d events, want 2", n)
	}
}

func TestAckUnknownAlert(t *testing.T) {
	e, _, pub, _ := newTestEngine()

	_, err := e.Ack(context.Background(), "missing")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Ack() error = %v, want ErrNotFound", err)
	}
	if n := len(pub.kinds()); n != 0 {
		t.Errorf("published %d events for a missing alert", n)
	}
}

func TestListNewestFirstAndCapped(t *testing.T) {
	e, _, _, clock := newTestEngine()
	ctx := context.Background()

	for i := 0; i < ListLimit+20; i++ {
		clock.Advance(time.Second)
		e.CreateIfNotSpam(ctx, "dev-1", models.AlertOverload, fmt.Sprintf("Load overload (%dW)", 5001+i), models.SeverityWarn)
	}

	list, err := e.List(ctx, "", false)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != ListLimit {
		t.Fatalf("List() returned %d, want %d", len(list), ListLimit)
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Fatalf("listing not newest-first at index %d", i)
		}
	}
}

func TestListEmptyIsNotNil(t *testing.T) {
	e, _, _, _ := newTestEngine()
	list, err := e.List(context.Background(), "nobody", true)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if list == nil {
		t.Error("List() returned nil, want empty slice")
	}
}

func TestRaiseCreatesEachCandidate(t *testing.T) {
	e, store, _, _ := newTestEngine()
	ctx := context.Background()

	soc, temp := 15, 70.0
	candidates := Evaluate(models.Signals{SOC: &soc, TempC: &temp})
	results, err := e.Raise(ctx, "dev-1", candidates)
	if err != nil {
		t.Fatalf("Raise() failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Raise() returned %d results, want 2", len(results))
	}

	list, _ := store.ListAlerts(ctx, models.AlertFilter{DeviceID: "dev-1"})
	types := map[models.AlertType]bool{}
	for _, a := range list {
		types[a.Type] = true
	}
	if !types[models.AlertLowBattery] || !types[models.AlertHighTemp] || len(types) != 2 {
		t.Errorf("stored alert types = %v", types)
	}
}

func TestListForDeviceCapped(t *testing.T) {
	e, _, _, clock := newTestEngine()
	ctx := context.Background()

	for i := 0; i < DeviceListLimit+10; i++ {
		clock.Advance(time.Second)
		e.CreateIfNotSpam(ctx, "dev-1", models.AlertOverload, fmt.Sprintf("Load overload (%dW)", 5001+i), models.SeverityCritical)
	}
	e.CreateIfNotSpam(ctx, "dev-2", models.AlertOverload, "Load overload (6000W)", models.SeverityCritical)

	list, err := e.ListForDevice(ctx, "dev-1", false)
	if err != nil {
		t.Fatalf("ListForDevice() failed: %v", err)
	}
	if len(list) != DeviceListLimit {
		t.Fatalf("ListForDevice() returned %d, want %d", len(list), DeviceListLimit)
	}
	for _, a := range list {
		if a.DeviceID != "dev-1" {
			t.Fatalf("listing leaked alert for %s", a.DeviceID)
		}
	}

	all, _ := e.List(ctx, "dev-1", false)
	if len(all) != DeviceListLimit+10 {
		t.Errorf("List() returned %d, want %d", len(all), DeviceListLimit+10)
	}
}

func TestLowBatteryDedupFollowsMessage(t *testing.T) {
	e, store, _, clock := newTestEngine()
	ctx := context.Background()

	raise := func(soc int) {
		t.Helper()
		if _, err := e.Raise(ctx, "dev-1", Evaluate(models.Signals{SOC: &soc})); err != nil {
			t.Fatalf("Raise(soc=%d) failed: %v", soc, err)
		}
		clock.Advance(10 * time.Second)
	}

	raise(15)
	raise(15)
	raise(15)
	raise(16)
	raise(16)

	list, _ := store.ListAlerts(ctx, models.AlertFilter{DeviceID: "dev-1"})
	messages := map[string]int{}
	for _, a := range list {
		if a.Type != models.AlertLowBattery {
			t.Fatalf("unexpected alert type %s", a.Type)
		}
		messages[a.Message]++
	}
	if len(list) != 2 || messages["Battery low (15%)"] != 1 || messages["Battery low (16%)"] != 1 {
		t.Errorf("stored alerts by message = %v, want one per distinct soc", messages)
	}
}
