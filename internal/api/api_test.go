package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"telemetry-service/internal/alerts"
	"telemetry-service/internal/auth"
	"telemetry-service/internal/broker"
	"telemetry-service/internal/ingest"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
	"telemetry-service/internal/services"
	"telemetry-service/internal/simulator"
	"telemetry-service/internal/storage"
	"telemetry-service/internal/websocket"
)

const (
	testSerial = "INV-TEST"
	testKey    = "device-secret"
)

type fixture struct {
	router  *gin.Engine
	store   *storage.MemoryStore
	gateway *ingest.Gateway
	auth    *auth.Manager
	device  models.Device
}

func newFixture(t *testing.T, jwtSecret string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.Discard()
	store := storage.NewMemoryStore()
	hash, err := auth.HashKey(testKey)
	if err != nil {
		t.Fatalf("HashKey() failed: %v", err)
	}
	dev := store.AddDevice(models.Device{Name: "Test inverter", Serial: testSerial, APIKeyHash: hash, Timezone: "UTC"})

	bus := broker.New(16, logger)
	t.Cleanup(bus.Close)

	engine := alerts.New(store, bus, logger)
	gateway := ingest.NewGateway(store, store, engine, bus, logger)
	manager := auth.NewManager(store, jwtSecret)

	h := NewHandler(Dependencies{
		Ingest:    gateway,
		Alerts:    engine,
		Devices:   services.New(store, gateway, logger),
		Simulator: simulator.New(store, gateway, engine, logger, simulator.DefaultChunkSize),
		Stream:    bus,
		Auth:      manager,
		Live:      websocket.NewServer(bus, logger),
		Heartbeat: 20 * time.Millisecond,
	}, logger)

	return &fixture{
		router:  NewRouter(logger, "/api/v0", h),
		store:   store,
		gateway: gateway,
		auth:    manager,
		device:  dev,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func deviceHeaders() map[string]string {
	return map[string]string{"x-device-serial": testSerial, "x-device-key": testKey}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("bad JSON %s: %v", w.Body.String(), err)
	}
}

func TestIngestRequiresDeviceCredentials(t *testing.T) {
	f := newFixture(t, "")

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"missing", nil},
		{"unknown serial", map[string]string{"x-device-serial": "nope", "x-device-key": testKey}},
		{"wrong key", map[string]string{"x-device-serial": testSerial, "x-device-key": "wrong"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/v0/telemetry", `{"soc":50}`, tt.headers)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
	if n := f.store.CountReadings(f.device.ID); n != 0 {
		t.Errorf("stored %d readings for rejected calls", n)
	}
}

func TestIngestAndAcknowledgeFlow(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(t, http.MethodPost, "/api/v0/telemetry", `{"soc":15,"loadW":100}`, deviceHeaders())
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d: %s", w.Code, w.Body.String())
	}
	var reading models.Reading
	decode(t, w, &reading)
	if reading.DeviceID != f.device.ID || reading.Status != models.StatusOK {
		t.Errorf("reading = %+v", reading)
	}

	w = f.do(t, http.MethodGet, "/api/v0/alerts?unacked=true&deviceId="+f.device.ID, "", nil)
	var open []models.Alert
	decode(t, w, &open)
	if len(open) != 1 || open[0].Type != models.AlertLowBattery || open[0].Message != "Battery low (15%)" {
		t.Fatalf("open alerts = %+v", open)
	}

	w = f.do(t, http.MethodPost, "/api/v0/alerts/"+open[0].ID+"/ack", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ack status = %d: %s", w.Code, w.Body.String())
	}
	var ack struct {
		OK      bool   `json:"ok"`
		AlertID string `json:"alertId"`
	}
	decode(t, w, &ack)
	if !ack.OK || ack.AlertID != open[0].ID {
		t.Errorf("ack = %+v", ack)
	}

	w = f.do(t, http.MethodGet, "/api/v0/devices/"+f.device.ID+"/alerts?status=unacked", "", nil)
	decode(t, w, &open)
	if len(open) != 0 {
		t.Errorf("acknowledged alert still listed as open: %+v", open)
	}
}

func TestIngestValidationErrors(t *testing.T) {
	f := newFixture(t, "")

	tests := []struct {
		name string
		body string
	}{
		{"soc out of range", `{"soc":101}`},
		{"bad timestamp", `{"ts":"yesterday"}`},
		{"wrong type", `{"soc":"full"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/v0/telemetry", tt.body, deviceHeaders())
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestAckUnknownAlert(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(t, http.MethodPost, "/api/v0/alerts/missing/ack", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSimulateThenQuery(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(t, http.MethodPost, "/api/v0/devices/"+f.device.ID+"/simulate?minutes=60&intervalSeconds=60", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("simulate status = %d: %s", w.Code, w.Body.String())
	}
	var res simulator.Result
	decode(t, w, &res)
	if res.PointsInserted != 60 || res.MinutesUsed != 60 || res.IntervalSecondsUsed != 60 {
		t.Errorf("result = %+v", res)
	}

	w = f.do(t, http.MethodGet, "/api/v0/devices/"+f.device.ID+"/readings?limit=10", "", nil)
	var points []services.ChartPoint
	decode(t, w, &points)
	if len(points) != 10 {
		t.Errorf("got %d points, want 10", len(points))
	}

	w = f.do(t, http.MethodGet, "/api/v0/devices/"+f.device.ID+"/summary", "", nil)
	var summary services.Summary
	decode(t, w, &summary)
	if summary.Status == "NO_DATA" || summary.LastSeen == nil {
		t.Errorf("summary = %+v", summary)
	}

	w = f.do(t, http.MethodGet, "/api/v0/devices/overview", "", nil)
	var ov services.Overview
	decode(t, w, &ov)
	if ov.TotalDevices != 1 || ov.OnlineDevices != 1 {
		t.Errorf("overview = %+v", ov)
	}

	w = f.do(t, http.MethodPost, "/api/v0/devices/"+f.device.ID+"/push", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("push status = %d", w.Code)
	}
}

func TestReadingsQueryValidation(t *testing.T) {
	f := newFixture(t, "")
	base := "/api/v0/devices/" + f.device.ID + "/readings"

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"defaults", "", http.StatusOK},
		{"limit too large", "?limit=5001", http.StatusBadRequest},
		{"limit not a number", "?limit=ten", http.StatusBadRequest},
		{"from after to", "?from=2026-03-02T00:00:00Z&to=2026-03-01T00:00:00Z", http.StatusBadRequest},
		{"bad from", "?from=soon", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, base+tt.query, "", nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	if w := f.do(t, http.MethodGet, "/api/v0/devices/unknown/readings", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/v0/devices/"+f.device.ID+"/push", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("push without telemetry status = %d, want 404", w.Code)
	}
}

func TestDashboardRoutesRequireToken(t *testing.T) {
	f := newFixture(t, "test-secret")

	if w := f.do(t, http.MethodGet, "/api/v0/devices", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("without token status = %d, want 401", w.Code)
	}
	bad := map[string]string{"Authorization": "Bearer not-a-token"}
	if w := f.do(t, http.MethodGet, "/api/v0/devices", "", bad); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", w.Code)
	}

	token, err := f.auth.GenerateToken("dashboard", "viewer", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}
	good := map[string]string{"Authorization": "Bearer " + token}
	if w := f.do(t, http.MethodGet, "/api/v0/devices", "", good); w.Code != http.StatusOK {
		t.Errorf("with token status = %d, want 200", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/v0/devices/fleet?token="+token, "", nil); w.Code != http.StatusOK {
		t.Errorf("query token status = %d, want 200", w.Code)
	}

	// device ingest uses its own credentials
	if w := f.do(t, http.MethodPost, "/api/v0/telemetry", `{"soc":50}`, deviceHeaders()); w.Code != http.StatusCreated {
		t.Errorf("ingest status = %d, want 201", w.Code)
	}
}

func TestHealthAndRoot(t *testing.T) {
	f := newFixture(t, "secret")
	if w := f.do(t, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
	var root map[string]interface{}
	w := f.do(t, http.MethodGet, "/", "", nil)
	decode(t, w, &root)
	if root["status"] != "running" {
		t.Errorf("root = %v", root)
	}
}

func TestStreamSendsPingsAndTelemetry(t *testing.T) {
	f := newFixture(t, "")
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v0/devices/"+f.device.ID+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q", ct)
	}

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	waitFor := func(event string) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream ended before %s", event)
				}
				if line == "event:"+event {
					return
				}
			case <-deadline:
				t.Fatalf("no %s event", event)
			}
		}
	}

	waitFor("ping")

	soc := 80
	if _, err := f.gateway.Ingest(context.Background(), f.device.ID, models.TelemetryPayload{SOC: &soc}); err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	waitFor("telemetry")
}
