package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"telemetry-service/internal/alerts"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
	"telemetry-service/internal/services"
	"telemetry-service/internal/simulator"
)

const version = "1.0.0"

type Ingester interface {
	Ingest(ctx context.Context, deviceID string, p models.TelemetryPayload) (models.Reading, error)
}

type AlertService interface {
	List(ctx context.Context, deviceID string, unacked bool) ([]models.Alert, error)
	ListForDevice(ctx context.Context, deviceID string, unacked bool) ([]models.Alert, error)
	Ack(ctx context.Context, alertID string) (alerts.AckResult, error)
}

type DeviceService interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	Readings(ctx context.Context, deviceID string, p services.ReadingsParams) ([]services.ChartPoint, error)
	Summary(ctx context.Context, deviceID string) (services.Summary, error)
	Fleet(ctx context.Context) ([]services.FleetDevice, error)
	Overview(ctx context.Context) (services.Overview, error)
	Push(ctx context.Context, deviceID string) (services.PushResult, error)
}

type Simulator interface {
	Simulate(ctx context.Context, deviceID string, minutes, intervalSeconds int) (simulator.Result, error)
}

// Streamer opens the merged live sequence for one device.
type Streamer interface {
	Stream(ctx context.Context, deviceID string, heartbeat time.Duration) <-chan models.Event
}

// Authenticator covers both device credentials and dashboard tokens.
type Authenticator interface {
	DeviceAuthenticator
	TokenValidator
}

// Dependencies are the collaborators the handlers call into.
type Dependencies struct {
	Ingest    Ingester
	Alerts    AlertService
	Devices   DeviceService
	Simulator Simulator
	Stream    Streamer
	Auth      Authenticator
	// Live serves the websocket broadcast surface.
	Live      http.Handler
	Heartbeat time.Duration
}

type Handler struct {
	deps   Dependencies
	logger *logging.Logger
}

func NewHandler(deps Dependencies, logger *logging.Logger) *Handler {
	return &Handler{deps: deps, logger: logger}
}

func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":      "telemetry-service",
		"status":    "running",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// IngestTelemetry stores one payload for the authenticated device.
func (h *Handler) IngestTelemetry(c *gin.Context) {
	dev, ok := deviceFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "device not authenticated"})
		return
	}

	var p models.TelemetryPayload
	if err := c.ShouldBindJSON(&p); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Errorf("Invalid telemetry body from device %s: %v", dev.ID, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	reading, err := h.deps.Ingest.Ingest(c.Request.Context(), dev.ID, p)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, reading)
}

// ListAlerts handles GET /alerts?deviceId=...&unacked=true
func (h *Handler) ListAlerts(c *gin.Context) {
	list, err := h.deps.Alerts.List(c.Request.Context(), c.Query("deviceId"), c.Query("unacked") == "true")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) AckAlert(c *gin.Context) {
	res, err := h.deps.Alerts.Ack(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"alertId":        res.ID,
		"deviceId":       res.DeviceID,
		"acknowledgedAt": res.AcknowledgedAt,
	})
}

func (h *Handler) ListDevices(c *gin.Context) {
	list, err := h.deps.Devices.ListDevices(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) Overview(c *gin.Context) {
	ov, err := h.deps.Devices.Overview(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

func (h *Handler) Fleet(c *gin.Context) {
	fleet, err := h.deps.Devices.Fleet(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, fleet)
}

// Readings handles GET /devices/:id/readings?from=&to=&limit=
func (h *Handler) Readings(c *gin.Context) {
	var p services.ReadingsParams
	var err error
	if p.From, err = queryTime(c, "from"); err != nil {
		respondError(c, h.logger, err)
		return
	}
	if p.To, err = queryTime(c, "to"); err != nil {
		respondError(c, h.logger, err)
		return
	}
	if p.Limit, err = queryInt(c, "limit"); err != nil {
		respondError(c, h.logger, err)
		return
	}

	points, err := h.deps.Devices.Readings(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

func (h *Handler) Summary(c *gin.Context) {
	s, err := h.deps.Devices.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// DeviceAlerts handles GET /devices/:id/alerts?status=unacked
func (h *Handler) DeviceAlerts(c *gin.Context) {
	list, err := h.deps.Alerts.ListForDevice(c.Request.Context(), c.Param("id"), c.Query("status") == "unacked")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Simulate handles POST /devices/:id/simulate?minutes=&intervalSeconds=
func (h *Handler) Simulate(c *gin.Context) {
	minutes, err := queryIntDefault(c, "minutes", simulator.DefaultMinutes)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	interval, err := queryIntDefault(c, "intervalSeconds", simulator.DefaultIntervalSeconds)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	res, err := h.deps.Simulator.Simulate(c.Request.Context(), c.Param("id"), minutes, interval)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Push(c *gin.Context) {
	res, err := h.deps.Devices.Push(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Stream serves the device's live sequence as server-sent events named after
// the event kind.
func (h *Handler) Stream(c *gin.Context) {
	deviceID := c.Param("id")
	events := h.deps.Stream.Stream(c.Request.Context(), deviceID, h.deps.Heartbeat)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	h.logger.Infof("SSE stream opened for device %s", deviceID)
	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(string(ev.Kind), ev.Data)
		return true
	})
	h.logger.Infof("SSE stream closed for device %s", deviceID)
}

func (h *Handler) Live(c *gin.Context) {
	h.deps.Live.ServeHTTP(c.Writer, c.Request)
}
