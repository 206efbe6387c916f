package api

import (
	"github.com/gin-gonic/gin"
	"telemetry-service/internal/logging"
)

func NewRouter(logger *logging.Logger, basePath string, h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	api := r.Group(basePath)
	{
		// Device ingest
		api.POST("/telemetry", DeviceAuthMiddleware(h.deps.Auth, logger), h.IngestTelemetry)

		dash := api.Group("", BearerAuthMiddleware(h.deps.Auth, logger))

		// Alerts
		dash.GET("/alerts", h.ListAlerts)
		dash.POST("/alerts/:id/ack", h.AckAlert)

		// Devices
		dash.GET("/devices", h.ListDevices)
		dash.GET("/devices/overview", h.Overview)
		dash.GET("/devices/fleet", h.Fleet)
		dash.GET("/devices/:id/readings", h.Readings)
		dash.GET("/devices/:id/summary", h.Summary)
		dash.GET("/devices/:id/alerts", h.DeviceAlerts)
		dash.GET("/devices/:id/stream", h.Stream)
		dash.POST("/devices/:id/simulate", h.Simulate)
		dash.POST("/devices/:id/push", h.Push)

		// Live broadcast
		dash.GET("/ws", h.Live)
	}
	return r
}
