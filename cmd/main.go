// cmd/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"telemetry-service/internal/alerts"
	"telemetry-service/internal/api"
	"telemetry-service/internal/auth"
	"telemetry-service/internal/broker"
	"telemetry-service/internal/config"
	"telemetry-service/internal/db"
	"telemetry-service/internal/influxdb"
	"telemetry-service/internal/ingest"
	"telemetry-service/internal/kafka"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
	"telemetry-service/internal/notification"
	"telemetry-service/internal/providers"
	"telemetry-service/internal/services"
	"telemetry-service/internal/simulator"
	"telemetry-service/internal/storage"
	"telemetry-service/internal/websocket"
)

// store is everything the service reads and writes. Both the Postgres and the
// in-memory store implement it.
type store interface {
	alerts.Store
	ingest.ReadingStore
	services.Store
	GetDeviceBySerial(ctx context.Context, serial string) (models.Device, error)
}

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Config load failed:", err)
	}

	// Initialize logger
	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatal("Logger init failed:", err)
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open store and seed the demo device
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("Store init failed: %v", err)
		log.Fatal("Store init failed:", err)
	}
	defer closeStore()

	// Mirror readings to InfluxDB when configured
	var readings ingest.ReadingStore = st
	if cfg.InfluxDB.URL != "" {
		influx, err := influxdb.NewClient(cfg.InfluxDB.URL, cfg.InfluxDB.Token, cfg.InfluxDB.Org, cfg.InfluxDB.Bucket, logger)
		if err != nil {
			logger.Errorf("InfluxDB mirror disabled: %v", err)
		} else {
			defer influx.Close()
			readings = influxdb.NewMirror(st, influx)
		}
	}

	bus := broker.New(cfg.Stream.BufferSize, logger)
	engine := alerts.New(st, bus, logger)
	gateway := ingest.NewGateway(readings, st, engine, bus, logger)
	sim := simulator.New(st, gateway, engine, logger, cfg.Simulate.ChunkSize)
	devices := services.New(st, gateway, logger)
	authn := auth.NewManager(st, cfg.Auth.JWTSecret)

	var wg sync.WaitGroup

	// Kafka ingestion and alert forwarding
	var consumer *kafka.Consumer
	var forwarder *kafka.AlertForwarder
	if cfg.Kafka.Broker != "" {
		consumer = kafka.NewConsumer([]string{cfg.Kafka.Broker}, cfg.Kafka.TelemetryTopic, cfg.Kafka.GroupID, gateway, logger)
		consumer.Start(ctx, &wg)
		logger.Infof("Kafka consumer initialized with topic: %s", cfg.Kafka.TelemetryTopic)

		forwarder = kafka.NewAlertForwarder(cfg.Kafka.Broker, cfg.Kafka.AlertTopic, bus.SubscribeAll(), logger)
		forwarder.Start(ctx, &wg)
		logger.Infof("Kafka alert forwarder initialized with topic: %s", cfg.Kafka.AlertTopic)
	}

	// Telegram notifications for critical alerts
	var notifier *notification.Service
	if cfg.Telegram.BotToken != "" {
		tg, err := providers.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.RateLimit, logger)
		if err != nil {
			logger.Errorf("Telegram notifications disabled: %v", err)
		} else {
			notifier = notification.New(logger, notification.Config{
				MaxWorkers: cfg.Notification.MaxWorkers,
				QueueSize:  cfg.Notification.QueueSize,
			}, tg)
			notifier.Start(bus.SubscribeAll(), &wg)
		}
	}

	// Start API server
	gin.SetMode(gin.ReleaseMode)
	h := api.NewHandler(api.Dependencies{
		Ingest:    gateway,
		Alerts:    engine,
		Devices:   devices,
		Simulator: sim,
		Stream:    bus,
		Auth:      authn,
		Live:      websocket.NewServer(bus, logger),
		Heartbeat: cfg.Stream.HeartbeatInterval,
	}, logger)
	srv := &http.Server{
		Addr:    cfg.API.Port,
		Handler: api.NewRouter(logger, cfg.API.BasePath, h),
	}
	go func() {
		logger.Infof("API started on %s", cfg.API.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API run failed: %v", err)
		}
	}()

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Info("Shutting down...")

	cancel()
	bus.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API shutdown failed: %v", err)
	}

	if notifier != nil {
		notifier.Stop()
	}
	wg.Wait()
	if consumer != nil {
		consumer.Close()
	}
	if forwarder != nil {
		forwarder.Close()
	}
	logger.Info("Service stopped")
}

func openStore(ctx context.Context, cfg config.Config, logger *logging.Logger) (store, func(), error) {
	demo := models.Device{
		Name:     "Demo Inverter",
		Serial:   cfg.Demo.DeviceSerial,
		Location: "Demo site",
	}
	if cfg.Demo.DeviceKey != "" {
		hash, err := auth.HashKey(cfg.Demo.DeviceKey)
		if err != nil {
			return nil, nil, err
		}
		demo.APIKeyHash = hash
	} else {
		logger.Warnf("DEMO_DEVICE_KEY not set, device %s cannot ingest over HTTP", demo.Serial)
	}

	if cfg.DB.DSN == "" {
		mem := storage.NewMemoryStore()
		dev := mem.AddDevice(demo)
		logger.Infof("Using in-memory store, demo device id=%s serial=%s", dev.ID, dev.Serial)
		return mem, func() {}, nil
	}

	dbConn, err := db.New(cfg.DB.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := dbConn.Migrate(ctx); err != nil {
		dbConn.Close()
		return nil, nil, err
	}
	dev, err := dbConn.UpsertDevice(ctx, demo)
	if err != nil {
		dbConn.Close()
		return nil, nil, err
	}
	logger.Infof("Connected to Postgres, demo device id=%s serial=%s", dev.ID, dev.Serial)

	return dbConn, func() {
		dbConn.Close()
		logger.Info("DB connection closed")
	}, nil
}
