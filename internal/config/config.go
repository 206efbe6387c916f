package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	API struct {
		Port     string
		BasePath string
	}
	DB struct {
		DSN string
	}
	Logging struct {
		Dir   string
		Level string
	}
	Stream struct {
		HeartbeatInterval time.Duration
		BufferSize        int
	}
	Simulate struct {
		ChunkSize int
	}
	Kafka struct {
		Broker         string
		TelemetryTopic string
		AlertTopic     string
		GroupID        string
	}
	Notification struct {
		MaxWorkers int
		QueueSize  int
	}
	Telegram struct {
		BotToken  string
		ChatID    int64
		RateLimit int
	}
	InfluxDB struct {
		URL    string
		Token  string
		Org    string
		Bucket string
	}
	Auth struct {
		JWTSecret string
	}
	Demo struct {
		DeviceSerial string
		DeviceKey    string
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	var errs []string

	cfg.API.Port = getEnv("API_PORT", ":8080")
	cfg.API.BasePath = getEnv("API_BASE_PATH", "/api/v0")

	// Empty DSN selects the in-memory store
	cfg.DB.DSN = os.Getenv("DB_DSN")

	cfg.Logging.Dir = getEnv("LOG_DIR", "logs")
	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")

	var err error
	if cfg.Stream.HeartbeatInterval, err = getEnvDuration("STREAM_HEARTBEAT_INTERVAL", 15*time.Second); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.Stream.BufferSize, err = getEnvInt("STREAM_BUFFER_SIZE", 64); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.Simulate.ChunkSize, err = getEnvInt("SIMULATE_CHUNK_SIZE", 500); err != nil {
		errs = append(errs, err.Error())
	}

	cfg.Kafka.Broker = os.Getenv("KAFKA_BROKER")
	cfg.Kafka.TelemetryTopic = getEnv("KAFKA_TELEMETRY_TOPIC", "inverter_telemetry")
	cfg.Kafka.AlertTopic = getEnv("KAFKA_ALERT_TOPIC", "alert_notification")
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", "telemetry-service")

	if cfg.Notification.MaxWorkers, err = getEnvInt("NOTIFY_MAX_WORKERS", 2); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.Notification.QueueSize, err = getEnvInt("NOTIFY_QUEUE_SIZE", 100); err != nil {
		errs = append(errs, err.Error())
	}

	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("TELEGRAM_CHAT_ID: %v", err))
		}
		cfg.Telegram.ChatID = id
	}
	if cfg.Telegram.RateLimit, err = getEnvInt("TELEGRAM_RATE_LIMIT", 1); err != nil {
		errs = append(errs, err.Error())
	}

	cfg.InfluxDB.URL = os.Getenv("INFLUXDB_URL")
	cfg.InfluxDB.Token = os.Getenv("INFLUXDB_TOKEN")
	cfg.InfluxDB.Org = os.Getenv("INFLUXDB_ORG")
	cfg.InfluxDB.Bucket = getEnv("INFLUXDB_BUCKET", "inverter-telemetry")

	cfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")

	cfg.Demo.DeviceSerial = getEnv("DEMO_DEVICE_SERIAL", "INV-001")
	cfg.Demo.DeviceKey = os.Getenv("DEMO_DEVICE_KEY")

	// Validate settings
	if cfg.Stream.HeartbeatInterval <= 0 {
		errs = append(errs, "STREAM_HEARTBEAT_INTERVAL must be positive")
	}
	if cfg.Stream.BufferSize <= 0 {
		errs = append(errs, "STREAM_BUFFER_SIZE must be positive")
	}
	if cfg.Simulate.ChunkSize <= 0 {
		errs = append(errs, "SIMULATE_CHUNK_SIZE must be positive")
	}
	if cfg.Notification.MaxWorkers <= 0 || cfg.Notification.QueueSize <= 0 {
		errs = append(errs, "NOTIFY_MAX_WORKERS and NOTIFY_QUEUE_SIZE must be positive")
	}
	if cfg.Telegram.RateLimit <= 0 {
		errs = append(errs, "TELEGRAM_RATE_LIMIT must be positive")
	}
	if cfg.InfluxDB.URL != "" && (cfg.InfluxDB.Token == "" || cfg.InfluxDB.Org == "") {
		errs = append(errs, "INFLUXDB_TOKEN and INFLUXDB_ORG are required when INFLUXDB_URL is set")
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %v", errs)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", key, err)
	}
	return d, nil
}
