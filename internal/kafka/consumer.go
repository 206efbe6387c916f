package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
)

// Ingester accepts one telemetry payload for a device.
type Ingester interface {
	Ingest(ctx context.Context, deviceID string, p models.TelemetryPayload) (models.Reading, error)
}

// MessageReader is the part of kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// TelemetryMessage is a telemetry record on the ingest topic. When DeviceID
// is empty the message key names the device.
type TelemetryMessage struct {
	DeviceID string `json:"deviceId"`
	models.TelemetryPayload
}

// Consumer feeds telemetry from a Kafka topic into the ingest gateway.
type Consumer struct {
	reader MessageReader
	ingest Ingester
	logger *logging.Logger
}

func NewConsumer(brokers []string, topic, groupID string, ingest Ingester, logger *logging.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(r, ingest, logger)
}

func newConsumer(r MessageReader, ingest Ingester, logger *logging.Logger) *Consumer {
	return &Consumer{reader: r, ingest: ingest, logger: logger}
}

// Start reads messages until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Infof("Kafka telemetry consumer started")
		for {
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					c.logger.Infof("Kafka telemetry consumer stopped")
					return
				}
				c.logger.Errorf("Failed to read Kafka message: %v", err)
				continue
			}
			if err := c.handle(ctx, msg); err != nil {
				c.logger.Errorf("Dropped telemetry message at offset %d: %v", msg.Offset, err)
			}
		}
	}()
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	var tm TelemetryMessage
	if err := json.Unmarshal(msg.Value, &tm); err != nil {
		return fmt.Errorf("unmarshal message failed: %w", err)
	}
	if tm.DeviceID == "" {
		tm.DeviceID = string(msg.Key)
	}
	if tm.DeviceID == "" {
		return &models.ValidationError{Field: "deviceId", Reason: "missing in body and key"}
	}

	r, err := c.ingest.Ingest(ctx, tm.DeviceID, tm.TelemetryPayload)
	if err != nil {
		return err
	}
	c.logger.Debugf("Ingested reading %s for device %s from Kafka", r.ID, tm.DeviceID)
	return nil
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Warnf("Kafka reader close failed: %v", err)
	}
}
