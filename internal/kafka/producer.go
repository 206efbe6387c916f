package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"telemetry-service/internal/broker"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
	"telemetry-service/internal/utils"
)

const (
	writeAttempts = 3
	writeDelay    = time.Second
	writeTimeout  = 10 * time.Second
)

// MessageWriter is the part of kafka.Writer the forwarder uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AlertMessage is the record published for every new alert. It follows the
// alert_notification format downstream notifiers consume.
type AlertMessage struct {
	AlertID   string `json:"alert_id"`
	AlertName string `json:"alert_name"`
	Severity  string `json:"severity"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	DeviceID  string `json:"device_id"`
	CreatedAt string `json:"created_at"`
}

// AlertForwarder publishes alert events from the bus to a Kafka topic.
type AlertForwarder struct {
	writer MessageWriter
	sub    *broker.Subscription
	logger *logging.Logger
}

func NewAlertForwarder(brokerAddr, topic string, sub *broker.Subscription, logger *logging.Logger) *AlertForwarder {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokerAddr),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return newAlertForwarder(w, sub, logger)
}

func newAlertForwarder(w MessageWriter, sub *broker.Subscription, logger *logging.Logger) *AlertForwarder {
	return &AlertForwarder{writer: w, sub: sub, logger: logger}
}

// Start forwards alert events until ctx is cancelled or the subscription closes.
func (f *AlertForwarder) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer f.sub.Close()
		f.logger.Infof("Kafka alert forwarder started")
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-f.sub.C:
				if !ok {
					return
				}
				if ev.Kind != models.KindAlert {
					continue
				}
				if err := f.forward(ctx, ev); err != nil {
					f.logger.Errorf("Failed to forward alert to Kafka: %v", err)
				}
			}
		}
	}()
}

func (f *AlertForwarder) forward(ctx context.Context, ev models.Event) error {
	alert, ok := ev.Data.(models.Alert)
	if !ok {
		return fmt.Errorf("alert event carries %T", ev.Data)
	}

	value, err := json.Marshal(AlertMessage{
		AlertID:   alert.ID,
		AlertName: string(alert.Type),
		Severity:  string(alert.Severity),
		Status:    "firing",
		Message:   alert.Message,
		DeviceID:  alert.DeviceID,
		CreatedAt: alert.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal alert failed: %w", err)
	}

	msg := kafka.Message{Key: []byte(alert.DeviceID), Value: value}
	return utils.Retry(ctx, f.logger, writeAttempts, writeDelay, func() error {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return f.writer.WriteMessages(wctx, msg)
	})
}

func (f *AlertForwarder) Close() {
	if err := f.writer.Close(); err != nil {
		f.logger.Warnf("Kafka writer close failed: %v", err)
	}
}
