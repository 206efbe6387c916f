package broker

import (
	"context"
	"time"

	"telemetry-service/internal/models"
)

// DefaultHeartbeat is how often an idle device stream emits a ping.
const DefaultHeartbeat = 15 * time.Second

// Stream returns the live sequence for one device: its telemetry, alert and ack
// events merged with a ping every heartbeat interval. The sequence starts at
// the moment of the call, so earlier events are never replayed. It ends when
// ctx is cancelled or the bus closes.
func (b *Bus) Stream(ctx context.Context, deviceID string, heartbeat time.Duration) <-chan models.Event {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}

	sub := b.SubscribeDevice(deviceID)
	pings := heartbeats(ctx, deviceID, heartbeat)
	out := make(chan models.Event)

	go func() {
		defer close(out)
		defer sub.Close()

		for {
			var ev models.Event
			select {
			case <-ctx.Done():
				return
			case e, ok := <-sub.C:
				if !ok {
					return
				}
				ev = e
			case e, ok := <-pings:
				if !ok {
					return
				}
				ev = e
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// heartbeats produces ping events on its own schedule until ctx is done.
// A ping that the merger is not ready for is skipped rather than queued.
func heartbeats(ctx context.Context, deviceID string, interval time.Duration) <-chan models.Event {
	pings := make(chan models.Event, 1)

	go func() {
		defer close(pings)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				select {
				case pings <- models.NewPingEvent(deviceID, t):
				default:
				}
			}
		}
	}()

	return pings
}
