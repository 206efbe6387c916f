package broker

import (
	"sync"
	"sync/atomic"

	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
)

// Subscription is one consumer's view of the bus.
type Subscription struct {
	C <-chan models.Event

	ch       chan models.Event
	deviceID string
	bus      *Bus
	once     sync.Once
	dropped  atomic.Int64
}

// DeviceID returns the device the subscription is scoped to, or "" for a global one.
func (s *Subscription) DeviceID() string {
	return s.deviceID
}

// Dropped returns how many events this subscriber missed because it was slow.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close detaches the subscription and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
	})
}

// deviceTopic holds the subscribers scoped to one device.
type deviceTopic struct {
	subs map[*Subscription]struct{}
}

// Bus fans events out to global and per-device subscribers.
//
// Per-device topics are created on first subscribe and removed when their last
// subscriber closes, so device churn does not grow the registry.
type Bus struct {
	mu      sync.RWMutex
	global  map[*Subscription]struct{}
	devices map[string]*deviceTopic
	closed  bool

	seq        atomic.Int64
	bufferSize int
	logger     *logging.Logger
}

// New creates a bus whose subscribers buffer up to bufferSize events.
func New(bufferSize int, logger *logging.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		global:     make(map[*Subscription]struct{}),
		devices:    make(map[string]*deviceTopic),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// SubscribeAll returns a subscription that receives every event on the bus.
func (b *Bus) SubscribeAll() *Subscription {
	sub := b.newSubscription("")

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.global[sub] = struct{}{}
	b.logger.Debugf("Global subscriber added (total: %d)", len(b.global))
	return sub
}

// SubscribeDevice returns a subscription that only receives events for deviceID.
func (b *Bus) SubscribeDevice(deviceID string) *Subscription {
	sub := b.newSubscription(deviceID)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	topic, ok := b.devices[deviceID]
	if !ok {
		topic = &deviceTopic{subs: make(map[*Subscription]struct{})}
		b.devices[deviceID] = topic
	}
	topic.subs[sub] = struct{}{}
	b.logger.Debugf("Device %s subscriber added (total: %d)", deviceID, len(topic.subs))
	return sub
}

// Publish delivers ev to every matching subscriber without waiting on any of them.
func (b *Bus) Publish(ev models.Event) {
	ev.Seq = b.seq.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for sub := range b.global {
		sub.offer(ev)
	}
	if ev.DeviceID == "" {
		return
	}
	if topic, ok := b.devices[ev.DeviceID]; ok {
		for sub := range topic.subs {
			sub.offer(ev)
		}
	}
}

// DeviceTopics returns how many devices currently have scoped subscribers.
func (b *Bus) DeviceTopics() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.devices)
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.global)
	for _, topic := range b.devices {
		n += len(topic.subs)
	}
	return n
}

// Close detaches every subscriber. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.global {
		close(sub.ch)
	}
	for _, topic := range b.devices {
		for sub := range topic.subs {
			close(sub.ch)
		}
	}
	b.global = make(map[*Subscription]struct{})
	b.devices = make(map[string]*deviceTopic)
}

func (b *Bus) newSubscription(deviceID string) *Subscription {
	ch := make(chan models.Event, b.bufferSize)
	return &Subscription{C: ch, ch: ch, deviceID: deviceID, bus: b}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if sub.deviceID == "" {
		if _, ok := b.global[sub]; ok {
			delete(b.global, sub)
			close(sub.ch)
		}
		return
	}

	topic, ok := b.devices[sub.deviceID]
	if !ok {
		return
	}
	if _, ok := topic.subs[sub]; !ok {
		return
	}
	delete(topic.subs, sub)
	close(sub.ch)
	if len(topic.subs) == 0 {
		delete(b.devices, sub.deviceID)
		b.logger.Debugf("Device %s topic released", sub.deviceID)
	}
}

// offer is a non-blocking send. Callers hold at least the bus read lock,
// which keeps the channel from being closed underneath it.
func (s *Subscription) offer(ev models.Event) {
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}
