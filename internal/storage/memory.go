package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"telemetry-service/internal/models"
)

// MemoryStore keeps devices, readings and alerts in process memory.
// It backs tests and DB-less development runs.
type MemoryStore struct {
	mu       sync.RWMutex
	devices  map[string]models.Device
	serials  map[string]string
	readings map[string][]models.Reading // per device, ascending by timestamp
	alerts   []models.Alert              // ascending by createdAt
	alertIdx map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:  make(map[string]models.Device),
		serials:  make(map[string]string),
		readings: make(map[string][]models.Reading),
		alertIdx: make(map[string]int),
	}
}

// AddDevice registers a device, assigning an id when none is set.
func (s *MemoryStore) AddDevice(d models.Device) models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	s.devices[d.ID] = d
	if d.Serial != "" {
		s.serials[d.Serial] = d.ID
	}
	return d
}

func (s *MemoryStore) GetDevice(ctx context.Context, id string) (models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return models.Device{}, fmt.Errorf("device %s: %w", id, models.ErrNotFound)
	}
	return d, nil
}

func (s *MemoryStore) GetDeviceBySerial(ctx context.Context, serial string) (models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.serials[serial]
	if !ok {
		return models.Device{}, fmt.Errorf("device serial %s: %w", serial, models.ErrNotFound)
	}
	return s.devices[id], nil
}

// ListDevices returns devices newest first.
func (s *MemoryStore) ListDevices(ctx context.Context) ([]models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) InsertReading(ctx context.Context, r models.Reading) (models.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r = prepareReading(r)
	s.insertLocked(r)
	return r, nil
}

// InsertReadings stores the batch as one unit.
func (s *MemoryStore) InsertReadings(ctx context.Context, rows []models.Reading) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		s.insertLocked(prepareReading(r))
	}
	return len(rows), nil
}

func (s *MemoryStore) insertLocked(r models.Reading) {
	list := s.readings[r.DeviceID]
	i := sort.Search(len(list), func(i int) bool { return list[i].Timestamp.After(r.Timestamp) })
	list = append(list, models.Reading{})
	copy(list[i+1:], list[i:])
	list[i] = r
	s.readings[r.DeviceID] = list
}

// ListReadings returns readings in [From, To] ascending, capped at Limit.
func (s *MemoryStore) ListReadings(ctx context.Context, q models.ReadingQuery) ([]models.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Reading{}
	for _, r := range s.readings[q.DeviceID] {
		if r.Timestamp.Before(q.From) || r.Timestamp.After(q.To) {
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestReading(ctx context.Context, deviceID string) (models.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.readings[deviceID]
	if len(list) == 0 {
		return models.Reading{}, fmt.Errorf("readings for device %s: %w", deviceID, models.ErrNotFound)
	}
	return list[len(list)-1], nil
}

// CountReadings returns how many readings a device has.
func (s *MemoryStore) CountReadings(deviceID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings[deviceID])
}

func (s *MemoryStore) FindActiveAlert(ctx context.Context, key models.DedupKey, since time.Time) (models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if a.CreatedAt.Before(since) {
			break
		}
		if a.DeviceID == key.DeviceID && a.Type == key.Type && a.Message == key.Message && a.AcknowledgedAt == nil {
			return a, nil
		}
	}
	return models.Alert{}, models.ErrNotFound
}

func (s *MemoryStore) CreateAlert(ctx context.Context, a models.Alert) (models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if _, exists := s.alertIdx[a.ID]; exists {
		return models.Alert{}, fmt.Errorf("alert %s already exists", a.ID)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	// keep createdAt order even if clocks hand us an older timestamp
	i := sort.Search(len(s.alerts), func(i int) bool { return s.alerts[i].CreatedAt.After(a.CreatedAt) })
	s.alerts = append(s.alerts, models.Alert{})
	copy(s.alerts[i+1:], s.alerts[i:])
	s.alerts[i] = a
	for j := i; j < len(s.alerts); j++ {
		s.alertIdx[s.alerts[j].ID] = j
	}
	return a, nil
}

func (s *MemoryStore) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.alertIdx[id]
	if !ok {
		return models.Alert{}, fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	return s.alerts[i], nil
}

func (s *MemoryStore) AcknowledgeAlert(ctx context.Context, id string, at time.Time) (models.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.alertIdx[id]
	if !ok {
		return models.Alert{}, false, fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	if s.alerts[i].AcknowledgedAt != nil {
		return s.alerts[i], false, nil
	}
	stamp := at
	s.alerts[i].AcknowledgedAt = &stamp
	return s.alerts[i], true, nil
}

// ListAlerts returns alerts newest first.
func (s *MemoryStore) ListAlerts(ctx context.Context, f models.AlertFilter) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Alert{}
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if f.DeviceID != "" && a.DeviceID != f.DeviceID {
			continue
		}
		if f.Unacked && a.AcknowledgedAt != nil {
			continue
		}
		out = append(out, a)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// CountUnackedAlerts counts open alerts for a device, or for all devices when deviceID is empty.
func (s *MemoryStore) CountUnackedAlerts(ctx context.Context, deviceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.alerts {
		if a.AcknowledgedAt == nil && (deviceID == "" || a.DeviceID == deviceID) {
			n++
		}
	}
	return n, nil
}

func prepareReading(r models.Reading) models.Reading {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	return r
}
