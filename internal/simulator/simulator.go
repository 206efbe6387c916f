package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"telemetry-service/internal/alerts"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
)

// Safety bounds on generated rows.
const (
	MinMinutes         = 10
	MaxMinutes         = 7 * 24 * 60
	MinIntervalSeconds = 10
	MaxIntervalSeconds = 10 * 60

	DefaultMinutes         = 360
	DefaultIntervalSeconds = 60
	DefaultChunkSize       = 500
)

// DeviceLookup resolves device ids.
type DeviceLookup interface {
	GetDevice(ctx context.Context, id string) (models.Device, error)
}

// Sink stores batches and broadcasts single readings. ingest.Gateway implements it.
type Sink interface {
	IngestBatch(ctx context.Context, rows []models.Reading) (int, error)
	Broadcast(r models.Reading)
}

// AlertRaiser creates deduplicated alerts.
type AlertRaiser interface {
	Raise(ctx context.Context, deviceID string, candidates []models.AlertCandidate) ([]alerts.CreateResult, error)
}

// Result reports what a simulation run stored.
type Result struct {
	DeviceID            string `json:"deviceId"`
	MinutesUsed         int    `json:"minutesUsed"`
	IntervalSecondsUsed int    `json:"intervalSecondsUsed"`
	PointsInserted      int    `json:"pointsInserted"`
}

// Simulator backfills synthetic telemetry for a device.
type Simulator struct {
	devices   DeviceLookup
	sink      Sink
	alerts    AlertRaiser
	logger    *logging.Logger
	chunkSize int
	now       func() time.Time
	newRand   func() *rand.Rand
}

func New(devices DeviceLookup, sink Sink, raiser AlertRaiser, logger *logging.Logger, chunkSize int) *Simulator {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Simulator{
		devices:   devices,
		sink:      sink,
		alerts:    raiser,
		logger:    logger,
		chunkSize: chunkSize,
		now:       time.Now,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
	}
}

// Simulate generates floor(minutes*60/intervalSeconds) readings ending at now
// and stores them in chunks. After each chunk commits its last row is alerted
// on and broadcast. A chunk failure leaves earlier chunks in place and the
// returned Result counts them.
func (s *Simulator) Simulate(ctx context.Context, deviceID string, minutes, intervalSeconds int) (Result, error) {
	minutes = clamp(minutes, MinMinutes, MaxMinutes)
	intervalSeconds = clamp(intervalSeconds, MinIntervalSeconds, MaxIntervalSeconds)
	res := Result{DeviceID: deviceID, MinutesUsed: minutes, IntervalSecondsUsed: intervalSeconds}

	device, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return res, err
	}

	points := minutes * 60 / intervalSeconds
	interval := time.Duration(intervalSeconds) * time.Second
	now := s.now()
	gen := newGenerator(s.newRand(), device.TimeLocation())

	log := s.logger.WithField("device_id", deviceID)
	log.Infof("Simulating %d points over %d minutes", points, minutes)

	chunk := make([]models.Reading, 0, s.chunkSize)
	for i := 0; i < points; i++ {
		ts := now.Add(-time.Duration(points-1-i) * interval)
		chunk = append(chunk, gen.next(deviceID, ts))
		if len(chunk) < s.chunkSize && i < points-1 {
			continue
		}

		n, err := s.sink.IngestBatch(ctx, chunk)
		if err != nil {
			log.Errorf("Simulation stopped after %d points: %v", res.PointsInserted, err)
			return res, fmt.Errorf("simulate chunk at point %d: %w", i+1-len(chunk), err)
		}
		res.PointsInserted += n

		s.emit(ctx, chunk[len(chunk)-1])
		chunk = chunk[:0]
	}

	log.Infof("Simulation stored %d points", res.PointsInserted)
	return res, nil
}

// emit runs the representative point of a chunk through the alert rules and
// broadcasts it.
func (s *Simulator) emit(ctx context.Context, last models.Reading) {
	if candidates := alerts.Evaluate(last.Signals()); len(candidates) > 0 {
		if _, err := s.alerts.Raise(ctx, last.DeviceID, candidates); err != nil {
			s.logger.Errorf("Simulated alert for device %s failed: %v", last.DeviceID, err)
		}
	}
	s.sink.Broadcast(last)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
