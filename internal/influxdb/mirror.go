package influxdb

import (
	"context"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"telemetry-service/internal/models"
)

// ReadingStore is the primary store being mirrored.
type ReadingStore interface {
	InsertReading(ctx context.Context, r models.Reading) (models.Reading, error)
	InsertReadings(ctx context.Context, rows []models.Reading) (int, error)
}

// PointWriter accepts points for asynchronous delivery. Client implements it.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Mirror copies every reading that the primary store accepts into InfluxDB.
// The primary store stays authoritative; mirror writes never fail a call.
type Mirror struct {
	store  ReadingStore
	points PointWriter
}

func NewMirror(store ReadingStore, points PointWriter) *Mirror {
	return &Mirror{store: store, points: points}
}

func (m *Mirror) InsertReading(ctx context.Context, r models.Reading) (models.Reading, error) {
	stored, err := m.store.InsertReading(ctx, r)
	if err != nil {
		return stored, err
	}
	m.write(stored)
	return stored, nil
}

func (m *Mirror) InsertReadings(ctx context.Context, rows []models.Reading) (int, error) {
	n, err := m.store.InsertReadings(ctx, rows)
	if err != nil {
		return n, err
	}
	for _, r := range rows {
		m.write(r)
	}
	return n, nil
}

func (m *Mirror) write(r models.Reading) {
	if p := NewPoint(r); p != nil {
		m.points.WritePoint(p)
	}
}
