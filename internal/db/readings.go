package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"telemetry-service/internal/models"
)

const readingColumns = `id, device_id, ts, solar_w, load_w, grid_w, inverter_w, battery_v, battery_a, soc, temp_c, status, created_at`

var readingCopyColumns = []string{
	"id", "device_id", "ts", "solar_w", "load_w", "grid_w", "inverter_w",
	"battery_v", "battery_a", "soc", "temp_c", "status", "created_at",
}

func (d *DB) InsertReading(ctx context.Context, r models.Reading) (models.Reading, error) {
	r = prepareReading(r)

	query := `
	INSERT INTO telemetry_reading (` + readingColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := d.Pool.Exec(ctx, query, readingValues(r)...)
	if err != nil {
		return models.Reading{}, fmt.Errorf("failed to insert reading: %w", err)
	}
	return r, nil
}

// InsertReadings bulk-loads rows with COPY, which commits all of them or none.
func (d *DB) InsertReadings(ctx context.Context, rows []models.Reading) (int, error) {
	src := make([][]interface{}, len(rows))
	for i, r := range rows {
		src[i] = readingValues(prepareReading(r))
	}

	n, err := d.Pool.CopyFrom(ctx, pgx.Identifier{"telemetry_reading"}, readingCopyColumns, pgx.CopyFromRows(src))
	if err != nil {
		return 0, fmt.Errorf("failed to copy readings: %w", err)
	}
	return int(n), nil
}

// ListReadings returns readings in [From, To] ascending by timestamp.
func (d *DB) ListReadings(ctx context.Context, q models.ReadingQuery) ([]models.Reading, error) {
	query := `
	SELECT ` + readingColumns + `
	FROM telemetry_reading
	WHERE device_id = $1 AND ts >= $2 AND ts <= $3
	ORDER BY ts ASC`
	args := []interface{}{q.DeviceID, q.From, q.To}
	if q.Limit > 0 {
		query += " LIMIT $4"
		args = append(args, q.Limit)
	}

	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get readings: %w", err)
	}
	defer rows.Close()

	list := []models.Reading{}
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

func (d *DB) LatestReading(ctx context.Context, deviceID string) (models.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM telemetry_reading WHERE device_id = $1 ORDER BY ts DESC LIMIT 1`
	r, err := scanReading(d.Pool.QueryRow(ctx, query, deviceID))
	if err != nil {
		return models.Reading{}, notFound(err, "readings for device "+deviceID)
	}
	return r, nil
}

func readingValues(r models.Reading) []interface{} {
	return []interface{}{
		r.ID, r.DeviceID, r.Timestamp,
		r.SolarW, r.LoadW, r.GridW, r.InverterW,
		r.BatteryV, r.BatteryA, r.SOC, r.TempC,
		string(r.Status), r.CreatedAt,
	}
}

func scanReading(row pgx.Row) (models.Reading, error) {
	var r models.Reading
	var status string
	err := row.Scan(
		&r.ID, &r.DeviceID, &r.Timestamp,
		&r.SolarW, &r.LoadW, &r.GridW, &r.InverterW,
		&r.BatteryV, &r.BatteryA, &r.SOC, &r.TempC,
		&status, &r.CreatedAt,
	)
	r.Status = models.DeviceStatus(status)
	return r, err
}

func prepareReading(r models.Reading) models.Reading {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = models.StatusOK
	}
	return r
}
