package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"telemetry-service/internal/models"
)

const deviceColumns = `id, name, serial, location, timezone, api_key_hash, created_at`

// UpsertDevice inserts a device or refreshes the one with the same serial.
func (d *DB) UpsertDevice(ctx context.Context, dev models.Device) (models.Device, error) {
	if dev.ID == "" {
		dev.ID = uuid.New().String()
	}
	if dev.CreatedAt.IsZero() {
		dev.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO device (` + deviceColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (serial) DO UPDATE SET
		name = EXCLUDED.name,
		location = EXCLUDED.location,
		timezone = EXCLUDED.timezone,
		api_key_hash = EXCLUDED.api_key_hash
	RETURNING ` + deviceColumns

	row := d.Pool.QueryRow(ctx, query,
		dev.ID, dev.Name, dev.Serial, dev.Location, dev.Timezone, dev.APIKeyHash, dev.CreatedAt)
	out, err := scanDevice(row)
	if err != nil {
		return models.Device{}, fmt.Errorf("failed to upsert device: %w", err)
	}
	return out, nil
}

func (d *DB) GetDevice(ctx context.Context, id string) (models.Device, error) {
	row := d.Pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM device WHERE id = $1`, id)
	dev, err := scanDevice(row)
	if err != nil {
		return models.Device{}, notFound(err, "device "+id)
	}
	return dev, nil
}

func (d *DB) GetDeviceBySerial(ctx context.Context, serial string) (models.Device, error) {
	row := d.Pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM device WHERE serial = $1`, serial)
	dev, err := scanDevice(row)
	if err != nil {
		return models.Device{}, notFound(err, "device serial "+serial)
	}
	return dev, nil
}

// ListDevices returns devices newest first.
func (d *DB) ListDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := d.Pool.Query(ctx, `SELECT `+deviceColumns+` FROM device ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	list := []models.Device{}
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		list = append(list, dev)
	}
	return list, rows.Err()
}

func scanDevice(row pgx.Row) (models.Device, error) {
	var dev models.Device
	err := row.Scan(&dev.ID, &dev.Name, &dev.Serial, &dev.Location, &dev.Timezone, &dev.APIKeyHash, &dev.CreatedAt)
	return dev, err
}
