package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"telemetry-service/internal/models"
)

const alertColumns = `id, device_id, type, severity, message, created_at, acknowledged_at`

// CreateAlert inserts a new alert record into the database.
// It generates a new UUID for the id column if not provided.
func (d *DB) CreateAlert(ctx context.Context, a models.Alert) (models.Alert, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO alert (` + alertColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := d.Pool.Exec(ctx, query,
		a.ID,
		a.DeviceID,
		string(a.Type),
		string(a.Severity),
		a.Message,
		a.CreatedAt,
		a.AcknowledgedAt,
	)
	if err != nil {
		return models.Alert{}, fmt.Errorf("failed to insert alert: %w", err)
	}
	return a, nil
}

// FindActiveAlert returns the newest unacknowledged alert for key created at or after since.
func (d *DB) FindActiveAlert(ctx context.Context, key models.DedupKey, since time.Time) (models.Alert, error) {
	query := `
	SELECT ` + alertColumns + `
	FROM alert
	WHERE device_id = $1 AND type = $2 AND message = $3
	  AND acknowledged_at IS NULL AND created_at >= $4
	ORDER BY created_at DESC
	LIMIT 1`

	a, err := scanAlert(d.Pool.QueryRow(ctx, query, key.DeviceID, string(key.Type), key.Message, since))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Alert{}, models.ErrNotFound
		}
		return models.Alert{}, fmt.Errorf("failed to find alert: %w", err)
	}
	return a, nil
}

func (d *DB) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	a, err := scanAlert(d.Pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alert WHERE id = $1`, id))
	if err != nil {
		return models.Alert{}, notFound(err, "alert "+id)
	}
	return a, nil
}

// AcknowledgeAlert stamps acknowledged_at only while it is still NULL.
func (d *DB) AcknowledgeAlert(ctx context.Context, id string, at time.Time) (models.Alert, bool, error) {
	query := `
	UPDATE alert SET acknowledged_at = $2
	WHERE id = $1 AND acknowledged_at IS NULL
	RETURNING ` + alertColumns

	a, err := scanAlert(d.Pool.QueryRow(ctx, query, id, at))
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Alert{}, false, fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	// Either already acknowledged or unknown.
	existing, err := d.GetAlert(ctx, id)
	if err != nil {
		return models.Alert{}, false, err
	}
	return existing, false, nil
}

// ListAlerts fetches alerts newest first with optional device and unacked filters.
func (d *DB) ListAlerts(ctx context.Context, f models.AlertFilter) ([]models.Alert, error) {
	var where []string
	var args []interface{}

	if f.DeviceID != "" {
		args = append(args, f.DeviceID)
		where = append(where, fmt.Sprintf("device_id = $%d", len(args)))
	}
	if f.Unacked {
		where = append(where, "acknowledged_at IS NULL")
	}

	query := `SELECT ` + alertColumns + ` FROM alert`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get alerts: %w", err)
	}
	defer rows.Close()

	list := []models.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// CountUnackedAlerts counts open alerts for a device, or for all devices when deviceID is empty.
func (d *DB) CountUnackedAlerts(ctx context.Context, deviceID string) (int, error) {
	countQ := `SELECT COUNT(*) FROM alert WHERE acknowledged_at IS NULL`
	var countArgs []interface{}
	if deviceID != "" {
		countQ += " AND device_id = $1"
		countArgs = append(countArgs, deviceID)
	}

	var total int
	if err := d.Pool.QueryRow(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return total, nil
}

func scanAlert(row pgx.Row) (models.Alert, error) {
	var a models.Alert
	var typ, severity string
	err := row.Scan(&a.ID, &a.DeviceID, &typ, &severity, &a.Message, &a.CreatedAt, &a.AcknowledgedAt)
	a.Type = models.AlertType(typ)
	a.Severity = models.AlertSeverity(severity)
	return a, err
}
