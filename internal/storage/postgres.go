package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"firewatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/firewatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sensor_data (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			device_id TEXT NOT NULL DEFAULT '',
			temperature DOUBLE PRECISION NOT NULL,
			light DOUBLE PRECISION NOT NULL,
			smoke DOUBLE PRECISION NOT NULL,
			humidity DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_data_ts ON sensor_data(ts)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			fire_detected BOOLEAN NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			image_ref TEXT NOT NULL DEFAULT '',
			resolved BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS captures (
			request_id TEXT PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			image_ref TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			fire_detected BOOLEAN NOT NULL DEFAULT FALSE,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			issued_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS system_events (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			event_type TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			data_json JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveReading(ctx context.Context, reading model.SensorReading) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_data (ts, device_id, temperature, light, smoke, humidity)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		reading.CapturedAt.UTC(),
		reading.DeviceID,
		reading.Temperature,
		reading.Light,
		reading.Smoke,
		nullableFloat(reading.Humidity),
	)
	return err
}

func (s *postgresStore) ListReadings(ctx context.Context, limit int) ([]model.SensorReading, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, device_id, temperature, light, smoke, humidity
		FROM sensor_data ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

func (s *postgresStore) SaveAlert(ctx context.Context, alert model.AlertRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, ts, severity, message, fire_detected, confidence, image_ref, resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		alert.ID,
		alert.Timestamp.UTC(),
		alert.Severity,
		alert.Message,
		alert.FireDetected,
		alert.Confidence,
		alert.ImageRef,
		alert.Resolved,
	)
	return err
}

func (s *postgresStore) ListAlerts(ctx context.Context, limit int) ([]model.AlertRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, severity, message, fire_detected, confidence, image_ref, resolved
		FROM alerts ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (s *postgresStore) ResolveAlert(ctx context.Context, id string) error {
	if s.db == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET resolved = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *postgresStore) ClearAlerts(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM alerts`)
	return err
}

func (s *postgresStore) SaveCapture(ctx context.Context, rec model.CaptureRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO captures (request_id, reason, image_ref, error, fire_detected, confidence, issued_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id) DO NOTHING`,
		rec.RequestID,
		rec.Reason,
		rec.ImageRef,
		rec.Error,
		rec.FireDetected,
		rec.Confidence,
		rec.IssuedAt.UTC(),
		nullableTime(rec.CompletedAt),
	)
	return err
}

func (s *postgresStore) UpdateCaptureResult(ctx context.Context, requestID string, res model.FusionResult, imageRef string, captureErr string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE captures SET image_ref = $1, error = $2, fire_detected = $3, confidence = $4, completed_at = $5
		WHERE request_id = $6`,
		imageRef,
		captureErr,
		res.FireDetected,
		res.Confidence,
		nowUTC(),
		requestID,
	)
	return err
}

func (s *postgresStore) GetCapture(ctx context.Context, requestID string) (model.CaptureRecord, error) {
	if s.db == nil {
		return model.CaptureRecord{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT request_id, reason, image_ref, error, fire_detected, confidence, issued_at, completed_at
		FROM captures WHERE request_id = $1`, requestID)
	return scanCapture(row)
}

func (s *postgresStore) ListCaptures(ctx context.Context, limit int) ([]model.CaptureRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, reason, image_ref, error, fire_detected, confidence, issued_at, completed_at
		FROM captures ORDER BY issued_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCaptures(rows)
}

func (s *postgresStore) SaveEvent(ctx context.Context, ev model.Event) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_events (ts, event_type, level, message, data_json)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.Timestamp.UTC(),
		ev.Type,
		ev.Level,
		ev.Message,
		encodeJSON(ev.Data),
	)
	return err
}

func (s *postgresStore) SetConfigValue(ctx context.Context, key, value string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO configuration (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, nowUTC())
	return err
}

func (s *postgresStore) GetConfigValue(ctx context.Context, key string) (string, error) {
	if s.db == nil {
		return "", ErrNotFound
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM configuration WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}
