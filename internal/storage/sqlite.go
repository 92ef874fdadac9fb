package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"firewatch/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:firewatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sensor_data (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TIMESTAMP NOT NULL,
			device_id TEXT,
			temperature REAL NOT NULL,
			light REAL NOT NULL,
			smoke REAL NOT NULL,
			humidity REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_data_ts ON sensor_data(ts)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts TIMESTAMP NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			fire_detected INTEGER NOT NULL,
			confidence REAL NOT NULL,
			image_ref TEXT,
			resolved INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS captures (
			request_id TEXT PRIMARY KEY,
			reason TEXT,
			image_ref TEXT,
			error TEXT,
			fire_detected INTEGER NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			issued_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS system_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TIMESTAMP NOT NULL,
			event_type TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			data_json TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveReading(ctx context.Context, reading model.SensorReading) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_data (ts, device_id, temperature, light, smoke, humidity)
		VALUES (?, ?, ?, ?, ?, ?)`,
		reading.CapturedAt.UTC(),
		reading.DeviceID,
		reading.Temperature,
		reading.Light,
		reading.Smoke,
		nullableFloat(reading.Humidity),
	)
	return err
}

func (s *sqliteStore) ListReadings(ctx context.Context, limit int) ([]model.SensorReading, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, device_id, temperature, light, smoke, humidity
		FROM sensor_data ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

func (s *sqliteStore) SaveAlert(ctx context.Context, alert model.AlertRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, ts, severity, message, fire_detected, confidence, image_ref, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *sqliteStore) ListAlerts(ctx context.Context, limit int) ([]model.AlertRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, severity, message, fire_detected, confidence, image_ref, resolved
		FROM alerts ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (s *sqliteStore) ResolveAlert(ctx context.Context, id string) error {
	if s.db == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *sqliteStore) ClearAlerts(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM alerts`)
	return err
}

func (s *sqliteStore) SaveCapture(ctx context.Context, rec model.CaptureRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO captures (request_id, reason, image_ref, error, fire_detected, confidence, issued_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO NOTHING`,
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

func (s *sqliteStore) UpdateCaptureResult(ctx context.Context, requestID string, res model.FusionResult, imageRef string, captureErr string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE captures SET image_ref = ?, error = ?, fire_detected = ?, confidence = ?, completed_at = ?
		WHERE request_id = ?`,
		imageRef,
		captureErr,
		res.FireDetected,
		res.Confidence,
		nowUTC(),
		requestID,
	)
	return err
}

func (s *sqliteStore) GetCapture(ctx context.Context, requestID string) (model.CaptureRecord, error) {
	if s.db == nil {
		return model.CaptureRecord{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT request_id, reason, image_ref, error, fire_detected, confidence, issued_at, completed_at
		FROM captures WHERE request_id = ?`, requestID)
	return scanCapture(row)
}

func (s *sqliteStore) ListCaptures(ctx context.Context, limit int) ([]model.CaptureRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, reason, image_ref, error, fire_detected, confidence, issued_at, completed_at
		FROM captures ORDER BY issued_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCaptures(rows)
}

func (s *sqliteStore) SaveEvent(ctx context.Context, ev model.Event) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_events (ts, event_type, level, message, data_json)
		VALUES (?, ?, ?, ?, ?)`,
		ev.Timestamp.UTC(),
		ev.Type,
		ev.Level,
		ev.Message,
		encodeJSON(ev.Data),
	)
	return err
}

func (s *sqliteStore) SetConfigValue(ctx context.Context, key, value string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO configuration (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, nowUTC())
	return err
}

func (s *sqliteStore) GetConfigValue(ctx context.Context, key string) (string, error) {
	if s.db == nil {
		return "", ErrNotFound
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM configuration WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}
