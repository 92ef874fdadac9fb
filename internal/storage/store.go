package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"firewatch/internal/config"
	"firewatch/internal/model"
)

// Store persists sensor readings, alert records, capture records, system
// events and the key/value configuration used to survive restarts. All
// writes are best-effort from the pipeline's point of view: a persistence
// failure is logged by the caller and never aborts an alerting decision.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	SaveReading(ctx context.Context, reading model.SensorReading) error
	ListReadings(ctx context.Context, limit int) ([]model.SensorReading, error)

	SaveAlert(ctx context.Context, alert model.AlertRecord) error
	ListAlerts(ctx context.Context, limit int) ([]model.AlertRecord, error)
	ResolveAlert(ctx context.Context, id string) error
	ClearAlerts(ctx context.Context) error

	SaveCapture(ctx context.Context, rec model.CaptureRecord) error
	UpdateCaptureResult(ctx context.Context, requestID string, res model.FusionResult, imageRef string, captureErr string) error
	GetCapture(ctx context.Context, requestID string) (model.CaptureRecord, error)
	ListCaptures(ctx context.Context, limit int) ([]model.CaptureRecord, error)

	SaveEvent(ctx context.Context, ev model.Event) error

	SetConfigValue(ctx context.Context, key, value string) error
	GetConfigValue(ctx context.Context, key string) (string, error)
}

// Well-known configuration keys.
const (
	KeyThresholds = "thresholds"
	KeyAlertLevel = "alert_level"
)

var ErrNotFound = errors.New("not found")

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// EncodeThresholds / DecodeThresholds serialize the threshold set for the
// configuration KV table.
func EncodeThresholds(t model.ThresholdSet) string {
	return encodeJSON(t)
}

func DecodeThresholds(raw string) (model.ThresholdSet, error) {
	var t model.ThresholdSet
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return model.ThresholdSet{}, err
	}
	return t, nil
}
