package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"firewatch/internal/model"
)

func testStore(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "firewatch_test.db")
	store, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteReadingRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	humidity := 48.5
	reading := model.SensorReading{
		Temperature: 42.5,
		Light:       310,
		Smoke:       120,
		Humidity:    &humidity,
		CapturedAt:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		DeviceID:    "esp32-front",
	}
	if err := store.SaveReading(ctx, reading); err != nil {
		t.Fatalf("save reading: %v", err)
	}
	noHumidity := model.SensorReading{
		Temperature: 20,
		Light:       100,
		Smoke:       10,
		CapturedAt:  time.Date(2026, 5, 1, 12, 0, 5, 0, time.UTC),
		DeviceID:    "esp32-front",
	}
	if err := store.SaveReading(ctx, noHumidity); err != nil {
		t.Fatalf("save reading: %v", err)
	}

	list, err := store.ListReadings(ctx, 10)
	if err != nil {
		t.Fatalf("list readings: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(list))
	}
	// Newest first.
	if list[0].Humidity != nil {
		t.Fatalf("expected nil humidity on newest reading, got %v", *list[0].Humidity)
	}
	if list[1].Humidity == nil || *list[1].Humidity != humidity {
		t.Fatalf("expected humidity %v, got %v", humidity, list[1].Humidity)
	}
	if list[1].Temperature != 42.5 || list[1].DeviceID != "esp32-front" {
		t.Fatalf("unexpected reading: %+v", list[1])
	}
}

func TestSQLiteAlertLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	alert := model.AlertRecord{
		ID:           "alert-1",
		Severity:     "high",
		Message:      "fire confirmed with confidence 0.81 (classifier)",
		FireDetected: true,
		Confidence:   0.81,
		ImageRef:     "captures/capture_x.jpg",
		Timestamp:    time.Date(2026, 5, 1, 12, 0, 10, 0, time.UTC),
	}
	if err := store.SaveAlert(ctx, alert); err != nil {
		t.Fatalf("save alert: %v", err)
	}

	list, err := store.ListAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(list) != 1 || list[0].ID != "alert-1" || list[0].Resolved {
		t.Fatalf("unexpected alerts: %+v", list)
	}

	if err := store.ResolveAlert(ctx, "alert-1"); err != nil {
		t.Fatalf("resolve alert: %v", err)
	}
	list, err = store.ListAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if !list[0].Resolved {
		t.Fatal("alert should be resolved")
	}

	if err := store.ResolveAlert(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.ClearAlerts(ctx); err != nil {
		t.Fatalf("clear alerts: %v", err)
	}
	list, err = store.ListAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no alerts after clear, got %d", len(list))
	}
}

func TestSQLiteCaptureLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rec := model.CaptureRecord{
		RequestID: "capture_abc",
		Reason:    "threshold exceeded: temperature high (45.0 > 35.0)",
		IssuedAt:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.SaveCapture(ctx, rec); err != nil {
		t.Fatalf("save capture: %v", err)
	}
	// Duplicate request ids are ignored, not errors.
	if err := store.SaveCapture(ctx, rec); err != nil {
		t.Fatalf("duplicate save capture: %v", err)
	}

	got, err := store.GetCapture(ctx, "capture_abc")
	if err != nil {
		t.Fatalf("get capture: %v", err)
	}
	if !got.CompletedAt.IsZero() {
		t.Fatalf("expected zero completed_at, got %v", got.CompletedAt)
	}

	result := model.FusionResult{FireDetected: true, Confidence: 0.81}
	if err := store.UpdateCaptureResult(ctx, "capture_abc", result, "captures/capture_abc.jpg", ""); err != nil {
		t.Fatalf("update capture: %v", err)
	}
	got, err = store.GetCapture(ctx, "capture_abc")
	if err != nil {
		t.Fatalf("get capture: %v", err)
	}
	if !got.FireDetected || got.Confidence != 0.81 || got.ImageRef != "captures/capture_abc.jpg" {
		t.Fatalf("unexpected capture after update: %+v", got)
	}
	if got.CompletedAt.IsZero() {
		t.Fatal("expected completed_at to be set")
	}

	if _, err := store.GetCapture(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	list, err := store.ListCaptures(ctx, 10)
	if err != nil {
		t.Fatalf("list captures: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 capture, got %d", len(list))
	}
}

func TestSQLiteConfigKV(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, err := store.GetConfigValue(ctx, KeyThresholds); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for empty kv, got %v", err)
	}

	ts := model.ThresholdSet{Temperature: 40, Light: 900, Smoke: 600, Humidity: 25}
	if err := store.SetConfigValue(ctx, KeyThresholds, EncodeThresholds(ts)); err != nil {
		t.Fatalf("set config: %v", err)
	}
	raw, err := store.GetConfigValue(ctx, KeyThresholds)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	got, err := DecodeThresholds(raw)
	if err != nil {
		t.Fatalf("decode thresholds: %v", err)
	}
	if got != ts {
		t.Fatalf("expected %+v, got %+v", ts, got)
	}

	// Upsert overwrites.
	if err := store.SetConfigValue(ctx, KeyAlertLevel, "risk"); err != nil {
		t.Fatalf("set config: %v", err)
	}
	if err := store.SetConfigValue(ctx, KeyAlertLevel, "normal"); err != nil {
		t.Fatalf("set config: %v", err)
	}
	level, err := store.GetConfigValue(ctx, KeyAlertLevel)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if level != "normal" {
		t.Fatalf("expected normal, got %q", level)
	}
}
