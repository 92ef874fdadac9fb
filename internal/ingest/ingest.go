package ingest

import (
	"context"
	"log/slog"
	"time"

	"firewatch/internal/model"
)

func SendNonBlocking(ctx context.Context, out chan<- model.SensorReading, reading model.SensorReading, logger *slog.Logger) bool {
	select {
	case out <- reading:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("reading channel full, dropping reading", "device_id", reading.DeviceID, "captured_at", reading.CapturedAt)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
