package storage

import (
	"database/sql"
	"time"

	"firewatch/internal/model"
)

// nullableFloat maps an optional reading dimension to a SQL NULL when absent.
func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// nullableTime maps a zero time to a SQL NULL.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func scanReadings(rows *sql.Rows) ([]model.SensorReading, error) {
	var out []model.SensorReading
	for rows.Next() {
		var r model.SensorReading
		var humidity sql.NullFloat64
		if err := rows.Scan(&r.CapturedAt, &r.DeviceID, &r.Temperature, &r.Light, &r.Smoke, &humidity); err != nil {
			return nil, err
		}
		if humidity.Valid {
			h := humidity.Float64
			r.Humidity = &h
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanAlerts(rows *sql.Rows) ([]model.AlertRecord, error) {
	var out []model.AlertRecord
	for rows.Next() {
		var a model.AlertRecord
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.Severity, &a.Message, &a.FireDetected, &a.Confidence, &a.ImageRef, &a.Resolved); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanCaptureRow(dest *model.CaptureRecord, scan func(...any) error) error {
	var completed sql.NullTime
	if err := scan(&dest.RequestID, &dest.Reason, &dest.ImageRef, &dest.Error, &dest.FireDetected, &dest.Confidence, &dest.IssuedAt, &completed); err != nil {
		return err
	}
	if completed.Valid {
		dest.CompletedAt = completed.Time
	}
	return nil
}

func scanCapture(row *sql.Row) (model.CaptureRecord, error) {
	var rec model.CaptureRecord
	if err := scanCaptureRow(&rec, row.Scan); err != nil {
		if err == sql.ErrNoRows {
			return model.CaptureRecord{}, ErrNotFound
		}
		return model.CaptureRecord{}, err
	}
	return rec, nil
}

func scanCaptures(rows *sql.Rows) ([]model.CaptureRecord, error) {
	var out []model.CaptureRecord
	for rows.Next() {
		var rec model.CaptureRecord
		if err := scanCaptureRow(&rec, rows.Scan); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
