package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"firewatch/internal/config"
	"firewatch/internal/model"
)

var errNoReading = errors.New("payload carries no sensor values")

// Parser turns loosely structured device payloads into SensorReadings.
// Firmware in the field disagrees on field names and sends numbers as
// strings, so every dimension accepts a handful of aliases and both
// representations.
type Parser struct {
	loc           *time.Location
	defaultDevice string
	maxFuture     time.Duration
}

func NewParser(cfg config.ParserConfig, maxFuture time.Duration) *Parser {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	if maxFuture <= 0 {
		maxFuture = 2 * time.Second
	}
	return &Parser{loc: loc, defaultDevice: cfg.DefaultDeviceID, maxFuture: maxFuture}
}

func (p *Parser) ParseLine(line string) (*model.SensorReading, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(trim), &obj); err != nil {
		return nil, fmt.Errorf("parse sensor payload: %w", err)
	}
	return p.ParseMap(obj)
}

func (p *Parser) ParseMap(obj map[string]interface{}) (*model.SensorReading, error) {
	if len(obj) == 0 {
		return nil, nil
	}
	reading := &model.SensorReading{}
	found := false

	if v, ok := numberField(obj, "temperature", "temp", "temp_c"); ok {
		reading.Temperature = v
		found = true
	}
	if v, ok := numberField(obj, "light", "lux", "light_level"); ok {
		reading.Light = v
		found = true
	}
	if v, ok := numberField(obj, "smoke", "gas", "smoke_level", "mq2"); ok {
		reading.Smoke = v
		found = true
	}
	if v, ok := numberField(obj, "humidity", "hum", "rh"); ok {
		h := v
		reading.Humidity = &h
		found = true
	}
	if !found {
		return nil, errNoReading
	}

	reading.DeviceID = stringField(obj, "device_id", "device", "sensor_id")
	if reading.DeviceID == "" {
		reading.DeviceID = p.defaultDevice
	}
	reading.CapturedAt = p.resolveTimestamp(stringField(obj, "captured_at", "timestamp", "time", "ts"))
	return reading, nil
}

// resolveTimestamp falls back to the current time when the payload omits
// or garbles the field, and clamps timestamps from devices whose clocks
// run ahead of ours.
func (p *Parser) resolveTimestamp(raw string) time.Time {
	now := time.Now().UTC()
	if raw == "" {
		return now
	}
	ts, ok := parseTimestamp(raw, p.loc)
	if !ok {
		return now
	}
	ts = ts.UTC()
	if ts.After(now.Add(p.maxFuture)) {
		return now
	}
	return ts
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	// Epoch seconds or milliseconds.
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n), true
		}
		if n > 1e9 {
			return time.Unix(n, 0), true
		}
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func numberField(obj map[string]interface{}, keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func stringField(obj map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		switch s := v.(type) {
		case string:
			if trim := strings.TrimSpace(s); trim != "" {
				return trim
			}
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		}
	}
	return ""
}
