package ingest

import (
	"testing"
	"time"

	"firewatch/internal/config"
)

func testParser() *Parser {
	return NewParser(config.ParserConfig{Timezone: "UTC", DefaultDeviceID: "arduino-1"}, 2*time.Second)
}

func TestParseCanonicalPayload(t *testing.T) {
	p := testParser()
	reading, err := p.ParseLine(`{"temperature": 42.5, "light": 310, "smoke": 120, "humidity": 48, "device_id": "esp32-front"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reading.Temperature != 42.5 || reading.Light != 310 || reading.Smoke != 120 {
		t.Fatalf("unexpected values: %+v", reading)
	}
	if reading.Humidity == nil || *reading.Humidity != 48 {
		t.Fatalf("expected humidity 48, got %v", reading.Humidity)
	}
	if reading.DeviceID != "esp32-front" {
		t.Fatalf("expected device_id esp32-front, got %q", reading.DeviceID)
	}
}

func TestParseAliasesAndStringNumbers(t *testing.T) {
	p := testParser()
	reading, err := p.ParseLine(`{"temp": "36.1", "lux": "900", "gas": "77"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reading.Temperature != 36.1 {
		t.Fatalf("expected temperature 36.1, got %v", reading.Temperature)
	}
	if reading.Light != 900 {
		t.Fatalf("expected light 900, got %v", reading.Light)
	}
	if reading.Smoke != 77 {
		t.Fatalf("expected smoke 77, got %v", reading.Smoke)
	}
	if reading.Humidity != nil {
		t.Fatalf("expected no humidity, got %v", *reading.Humidity)
	}
}

func TestParseDefaultsDeviceAndTimestamp(t *testing.T) {
	p := testParser()
	before := time.Now().UTC()
	reading, err := p.ParseLine(`{"temperature": 20, "light": 100, "smoke": 10}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	after := time.Now().UTC()
	if reading.DeviceID != "arduino-1" {
		t.Fatalf("expected default device id, got %q", reading.DeviceID)
	}
	if reading.CapturedAt.Before(before) || reading.CapturedAt.After(after) {
		t.Fatalf("expected captured_at within [%v, %v], got %v", before, after, reading.CapturedAt)
	}
}

func TestParseClampsFutureTimestamp(t *testing.T) {
	p := testParser()
	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	reading, err := p.ParseLine(`{"temperature": 20, "light": 100, "smoke": 10, "timestamp": "` + future + `"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reading.CapturedAt.After(time.Now().UTC().Add(time.Minute)) {
		t.Fatalf("future timestamp was not clamped: %v", reading.CapturedAt)
	}
}

func TestParseEpochTimestamps(t *testing.T) {
	p := testParser()
	ts := time.Date(2026, 3, 20, 9, 26, 53, 0, time.UTC)

	reading, err := p.ParseLine(`{"temperature": 20, "light": 100, "smoke": 10, "ts": "1773998813"}`)
	if err != nil {
		t.Fatalf("parse seconds: %v", err)
	}
	if !reading.CapturedAt.Equal(ts) {
		t.Fatalf("expected %v, got %v", ts, reading.CapturedAt)
	}

	reading, err = p.ParseLine(`{"temperature": 20, "light": 100, "smoke": 10, "ts": "1773998813000"}`)
	if err != nil {
		t.Fatalf("parse millis: %v", err)
	}
	if !reading.CapturedAt.Equal(ts) {
		t.Fatalf("expected %v, got %v", ts, reading.CapturedAt)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	p := testParser()
	if _, err := p.ParseLine(`not json at all`); err == nil {
		t.Fatal("expected error for non-JSON payload")
	}
	if _, err := p.ParseLine(`{"device_id": "x"}`); err == nil {
		t.Fatal("expected error for payload without sensor values")
	}
	reading, err := p.ParseLine("   ")
	if err != nil || reading != nil {
		t.Fatalf("blank line should yield nil, nil; got %v, %v", reading, err)
	}
}
