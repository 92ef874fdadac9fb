package model

import "time"

type AlertLevel string

const (
	LevelNormal    AlertLevel = "normal"
	LevelRisk      AlertLevel = "risk"
	LevelConfirmed AlertLevel = "confirmed"
)

type SensorReading struct {
	Temperature float64   `json:"temperature"`
	Light       float64   `json:"light"`
	Smoke       float64   `json:"smoke"`
	Humidity    *float64  `json:"humidity,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
	DeviceID    string    `json:"device_id,omitempty"`
	Source      string    `json:"source,omitempty"`
}

type ThresholdSet struct {
	Temperature float64 `json:"temperature" yaml:"temperature"`
	Light       float64 `json:"light" yaml:"light"`
	Smoke       float64 `json:"smoke" yaml:"smoke"`
	Humidity    float64 `json:"humidity" yaml:"humidity"`
}

type CaptureRequest struct {
	RequestID string    `json:"request_id"`
	Reason    string    `json:"reason"`
	IssuedAt  time.Time `json:"issued_at"`
}

type CaptureResponse struct {
	RequestID   string    `json:"request_id"`
	Image       []byte    `json:"image,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// FusionFactors explains how a confidence value was assembled, including
// which scoring path produced it when the primary path was unavailable.
type FusionFactors struct {
	Method          string   `json:"method"`
	Fallback        bool     `json:"fallback"`
	VisualScore     float64  `json:"visual_score"`
	EmbeddingScore  float64  `json:"embedding_score"`
	ClassBoost      float64  `json:"class_boost"`
	SensorBoost     float64  `json:"sensor_boost"`
	FirePixelRatio  float64  `json:"fire_pixel_ratio,omitempty"`
	DetectedClasses []string `json:"detected_classes,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

type FusionResult struct {
	FireDetected bool          `json:"fire_detected"`
	Confidence   float64       `json:"confidence"`
	Factors      FusionFactors `json:"factors"`
	RequestID    string        `json:"request_id,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

type AlertRecord struct {
	ID           string    `json:"id"`
	Severity     string    `json:"severity"`
	Message      string    `json:"message"`
	FireDetected bool      `json:"fire_detected"`
	Confidence   float64   `json:"confidence"`
	ImageRef     string    `json:"image_ref,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Resolved     bool      `json:"resolved"`
}

type CaptureRecord struct {
	RequestID    string    `json:"request_id"`
	Reason       string    `json:"reason"`
	ImageRef     string    `json:"image_ref,omitempty"`
	Error        string    `json:"error,omitempty"`
	FireDetected bool      `json:"fire_detected"`
	Confidence   float64   `json:"confidence"`
	IssuedAt     time.Time `json:"issued_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
}

type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
}
