package transport

import (
	"encoding/json"
	"fmt"
)

// Event types carried over the WebSocket link. The dashboard consumes the
// broadcast types; capture agents consume captureRequest and answer with
// captureResponse.
const (
	TypeSensorReading   = "sensorReading"
	TypeCaptureRequest  = "captureRequest"
	TypeCaptureResponse = "captureResponse"
	TypeAlertLevel      = "alertLevel"
	TypeFusionResult    = "fusionResult"
	TypeThresholdUpdate = "thresholdUpdate"
)

// Envelope is the wire frame: a type tag plus the event payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func Encode(eventType string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return json.Marshal(Envelope{Type: eventType, Data: data})
}

func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing type")
	}
	return env, nil
}

func DecodePayload(env Envelope, out interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s envelope has no data", env.Type)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return nil
}
