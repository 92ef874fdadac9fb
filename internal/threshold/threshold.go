package threshold

import (
	"fmt"

	"firewatch/internal/model"
)

type Evaluation struct {
	Exceeded bool     `json:"exceeded"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Evaluate compares a reading against the configured thresholds. All four
// rules are checked and every firing rule contributes a reason; there is no
// short-circuit. The humidity rule has the inverted sense: low humidity is
// the fire-risk condition.
func Evaluate(reading model.SensorReading, thresholds model.ThresholdSet) Evaluation {
	var reasons []string
	if reading.Temperature > thresholds.Temperature {
		reasons = append(reasons, fmt.Sprintf("temperature high (%.1f > %.1f)", reading.Temperature, thresholds.Temperature))
	}
	if reading.Light > thresholds.Light {
		reasons = append(reasons, fmt.Sprintf("light high (%.1f > %.1f)", reading.Light, thresholds.Light))
	}
	if reading.Smoke > thresholds.Smoke {
		reasons = append(reasons, fmt.Sprintf("smoke high (%.1f > %.1f)", reading.Smoke, thresholds.Smoke))
	}
	if reading.Humidity != nil && *reading.Humidity < thresholds.Humidity {
		reasons = append(reasons, fmt.Sprintf("humidity low (%.1f < %.1f)", *reading.Humidity, thresholds.Humidity))
	}
	return Evaluation{Exceeded: len(reasons) > 0, Reasons: reasons}
}
