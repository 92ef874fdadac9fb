package fusion

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"firewatch/internal/config"
	"firewatch/internal/model"
)

// Scoring method tags, recorded in the contributing factors so every
// fallback is observable.
const (
	MethodClassifier     = "classifier"
	MethodVisualFeatures = "visual_features"
	MethodColorHeuristic = "color_heuristic"
	MethodSensorOnly     = "sensor_only"
)

var fireKeywords = []string{"fire", "flame", "match", "candle", "torch", "bonfire", "campfire", "burn", "smoke"}

// Scorer fuses classifier output, hand-crafted visual features, keyword
// label matches and a sensor-derived boost into one confidence value. Each
// step of the pipeline degrades independently: classifier failure falls back
// to visual features, undecodable features fall back to the pixel color
// heuristic, and when no image signal is available at all the scorer emits a
// neutral sensor-only result rather than failing.
type Scorer struct {
	classifier Classifier
	logger     *slog.Logger
	cfg        atomic.Value
}

func NewScorer(classifier Classifier, cfg config.FusionConfig, logger *slog.Logger) *Scorer {
	s := &Scorer{classifier: classifier, logger: logger}
	s.cfg.Store(cfg)
	return s
}

func (s *Scorer) UpdateConfig(cfg config.FusionConfig) {
	s.cfg.Store(cfg)
}

func (s *Scorer) config() config.FusionConfig {
	if v := s.cfg.Load(); v != nil {
		return v.(config.FusionConfig)
	}
	return config.DefaultConfig().Fusion
}

func (s *Scorer) Score(ctx context.Context, image []byte, reading model.SensorReading, thresholds model.ThresholdSet) model.FusionResult {
	cfg := s.config()
	boost := sensorBoost(cfg, reading, thresholds)

	if s.classifier != nil && len(image) > 0 {
		if res, ok := s.scoreWithClassifier(ctx, cfg, image, boost); ok {
			return res
		}
	}
	if len(image) > 0 {
		if res, ok := s.scoreWithFeatures(cfg, image, boost); ok {
			return res
		}
		if res, ok := s.scoreWithColorHeuristic(cfg, image); ok {
			return res
		}
	}
	return s.sensorOnlyResult(boost)
}

func (s *Scorer) scoreWithClassifier(ctx context.Context, cfg config.FusionConfig, image []byte, boost float64) (model.FusionResult, bool) {
	cls, err := s.classifier.Classify(ctx, image)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("classifier unavailable, falling back to visual features", "err", err)
		}
		return model.FusionResult{}, false
	}
	features, err := ExtractFeatures(image)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("feature extraction failed on classifier path", "err", err)
		}
		return model.FusionResult{}, false
	}

	classBoost, matched := classBoost(cfg, cls.Labels)
	visual := primaryVisualScore(features)
	embedding := embeddingScore(cls.Embedding)

	combined := clamp(visual*cfg.VisualWeight+embedding*cfg.EmbeddingWeight+classBoost*cfg.ClassBoostWeight, 0, 1)
	confidence := clamp(combined+boost, 0, cfg.MaxConfidence)

	return model.FusionResult{
		FireDetected: confidence > cfg.FireThreshold,
		Confidence:   round3(confidence),
		Timestamp:    time.Now().UTC(),
		Factors: model.FusionFactors{
			Method:          MethodClassifier,
			VisualScore:     round3(visual),
			EmbeddingScore:  round3(embedding),
			ClassBoost:      round3(classBoost),
			SensorBoost:     round3(boost),
			DetectedClasses: matched,
		},
	}, true
}

func (s *Scorer) scoreWithFeatures(cfg config.FusionConfig, image []byte, boost float64) (model.FusionResult, bool) {
	features, err := ExtractFeatures(image)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("feature extraction failed, falling back to color heuristic", "err", err)
		}
		return model.FusionResult{}, false
	}

	score := fallbackVisualScore(features)
	confidence := clamp(score+boost, 0, cfg.MaxConfidence)

	return model.FusionResult{
		FireDetected: confidence > cfg.FireThreshold,
		Confidence:   round3(confidence),
		Timestamp:    time.Now().UTC(),
		Factors: model.FusionFactors{
			Method:      MethodVisualFeatures,
			Fallback:    true,
			VisualScore: round3(score),
			SensorBoost: round3(boost),
		},
	}, true
}

func (s *Scorer) scoreWithColorHeuristic(cfg config.FusionConfig, image []byte) (model.FusionResult, bool) {
	ratio, err := FirePixelRatio(image)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("color heuristic failed, falling back to sensor-only result", "err", err)
		}
		return model.FusionResult{}, false
	}
	confidence := math.Min(ratio*2, 0.85)
	return model.FusionResult{
		FireDetected: ratio > cfg.ColorRatioFloor,
		Confidence:   round3(confidence),
		Timestamp:    time.Now().UTC(),
		Factors: model.FusionFactors{
			Method:         MethodColorHeuristic,
			Fallback:       true,
			FirePixelRatio: round3(ratio),
		},
	}, true
}

func (s *Scorer) sensorOnlyResult(boost float64) model.FusionResult {
	return model.FusionResult{
		FireDetected: false,
		Confidence:   0.5,
		Timestamp:    time.Now().UTC(),
		Factors: model.FusionFactors{
			Method:      MethodSensorOnly,
			Fallback:    true,
			SensorBoost: round3(boost),
			Notes:       "no usable image signal",
		},
	}
}

// primaryVisualScore weights the fire color bands and excess brightness,
// used when the classifier path is active.
func primaryVisualScore(f VisualFeatures) float64 {
	score := f.Red*0.3 + f.Orange*0.25 + f.Yellow*0.2
	if f.Brightness > 0.6 {
		score += (f.Brightness - 0.6) * 0.25
	}
	return clamp(score, 0, 1)
}

// fallbackVisualScore is the features-only formula; color bands weigh more
// and contrast contributes because there is no classifier signal to lean on.
func fallbackVisualScore(f VisualFeatures) float64 {
	score := f.Red*0.4 + f.Orange*0.3 + f.Yellow*0.2
	if f.Brightness > 0.6 {
		score += (f.Brightness - 0.6) * 0.5
	}
	if f.Contrast > 0.3 {
		score += (f.Contrast - 0.3) * 0.3
	}
	return clamp(score, 0, 1)
}

// embeddingScore derives activation statistics from the embedding vector:
// the maximum absolute activation and the fraction of activations above a
// fixed floor.
func embeddingScore(embedding []float64) float64 {
	if len(embedding) == 0 {
		return 0
	}
	var maxActivation float64
	high := 0
	for _, v := range embedding {
		av := math.Abs(v)
		if av > maxActivation {
			maxActivation = av
		}
		if av > 0.1 {
			high++
		}
	}
	activation := math.Min(maxActivation*2, 1)
	diversity := math.Min(float64(high)/100, 1)
	return activation*0.7 + diversity*0.3
}

// classBoost scans the ranked labels for fire-related keywords and scales
// the best matching probability.
func classBoost(cfg config.FusionConfig, labels []LabelScore) (float64, []string) {
	var matched []string
	var best float64
	for _, l := range labels {
		name := strings.ToLower(l.Label)
		for _, kw := range fireKeywords {
			if strings.Contains(name, kw) {
				matched = append(matched, l.Label)
				if l.Probability > best {
					best = l.Probability
				}
				break
			}
		}
	}
	return clamp(best*cfg.ClassBoostScale, 0, cfg.ClassBoostScale), matched
}

func sensorBoost(cfg config.FusionConfig, reading model.SensorReading, thresholds model.ThresholdSet) float64 {
	var boost float64
	if reading.Temperature > thresholds.Temperature {
		boost += cfg.TemperatureBoost
	}
	if reading.Light > thresholds.Light {
		boost += cfg.LightBoost
	}
	if reading.Smoke > thresholds.Smoke {
		boost += cfg.SmokeBoost
	}
	return math.Min(boost, cfg.MaxSensorBoost)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
