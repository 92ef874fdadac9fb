package fusion

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"firewatch/internal/config"
	"firewatch/internal/model"
)

func encodePNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func redImage(t *testing.T) []byte  { return encodePNG(t, 64, 64, color.RGBA{R: 255, A: 255}) }
func blueImage(t *testing.T) []byte { return encodePNG(t, 64, 64, color.RGBA{B: 255, A: 255}) }

type fakeClassifier struct {
	cls *Classification
	err error
}

func (f *fakeClassifier) Classify(_ context.Context, _ []byte) (*Classification, error) {
	return f.cls, f.err
}

func quietReading() model.SensorReading {
	return model.SensorReading{Temperature: 25, Light: 300, Smoke: 100}
}

func hotReading() model.SensorReading {
	return model.SensorReading{Temperature: 45, Light: 900, Smoke: 600}
}

func testThresholds() model.ThresholdSet {
	return model.ThresholdSet{Temperature: 35, Light: 800, Smoke: 500, Humidity: 30}
}

func fusionDefaults() config.FusionConfig {
	return config.DefaultConfig().Fusion
}

func TestClassifierPathCombinesAllSources(t *testing.T) {
	embedding := make([]float64, 1280)
	for i := range embedding {
		embedding[i] = 0.5
	}
	cls := &fakeClassifier{cls: &Classification{
		Embedding: embedding,
		Labels:    []LabelScore{{Label: "Matchstick", Probability: 0.8}, {Label: "Volcano", Probability: 0.1}},
	}}
	s := NewScorer(cls, fusionDefaults(), nil)

	res := s.Score(context.Background(), redImage(t), quietReading(), testThresholds())
	if res.Factors.Method != MethodClassifier {
		t.Fatalf("expected classifier method, got %q", res.Factors.Method)
	}
	if res.Factors.Fallback {
		t.Fatalf("primary path must not be tagged as fallback")
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", res.Confidence)
	}
	if len(res.Factors.DetectedClasses) != 1 || res.Factors.DetectedClasses[0] != "Matchstick" {
		t.Fatalf("expected matchstick keyword match, got %v", res.Factors.DetectedClasses)
	}
	if res.Factors.ClassBoost <= 0 {
		t.Fatalf("expected positive class boost")
	}
	if res.Factors.EmbeddingScore <= 0 {
		t.Fatalf("expected positive embedding score")
	}
}

func TestClassifierFailureFallsBackToFeatures(t *testing.T) {
	cls := &fakeClassifier{err: errors.New("model not loaded")}
	s := NewScorer(cls, fusionDefaults(), nil)

	res := s.Score(context.Background(), redImage(t), quietReading(), testThresholds())
	if res.Factors.Method != MethodVisualFeatures {
		t.Fatalf("expected visual features fallback, got %q", res.Factors.Method)
	}
	if !res.Factors.Fallback {
		t.Fatalf("fallback result must be tagged")
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", res.Confidence)
	}
}

func TestNilClassifierUsesFeatures(t *testing.T) {
	s := NewScorer(nil, fusionDefaults(), nil)
	res := s.Score(context.Background(), redImage(t), quietReading(), testThresholds())
	if res.Factors.Method != MethodVisualFeatures {
		t.Fatalf("expected visual features, got %q", res.Factors.Method)
	}
}

func TestRedImageScoresAboveBlueImage(t *testing.T) {
	s := NewScorer(nil, fusionDefaults(), nil)
	red := s.Score(context.Background(), redImage(t), quietReading(), testThresholds())
	blue := s.Score(context.Background(), blueImage(t), quietReading(), testThresholds())
	if red.Confidence <= blue.Confidence {
		t.Fatalf("red image should outscore blue: %v vs %v", red.Confidence, blue.Confidence)
	}
}

func TestSensorBoostAppliedAndCapped(t *testing.T) {
	s := NewScorer(nil, fusionDefaults(), nil)
	quiet := s.Score(context.Background(), redImage(t), quietReading(), testThresholds())
	hot := s.Score(context.Background(), redImage(t), hotReading(), testThresholds())

	gain := hot.Confidence - quiet.Confidence
	if gain < 0.29 || gain > 0.31 {
		t.Fatalf("expected full 0.30 sensor boost, got gain %v", gain)
	}
	if hot.Factors.SensorBoost != 0.3 {
		t.Fatalf("sensor boost should cap at 0.30, got %v", hot.Factors.SensorBoost)
	}
}

func TestConfidenceNeverExceedsCeiling(t *testing.T) {
	embedding := []float64{5, 5, 5}
	cls := &fakeClassifier{cls: &Classification{
		Embedding: embedding,
		Labels:    []LabelScore{{Label: "fire", Probability: 1}},
	}}
	s := NewScorer(cls, fusionDefaults(), nil)
	res := s.Score(context.Background(), redImage(t), hotReading(), testThresholds())
	if res.Confidence > 0.95 {
		t.Fatalf("confidence must cap at 0.95, got %v", res.Confidence)
	}
}

func TestTinyImageUsesColorHeuristic(t *testing.T) {
	// Too small for gradient features, decodable for the pixel heuristic.
	img := encodePNG(t, 2, 2, color.RGBA{R: 255, A: 255})
	s := NewScorer(nil, fusionDefaults(), nil)
	res := s.Score(context.Background(), img, quietReading(), testThresholds())
	if res.Factors.Method != MethodColorHeuristic {
		t.Fatalf("expected color heuristic, got %q", res.Factors.Method)
	}
	if !res.FireDetected {
		t.Fatalf("all-red image exceeds the fire pixel floor")
	}
	if res.Confidence != 0.85 {
		t.Fatalf("full fire ratio should give capped 0.85 confidence, got %v", res.Confidence)
	}
}

func TestUndecodableImageYieldsSensorOnly(t *testing.T) {
	s := NewScorer(nil, fusionDefaults(), nil)
	res := s.Score(context.Background(), []byte("not an image"), quietReading(), testThresholds())
	if res.Factors.Method != MethodSensorOnly {
		t.Fatalf("expected sensor-only result, got %q", res.Factors.Method)
	}
	if res.FireDetected {
		t.Fatalf("sensor-only result must not report fire")
	}
	if res.Confidence != 0.5 {
		t.Fatalf("sensor-only confidence must be neutral 0.5, got %v", res.Confidence)
	}
	if !res.Factors.Fallback {
		t.Fatalf("sensor-only result must be tagged as fallback")
	}
}

func TestNoImageYieldsSensorOnly(t *testing.T) {
	s := NewScorer(nil, fusionDefaults(), nil)
	res := s.Score(context.Background(), nil, hotReading(), testThresholds())
	if res.Factors.Method != MethodSensorOnly {
		t.Fatalf("expected sensor-only result, got %q", res.Factors.Method)
	}
	if res.FireDetected {
		t.Fatalf("fire cannot be derived without imagery")
	}
}

func TestClassBoostPicksBestMatch(t *testing.T) {
	boost, matched := classBoost(fusionDefaults(), []LabelScore{
		{Label: "campfire", Probability: 0.4},
		{Label: "torch", Probability: 0.6},
		{Label: "teapot", Probability: 0.9},
	})
	if len(matched) != 2 {
		t.Fatalf("expected two keyword matches, got %v", matched)
	}
	want := 0.6 * 0.3
	if boost < want-1e-9 || boost > want+1e-9 {
		t.Fatalf("expected boost %v, got %v", want, boost)
	}
}

func TestEmbeddingScoreStats(t *testing.T) {
	if got := embeddingScore(nil); got != 0 {
		t.Fatalf("empty embedding must score 0, got %v", got)
	}
	// One strong activation, nothing above the floor otherwise.
	got := embeddingScore([]float64{0.5, 0.01, -0.02})
	want := 1.0*0.7 + (1.0/100)*0.3
	if got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
