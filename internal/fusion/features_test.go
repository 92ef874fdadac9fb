package fusion

import (
	"image/color"
	"testing"
)

func TestExtractFeaturesRedImage(t *testing.T) {
	data := encodePNG(t, 64, 64, color.RGBA{R: 255, A: 255})
	f, err := ExtractFeatures(data)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if f.Red < 0.99 {
		t.Fatalf("all-red image should have red fraction ~1, got %v", f.Red)
	}
	if f.Orange != 0 || f.Yellow != 0 {
		t.Fatalf("pure red must not land in orange/yellow bands: %v %v", f.Orange, f.Yellow)
	}
	if f.Contrast > 0.01 {
		t.Fatalf("uniform image has no contrast, got %v", f.Contrast)
	}
	if f.GradientMean > 0.01 {
		t.Fatalf("uniform image has no gradient, got %v", f.GradientMean)
	}
}

func TestExtractFeaturesYellowBand(t *testing.T) {
	data := encodePNG(t, 16, 16, color.RGBA{R: 255, G: 230, B: 100, A: 255})
	f, err := ExtractFeatures(data)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if f.Yellow < 0.99 {
		t.Fatalf("expected yellow band hit, got %v", f.Yellow)
	}
	if f.Brightness < 0.5 {
		t.Fatalf("bright yellow should have high brightness, got %v", f.Brightness)
	}
}

func TestExtractFeaturesRejectsTinyImage(t *testing.T) {
	data := encodePNG(t, 2, 2, color.RGBA{R: 255, A: 255})
	if _, err := ExtractFeatures(data); err == nil {
		t.Fatalf("expected error for 2x2 image")
	}
}

func TestExtractFeaturesRejectsGarbage(t *testing.T) {
	if _, err := ExtractFeatures([]byte("garbage")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestFirePixelRatio(t *testing.T) {
	red := encodePNG(t, 10, 10, color.RGBA{R: 255, A: 255})
	ratio, err := FirePixelRatio(red)
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	if ratio < 0.99 {
		t.Fatalf("all-red ratio should be ~1, got %v", ratio)
	}

	blue := encodePNG(t, 10, 10, color.RGBA{B: 255, A: 255})
	ratio, err = FirePixelRatio(blue)
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	if ratio != 0 {
		t.Fatalf("blue image has no fire pixels, got %v", ratio)
	}
}
