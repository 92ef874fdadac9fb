package fusion

import (
	"bytes"
	"errors"
	"image"
	"math"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// VisualFeatures are the hand-crafted statistics extracted from an image:
// the fraction of pixels in the fire color bands, overall brightness and
// contrast, and two texture statistics over the luminance gradient. They are
// sufficient on their own to produce a fallback score when the classifier is
// unavailable.
type VisualFeatures struct {
	Red          float64
	Orange       float64
	Yellow       float64
	Brightness   float64
	Contrast     float64
	GradientMean float64
	GradientStd  float64
}

const featureSize = 64

var errImageTooSmall = errors.New("image too small for feature extraction")

// ExtractFeatures decodes the image, downsamples it and computes the visual
// feature vector. Gradient statistics need a neighborhood, so images smaller
// than 3x3 are rejected and left to the color heuristic.
func ExtractFeatures(data []byte) (VisualFeatures, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return VisualFeatures{}, err
	}
	w, h := featureSize, featureSize
	bounds := img.Bounds()
	if bounds.Dx() < 3 || bounds.Dy() < 3 {
		return VisualFeatures{}, errImageTooSmall
	}
	if bounds.Dx() < w {
		w = bounds.Dx()
	}
	if bounds.Dy() < h {
		h = bounds.Dy()
	}

	lum := make([]float64, w*h)
	var f VisualFeatures
	total := float64(w * h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := samplePixel(img, bounds, x, y, w, h)
			if isRedBand(r, g, b) {
				f.Red++
			}
			if isOrangeBand(r, g, b) {
				f.Orange++
			}
			if isYellowBand(r, g, b) {
				f.Yellow++
			}
			l := (float64(r) + float64(g) + float64(b)) / 3
			lum[y*w+x] = l
			f.Brightness += l
		}
	}

	f.Red /= total
	f.Orange /= total
	f.Yellow /= total
	f.Brightness /= total

	var variance float64
	for _, l := range lum {
		d := l - f.Brightness
		variance += d * d
	}
	f.Contrast = math.Sqrt(variance/total) / 255
	f.Brightness /= 255

	f.GradientMean, f.GradientStd = gradientStats(lum, w, h)
	return f, nil
}

// FirePixelRatio is the last-resort heuristic: the fraction of pixels in any
// fire color band over a coarse downsample. Works on any decodable image.
func FirePixelRatio(data []byte) (float64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	bounds := img.Bounds()
	w, h := 100, 100
	if bounds.Dx() < w {
		w = bounds.Dx()
	}
	if bounds.Dy() < h {
		h = bounds.Dy()
	}
	if w == 0 || h == 0 {
		return 0, errors.New("empty image")
	}
	firePixels := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := samplePixel(img, bounds, x, y, w, h)
			if isRedBand(r, g, b) || isOrangeBand(r, g, b) || isYellowBand(r, g, b) {
				firePixels++
			}
		}
	}
	return float64(firePixels) / float64(w*h), nil
}

func samplePixel(img image.Image, bounds image.Rectangle, x, y, w, h int) (uint8, uint8, uint8) {
	sx := bounds.Min.X + x*bounds.Dx()/w
	sy := bounds.Min.Y + y*bounds.Dy()/h
	r, g, b, _ := img.At(sx, sy).RGBA()
	return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
}

func isRedBand(r, g, b uint8) bool {
	return r > 200 && g < 150 && b < 150
}

func isOrangeBand(r, g, b uint8) bool {
	return r > 200 && g > 100 && g < 200 && b < 100
}

func isYellowBand(r, g, b uint8) bool {
	return r > 200 && g > 200 && b < 150
}

func gradientStats(lum []float64, w, h int) (float64, float64) {
	if w < 3 || h < 3 {
		return 0, 0
	}
	var grads []float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			cur := lum[y*w+x]
			gx := math.Abs(cur - lum[y*w+x+1])
			gy := math.Abs(cur - lum[(y+1)*w+x])
			grads = append(grads, math.Sqrt(gx*gx+gy*gy))
		}
	}
	if len(grads) == 0 {
		return 0, 0
	}
	var mean float64
	for _, g := range grads {
		mean += g
	}
	mean /= float64(len(grads))
	mean /= 255

	var variance float64
	for _, g := range grads {
		d := g/255 - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / float64(len(grads)))
}
