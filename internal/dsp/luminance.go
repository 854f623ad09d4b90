package dsp

import "math"

// Rec. 601 luma weights.
const (
	lumaRed   = 0.299
	lumaGreen = 0.587
	lumaBlue  = 0.114
)

// Luminance returns the perceived brightness of an RGB pixel, 0..255.
func Luminance(r, g, b uint8) float64 {
	return lumaRed*float64(r) + lumaGreen*float64(g) + lumaBlue*float64(b)
}

// FrameIntensity averages the luminance of packed RGBA pixels and scales it
// to 0..1, giving one intensity sample for a light channel. Alpha is ignored.
func FrameIntensity(rgba []byte) float64 {
	pixels := len(rgba) / 4
	if pixels == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+3 < len(rgba); i += 4 {
		sum += Luminance(rgba[i], rgba[i+1], rgba[i+2])
	}
	return sum / float64(pixels) / 255
}

// LuminanceHistogram counts pixels per integer brightness level.
func LuminanceHistogram(rgba []byte) [256]int {
	var bins [256]int
	for i := 0; i+3 < len(rgba); i += 4 {
		level := int(math.Round(Luminance(rgba[i], rgba[i+1], rgba[i+2])))
		bins[min(level, 255)]++
	}
	return bins
}
