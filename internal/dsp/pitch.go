package dsp

import (
	"errors"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

var (
	// ErrNoTone indicates no frequency stood out of the noise
	ErrNoTone = errors.New("no tone found in search range")
	// ErrInvalidFFTSize indicates the FFT size must be a positive power of two
	ErrInvalidFFTSize = errors.New("fft size must be a positive power of two")
)

// PitchConfig bounds the tone search.
type PitchConfig struct {
	SampleRate float64
	FFTSize    int
	MinFreq    float64
	MaxFreq    float64
	// MinPeakRatio is how far the peak must rise above the mean bin level
	MinPeakRatio float64
}

// DefaultPitchConfig searches the usual CW sidetone range.
func DefaultPitchConfig(sampleRate float64) PitchConfig {
	return PitchConfig{
		SampleRate:   sampleRate,
		FFTSize:      2048,
		MinFreq:      300,
		MaxFreq:      1200,
		MinPeakRatio: 4,
	}
}

// EstimatePitch finds the dominant frequency in samples by averaging the
// windowed spectra of consecutive frames and interpolating the peak bin.
func EstimatePitch(samples []float32, cfg PitchConfig) (float64, error) {
	n := cfg.FFTSize
	if n <= 0 || n&(n-1) != 0 {
		return 0, ErrInvalidFFTSize
	}
	if cfg.SampleRate <= 0 {
		return 0, ErrInvalidSampleRate
	}
	if len(samples) < n {
		return 0, ErrInsufficientSamples
	}

	win := window.Blackman(n)
	spectrum := make([]float64, n/2)
	frame := make([]float64, n)
	for start := 0; start+n <= len(samples); start += n {
		for i := range frame {
			frame[i] = float64(samples[start+i]) * win[i]
		}
		for i, c := range fft.FFTReal(frame)[:n/2] {
			spectrum[i] += cmplx.Abs(c)
		}
	}

	binHz := cfg.SampleRate / float64(n)
	lo := max(int(cfg.MinFreq/binHz), 1)
	hi := min(int(cfg.MaxFreq/binHz), len(spectrum)-2)
	if lo > hi {
		return 0, ErrInvalidFrequency
	}

	peak, sum := lo, 0.0
	for i := lo; i <= hi; i++ {
		sum += spectrum[i]
		if spectrum[i] > spectrum[peak] {
			peak = i
		}
	}
	mean := sum / float64(hi-lo+1)
	if spectrum[peak] == 0 || spectrum[peak] < mean*cfg.MinPeakRatio {
		return 0, ErrNoTone
	}

	y1, y2, y3 := spectrum[peak-1], spectrum[peak], spectrum[peak+1]
	delta := 0.0
	if d := 2 * (2*y2 - y1 - y3); d != 0 {
		delta = (y3 - y1) / d
	}
	return (float64(peak) + delta) * binHz, nil
}
