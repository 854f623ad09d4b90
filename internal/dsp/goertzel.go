// Package dsp turns PCM audio into intensity samples for the Morse decoder.
package dsp

import (
	"errors"
	"math"
)

var (
	// ErrInvalidBlockSize indicates block size must be positive
	ErrInvalidBlockSize = errors.New("block size must be positive")
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidFrequency indicates frequency must be positive and below Nyquist
	ErrInvalidFrequency = errors.New("target frequency must be positive and less than Nyquist frequency")
	// ErrInsufficientSamples indicates not enough samples for the configured block size
	ErrInsufficientSamples = errors.New("insufficient samples for block size")
)

// GoertzelConfig describes the single frequency bin to measure.
type GoertzelConfig struct {
	TargetFrequency float64
	SampleRate      float64
	BlockSize       int
}

// Goertzel measures the level of one frequency over fixed-size blocks.
type Goertzel struct {
	config      GoertzelConfig
	coefficient float64 // 2cos(2πf/fs)
	normalizer  float64 // 2/N, so a full-scale sine reads about 1.0
}

// NewGoertzel validates cfg and precomputes the filter coefficient.
func NewGoertzel(cfg GoertzelConfig) (*Goertzel, error) {
	if cfg.BlockSize <= 0 {
		return nil, ErrInvalidBlockSize
	}
	if cfg.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	g := &Goertzel{config: cfg, normalizer: 2.0 / float64(cfg.BlockSize)}
	if err := g.Retune(cfg.TargetFrequency); err != nil {
		return nil, err
	}
	return g, nil
}

// Retune moves the filter to a new frequency.
func (g *Goertzel) Retune(frequency float64) error {
	if frequency <= 0 || frequency >= g.config.SampleRate/2 {
		return ErrInvalidFrequency
	}
	g.config.TargetFrequency = frequency
	g.coefficient = 2 * math.Cos(2*math.Pi*frequency/g.config.SampleRate)
	return nil
}

// Magnitude returns the normalized level of the target frequency in the
// first BlockSize samples.
func (g *Goertzel) Magnitude(samples []float32) (float64, error) {
	if len(samples) < g.config.BlockSize {
		return 0, ErrInsufficientSamples
	}
	return g.magnitude(samples), nil
}

// magnitude assumes len(samples) >= BlockSize.
func (g *Goertzel) magnitude(samples []float32) float64 {
	var s1, s2 float64
	coeff := g.coefficient
	for _, x := range samples[:g.config.BlockSize] {
		s0 := float64(x) + coeff*s1 - s2
		s2, s1 = s1, s0
	}

	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}
	return math.Sqrt(power) * g.normalizer
}

// Config returns the current configuration, including any retuned frequency.
func (g *Goertzel) Config() GoertzelConfig {
	return g.config
}

// Frequency returns the frequency being measured.
func (g *Goertzel) Frequency() float64 {
	return g.config.TargetFrequency
}

// BlockSize returns the configured block size
func (g *Goertzel) BlockSize() int {
	return g.config.BlockSize
}
