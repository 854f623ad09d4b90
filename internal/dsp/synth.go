package dsp

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidVolume indicates volume must be within 0..1
var ErrInvalidVolume = errors.New("volume must be between 0.0 and 1.0")

// Synth generates a keyed sine tone. The envelope ramps linearly between
// silence and full volume so key transitions do not click.
type Synth struct {
	step   float64 // phase advance per sample, radians
	phase  float64
	volume float64
	level  float64 // envelope, 0..1
	ramp   float64 // envelope change per sample
}

// NewSynth returns a generator for frequency at sampleRate. A zero ramp
// switches instantly.
func NewSynth(frequency, sampleRate, volume float64, ramp time.Duration) (*Synth, error) {
	if sampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if frequency <= 0 || frequency >= sampleRate/2 {
		return nil, ErrInvalidFrequency
	}
	if volume < 0 || volume > 1 {
		return nil, ErrInvalidVolume
	}

	rampStep := 1.0
	if n := ramp.Seconds() * sampleRate; n > 1 {
		rampStep = 1 / n
	}
	return &Synth{
		step:   2 * math.Pi * frequency / sampleRate,
		volume: volume,
		ramp:   rampStep,
	}, nil
}

// Next returns one sample with the key in the given state.
func (s *Synth) Next(on bool) float32 {
	if on {
		s.level = math.Min(1, s.level+s.ramp)
	} else {
		s.level = math.Max(0, s.level-s.ramp)
	}

	v := 0.0
	if s.level > 0 {
		v = math.Sin(s.phase) * s.level * s.volume
	}
	s.phase += s.step
	if s.phase >= 2*math.Pi {
		s.phase -= 2 * math.Pi
	}
	return float32(v)
}

// Fill writes len(buf) samples with the key in the given state.
func (s *Synth) Fill(buf []float32, on bool) {
	for i := range buf {
		buf[i] = s.Next(on)
	}
}

// Level returns the current envelope, 0..1.
func (s *Synth) Level() float64 {
	return s.level
}

// PCM16 converts samples in -1..1 to signed 16-bit little-endian bytes,
// clipping out-of-range values. dst must hold 2*len(samples) bytes.
func PCM16(dst []byte, samples []float32) {
	for i, v := range samples {
		x := int16(math.Max(-1, math.Min(1, float64(v))) * math.MaxInt16)
		dst[2*i] = byte(x)
		dst[2*i+1] = byte(x >> 8)
	}
}
