// internal/dsp/sampler.go
package dsp

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/ColonelBlimp/morselink/internal/cw"
)

var (
	// ErrInvalidThreshold indicates threshold must be between 0 and 1
	ErrInvalidThreshold = errors.New("threshold must be between 0.0 and 1.0")
	// ErrInvalidHysteresis indicates hysteresis must be non-negative
	ErrInvalidHysteresis = errors.New("hysteresis must be non-negative")
	// ErrInvalidOverlap indicates overlap percentage must be 0-99
	ErrInvalidOverlap = errors.New("overlap percentage must be between 0 and 99")
	// ErrInvalidAGCDecay indicates AGC decay must be between 0 and 1
	ErrInvalidAGCDecay = errors.New("agc decay must be between 0.0 and 1.0")
	// ErrInvalidAGCAttack indicates AGC attack must be between 0 and 1
	ErrInvalidAGCAttack = errors.New("agc attack must be between 0.0 and 1.0")
	// ErrInvalidAGCWarmup indicates AGC warmup blocks must be non-negative
	ErrInvalidAGCWarmup = errors.New("agc warmup blocks must be non-negative")
	// ErrInvalidMinSpread indicates the minimum spread must be within 0..1
	ErrInvalidMinSpread = errors.New("minimum spread must be between 0.0 and 1.0")
	// ErrGoertzelRequired indicates Goertzel instance is required
	ErrGoertzelRequired = errors.New("goertzel instance is required")
)

// SampleCallback receives one sample per processed block, in order.
type SampleCallback func(sample cw.Sample)

// SamplerConfig holds the settings for turning audio blocks into samples.
type SamplerConfig struct {
	// Threshold is the fixed intensity boundary (0.0-1.0). With an adviser it
	// is used until the adviser has a usable window.
	Threshold float64
	// MinSpread is the smallest adviser window spread trusted as signal;
	// narrower windows keep the last trusted boundary.
	MinSpread float64
	// Hysteresis is the consecutive blocks required to confirm a level change
	Hysteresis int
	// OverlapPct is the block overlap percentage 0-99
	OverlapPct int
	AGCEnabled bool
	// AGCDecay is the peak decay factor per block
	AGCDecay float64
	// AGCAttack is how fast the peak follows louder signals
	AGCAttack float64
	// AGCWarmupBlocks are measured for calibration only, without emitting
	AGCWarmupBlocks int
}

// Sampler measures tone intensity per block and binarises it into cw.Samples.
// Timestamps come from the sample count, not the wall clock, so file and
// live input decode identically.
type Sampler struct {
	config    SamplerConfig
	goertzel  *Goertzel
	adviser   *cw.ThresholdAdviser
	trusted   *cw.TrustedThreshold
	blockSize int
	hopSize   int
	rate      float64

	buffer   []float32
	origin   time.Time
	position int64 // input samples consumed ahead of buffer[0]

	agcPeak       float64
	warmupCounter int

	active          bool
	pending         bool
	hysteresisCount int
	blocks          int64

	callbackPtr atomic.Pointer[SampleCallback]
}

// NewSampler validates cfg. adviser may be nil for a fixed threshold.
func NewSampler(cfg SamplerConfig, goertzel *Goertzel, adviser *cw.ThresholdAdviser) (*Sampler, error) {
	if goertzel == nil {
		return nil, ErrGoertzelRequired
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	blockSize := goertzel.BlockSize()
	hop := blockSize - (blockSize*cfg.OverlapPct)/100

	return &Sampler{
		config:    cfg,
		goertzel:  goertzel,
		adviser:   adviser,
		trusted:   cw.NewTrustedThreshold(cfg.Threshold, cfg.MinSpread),
		blockSize: blockSize,
		hopSize:   hop,
		rate:      goertzel.Config().SampleRate,
		buffer:    make([]float32, 0, blockSize*2),
		agcPeak:   1.0,
	}, nil
}

func (c SamplerConfig) validate() error {
	switch {
	case c.Threshold < 0 || c.Threshold > 1:
		return ErrInvalidThreshold
	case c.MinSpread < 0 || c.MinSpread > 1:
		return ErrInvalidMinSpread
	case c.Hysteresis < 0:
		return ErrInvalidHysteresis
	case c.OverlapPct < 0 || c.OverlapPct >= 100:
		return ErrInvalidOverlap
	case c.AGCDecay < 0 || c.AGCDecay > 1:
		return ErrInvalidAGCDecay
	case c.AGCAttack < 0 || c.AGCAttack > 1:
		return ErrInvalidAGCAttack
	case c.AGCWarmupBlocks < 0:
		return ErrInvalidAGCWarmup
	}
	return nil
}

// SetCallback sets the sample receiver. It runs on the goroutine calling
// Process and must not block.
func (s *Sampler) SetCallback(cb SampleCallback) {
	if cb == nil {
		s.callbackPtr.Store(nil)
	} else {
		s.callbackPtr.Store(&cb)
	}
}

// SetOrigin sets the time of the first input sample.
func (s *Sampler) SetOrigin(t time.Time) {
	s.origin = t
}

// Process consumes PCM samples normalized to -1.0..1.0.
func (s *Sampler) Process(samples []float32) {
	s.buffer = append(s.buffer, samples...)

	for len(s.buffer) >= s.blockSize {
		s.processBlock(s.buffer[:s.blockSize])

		n := copy(s.buffer, s.buffer[s.hopSize:])
		s.buffer = s.buffer[:n]
		s.position += int64(s.hopSize)
	}
}

// blockTime is the time at the end of the current block.
func (s *Sampler) blockTime() time.Time {
	end := s.position + int64(s.blockSize)
	return s.origin.Add(time.Duration(float64(end) / s.rate * float64(time.Second)))
}

func (s *Sampler) processBlock(block []float32) {
	magnitude := s.goertzel.magnitude(block)

	if s.warmupCounter < s.config.AGCWarmupBlocks {
		s.warmupCounter++
		if s.config.AGCEnabled && magnitude > 0.001 {
			if magnitude > s.agcPeak || s.warmupCounter == 1 {
				s.agcPeak = magnitude
			}
		}
		return
	}

	intensity := magnitude
	if s.config.AGCEnabled {
		intensity = s.applyAGC(magnitude)
	}

	ts := s.blockTime()
	if s.adviser != nil {
		if w, closed := s.adviser.Observe(ts, intensity); closed {
			s.trusted.Update(w)
		}
	}

	s.updateHysteresis(intensity > s.trusted.Value())
	s.blocks++
	s.emit(cw.Sample{Timestamp: ts, Active: s.active, Intensity: intensity})
}

func (s *Sampler) applyAGC(magnitude float64) float64 {
	if magnitude > s.agcPeak {
		s.agcPeak += s.config.AGCAttack * (magnitude - s.agcPeak)
	} else {
		s.agcPeak *= s.config.AGCDecay
	}
	if s.agcPeak < 0.001 {
		s.agcPeak = 0.001
	}

	normalized := magnitude / s.agcPeak
	if normalized > 1.0 {
		normalized = 1.0
	}
	return normalized
}

// updateHysteresis confirms a level change only after it has held for
// Hysteresis consecutive blocks.
func (s *Sampler) updateHysteresis(present bool) {
	if present == s.active {
		s.pending = s.active
		s.hysteresisCount = 0
		return
	}

	if present == s.pending {
		s.hysteresisCount++
	} else {
		s.pending = present
		s.hysteresisCount = 1
	}

	if s.hysteresisCount >= s.config.Hysteresis {
		s.active = s.pending
		s.hysteresisCount = 0
	}
}

func (s *Sampler) emit(sample cw.Sample) {
	if cb := s.callbackPtr.Load(); cb != nil {
		(*cb)(sample)
	}
}

// Active returns the confirmed level.
func (s *Sampler) Active() bool {
	return s.active
}

// Blocks returns the number of samples emitted.
func (s *Sampler) Blocks() int64 {
	return s.blocks
}

// AGCPeak returns the current AGC peak value
func (s *Sampler) AGCPeak() float64 {
	return s.agcPeak
}

// BlockDuration is the time advanced between consecutive samples.
func (s *Sampler) BlockDuration() time.Duration {
	return time.Duration(float64(s.hopSize) / s.rate * float64(time.Second))
}

// Reset clears buffered audio and level state and restarts the sample clock.
func (s *Sampler) Reset() {
	s.buffer = s.buffer[:0]
	s.position = 0
	s.agcPeak = 1.0
	s.warmupCounter = 0
	s.active = false
	s.pending = false
	s.hysteresisCount = 0
	s.blocks = 0
	s.trusted.Reset()
	if s.adviser != nil {
		s.adviser.Reset()
	}
}

// Threshold returns the intensity boundary currently in use.
func (s *Sampler) Threshold() float64 {
	return s.trusted.Value()
}

// Config returns the current configuration
func (s *Sampler) Config() SamplerConfig {
	return s.config
}
