// Package receiver wires tone detection, sampling and decoding into one
// audio-in, text-out pipeline.
package receiver

import (
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/ColonelBlimp/morselink/internal/cw"
	"github.com/ColonelBlimp/morselink/internal/dsp"
)

// Config holds every stage's settings.
type Config struct {
	Goertzel dsp.GoertzelConfig
	Sampler  dsp.SamplerConfig
	Decoder  cw.DecoderConfig
	// AutoThreshold lets a ThresholdAdviser replace Sampler.Threshold once
	// it has seen a full window.
	AutoThreshold   bool
	ThresholdWindow time.Duration
}

// Receiver decodes Morse from PCM audio. Process must be called from one
// goroutine at a time.
type Receiver struct {
	goertzel *dsp.Goertzel
	sampler  *dsp.Sampler
	decoder  *cw.Decoder
	logger   *log.Logger

	tapPtr atomic.Pointer[dsp.SampleCallback]
}

// New builds the pipeline. A nil logger discards diagnostics.
func New(table *cw.Table, cfg Config, logger *log.Logger) (*Receiver, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	goertzel, err := dsp.NewGoertzel(cfg.Goertzel)
	if err != nil {
		return nil, fmt.Errorf("create goertzel: %w", err)
	}

	var adviser *cw.ThresholdAdviser
	if cfg.AutoThreshold {
		adviser, err = cw.NewThresholdAdviser(cfg.ThresholdWindow, cfg.Sampler.Threshold)
		if err != nil {
			return nil, fmt.Errorf("create threshold adviser: %w", err)
		}
	}

	sampler, err := dsp.NewSampler(cfg.Sampler, goertzel, adviser)
	if err != nil {
		return nil, fmt.Errorf("create sampler: %w", err)
	}
	decoder, err := cw.NewDecoder(table, cfg.Decoder)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	r := &Receiver{
		goertzel: goertzel,
		sampler:  sampler,
		decoder:  decoder,
		logger:   logger,
	}
	sampler.SetCallback(r.handleSample)
	return r, nil
}

func (r *Receiver) handleSample(s cw.Sample) {
	if tap := r.tapPtr.Load(); tap != nil {
		(*tap)(s)
	}
	if err := r.decoder.Feed(s); err != nil {
		r.logger.Printf("Receiver: sample dropped: %v", err)
	}
}

// SetTap registers a function that sees every sample before the decoder,
// for recording. Pass nil to remove it.
func (r *Receiver) SetTap(tap dsp.SampleCallback) {
	if tap == nil {
		r.tapPtr.Store(nil)
		return
	}
	r.tapPtr.Store(&tap)
}

// SetOrigin sets the wall time of the first audio sample.
func (r *Receiver) SetOrigin(t time.Time) {
	r.sampler.SetOrigin(t)
}

// Process consumes PCM samples normalized to -1.0..1.0.
func (r *Receiver) Process(samples []float32) {
	r.sampler.Process(samples)
}

// Drain pushes enough silence through the pipeline to close the last
// character and word.
func (r *Receiver) Drain() {
	gap := time.Duration(r.decoder.WordGapMultiplier()*float64(r.decoder.DotThreshold())) + 2*r.sampler.BlockDuration()
	rate := r.goertzel.Config().SampleRate
	n := int(gap.Seconds()*rate) + r.goertzel.BlockSize()
	r.sampler.Process(make([]float32, n))
}

// Retune moves the detector to a new tone frequency.
func (r *Receiver) Retune(frequency float64) error {
	return r.goertzel.Retune(frequency)
}

// Clear resets the sampler, the adviser and the decoder session.
func (r *Receiver) Clear() {
	r.sampler.Reset()
	r.decoder.Clear()
}

// Decoder returns the decoder for inspection and control.
func (r *Receiver) Decoder() *cw.Decoder {
	return r.decoder
}

// Sampler returns the sampler.
func (r *Receiver) Sampler() *dsp.Sampler {
	return r.sampler
}

// Threshold returns the intensity boundary currently in use.
func (r *Receiver) Threshold() float64 {
	return r.sampler.Threshold()
}

// Text returns the decoded text so far.
func (r *Receiver) Text() string {
	return r.decoder.Text()
}
