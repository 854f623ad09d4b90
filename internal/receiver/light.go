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

// LightConfig holds the settings for decoding a light channel.
type LightConfig struct {
	Decoder cw.DecoderConfig
	// Threshold is the brightness boundary (0.0-1.0). With AutoThreshold it
	// is used until the adviser has a usable window.
	Threshold float64
	// MinSpread is the smallest window spread trusted as signal. Narrower
	// windows keep the last trusted boundary.
	MinSpread       float64
	AutoThreshold   bool
	ThresholdWindow time.Duration
}

// Light decodes Morse from video frames. Each frame's mean luminance is one
// intensity sample, timestamped by the caller.
type Light struct {
	cfg     LightConfig
	adviser *cw.ThresholdAdviser
	trusted *cw.TrustedThreshold
	decoder *cw.Decoder
	logger  *log.Logger

	frames    int
	last      time.Time
	interval  time.Duration
	histogram [256]int

	tapPtr atomic.Pointer[dsp.SampleCallback]
}

// NewLight builds a light receiver. A nil logger discards diagnostics.
func NewLight(table *cw.Table, cfg LightConfig, logger *log.Logger) (*Light, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	var adviser *cw.ThresholdAdviser
	if cfg.AutoThreshold {
		var err error
		adviser, err = cw.NewThresholdAdviser(cfg.ThresholdWindow, cfg.Threshold)
		if err != nil {
			return nil, fmt.Errorf("create threshold adviser: %w", err)
		}
	}
	decoder, err := cw.NewDecoder(table, cfg.Decoder)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	return &Light{
		cfg:     cfg,
		adviser: adviser,
		trusted: cw.NewTrustedThreshold(cfg.Threshold, cfg.MinSpread),
		decoder: decoder,
		logger:  logger,
	}, nil
}

// SetTap registers a function that sees every sample before the decoder.
func (l *Light) SetTap(tap dsp.SampleCallback) {
	if tap == nil {
		l.tapPtr.Store(nil)
		return
	}
	l.tapPtr.Store(&tap)
}

// Frame measures one frame of packed RGBA pixels taken at ts and feeds the
// resulting sample to the decoder. A frame older than the previous one is
// rejected before it reaches the adviser or the histogram.
func (l *Light) Frame(ts time.Time, rgba []byte) error {
	if l.frames > 0 && ts.Before(l.last) {
		err := &cw.TimestampOrderError{Last: l.last, Got: ts}
		l.logger.Printf("Light: frame %d dropped: %v", l.frames, err)
		return err
	}

	intensity := dsp.FrameIntensity(rgba)
	if l.adviser != nil {
		if w, closed := l.adviser.Observe(ts, intensity); closed {
			l.trusted.Update(w)
		}
	}

	s := cw.Sample{Timestamp: ts, Active: intensity > l.trusted.Value(), Intensity: intensity}
	if tap := l.tapPtr.Load(); tap != nil {
		(*tap)(s)
	}
	if err := l.decoder.Feed(s); err != nil {
		l.logger.Printf("Light: frame %d dropped: %v", l.frames, err)
		return err
	}

	l.histogram = dsp.LuminanceHistogram(rgba)
	if l.frames > 0 {
		l.interval = ts.Sub(l.last)
	}
	l.last = ts
	l.frames++
	return nil
}

// Drain feeds dark samples after the last frame, long enough to close the
// last character and word.
func (l *Light) Drain() {
	if l.frames == 0 {
		return
	}
	step := max(l.interval, time.Millisecond)
	gap := time.Duration(l.decoder.WordGapMultiplier()*float64(l.decoder.DotThreshold())) + step

	first := l.last.Add(step)
	_ = l.decoder.Feed(cw.Sample{Timestamp: first})
	_ = l.decoder.Feed(cw.Sample{Timestamp: first.Add(gap)})
	l.last = first.Add(gap)
}

// Histogram returns the brightness histogram of the last frame.
func (l *Light) Histogram() [256]int {
	return l.histogram
}

// Frames returns the number of frames accepted.
func (l *Light) Frames() int {
	return l.frames
}

// Threshold returns the brightness boundary currently in use.
func (l *Light) Threshold() float64 {
	return l.trusted.Value()
}

// Decoder returns the decoder for inspection and control.
func (l *Light) Decoder() *cw.Decoder {
	return l.decoder
}

// Clear resets the adviser and the decoder session.
func (l *Light) Clear() {
	if l.adviser != nil {
		l.adviser.Reset()
	}
	l.trusted.Reset()
	l.decoder.Clear()
	l.frames = 0
	l.last = time.Time{}
	l.interval = 0
	l.histogram = [256]int{}
}

// Text returns the decoded text so far.
func (l *Light) Text() string {
	return l.decoder.Text()
}
