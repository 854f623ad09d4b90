// Package sidetone keys an audible tone on the default output device.
package sidetone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ColonelBlimp/morselink/internal/dsp"
	"github.com/hajimehoshi/oto"
)

var (
	ErrClosed        = errors.New("sidetone closed")
	ErrInvalidChunk  = errors.New("chunk duration must be positive")
	ErrOutputStopped = errors.New("sidetone output stopped")
)

// Config holds sidetone settings.
type Config struct {
	Frequency  float64
	SampleRate int
	Volume     float64
	// Ramp is the attack and release time of each element.
	Ramp time.Duration
	// Chunk is how much audio is synthesized per write; it bounds keying latency.
	Chunk time.Duration
}

// DefaultConfig returns a 600Hz tone at half volume.
func DefaultConfig() Config {
	return Config{
		Frequency:  600,
		SampleRate: 48000,
		Volume:     0.5,
		Ramp:       5 * time.Millisecond,
		Chunk:      5 * time.Millisecond,
	}
}

// Oscillator is a keyer.Actuator that plays a tone while the key is down.
// A background goroutine streams audio continuously; Actuate only flips the
// key state it reads.
type Oscillator struct {
	synth *dsp.Synth
	out   io.WriteCloser
	chunk int

	on       atomic.Bool
	closed   atomic.Bool
	errPtr   atomic.Pointer[error]
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	closeCtx func() error
}

// Open starts a sidetone on the default audio output.
func Open(cfg Config) (*Oscillator, error) {
	// about 20ms of device buffer
	bufferBytes := cfg.SampleRate / 50 * 2
	ctx, err := oto.NewContext(cfg.SampleRate, 1, 2, bufferBytes)
	if err != nil {
		return nil, fmt.Errorf("open audio output: %w", err)
	}

	o, err := newOscillator(ctx.NewPlayer(), cfg)
	if err != nil {
		_ = ctx.Close()
		return nil, err
	}
	o.closeCtx = ctx.Close
	return o, nil
}

func newOscillator(out io.WriteCloser, cfg Config) (*Oscillator, error) {
	if cfg.Chunk <= 0 {
		return nil, ErrInvalidChunk
	}
	synth, err := dsp.NewSynth(cfg.Frequency, float64(cfg.SampleRate), cfg.Volume, cfg.Ramp)
	if err != nil {
		return nil, fmt.Errorf("sidetone: %w", err)
	}

	o := &Oscillator{
		synth: synth,
		out:   out,
		chunk: max(1, int(cfg.Chunk.Seconds()*float64(cfg.SampleRate))),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go o.run()
	return o, nil
}

func (o *Oscillator) run() {
	defer close(o.done)

	samples := make([]float32, o.chunk)
	pcm := make([]byte, 2*o.chunk)
	for {
		select {
		case <-o.stop:
			return
		default:
		}

		o.synth.Fill(samples, o.on.Load())
		dsp.PCM16(pcm, samples)
		if _, err := o.out.Write(pcm); err != nil {
			err = fmt.Errorf("%w: %v", ErrOutputStopped, err)
			o.errPtr.Store(&err)
			return
		}
	}
}

// Actuate switches the tone on or off.
func (o *Oscillator) Actuate(_ context.Context, on bool) error {
	if o.closed.Load() {
		return ErrClosed
	}
	if err := o.Err(); err != nil {
		return err
	}
	o.on.Store(on)
	return nil
}

// Err returns the error that stopped the output stream, if any.
func (o *Oscillator) Err() error {
	if p := o.errPtr.Load(); p != nil {
		return *p
	}
	return nil
}

// Close stops the stream and releases the device.
func (o *Oscillator) Close() error {
	var err error
	o.once.Do(func() {
		o.closed.Store(true)
		o.on.Store(false)
		close(o.stop)
		<-o.done

		err = o.out.Close()
		if o.closeCtx != nil {
			err = errors.Join(err, o.closeCtx())
		}
	})
	return err
}
