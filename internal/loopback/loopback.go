// Package loopback keys text through a simulated channel into the decoder
// and measures how much of it survives.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"time"
	"unicode/utf8"

	"github.com/ColonelBlimp/morselink/internal/cw"
	"github.com/ColonelBlimp/morselink/internal/keyer"
	"github.com/agnivade/levenshtein"
)

var (
	// ErrInvalidTick indicates the sampling tick must be positive
	ErrInvalidTick = errors.New("tick must be positive")
	// ErrInvalidJitter indicates jitter must be non-negative
	ErrInvalidJitter = errors.New("jitter must be non-negative")
	// ErrInvalidNoise indicates the noise level must be within 0..1
	ErrInvalidNoise = errors.New("noise must be between 0.0 and 1.0")
)

// origin anchors simulated sample timestamps.
var origin = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Config describes the simulated channel.
type Config struct {
	Profile cw.TimingProfile
	// Decoder defaults to cw.DefaultDecoderConfig(Profile) when its
	// DotThreshold is zero.
	Decoder cw.DecoderConfig
	// Tick is the sampling period of the receiver.
	Tick time.Duration
	// Jitter moves every key edge by up to this much either way.
	Jitter time.Duration
	// Noise is the probability that a single sample reads the wrong level.
	Noise  float64
	Seed   uint64
	Strict bool
	Logger *log.Logger
}

// DefaultConfig samples every tenth of a unit with a clean channel.
func DefaultConfig(p cw.TimingProfile) Config {
	return Config{
		Profile: p,
		Tick:    p.Unit() / 10,
	}
}

func (c Config) validate() error {
	var errs []error
	if c.Tick <= 0 {
		errs = append(errs, ErrInvalidTick)
	}
	if c.Jitter < 0 {
		errs = append(errs, ErrInvalidJitter)
	}
	if c.Noise < 0 || c.Noise > 1 {
		errs = append(errs, ErrInvalidNoise)
	}
	if c.Profile.IsZero() {
		errs = append(errs, keyer.ErrInvalidProfile)
	}
	return errors.Join(errs...)
}

// Result is the outcome of one loopback run.
type Result struct {
	Sent     string
	Received string
	// Distance is the Levenshtein distance between Sent and Received.
	Distance int
	// ErrorRate is Distance per sent character.
	ErrorRate float64
	Timeline  keyer.Timeline
	Samples   int
	Stats     cw.Stats
	Light     []time.Duration
	Dark      []time.Duration
	// Decoder is the receiving end, left as it was after the run.
	Decoder *cw.Decoder
}

// Run transmits text on a virtual clock, passes the key line through the
// channel and decodes it.
func Run(ctx context.Context, table *cw.Table, text string, cfg Config) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}
	if cfg.Decoder.DotThreshold == 0 {
		cfg.Decoder = cw.DefaultDecoderConfig(cfg.Profile)
	}

	sent, _, err := keyer.Normalize(table, text, cfg.Strict)
	if err != nil {
		return Result{}, err
	}

	clock := &keyer.VirtualClock{}
	rec := &keyer.Recorder{Clock: clock.Now}
	tx, err := keyer.NewTransmitter(rec, keyer.TransmitterConfig{
		Table:   table,
		Profile: cfg.Profile,
		Strict:  cfg.Strict,
		Sleeper: clock,
		Logger:  cfg.Logger,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create transmitter: %w", err)
	}
	defer tx.Close()
	if err := tx.Transmit(ctx, text); err != nil {
		return Result{}, fmt.Errorf("transmit: %w", err)
	}
	tl := rec.Timeline()
	tl.Length = clock.Now()

	dec, err := cw.NewDecoder(table, cfg.Decoder)
	if err != nil {
		return Result{}, fmt.Errorf("create decoder: %w", err)
	}

	rng := newRand(cfg.Seed)
	edges := jitter(tl.Commands, cfg.Jitter, rng)

	// enough silence after the last edge to close the final word
	wordGap := time.Duration(cfg.Decoder.WordGapMultiplier * float64(cfg.Decoder.DotThreshold))
	end := tl.Length + wordGap + 2*cfg.Tick

	var (
		samples int
		next    int
		on      bool
	)
	for at := -cfg.Profile.InterWordGap(); at <= end; at += cfg.Tick {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		for next < len(edges) && edges[next].At <= at {
			on = edges[next].On
			next++
		}
		level := on
		if cfg.Noise > 0 && rng.Float64() < cfg.Noise {
			level = !level
		}
		intensity := 0.0
		if level {
			intensity = 1.0
		}
		// the loop owns the clock, so timestamps never go backwards
		_ = dec.Feed(cw.Sample{Timestamp: origin.Add(at), Active: level, Intensity: intensity})
		samples++
	}

	received := dec.Text()
	dist := levenshtein.ComputeDistance(sent, received)
	res := Result{
		Sent:     sent,
		Received: received,
		Distance: dist,
		Timeline: tl,
		Samples:  samples,
		Stats:    dec.Stats(),
		Light:    dec.LightDurations(),
		Dark:     dec.DarkDurations(),
		Decoder:  dec,
	}
	if n := utf8.RuneCountInString(sent); n > 0 {
		res.ErrorRate = float64(dist) / float64(n)
	}
	return res, nil
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// jitter displaces every edge by a uniform offset in [-amount, amount],
// keeping edges in order.
func jitter(cmds []keyer.Command, amount time.Duration, rng *rand.Rand) []keyer.Command {
	out := make([]keyer.Command, len(cmds))
	copy(out, cmds)
	if amount <= 0 {
		return out
	}
	for i := range out {
		offset := time.Duration((rng.Float64()*2 - 1) * float64(amount))
		out[i].At += offset
		if i > 0 && out[i].At < out[i-1].At {
			out[i].At = out[i-1].At
		}
	}
	return out
}
