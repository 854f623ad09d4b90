package keyer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/ColonelBlimp/morselink/internal/cw"
	"github.com/ColonelBlimp/morselink/internal/recovery"
	"github.com/google/uuid"
)

var (
	// ErrCancelled indicates a transmission stopped before its last symbol
	ErrCancelled = errors.New("transmission cancelled")
	// ErrActuationFailure indicates the actuator failed to switch the output
	ErrActuationFailure = errors.New("actuator failed")
	// ErrActuatorRequired indicates an actuator is required
	ErrActuatorRequired = errors.New("actuator is required")
	// ErrInvalidProfile indicates the timing profile has no unit
	ErrInvalidProfile = errors.New("timing profile is not set")
	// ErrTransmitterClosed indicates Transmit was called after Close
	ErrTransmitterClosed = errors.New("transmitter is closed")
)

// ActuationError wraps a failure reported by (or panicking inside) an Actuator.
type ActuationError struct {
	On  bool
	Err error
}

func (e *ActuationError) Error() string {
	state := "off"
	if e.On {
		state = "on"
	}
	return fmt.Sprintf("switch output %s: %v", state, e.Err)
}

func (e *ActuationError) Unwrap() error { return e.Err }

func (e *ActuationError) Is(target error) bool {
	return target == ErrActuationFailure
}

// TransmitterConfig holds the collaborators of a Transmitter.
type TransmitterConfig struct {
	Table   *cw.Table
	Profile cw.TimingProfile
	// Strict rejects text with unsupported characters instead of dropping them.
	Strict bool
	// Sleeper defaults to WallClock.
	Sleeper Sleeper
	// Logger defaults to discarding output.
	Logger *log.Logger
}

type session struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Transmitter keys text through an Actuator. A new Transmit cancels the
// session in progress and waits for it to release the output before starting.
type Transmitter struct {
	actuator Actuator
	table    *cw.Table
	strict   bool
	sleeper  Sleeper
	logger   *log.Logger

	mu      sync.Mutex
	profile cw.TimingProfile
	current *session
	closed  bool
}

// NewTransmitter validates cfg and returns a Transmitter.
func NewTransmitter(a Actuator, cfg TransmitterConfig) (*Transmitter, error) {
	if a == nil {
		return nil, ErrActuatorRequired
	}
	if cfg.Table == nil {
		return nil, cw.ErrTableRequired
	}
	if cfg.Profile.IsZero() {
		return nil, ErrInvalidProfile
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}

	return &Transmitter{
		actuator: a,
		table:    cfg.Table,
		strict:   cfg.Strict,
		sleeper:  cfg.Sleeper,
		logger:   cfg.Logger,
		profile:  cfg.Profile,
	}, nil
}

// Profile returns the timing in effect.
func (t *Transmitter) Profile() cw.TimingProfile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.profile
}

// SetProfile replaces the timing. A session in progress picks it up at its
// next pause.
func (t *Transmitter) SetProfile(p cw.TimingProfile) error {
	if p.IsZero() {
		return ErrInvalidProfile
	}
	t.mu.Lock()
	t.profile = p
	t.mu.Unlock()
	return nil
}

// SetSpeed sets the timing from a rate in units per minute.
func (t *Transmitter) SetSpeed(unitsPerMinute float64) error {
	p, err := cw.ProfileFromSpeed(unitsPerMinute)
	if err != nil {
		return err
	}
	return t.SetProfile(p)
}

// Active reports whether a session is in progress.
func (t *Transmitter) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current != nil
}

// Cancel stops the session in progress, if any, and waits for it to release
// the output. It reports whether a session was cancelled.
func (t *Transmitter) Cancel() bool {
	t.mu.Lock()
	s := t.current
	t.mu.Unlock()
	if s == nil {
		return false
	}
	s.cancel()
	<-s.done
	return true
}

// Close cancels any session and rejects further transmissions.
func (t *Transmitter) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.Cancel()
}

// Transmit keys text and blocks until it has been sent, cancelled or failed.
// It returns ErrCancelled when ctx is cancelled, when Cancel is called or when
// a later Transmit replaces it. Cancellation is observed at pause boundaries;
// the output is always left off.
func (t *Transmitter) Transmit(ctx context.Context, text string) error {
	normalized, dropped, err := Normalize(t.table, text, t.strict)
	if err != nil {
		return fmt.Errorf("normalize text: %w", err)
	}
	if len(dropped) > 0 {
		t.logger.Printf("Keyer: skipping unsupported characters %q", string(dropped))
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{id: uuid.New().String(), cancel: cancel, done: make(chan struct{})}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		return ErrTransmitterClosed
	}
	prev := t.current
	t.current = s
	t.mu.Unlock()

	defer func() {
		cancel()
		t.mu.Lock()
		if t.current == s {
			t.current = nil
		}
		t.mu.Unlock()
		close(s.done)
	}()

	if prev != nil {
		t.logger.Printf("Keyer: session %s replaces %s", s.id, prev.id)
		prev.cancel()
		<-prev.done
	}

	t.logger.Printf("Keyer: session %s started: %q", s.id, normalized)
	err = t.run(sctx, normalized)
	switch {
	case errors.Is(err, ErrCancelled):
		t.logger.Printf("Keyer: session %s cancelled", s.id)
	case err != nil:
		t.logger.Printf("Keyer: session %s failed: %v", s.id, err)
	default:
		t.logger.Printf("Keyer: session %s complete", s.id)
	}
	return err
}

func (t *Transmitter) run(ctx context.Context, text string) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}

	keyed := false
	for step := range Encode(t.table, text) {
		switch step.Kind {
		case Activate, Deactivate:
			on := step.Kind == Activate
			if err := t.actuate(ctx, on); err != nil {
				// a failed switch may have left the output partly on
				return errors.Join(err, t.release(ctx))
			}
			keyed = on

		case Pause:
			err := t.sleeper.Sleep(ctx, step.Duration(t.Profile()))
			if ctx.Err() != nil {
				if keyed {
					if rerr := t.release(ctx); rerr != nil {
						return errors.Join(ErrCancelled, rerr)
					}
				}
				return ErrCancelled
			}
			if err != nil {
				if keyed {
					err = errors.Join(err, t.release(ctx))
				}
				return fmt.Errorf("sleep: %w", err)
			}
		}
	}
	return nil
}

// release switches the output off even though ctx may be cancelled.
func (t *Transmitter) release(ctx context.Context) error {
	return t.actuate(context.WithoutCancel(ctx), false)
}

func (t *Transmitter) actuate(ctx context.Context, on bool) error {
	err := func() (err error) {
		defer recovery.Recover(&err)
		return t.actuator.Actuate(ctx, on)
	}()
	if err != nil {
		return &ActuationError{On: on, Err: err}
	}
	return nil
}
