package keyer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Actuator switches the output device on or off.
type Actuator interface {
	Actuate(ctx context.Context, on bool) error
}

// ActuatorFunc adapts a function to the Actuator interface.
type ActuatorFunc func(ctx context.Context, on bool) error

func (f ActuatorFunc) Actuate(ctx context.Context, on bool) error {
	return f(ctx, on)
}

// Sleeper suspends the caller for a duration. Implementations return early
// with ctx.Err() when the context is cancelled.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// WallClock sleeps in real time.
var WallClock Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
})

// VirtualClock is a Sleeper that advances a counter instead of waiting.
// OnSleep, when set, runs after every advance with the new time.
type VirtualClock struct {
	mu      sync.Mutex
	now     time.Duration
	OnSleep func(now time.Duration)
}

func (c *VirtualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now += d
	now := c.now
	hook := c.OnSleep
	c.mu.Unlock()

	if hook != nil {
		hook(now)
	}
	return ctx.Err()
}

// Now returns the elapsed virtual time.
func (c *VirtualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Recorder is an Actuator that records each transition with a timestamp
// taken from Clock. A nil Clock records every command at zero.
type Recorder struct {
	Clock func() time.Duration

	mu       sync.Mutex
	commands []Command
	on       bool
}

func (r *Recorder) Actuate(_ context.Context, on bool) error {
	var at time.Duration
	if r.Clock != nil {
		at = r.Clock()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, Command{At: at, On: on})
	r.on = on
	return nil
}

// Commands returns a copy of everything recorded so far.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// On reports the last commanded state.
func (r *Recorder) On() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

// Timeline returns the recording as a Timeline ending at the last command.
func (r *Recorder) Timeline() Timeline {
	cmds := r.Commands()
	tl := Timeline{Commands: cmds}
	if n := len(cmds); n > 0 {
		tl.Length = cmds[n-1].At
	}
	return tl
}

// Console writes a line per transition, offset from the first command.
type Console struct {
	w     io.Writer
	mu    sync.Mutex
	start time.Time
	now   func() time.Time
}

// NewConsole returns a Console that writes to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, now: time.Now}
}

func (c *Console) Actuate(_ context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.start.IsZero() {
		c.start = now
	}
	state := "up"
	if on {
		state = "down"
	}
	_, err := fmt.Fprintf(c.w, "%8dms key %s\n", now.Sub(c.start).Milliseconds(), state)
	return err
}
