package sidetone

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeOutput stands in for the audio player. Each Write sleeps briefly so the
// stream goroutine is paced the way a real device paces it.
type fakeOutput struct {
	mu      sync.Mutex
	writes  int
	nonZero int
	failAt  int
	closed  bool
}

func (f *fakeOutput) Write(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes++
	if f.failAt > 0 && f.writes >= f.failAt {
		return 0, errors.New("device unplugged")
	}
	for _, b := range p {
		if b != 0 {
			f.nonZero++
			break
		}
	}
	return len(p), nil
}

func (f *fakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeOutput) snapshot() (writes, nonZero int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes, f.nonZero
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOscillator_SilentUntilKeyed(t *testing.T) {
	out := &fakeOutput{}
	o, err := newOscillator(out, DefaultConfig())
	if err != nil {
		t.Fatalf("newOscillator() error = %v", err)
	}
	defer o.Close()

	waitFor(t, func() bool { w, _ := out.snapshot(); return w >= 5 })
	if _, nz := out.snapshot(); nz != 0 {
		t.Errorf("%d non-silent writes before keying, want 0", nz)
	}

	if err := o.Actuate(context.Background(), true); err != nil {
		t.Fatalf("Actuate(true) error = %v", err)
	}
	waitFor(t, func() bool { _, nz := out.snapshot(); return nz > 0 })

	if err := o.Actuate(context.Background(), false); err != nil {
		t.Fatalf("Actuate(false) error = %v", err)
	}
}

func TestOscillator_Close(t *testing.T) {
	out := &fakeOutput{}
	o, err := newOscillator(out, DefaultConfig())
	if err != nil {
		t.Fatalf("newOscillator() error = %v", err)
	}

	if err := o.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := o.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if !out.closed {
		t.Error("Close() should close the output")
	}
	if err := o.Actuate(context.Background(), true); err != ErrClosed {
		t.Errorf("Actuate() after Close() error = %v, want %v", err, ErrClosed)
	}
}

func TestOscillator_OutputFailureSurfaces(t *testing.T) {
	out := &fakeOutput{failAt: 3}
	o, err := newOscillator(out, DefaultConfig())
	if err != nil {
		t.Fatalf("newOscillator() error = %v", err)
	}
	defer o.Close()

	waitFor(t, func() bool { return o.Err() != nil })
	if err := o.Actuate(context.Background(), true); !errors.Is(err, ErrOutputStopped) {
		t.Errorf("Actuate() error = %v, want %v", err, ErrOutputStopped)
	}
}

func TestNewOscillator_Validation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Chunk = 0
	if _, err := newOscillator(&fakeOutput{}, cfg); err != ErrInvalidChunk {
		t.Errorf("zero chunk error = %v, want %v", err, ErrInvalidChunk)
	}

	cfg = DefaultConfig()
	cfg.Volume = 2
	if _, err := newOscillator(&fakeOutput{}, cfg); err == nil {
		t.Error("volume 2 should be rejected")
	}
}
