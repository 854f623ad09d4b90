package cw

import (
	"errors"
	"sync"
	"time"
)

// DefaultThresholdWindow is how long the adviser observes intensity before recommending.
const DefaultThresholdWindow = 2000 * time.Millisecond

// ErrInvalidWindow indicates the adviser window must be positive
var ErrInvalidWindow = errors.New("threshold window must be positive")

// Window is a closed observation window of the ThresholdAdviser.
type Window struct {
	Start time.Time
	End   time.Time
	Min   float64
	Max   float64
}

// Threshold returns the midpoint of the observed extremes.
func (w Window) Threshold() float64 {
	return (w.Min + w.Max) / 2
}

// Spread returns the peak-to-peak range of the window.
func (w Window) Spread() float64 {
	return w.Max - w.Min
}

// ThresholdAdviser proposes an intensity binarization boundary from a rolling
// min/max that restarts every window, so slow ambient drift is followed while
// the boundary stays fixed for the length of a window.
type ThresholdAdviser struct {
	mu sync.Mutex

	window  time.Duration
	initial float64

	open        bool
	windowStart time.Time
	min         float64
	max         float64

	threshold float64
	spread    float64
	closed    int
}

// NewThresholdAdviser creates an adviser. initial is the threshold reported
// until the first window closes.
func NewThresholdAdviser(window time.Duration, initial float64) (*ThresholdAdviser, error) {
	if window <= 0 {
		return nil, ErrInvalidWindow
	}
	return &ThresholdAdviser{
		window:    window,
		initial:   initial,
		threshold: initial,
	}, nil
}

// Observe adds one intensity reading. When the current window has lasted at
// least the configured interval it is closed and returned with true, and a new
// window is opened with this reading.
func (a *ThresholdAdviser) Observe(ts time.Time, intensity float64) (Window, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.open {
		a.openWindow(ts, intensity)
		return Window{}, false
	}

	if ts.Sub(a.windowStart) >= a.window {
		w := Window{Start: a.windowStart, End: ts, Min: a.min, Max: a.max}
		a.threshold = w.Threshold()
		a.spread = w.Spread()
		a.closed++
		a.openWindow(ts, intensity)
		return w, true
	}

	if intensity < a.min {
		a.min = intensity
	}
	if intensity > a.max {
		a.max = intensity
	}
	return Window{}, false
}

func (a *ThresholdAdviser) openWindow(ts time.Time, intensity float64) {
	a.open = true
	a.windowStart = ts
	a.min = intensity
	a.max = intensity
}

// Threshold returns the recommended binarization boundary.
func (a *ThresholdAdviser) Threshold() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threshold
}

// Spread returns the peak-to-peak range of the last closed window.
func (a *ThresholdAdviser) Spread() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spread
}

// Current returns the extremes of the window still being observed.
func (a *ThresholdAdviser) Current() (lo, hi float64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.min, a.max, a.open
}

// ClosedWindows returns how many windows have closed since the last Reset.
func (a *ThresholdAdviser) ClosedWindows() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Reset discards the open window and restores the initial threshold.
func (a *ThresholdAdviser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = false
	a.min, a.max = 0, 0
	a.windowStart = time.Time{}
	a.threshold = a.initial
	a.spread = 0
	a.closed = 0
}

// TrustedThreshold picks the boundary to binarize with from closed adviser
// windows. It holds the last recommendation from a window of at least
// minSpread, so a quiet window (a pause, a long word gap) keeps the previous
// boundary. Until such a window closes the fixed threshold is used.
type TrustedThreshold struct {
	fixed     float64
	minSpread float64
	value     float64
	trusted   bool
}

// NewTrustedThreshold creates a picker starting at fixed.
func NewTrustedThreshold(fixed, minSpread float64) *TrustedThreshold {
	return &TrustedThreshold{fixed: fixed, minSpread: minSpread, value: fixed}
}

// Update considers a closed window and reports whether it was trusted.
func (t *TrustedThreshold) Update(w Window) bool {
	if w.Spread() < t.minSpread {
		return false
	}
	t.value = w.Threshold()
	t.trusted = true
	return true
}

// Value returns the boundary in use.
func (t *TrustedThreshold) Value() float64 {
	return t.value
}

// Trusted reports whether any window has been trusted since the last Reset.
func (t *TrustedThreshold) Trusted() bool {
	return t.trusted
}

// Reset returns to the fixed threshold.
func (t *TrustedThreshold) Reset() {
	t.value = t.fixed
	t.trusted = false
}
