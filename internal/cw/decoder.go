package cw

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// UnresolvedChar is emitted for a symbol group that is not in the table.
const UnresolvedChar = '?'

// DefaultDurationLogSize is the default capacity of each duration log.
const DefaultDurationLogSize = 256

var (
	// ErrInvalidTimestampOrder indicates a sample older than the previous one
	ErrInvalidTimestampOrder = errors.New("sample timestamp went backwards")
	// ErrInvalidDotThreshold indicates the dot threshold must be positive
	ErrInvalidDotThreshold = errors.New("dot threshold must be positive")
	// ErrInvalidWordGapMultiplier indicates the word gap multiplier must be greater than 1
	ErrInvalidWordGapMultiplier = errors.New("word gap multiplier must be greater than 1")
	// ErrInvalidLogSize indicates the duration log capacity must be positive
	ErrInvalidLogSize = errors.New("duration log size must be positive")
	// ErrTableRequired indicates a symbol table is required
	ErrTableRequired = errors.New("symbol table is required")
)

// TimestampOrderError reports a sample that arrived out of order.
type TimestampOrderError struct {
	Last time.Time
	Got  time.Time
}

func (e *TimestampOrderError) Error() string {
	return fmt.Sprintf("%v: %v before %v", ErrInvalidTimestampOrder, e.Got.Format(time.StampMicro), e.Last.Format(time.StampMicro))
}

// Is reports whether target is ErrInvalidTimestampOrder.
func (e *TimestampOrderError) Is(target error) bool {
	return target == ErrInvalidTimestampOrder
}

// Sample is one reading from the channel sampler.
type Sample struct {
	// Timestamp is the sampler's clock; the decoder never uses its own
	Timestamp time.Time
	// Active is true while the emitter (light, tone) is on
	Active bool
	// Intensity is the raw level the Active decision was made from
	Intensity float64
}

// DecoderConfig holds configuration for the sample decoder.
type DecoderConfig struct {
	// DotThreshold separates dot from dash, and intra-symbol from letter gaps (from config: dot_threshold_ms)
	DotThreshold time.Duration
	// WordGapMultiplier marks a word break once silence exceeds DotThreshold times this (from config: word_gap_multiplier)
	WordGapMultiplier float64
	// DurationLogSize caps the light and dark duration logs (from config: duration_log_size)
	DurationLogSize int
}

// DefaultDecoderConfig returns the decoder configuration matching a timing profile.
func DefaultDecoderConfig(p TimingProfile) DecoderConfig {
	return DecoderConfig{
		DotThreshold:      p.DotThreshold(),
		WordGapMultiplier: WordGapMultiplier,
		DurationLogSize:   DefaultDurationLogSize,
	}
}

// DecodedOutput represents one decoded character or word break.
type DecodedOutput struct {
	// Character is the decoded character, UnresolvedChar, or ' ' for a word space
	Character rune
	// IsWordSpace is true if this represents a word boundary
	IsWordSpace bool
	// Unresolved holds the symbol group when Character is UnresolvedChar,
	// cut to MaxCodeLength+1 symbols
	Unresolved Code
	// Timestamp is the sample time at which the decision was made
	Timestamp time.Time
}

// DecodedCallback is called for every decoded character or word space.
// It runs with the decoder lock held and must not call back into the decoder.
type DecodedCallback func(output DecodedOutput)

// Stats is a snapshot of the decoder's counters.
type Stats struct {
	Samples    int
	Edges      int
	Characters int
	Unresolved int
	WordSpaces int
	Rejected   int
	// Overflowed counts symbols dropped from groups already too long to resolve
	Overflowed int
}

// Decoder turns timestamped on/off samples into text.
type Decoder struct {
	table *Table

	mu sync.Mutex

	dotThreshold      time.Duration
	wordGapMultiplier float64

	// session state, reset by Clear
	started        bool
	lastActive     bool
	lastTransition time.Time
	lastTimestamp  time.Time
	symbols        []byte
	text           []rune
	light          *durationLog
	dark           *durationLog
	stats          Stats

	callbackPtr *DecodedCallback
}

// NewDecoder creates a decoder using the given table.
func NewDecoder(table *Table, cfg DecoderConfig) (*Decoder, error) {
	if table == nil {
		return nil, ErrTableRequired
	}
	if cfg.DotThreshold <= 0 {
		return nil, ErrInvalidDotThreshold
	}
	if cfg.WordGapMultiplier <= 1 {
		return nil, ErrInvalidWordGapMultiplier
	}
	if cfg.DurationLogSize <= 0 {
		return nil, ErrInvalidLogSize
	}

	return &Decoder{
		table:             table,
		dotThreshold:      cfg.DotThreshold,
		wordGapMultiplier: cfg.WordGapMultiplier,
		symbols:           make([]byte, 0, MaxCodeLength+1),
		light:             newDurationLog(cfg.DurationLogSize),
		dark:              newDurationLog(cfg.DurationLogSize),
	}, nil
}

// SetCallback sets the callback for decoded output.
func (d *Decoder) SetCallback(cb DecodedCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb == nil {
		d.callbackPtr = nil
	} else {
		d.callbackPtr = &cb
	}
}

// Feed processes one sample. Samples must arrive with non-decreasing timestamps;
// an older sample is rejected with a TimestampOrderError and leaves the state untouched.
func (d *Decoder) Feed(s Sample) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		d.started = true
		d.lastActive = s.Active
		d.lastTransition = s.Timestamp
		d.lastTimestamp = s.Timestamp
		d.stats.Samples++
		return nil
	}

	if s.Timestamp.Before(d.lastTimestamp) {
		d.stats.Rejected++
		return &TimestampOrderError{Last: d.lastTimestamp, Got: s.Timestamp}
	}
	d.lastTimestamp = s.Timestamp
	d.stats.Samples++

	duration := s.Timestamp.Sub(d.lastTransition)

	switch {
	case s.Active != d.lastActive:
		d.handleEdge(duration)
		d.lastTransition = s.Timestamp
	case !s.Active:
		d.handleSilence(duration, s.Timestamp)
	}

	d.lastActive = s.Active
	return nil
}

// handleEdge classifies the level that just ended.
func (d *Decoder) handleEdge(duration time.Duration) {
	d.stats.Edges++

	if !d.lastActive {
		// Letter and word boundaries come from prolonged silence, not from the edge
		d.dark.add(duration)
		return
	}

	d.light.add(duration)

	// a group past MaxCodeLength already cannot resolve; stop growing it
	if len(d.symbols) > MaxCodeLength {
		d.stats.Overflowed++
		return
	}
	// duration == dotThreshold is a dash
	if duration < d.dotThreshold {
		d.symbols = append(d.symbols, Dot)
	} else {
		d.symbols = append(d.symbols, Dash)
	}
}

// handleSilence checks whether ongoing silence closes a letter or a word.
func (d *Decoder) handleSilence(duration time.Duration, ts time.Time) {
	if duration > d.dotThreshold && len(d.symbols) > 0 {
		d.emitCharacter(ts)
	}

	if duration > d.wordGapThreshold() && len(d.text) > 0 && d.text[len(d.text)-1] != ' ' {
		d.text = append(d.text, ' ')
		d.stats.WordSpaces++
		d.emit(DecodedOutput{
			Character:   ' ',
			IsWordSpace: true,
			Timestamp:   ts,
		})
	}
}

// emitCharacter resolves the accumulated symbols. Unknown groups become UnresolvedChar.
func (d *Decoder) emitCharacter(ts time.Time) {
	code := Code(d.symbols)
	out := DecodedOutput{Timestamp: ts}

	char, err := d.table.Decode(code)
	if err != nil {
		out.Character = UnresolvedChar
		out.Unresolved = code
		d.stats.Unresolved++
	} else {
		out.Character = char
	}
	d.stats.Characters++

	d.text = append(d.text, out.Character)
	d.symbols = d.symbols[:0]
	d.emit(out)
}

// emit calls the registered callback if set
func (d *Decoder) emit(out DecodedOutput) {
	if d.callbackPtr != nil {
		(*d.callbackPtr)(out)
	}
}

func (d *Decoder) wordGapThreshold() time.Duration {
	return time.Duration(d.wordGapMultiplier * float64(d.dotThreshold))
}

// Text returns the decoded text without leading or trailing spaces.
func (d *Decoder) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.TrimSpace(string(d.text))
}

// Symbols returns the dot/dash group not yet resolved to a character.
func (d *Decoder) Symbols() Code {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Code(d.symbols)
}

// LightDurations returns a copy of the logged active-level durations, oldest first.
func (d *Decoder) LightDurations() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.light.snapshot()
}

// DarkDurations returns a copy of the logged inactive-level durations, oldest first.
func (d *Decoder) DarkDurations() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dark.snapshot()
}

// DotThreshold returns the current dot/dash boundary.
func (d *Decoder) DotThreshold() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dotThreshold
}

// SetDotThreshold changes the dot/dash boundary from the next sample on.
func (d *Decoder) SetDotThreshold(threshold time.Duration) error {
	if threshold <= 0 {
		return ErrInvalidDotThreshold
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dotThreshold = threshold
	return nil
}

// WordGapMultiplier returns the current word break multiplier.
func (d *Decoder) WordGapMultiplier() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wordGapMultiplier
}

// SetWordGapMultiplier changes the word break multiplier from the next sample on.
func (d *Decoder) SetWordGapMultiplier(m float64) error {
	if m <= 1 {
		return ErrInvalidWordGapMultiplier
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wordGapMultiplier = m
	return nil
}

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Clear resets the session: the next sample is treated as the first one,
// and symbols, text, duration logs and counters are wiped. Thresholds are kept.
func (d *Decoder) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.started = false
	d.lastActive = false
	d.lastTransition = time.Time{}
	d.lastTimestamp = time.Time{}
	d.symbols = d.symbols[:0]
	d.text = d.text[:0]
	d.light.reset()
	d.dark.reset()
	d.stats = Stats{}
}

// durationLog keeps the most recent durations in a fixed-size ring.
type durationLog struct {
	buf   []time.Duration
	next  int
	count int
}

func newDurationLog(size int) *durationLog {
	return &durationLog{buf: make([]time.Duration, size)}
}

func (l *durationLog) add(d time.Duration) {
	l.buf[l.next] = d
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
}

func (l *durationLog) snapshot() []time.Duration {
	out := make([]time.Duration, 0, l.count)
	start := (l.next - l.count + len(l.buf)) % len(l.buf)
	for i := 0; i < l.count; i++ {
		out = append(out, l.buf[(start+i)%len(l.buf)])
	}
	return out
}

func (l *durationLog) reset() {
	l.next = 0
	l.count = 0
}
