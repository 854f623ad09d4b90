// Package keyer turns text into timed key-down and key-up commands and drives
// an output device with them.
package keyer

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"
	"unicode"

	"github.com/ColonelBlimp/morselink/internal/cw"
)

// Kind identifies what an encoder step asks the output to do.
type Kind int

const (
	// Activate switches the output on
	Activate Kind = iota
	// Deactivate switches the output off
	Deactivate
	// Pause holds the current output level for a span
	Pause
)

func (k Kind) String() string {
	switch k {
	case Activate:
		return "activate"
	case Deactivate:
		return "deactivate"
	case Pause:
		return "pause"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Span names a timing interval in units of the dot length.
type Span int

const (
	// SpanNone is the span of a step that takes no time
	SpanNone Span = iota
	// SpanDot is one unit with the output on
	SpanDot
	// SpanDash is three units with the output on
	SpanDash
	// SpanIntraSymbol is the one unit gap between symbols of a character
	SpanIntraSymbol
	// SpanInterLetter is the three unit gap between characters
	SpanInterLetter
	// SpanInterWord is the seven unit gap at a space
	SpanInterWord
)

// Units returns the length of the span in dot units.
func (s Span) Units() int {
	switch s {
	case SpanDot:
		return cw.DotUnits
	case SpanDash:
		return cw.DashUnits
	case SpanIntraSymbol:
		return cw.IntraSymbolUnits
	case SpanInterLetter:
		return cw.InterLetterUnits
	case SpanInterWord:
		return cw.InterWordUnits
	default:
		return 0
	}
}

func (s Span) String() string {
	switch s {
	case SpanDot:
		return "dot"
	case SpanDash:
		return "dash"
	case SpanIntraSymbol:
		return "intra-symbol"
	case SpanInterLetter:
		return "inter-letter"
	case SpanInterWord:
		return "inter-word"
	default:
		return "none"
	}
}

// Step is one encoder instruction. Pause steps carry the span to wait for;
// Char is the input character the step belongs to.
type Step struct {
	Kind Kind
	Span Span
	Char rune
}

// Duration returns how long the step lasts under the given profile.
func (s Step) Duration(p cw.TimingProfile) time.Duration {
	if s.Kind != Pause {
		return 0
	}
	return time.Duration(s.Span.Units()) * p.Unit()
}

var (
	// ErrUnsupportedText indicates strict normalization met an unsupported character
	ErrUnsupportedText = errors.New("text contains unsupported characters")
	// ErrEmptyText indicates nothing is left to send after normalization
	ErrEmptyText = errors.New("text is empty")
)

// UnsupportedTextError lists the characters that could not be encoded.
type UnsupportedTextError struct {
	Chars []rune
}

func (e *UnsupportedTextError) Error() string {
	return fmt.Sprintf("%v: %q", ErrUnsupportedText, string(e.Chars))
}

func (e *UnsupportedTextError) Is(target error) bool {
	return target == ErrUnsupportedText
}

// Normalize upper-cases text, folds whitespace runs into single spaces and
// trims the ends. Characters the table cannot encode are removed and returned;
// in strict mode their presence is an error instead.
func Normalize(table *cw.Table, text string, strict bool) (string, []rune, error) {
	var b strings.Builder
	var dropped []rune
	pendingSpace := false

	for _, r := range text {
		if unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		r = unicode.ToUpper(r)
		if !table.Has(r) {
			dropped = append(dropped, r)
			continue
		}
		if pendingSpace {
			b.WriteRune(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}

	if strict && len(dropped) > 0 {
		return "", dropped, &UnsupportedTextError{Chars: dropped}
	}
	if b.Len() == 0 {
		return "", dropped, ErrEmptyText
	}
	return b.String(), dropped, nil
}

// Encode lazily yields the steps that key text. Each space is an inter-word
// pause; each encodable character is its symbols separated by intra-symbol
// pauses, followed by an inter-letter pause unless no encodable character
// or space follows it. Characters the table cannot encode produce nothing.
func Encode(table *cw.Table, text string) iter.Seq[Step] {
	return func(yield func(Step) bool) {
		runes := []rune(text)
		last := lastEmitting(table, runes)

		for i, r := range runes {
			if r == ' ' {
				if !yield(Step{Kind: Pause, Span: SpanInterWord, Char: r}) {
					return
				}
				continue
			}
			code, err := table.Encode(r)
			if err != nil {
				continue
			}
			for j := 0; j < len(code); j++ {
				if j > 0 {
					if !yield(Step{Kind: Pause, Span: SpanIntraSymbol, Char: r}) {
						return
					}
				}
				span := SpanDot
				if code[j] == cw.Dash {
					span = SpanDash
				}
				if !yield(Step{Kind: Activate, Char: r}) {
					return
				}
				if !yield(Step{Kind: Pause, Span: span, Char: r}) {
					return
				}
				if !yield(Step{Kind: Deactivate, Char: r}) {
					return
				}
			}
			if i != last {
				if !yield(Step{Kind: Pause, Span: SpanInterLetter, Char: r}) {
					return
				}
			}
		}
	}
}

func lastEmitting(table *cw.Table, runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == ' ' || table.Has(runes[i]) {
			return i
		}
	}
	return -1
}

// Command is a key transition at an offset from the start of transmission.
type Command struct {
	At time.Duration
	On bool
}

// Timeline is the full schedule for a text under a fixed profile.
type Timeline struct {
	Commands []Command
	Length   time.Duration
}

// ActiveTime returns the total time the key is down.
func (tl Timeline) ActiveTime() time.Duration {
	var total time.Duration
	var downAt time.Duration
	for _, c := range tl.Commands {
		if c.On {
			downAt = c.At
		} else {
			total += c.At - downAt
		}
	}
	return total
}

// BuildTimeline expands Encode into absolute offsets without sleeping.
func BuildTimeline(table *cw.Table, text string, p cw.TimingProfile) Timeline {
	var tl Timeline
	var at time.Duration
	for step := range Encode(table, text) {
		switch step.Kind {
		case Activate:
			tl.Commands = append(tl.Commands, Command{At: at, On: true})
		case Deactivate:
			tl.Commands = append(tl.Commands, Command{At: at, On: false})
		case Pause:
			at += step.Duration(p)
		}
	}
	tl.Length = at
	return tl
}
