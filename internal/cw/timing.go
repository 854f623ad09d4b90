package cw

import (
	"errors"
	"fmt"
	"time"
)

// Morse code timing ratios (ITU standard), in units of one dot
const (
	// DotUnits is the length of a dot
	DotUnits = 1
	// DashUnits is the length of a dash (ITU: 3:1)
	DashUnits = 3
	// IntraSymbolUnits is the gap between elements within a character (ITU: 1:1)
	IntraSymbolUnits = 1
	// InterLetterUnits is the gap between characters (ITU: 3:1)
	InterLetterUnits = 3
	// InterWordUnits is the gap between words (ITU: 7:1)
	InterWordUnits = 7

	// MillisecondsPerMinute is used for speed calculations
	MillisecondsPerMinute = 60000.0
	// UnitsPerWord is the standard word "PARIS" = 50 units
	UnitsPerWord = 50.0

	// DotThresholdRatio is the default dot/dash decision boundary in dots
	DotThresholdRatio = 1.5
	// WordGapMultiplier is the default word break in multiples of the dot threshold.
	// Transmit uses InterWordUnits (7) while decode breaks words at 3x the threshold.
	WordGapMultiplier = 3.0
)

// Unit bounds accepted by NewTimingProfile
const (
	MinUnit = 10 * time.Millisecond
	MaxUnit = 2 * time.Second
)

var (
	// ErrInvalidUnit indicates the unit duration is outside MinUnit..MaxUnit
	ErrInvalidUnit = errors.New("unit duration out of range")
	// ErrInvalidSpeed indicates the speed must be positive
	ErrInvalidSpeed = errors.New("speed must be positive")
)

// TimingProfile holds every transmit duration derived from one unit.
// The fields are only set by the constructors, so the ratios always hold.
type TimingProfile struct {
	unit time.Duration
}

// NewTimingProfile derives a profile from the unit (dot) duration.
func NewTimingProfile(unit time.Duration) (TimingProfile, error) {
	if unit < MinUnit || unit > MaxUnit {
		return TimingProfile{}, fmt.Errorf("%w: %v (want %v..%v)", ErrInvalidUnit, unit, MinUnit, MaxUnit)
	}
	return TimingProfile{unit: unit}, nil
}

// ProfileFromSpeed derives a profile from a speed in units per minute.
func ProfileFromSpeed(unitsPerMinute float64) (TimingProfile, error) {
	if unitsPerMinute <= 0 {
		return TimingProfile{}, ErrInvalidSpeed
	}
	unit := time.Duration(MillisecondsPerMinute / unitsPerMinute * float64(time.Millisecond))
	return NewTimingProfile(unit)
}

// ProfileFromWPM derives a profile from words per minute using PARIS timing.
// dot_ms = 60000 / (WPM * 50) = 1200 / WPM
func ProfileFromWPM(wpm float64) (TimingProfile, error) {
	if wpm <= 0 {
		return TimingProfile{}, ErrInvalidSpeed
	}
	return ProfileFromSpeed(wpm * UnitsPerWord)
}

// Unit returns the base time quantum.
func (p TimingProfile) Unit() time.Duration { return p.unit }

// Dot returns the duration of a dot.
func (p TimingProfile) Dot() time.Duration { return DotUnits * p.unit }

// Dash returns the duration of a dash.
func (p TimingProfile) Dash() time.Duration { return DashUnits * p.unit }

// IntraSymbolGap returns the silence between elements of one character.
func (p TimingProfile) IntraSymbolGap() time.Duration { return IntraSymbolUnits * p.unit }

// InterLetterGap returns the silence between characters.
func (p TimingProfile) InterLetterGap() time.Duration { return InterLetterUnits * p.unit }

// InterWordGap returns the silence charged for a space.
func (p TimingProfile) InterWordGap() time.Duration { return InterWordUnits * p.unit }

// UnitsPerMinute returns the speed this profile was built for.
func (p TimingProfile) UnitsPerMinute() float64 {
	if p.unit <= 0 {
		return 0
	}
	return MillisecondsPerMinute / (float64(p.unit) / float64(time.Millisecond))
}

// WPM returns the PARIS words per minute, rounded to nearest.
func (p TimingProfile) WPM() int {
	return int(p.UnitsPerMinute()/UnitsPerWord + 0.5)
}

// DotThreshold returns the decoder boundary matching this profile:
// DotThresholdRatio dots, between dot and dash for marks and between the
// intra-symbol and inter-letter gaps for spaces.
func (p TimingProfile) DotThreshold() time.Duration {
	return time.Duration(DotThresholdRatio * float64(p.Dot()))
}

// IsZero reports whether the profile was never constructed.
func (p TimingProfile) IsZero() bool {
	return p.unit == 0
}
