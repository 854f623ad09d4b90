package cw

import (
	"errors"
	"testing"
	"time"
)

func TestNewTimingProfile_Ratios(t *testing.T) {
	p, err := NewTimingProfile(120 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewTimingProfile() error = %v", err)
	}

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"dot", p.Dot(), 120 * time.Millisecond},
		{"dash", p.Dash(), 360 * time.Millisecond},
		{"intra-symbol", p.IntraSymbolGap(), 120 * time.Millisecond},
		{"inter-letter", p.InterLetterGap(), 360 * time.Millisecond},
		{"inter-word", p.InterWordGap(), 840 * time.Millisecond},
		{"dot threshold", p.DotThreshold(), 180 * time.Millisecond},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestNewTimingProfile_InvalidUnit(t *testing.T) {
	for _, unit := range []time.Duration{0, -time.Millisecond, MinUnit - 1, MaxUnit + 1} {
		_, err := NewTimingProfile(unit)
		if !errors.Is(err, ErrInvalidUnit) {
			t.Errorf("NewTimingProfile(%v) error = %v, want %v", unit, err, ErrInvalidUnit)
		}
	}
}

func TestProfileFromSpeed(t *testing.T) {
	p, err := ProfileFromSpeed(500)
	if err != nil {
		t.Fatalf("ProfileFromSpeed() error = %v", err)
	}
	if p.Unit() != 120*time.Millisecond {
		t.Errorf("Unit() = %v, want 120ms", p.Unit())
	}
	if p.UnitsPerMinute() != 500 {
		t.Errorf("UnitsPerMinute() = %v, want 500", p.UnitsPerMinute())
	}

	if _, err := ProfileFromSpeed(0); err != ErrInvalidSpeed {
		t.Errorf("ProfileFromSpeed(0) error = %v, want %v", err, ErrInvalidSpeed)
	}
	if _, err := ProfileFromSpeed(-10); err != ErrInvalidSpeed {
		t.Errorf("ProfileFromSpeed(-10) error = %v, want %v", err, ErrInvalidSpeed)
	}
}

func TestProfileFromWPM(t *testing.T) {
	// At 20 WPM: dot = 1200 / 20 = 60ms
	p, err := ProfileFromWPM(20)
	if err != nil {
		t.Fatalf("ProfileFromWPM() error = %v", err)
	}
	if p.Dot() != 60*time.Millisecond {
		t.Errorf("Dot() = %v, want 60ms", p.Dot())
	}
	if p.WPM() != 20 {
		t.Errorf("WPM() = %d, want 20", p.WPM())
	}
}

func TestTimingProfile_IsZero(t *testing.T) {
	var p TimingProfile
	if !p.IsZero() {
		t.Error("zero TimingProfile should report IsZero")
	}
	p, _ = NewTimingProfile(100 * time.Millisecond)
	if p.IsZero() {
		t.Error("constructed TimingProfile should not report IsZero")
	}
}
