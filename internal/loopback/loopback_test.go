package loopback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ColonelBlimp/morselink/internal/cw"
	"github.com/ColonelBlimp/morselink/internal/keyer"
)

func testProfile(t *testing.T, unit time.Duration) cw.TimingProfile {
	t.Helper()
	p, err := cw.NewTimingProfile(unit)
	if err != nil {
		t.Fatalf("NewTimingProfile() error = %v", err)
	}
	return p
}

func TestRun_CleanChannelRoundTrip(t *testing.T) {
	testCases := []struct {
		text string
		unit time.Duration
	}{
		{"SOS", 200 * time.Millisecond},
		{"PARIS PARIS", 60 * time.Millisecond},
		{"THE QUICK BROWN FOX JUMPS OVER THE LAZY DOG 0123456789", 50 * time.Millisecond},
		{"e e", 120 * time.Millisecond},
	}

	for _, tc := range testCases {
		t.Run(tc.text, func(t *testing.T) {
			res, err := Run(context.Background(), cw.Standard, tc.text, DefaultConfig(testProfile(t, tc.unit)))
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.Received != res.Sent {
				t.Errorf("Received = %q, want %q", res.Received, res.Sent)
			}
			if res.Distance != 0 || res.ErrorRate != 0 {
				t.Errorf("Distance = %d, ErrorRate = %v; want 0", res.Distance, res.ErrorRate)
			}
			if res.Stats.Rejected != 0 {
				t.Errorf("Stats.Rejected = %d, want 0", res.Stats.Rejected)
			}
		})
	}
}

func TestRun_TimelineMatchesEncoder(t *testing.T) {
	p := testProfile(t, 100*time.Millisecond)
	res, err := Run(context.Background(), cw.Standard, "SOS", DefaultConfig(p))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := keyer.BuildTimeline(cw.Standard, "SOS", p)
	if res.Timeline.Length != want.Length || len(res.Timeline.Commands) != len(want.Commands) {
		t.Fatalf("Timeline = %+v, want %+v", res.Timeline, want)
	}
	for i := range want.Commands {
		if res.Timeline.Commands[i] != want.Commands[i] {
			t.Errorf("command %d = %+v, want %+v", i, res.Timeline.Commands[i], want.Commands[i])
		}
	}
	for _, d := range append(res.Light, res.Dark...) {
		if d < 0 {
			t.Errorf("negative duration %v in logs", d)
		}
	}
}

func TestRun_ToleratesJitter(t *testing.T) {
	p := testProfile(t, 100*time.Millisecond)
	cfg := DefaultConfig(p)
	cfg.Jitter = 10 * time.Millisecond

	for seed := uint64(1); seed <= 5; seed++ {
		cfg.Seed = seed
		res, err := Run(context.Background(), cw.Standard, "CQ CQ DE K1ABC", cfg)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.Received != res.Sent {
			t.Errorf("seed %d: Received = %q, want %q", seed, res.Received, res.Sent)
		}
	}
}

func TestRun_NoiseIsDeterministicPerSeed(t *testing.T) {
	cfg := DefaultConfig(testProfile(t, 60*time.Millisecond))
	cfg.Noise = 0.05
	cfg.Seed = 42

	a, err := Run(context.Background(), cw.Standard, "PARIS PARIS PARIS", cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	b, _ := Run(context.Background(), cw.Standard, "PARIS PARIS PARIS", cfg)

	if a.Received != b.Received || a.Distance != b.Distance {
		t.Errorf("same seed gave %q and %q", a.Received, b.Received)
	}
	if a.Distance == 0 {
		t.Errorf("5%% sample noise should corrupt the text, got %q", a.Received)
	}
	if a.ErrorRate <= 0 {
		t.Errorf("ErrorRate = %v, want > 0", a.ErrorRate)
	}
}

func TestRun_UnsupportedCharacters(t *testing.T) {
	cfg := DefaultConfig(testProfile(t, 60*time.Millisecond))

	res, err := Run(context.Background(), cw.Standard, "sos!", cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Sent != "SOS" || res.Received != "SOS" {
		t.Errorf("Sent/Received = %q/%q, want SOS/SOS", res.Sent, res.Received)
	}

	cfg.Strict = true
	if _, err := Run(context.Background(), cw.Standard, "sos!", cfg); !errors.Is(err, keyer.ErrUnsupportedText) {
		t.Errorf("strict Run() error = %v, want %v", err, keyer.ErrUnsupportedText)
	}
}

func TestRun_Validation(t *testing.T) {
	p := testProfile(t, 60*time.Millisecond)
	testCases := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"zero tick", func(c *Config) { c.Tick = 0 }, ErrInvalidTick},
		{"negative jitter", func(c *Config) { c.Jitter = -time.Millisecond }, ErrInvalidJitter},
		{"noise above one", func(c *Config) { c.Noise = 1.5 }, ErrInvalidNoise},
		{"zero profile", func(c *Config) { c.Profile = cw.TimingProfile{} }, keyer.ErrInvalidProfile},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig(p)
			tc.modify(&cfg)
			if _, err := Run(context.Background(), cw.Standard, "E", cfg); !errors.Is(err, tc.want) {
				t.Errorf("Run() error = %v, want %v", err, tc.want)
			}
		})
	}

	if _, err := Run(context.Background(), cw.Standard, "  ", DefaultConfig(p)); !errors.Is(err, keyer.ErrEmptyText) {
		t.Errorf("blank text error = %v, want %v", err, keyer.ErrEmptyText)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, cw.Standard, "SOS", DefaultConfig(testProfile(t, 60*time.Millisecond))); err == nil {
		t.Error("Run() with a cancelled context should fail")
	}
}

func TestJitter_KeepsOrder(t *testing.T) {
	cmds := keyer.BuildTimeline(cw.Standard, "EEEE", testProfile(t, 20*time.Millisecond)).Commands
	cfg := DefaultConfig(testProfile(t, 20*time.Millisecond))
	cfg.Seed = 7
	out := jitter(cmds, 30*time.Millisecond, newRand(cfg.Seed))

	for i := 1; i < len(out); i++ {
		if out[i].At < out[i-1].At {
			t.Errorf("edge %d at %v before edge %d at %v", i, out[i].At, i-1, out[i-1].At)
		}
	}
	if &out[0] == &cmds[0] {
		t.Error("jitter() should not modify its input")
	}
}
