package report

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ColonelBlimp/morselink/internal/cw"
	"github.com/ColonelBlimp/morselink/internal/keyer"
	"gopkg.in/yaml.v3"
)

var testOrigin = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// decodeText keys text at a 60ms unit and feeds it to a decoder in 5ms steps.
func decodeText(t *testing.T, text string) *cw.Decoder {
	t.Helper()
	p, err := cw.NewTimingProfile(60 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewTimingProfile() error = %v", err)
	}
	dec, err := cw.NewDecoder(cw.Standard, cw.DefaultDecoderConfig(p))
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}

	tl := keyer.BuildTimeline(cw.Standard, text, p)
	const step = 5 * time.Millisecond
	next, on := 0, false
	for at := -100 * time.Millisecond; at < tl.Length+time.Second; at += step {
		for next < len(tl.Commands) && tl.Commands[next].At <= at {
			on = tl.Commands[next].On
			next++
		}
		if err := dec.Feed(cw.Sample{Timestamp: testOrigin.Add(at), Active: on}); err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
	}
	return dec
}

func TestBuild(t *testing.T) {
	dec := decodeText(t, "SOS")
	r := Build(dec, Options{Source: "unit test", Now: testOrigin})

	if strings.TrimSpace(r.Text) != "SOS" {
		t.Errorf("Text = %q, want SOS", r.Text)
	}
	if r.Source != "unit test" || !r.Generated.Equal(testOrigin) {
		t.Errorf("Source/Generated = %q/%v", r.Source, r.Generated)
	}
	if r.DotThresholdMs != 90 {
		t.Errorf("DotThresholdMs = %v, want 90", r.DotThresholdMs)
	}
	if r.EstimatedUnitMs != 60 {
		t.Errorf("EstimatedUnitMs = %v, want 60", r.EstimatedUnitMs)
	}
	if r.Counters.Characters != 3 {
		t.Errorf("Counters.Characters = %d, want 3", r.Counters.Characters)
	}

	// SOS keys six dots and three dashes
	if r.Light.Count != 9 || r.Light.MinMs != 60 || r.Light.MaxMs != 180 {
		t.Errorf("Light = %+v, want 9 durations from 60 to 180ms", r.Light)
	}
	var binned int
	for _, b := range r.Light.Histogram {
		binned += b.Count
		if b.Count == 0 {
			t.Errorf("empty bin %v should be omitted", b.FromMs)
		}
	}
	if binned != r.Light.Count {
		t.Errorf("histogram holds %d durations, want %d", binned, r.Light.Count)
	}
	if r.Dark.Count == 0 {
		t.Error("Dark should record the gaps")
	}
}

func TestBuild_Empty(t *testing.T) {
	dec, _ := cw.NewDecoder(cw.Standard, cw.DecoderConfig{
		DotThreshold:      90 * time.Millisecond,
		WordGapMultiplier: cw.WordGapMultiplier,
		DurationLogSize:   8,
	})
	r := Build(dec, Options{})

	if r.Generated.IsZero() {
		t.Error("Generated should default to now")
	}
	if r.Light.Count != 0 || r.Light.Histogram != nil || r.EstimatedUnitMs != 0 {
		t.Errorf("empty report = %+v", r)
	}
}

func TestWrite_YAML(t *testing.T) {
	r := Build(decodeText(t, "E"), Options{Now: testOrigin})

	var buf bytes.Buffer
	if err := Write(&buf, r); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	out := buf.String()
	for _, key := range []string{"dot_threshold_ms: 90", "counters:", "histogram: [{from_ms: 60, count: 1}]"} {
		if !strings.Contains(out, key) {
			t.Errorf("YAML missing %q:\n%s", key, out)
		}
	}

	var back Report
	if err := yaml.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if back.Counters != r.Counters || back.Light.Count != r.Light.Count {
		t.Errorf("decoded report = %+v, want %+v", back, r)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.yaml")
	r := Build(decodeText(t, "TEST"), Options{Source: "file.wav", Now: testOrigin})

	if err := Save(path, r); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Source != "file.wav" || got.Text != r.Text {
		t.Errorf("Load() = %+v", got)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestSummary(t *testing.T) {
	testCases := []struct {
		name string
		r    Report
		want string
	}{
		{
			name: "plain",
			r:    Report{Counters: Counters{Characters: 12, Samples: 1234567}},
			want: "12 characters from 1,234,567 samples",
		},
		{
			name: "problems and unit",
			r: Report{
				Counters:        Counters{Characters: 1500, Samples: 20000, Unresolved: 2, Rejected: 1},
				EstimatedUnitMs: 61.4,
			},
			want: "1,500 characters from 20,000 samples, 2 unresolved, 1 rejected; unit about 61ms",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Summary(tc.r); got != tc.want {
				t.Errorf("Summary() = %q, want %q", got, tc.want)
			}
		})
	}
}
