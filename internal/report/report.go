// Package report summarises a decoding session: counters, timing
// thresholds and histograms of the light and dark durations.
package report

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ColonelBlimp/morselink/internal/cw"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// DefaultBinWidth is the histogram bucket width.
const DefaultBinWidth = 20 * time.Millisecond

// Report is the YAML document written by Write.
type Report struct {
	Generated         time.Time `yaml:"generated"`
	Source            string    `yaml:"source,omitempty"`
	Text              string    `yaml:"text"`
	DotThresholdMs    float64   `yaml:"dot_threshold_ms"`
	WordGapMultiplier float64   `yaml:"word_gap_multiplier"`
	// EstimatedUnitMs is the median of the light durations classified as
	// dots, zero when there were none.
	EstimatedUnitMs float64   `yaml:"estimated_unit_ms"`
	Counters        Counters  `yaml:"counters"`
	Light           Durations `yaml:"light"`
	Dark            Durations `yaml:"dark"`
}

// Counters mirrors cw.Stats.
type Counters struct {
	Samples    int `yaml:"samples"`
	Edges      int `yaml:"edges"`
	Characters int `yaml:"characters"`
	Unresolved int `yaml:"unresolved"`
	WordSpaces int `yaml:"word_spaces"`
	Rejected   int `yaml:"rejected"`
	Overflowed int `yaml:"overflowed,omitempty"`
}

// Durations describes one duration log.
type Durations struct {
	Count     int     `yaml:"count"`
	MinMs     float64 `yaml:"min_ms"`
	MaxMs     float64 `yaml:"max_ms"`
	MeanMs    float64 `yaml:"mean_ms"`
	Histogram []Bin   `yaml:"histogram,omitempty,flow"`
}

// Bin is one histogram bucket starting at FromMs.
type Bin struct {
	FromMs float64 `yaml:"from_ms"`
	Count  int     `yaml:"count"`
}

// Options controls Build.
type Options struct {
	Source   string
	BinWidth time.Duration
	// Now is used for Generated; zero means time.Now.
	Now time.Time
}

// Build snapshots the decoder.
func Build(dec *cw.Decoder, opts Options) Report {
	if opts.BinWidth <= 0 {
		opts.BinWidth = DefaultBinWidth
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	stats := dec.Stats()
	light := dec.LightDurations()
	threshold := dec.DotThreshold()

	return Report{
		Generated:         opts.Now,
		Source:            opts.Source,
		Text:              dec.Text(),
		DotThresholdMs:    ms(threshold),
		WordGapMultiplier: dec.WordGapMultiplier(),
		EstimatedUnitMs:   ms(medianBelow(light, threshold)),
		Counters: Counters{
			Samples:    stats.Samples,
			Edges:      stats.Edges,
			Characters: stats.Characters,
			Unresolved: stats.Unresolved,
			WordSpaces: stats.WordSpaces,
			Rejected:   stats.Rejected,
			Overflowed: stats.Overflowed,
		},
		Light: describe(light, opts.BinWidth),
		Dark:  describe(dec.DarkDurations(), opts.BinWidth),
	}
}

func describe(durations []time.Duration, binWidth time.Duration) Durations {
	if len(durations) == 0 {
		return Durations{}
	}

	var sum time.Duration
	lo, hi := durations[0], durations[0]
	for _, d := range durations {
		sum += d
		lo = min(lo, d)
		hi = max(hi, d)
	}

	out := Durations{
		Count:  len(durations),
		MinMs:  ms(lo),
		MaxMs:  ms(hi),
		MeanMs: ms(sum / time.Duration(len(durations))),
	}
	for _, b := range cw.Histogram(durations, binWidth) {
		if b.Count > 0 {
			out.Histogram = append(out.Histogram, Bin{FromMs: ms(b.Low), Count: b.Count})
		}
	}
	return out
}

// medianBelow returns the median of the durations shorter than limit.
func medianBelow(durations []time.Duration, limit time.Duration) time.Duration {
	var short []time.Duration
	for _, d := range durations {
		if d < limit {
			short = append(short, d)
		}
	}
	if len(short) == 0 {
		return 0
	}
	slices.Sort(short)
	return short[len(short)/2]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Write encodes the report as YAML.
func Write(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}

// Save writes the report to path.
func Save(path string, r Report) error {
	var b strings.Builder
	if err := Write(&b, r); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Load reads a report written by Save.
func Load(path string) (Report, error) {
	var r Report
	data, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("read report: %w", err)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode report: %w", err)
	}
	return r, nil
}

// Summary is a one-line human readable digest.
func Summary(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s characters from %s samples",
		humanize.Comma(int64(r.Counters.Characters)),
		humanize.Comma(int64(r.Counters.Samples)))
	if r.Counters.Unresolved > 0 {
		fmt.Fprintf(&b, ", %s unresolved", humanize.Comma(int64(r.Counters.Unresolved)))
	}
	if r.Counters.Rejected > 0 {
		fmt.Fprintf(&b, ", %s rejected", humanize.Comma(int64(r.Counters.Rejected)))
	}
	if r.EstimatedUnitMs > 0 {
		fmt.Fprintf(&b, "; unit about %.0fms", r.EstimatedUnitMs)
	}
	return b.String()
}
