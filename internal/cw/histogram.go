package cw

import "time"

// Bin is one bucket of a duration histogram, covering [Low, Low+width).
type Bin struct {
	Low   time.Duration
	Count int
}

// Histogram buckets durations into bins of binWidth starting at zero.
// Empty bins between populated ones are kept so the result plots directly.
func Histogram(durations []time.Duration, binWidth time.Duration) []Bin {
	if binWidth <= 0 || len(durations) == 0 {
		return nil
	}

	var longest time.Duration
	for _, d := range durations {
		if d > longest {
			longest = d
		}
	}

	bins := make([]Bin, int(longest/binWidth)+1)
	for i := range bins {
		bins[i].Low = time.Duration(i) * binWidth
	}
	for _, d := range durations {
		if d < 0 {
			continue
		}
		bins[int(d/binWidth)].Count++
	}
	return bins
}
