// Package scoring ranks report groups by combining cluster size with
// publication recency.
package scoring

import (
	"math"
	"time"
)

// Score weighs a group of n members whose freshest member was published at
// newest, evaluated at now. The size term grows logarithmically, ln(1+n),
// and the recency term halves every halfLife: 2^(-age/halfLife). Future
// publication timestamps are clamped to now so clock skew never inflates a
// group past its size term.
func Score(n int, newest, now time.Time, halfLife time.Duration) float64 {
	if n <= 0 {
		return 0
	}

	age := now.Sub(newest)
	if age < 0 {
		age = 0
	}

	decay := math.Exp2(-age.Seconds() / halfLife.Seconds())
	return math.Log1p(float64(n)) * decay
}

// Aggregate folds per-group scores into a report-level score. The "sum"
// policy adds them, rewarding broad coverage; any other policy keeps the
// top group's score. An empty slice aggregates to 0.
func Aggregate(policy string, scores []float64) float64 {
	var total float64
	for _, score := range scores {
		if policy == "sum" {
			total += score
		} else {
			total = math.Max(total, score)
		}
	}
	return total
}

// Freshest returns the latest timestamp in the slice, or the zero time for
// an empty slice.
func Freshest(times []time.Time) time.Time {
	var newest time.Time
	for _, t := range times {
		if t.After(newest) {
			newest = t
		}
	}
	return newest
}
