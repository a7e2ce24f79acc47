package businessflow

import (
	"sort"
	"time"
)

// WeightedPrediction is the (date, weight) pair the aggregator consumes,
// decoupled from storage so the math is testable with synthetic fixtures.
type WeightedPrediction struct {
	Date   time.Time
	Weight float64
}

// AggregateStats is the read-side summary of the current prediction set.
// Median is nil when the set is empty.
type AggregateStats struct {
	Median *time.Time
	Min    time.Time
	Max    time.Time
	Count  int
}

// WeightedMedian returns the community consensus date: the first date in
// ascending order at which the cumulative weight reaches half the total.
// The result is always one of the observed input dates, never interpolated.
//
// Edge cases, in priority order: an empty set yields nil; a single prediction
// wins regardless of its weight; a total weight of zero (all entries
// zero-weighted, a degenerate or adversarial input) falls back to the
// unweighted median of the same sorted dates, taking the lower of the two
// middles for even counts; a cumulative weight landing exactly on the target
// resolves to the lower of the two straddling dates because the scan stops at
// "reaches", not "exceeds".
func WeightedMedian(predictions []WeightedPrediction) *time.Time {
	if len(predictions) == 0 {
		return nil
	}
	if len(predictions) == 1 {
		d := predictions[0].Date
		return &d
	}

	sorted := make([]WeightedPrediction, len(predictions))
	copy(sorted, predictions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	totalWeight := 0.0
	for _, p := range sorted {
		totalWeight += p.Weight
	}

	if totalWeight == 0 {
		d := sorted[(len(sorted)-1)/2].Date
		return &d
	}

	target := totalWeight / 2
	cumulative := 0.0
	for _, p := range sorted {
		cumulative += p.Weight
		if cumulative >= target {
			d := p.Date
			return &d
		}
	}

	// Unreachable with positive total weight; guard against float drift.
	d := sorted[len(sorted)-1].Date
	return &d
}

// ComputeStats derives the aggregate summary served by the read API.
func ComputeStats(predictions []WeightedPrediction) AggregateStats {
	stats := AggregateStats{Count: len(predictions)}
	if len(predictions) == 0 {
		return stats
	}

	stats.Median = WeightedMedian(predictions)
	stats.Min = predictions[0].Date
	stats.Max = predictions[0].Date
	for _, p := range predictions[1:] {
		if p.Date.Before(stats.Min) {
			stats.Min = p.Date
		}
		if p.Date.After(stats.Max) {
			stats.Max = p.Date
		}
	}

	return stats
}
