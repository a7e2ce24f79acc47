package businessflow

import (
	"time"

	"github.com/amirphl/Pythia/utils"
)

// PredictionWeight maps a predicted date to its reliability weight relative to
// a reference date, usually the submission time. Distances are measured in
// calendar years via AddDate bounds rather than a flat 365-day divisor, so a
// prediction exactly five years out lands on the same side of the boundary in
// leap years and common years alike. Boundaries are inclusive on the nearer
// tier: exactly 5 years scores 1.0 and exactly 50 years scores 0.3.
func PredictionWeight(predictedDate, referenceDate time.Time) float64 {
	p := dateOnly(predictedDate)
	ref := dateOnly(referenceDate)

	if withinYears(p, ref, 5) {
		return utils.WeightNear
	}
	if withinYears(p, ref, 50) {
		return utils.WeightFar
	}
	return utils.WeightExtreme
}

// withinYears reports whether date lies inside [ref - years, ref + years],
// boundaries included.
func withinYears(date, ref time.Time, years int) bool {
	lower := ref.AddDate(-years, 0, 0)
	upper := ref.AddDate(years, 0, 0)
	return !date.Before(lower) && !date.After(upper)
}

func dateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
