package businessflow

import (
	"time"

	"github.com/amirphl/Pythia/utils"
)

// CapacityLevel is the discrete admission-control state derived from today's
// request volume. It is the single value transmitted across the API boundary;
// every feature decision below re-derives from it, never from ad hoc booleans.
type CapacityLevel string

const (
	LevelNormal   CapacityLevel = "normal"
	LevelElevated CapacityLevel = "elevated"
	LevelHigh     CapacityLevel = "high"
	LevelCritical CapacityLevel = "critical"
	LevelExceeded CapacityLevel = "exceeded"
)

// FeatureSet is the feature-flag block derived from a capacity level.
type FeatureSet struct {
	StatsEnabled       bool `json:"stats_enabled"`
	SubmissionsEnabled bool `json:"submissions_enabled"`
	ChartEnabled       bool `json:"chart_enabled"`
	CacheExtended      bool `json:"cache_extended"`
	// SubmissionsQueued means submissions are accepted into the overflow
	// queue instead of being written synchronously.
	SubmissionsQueued bool `json:"submissions_queued"`
	// ServeStaleAllowed permits answering reads from an expired cache entry
	// when the store is slow.
	ServeStaleAllowed bool `json:"serve_stale_allowed"`
}

var featureTable = map[CapacityLevel]FeatureSet{
	LevelNormal:   {StatsEnabled: true, SubmissionsEnabled: true, ChartEnabled: true},
	LevelElevated: {StatsEnabled: true, SubmissionsEnabled: true, ChartEnabled: true},
	LevelHigh:     {StatsEnabled: true, SubmissionsEnabled: true, CacheExtended: true},
	LevelCritical: {StatsEnabled: true, SubmissionsEnabled: true, CacheExtended: true, SubmissionsQueued: true, ServeStaleAllowed: true},
	LevelExceeded: {StatsEnabled: true, CacheExtended: true},
}

var noticeTable = map[CapacityLevel]string{
	LevelHigh:     "The service is under high traffic; some features are temporarily reduced.",
	LevelCritical: "Your submission will be queued and processed shortly.",
	LevelExceeded: "Daily capacity reached; submissions reopen after midnight UTC.",
}

// FeaturesFor derives the feature flags for a capacity level. Unknown levels
// degrade to the exceeded row rather than silently enabling everything.
func FeaturesFor(level CapacityLevel) FeatureSet {
	if features, ok := featureTable[level]; ok {
		return features
	}
	return featureTable[LevelExceeded]
}

// CacheTTLFor derives the aggregate cache lifetime for a capacity level.
func CacheTTLFor(level CapacityLevel) time.Duration {
	if FeaturesFor(level).CacheExtended {
		return utils.ExtendedCacheTTL
	}
	return utils.BaseCacheTTL
}

// NoticeFor returns the user-facing notice for a level, empty when none is
// shown. Elevated deliberately stays silent toward users; it only raises the
// internal log level.
func NoticeFor(level CapacityLevel) string {
	return noticeTable[level]
}

// RetryAfter returns how long callers should wait before submissions reopen:
// the distance to the next UTC midnight, when the daily counter rolls over.
func RetryAfter(now time.Time) time.Duration {
	return utils.NextMidnightUTC(now).Sub(now)
}
