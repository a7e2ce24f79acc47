package utils

import (
	"time"
)

// Token and session time constants
const (
	// AdminAccessTokenTTL is the time-to-live for admin access tokens (24 hours)
	AdminAccessTokenTTL = 24 * time.Hour

	// AdminAccessTokenTTLSeconds is the time-to-live for admin access tokens in seconds
	AdminAccessTokenTTLSeconds = 86400
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Submission pipeline constants
const (
	// QueueTTL is how long a queued submission stays drainable (24 hours)
	QueueTTL = 24 * time.Hour

	// QueueDrainLockTTL bounds how long a single drain run may hold the drain lock
	QueueDrainLockTTL = 30 * time.Second

	// CapacityCounterTTL is the expiry on day-scoped request counters; two days
	// keeps yesterday's counter readable for reporting while rollover happens lazily
	CapacityCounterTTL = 48 * time.Hour

	// BaseCacheTTL is the aggregate cache lifetime at normal and elevated capacity (5 minutes)
	BaseCacheTTL = 5 * time.Minute

	// ExtendedCacheTTL is the aggregate cache lifetime at high capacity and above (15 minutes)
	ExtendedCacheTTL = 15 * time.Minute

	// StaleCacheRetention is how long an aggregate snapshot physically stays in
	// the cache past its freshness window, so degraded mode can serve it stale
	StaleCacheRetention = time.Hour

	// MaxPredictionYearsAhead bounds the validity window for predicted dates
	MaxPredictionYearsAhead = 500
)

// Weight tiers for prediction reliability scoring
const (
	// WeightNear applies to predictions within five years of the reference date
	WeightNear = 1.0

	// WeightFar applies to predictions between five and fifty years out
	WeightFar = 0.3

	// WeightExtreme applies to predictions more than fifty years out
	WeightExtreme = 0.1
)
