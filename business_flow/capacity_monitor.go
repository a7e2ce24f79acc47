package businessflow

import (
	"context"
	"log"
	"time"

	"github.com/amirphl/Pythia/utils"
	"github.com/redis/go-redis/v9"
)

// CapacityMonitor tracks today's admission-relevant request volume against the
// daily limit and derives the discrete capacity level from it.
type CapacityMonitor interface {
	// RecordRequest atomically counts one admission-relevant request and
	// returns the resulting level.
	RecordRequest(ctx context.Context) CapacityLevel
	// CurrentLevel reads the level without counting, for status endpoints.
	CurrentLevel(ctx context.Context) CapacityLevel
	// RequestsToday reads the raw counter, for reporting.
	RequestsToday(ctx context.Context) int64
}

// counterStore is the narrow slice of counter operations the monitor needs;
// redis in production, an in-memory fake in tests.
type counterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

// CapacityMonitorImpl is a day-keyed durable counter. The key embeds the UTC
// day, so the midnight reset is lazy: the first request after rollover simply
// increments a fresh key. Old keys expire on their own. When the counter store
// is unreachable the monitor fails open and reports normal; keeping the
// submission path alive outranks strict quota enforcement.
type CapacityMonitorImpl struct {
	store      counterStore
	dailyLimit int64
	now        func() time.Time
}

// NewCapacityMonitor creates a redis-backed capacity monitor
func NewCapacityMonitor(rc redis.Cmdable, dailyLimit int64) *CapacityMonitorImpl {
	return &CapacityMonitorImpl{
		store:      &redisCounterStore{rc: rc},
		dailyLimit: dailyLimit,
		now:        utils.UTCNow,
	}
}

// RecordRequest counts one request and returns the resulting level
func (m *CapacityMonitorImpl) RecordRequest(ctx context.Context) CapacityLevel {
	count, err := m.store.Incr(ctx, m.counterKey(), utils.CapacityCounterTTL)
	if err != nil {
		log.Printf("capacity: counter increment failed, failing open: %v", err)
		return LevelNormal
	}
	return levelForCount(count, m.dailyLimit)
}

// CurrentLevel reads the level without incrementing the counter
func (m *CapacityMonitorImpl) CurrentLevel(ctx context.Context) CapacityLevel {
	count, err := m.store.Get(ctx, m.counterKey())
	if err != nil {
		log.Printf("capacity: counter read failed, failing open: %v", err)
		return LevelNormal
	}
	return levelForCount(count, m.dailyLimit)
}

// RequestsToday returns today's raw request count, zero when unavailable
func (m *CapacityMonitorImpl) RequestsToday(ctx context.Context) int64 {
	count, err := m.store.Get(ctx, m.counterKey())
	if err != nil {
		return 0
	}
	return count
}

func (m *CapacityMonitorImpl) counterKey() string {
	return "capacity:requests:" + utils.DayKeyUTC(m.now())
}

// levelForCount maps a request count to its capacity level. Thresholds are
// fractions of the daily limit: 0.80 elevated, 0.90 high, 0.95 critical, 1.00
// exceeded, each inclusive at the lower bound.
func levelForCount(count, dailyLimit int64) CapacityLevel {
	if dailyLimit <= 0 {
		return LevelNormal
	}

	used := float64(count) / float64(dailyLimit)
	switch {
	case used >= 1.00:
		return LevelExceeded
	case used >= 0.95:
		return LevelCritical
	case used >= 0.90:
		return LevelHigh
	case used >= 0.80:
		return LevelElevated
	default:
		return LevelNormal
	}
}

type redisCounterStore struct {
	rc redis.Cmdable
}

func (s *redisCounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.rc.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		// First hit of the day; expiry only needs to outlive the day itself.
		s.rc.Expire(ctx, key, ttl)
	}
	return count, nil
}

func (s *redisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	count, err := s.rc.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}
