package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/amirphl/Pythia/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelForCount(t *testing.T) {
	const limit = 10000

	tests := []struct {
		name     string
		count    int64
		expected CapacityLevel
	}{
		{name: "zero requests", count: 0, expected: LevelNormal},
		{name: "just below elevated", count: 7999, expected: LevelNormal},
		{name: "elevated lower bound", count: 8000, expected: LevelElevated},
		{name: "just below high", count: 8999, expected: LevelElevated},
		{name: "high lower bound", count: 9000, expected: LevelHigh},
		{name: "just below critical", count: 9499, expected: LevelHigh},
		{name: "critical lower bound", count: 9500, expected: LevelCritical},
		{name: "just below exceeded", count: 9999, expected: LevelCritical},
		{name: "exceeded at the limit", count: 10000, expected: LevelExceeded},
		{name: "far past the limit", count: 25000, expected: LevelExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, levelForCount(tt.count, limit))
		})
	}
}

func TestLevelForCountWithoutLimit(t *testing.T) {
	// A zero or negative limit disables admission control entirely
	assert.Equal(t, LevelNormal, levelForCount(1000000, 0))
	assert.Equal(t, LevelNormal, levelForCount(1000000, -5))
}

func TestRecordRequestProgression(t *testing.T) {
	_, rc := newTestRedis(t)
	ctx := context.Background()

	monitor := NewCapacityMonitor(rc, 5)
	monitor.now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }

	// 1-3 of 5 stay normal, 4 of 5 is 80%, 5 of 5 is the limit
	assert.Equal(t, LevelNormal, monitor.RecordRequest(ctx))
	assert.Equal(t, LevelNormal, monitor.RecordRequest(ctx))
	assert.Equal(t, LevelNormal, monitor.RecordRequest(ctx))
	assert.Equal(t, LevelElevated, monitor.RecordRequest(ctx))
	assert.Equal(t, LevelExceeded, monitor.RecordRequest(ctx))

	assert.Equal(t, int64(5), monitor.RequestsToday(ctx))
}

func TestRecordRequestSetsCounterExpiry(t *testing.T) {
	mr, rc := newTestRedis(t)
	ctx := context.Background()

	monitor := NewCapacityMonitor(rc, 100)
	monitor.now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }

	monitor.RecordRequest(ctx)

	key := "capacity:requests:2026-08-25"
	require.True(t, mr.Exists(key))
	assert.Equal(t, utils.CapacityCounterTTL, mr.TTL(key))
}

func TestCurrentLevelDoesNotCount(t *testing.T) {
	_, rc := newTestRedis(t)
	ctx := context.Background()

	monitor := NewCapacityMonitor(rc, 5)
	monitor.now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }

	monitor.RecordRequest(ctx)
	monitor.CurrentLevel(ctx)
	monitor.CurrentLevel(ctx)

	assert.Equal(t, int64(1), monitor.RequestsToday(ctx))
}

func TestCurrentLevelOnEmptyDay(t *testing.T) {
	_, rc := newTestRedis(t)
	ctx := context.Background()

	monitor := NewCapacityMonitor(rc, 5)

	assert.Equal(t, LevelNormal, monitor.CurrentLevel(ctx))
	assert.Equal(t, int64(0), monitor.RequestsToday(ctx))
}

func TestMidnightRolloverIsLazy(t *testing.T) {
	_, rc := newTestRedis(t)
	ctx := context.Background()

	monitor := NewCapacityMonitor(rc, 5)

	day1 := time.Date(2026, 8, 25, 23, 50, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 26, 0, 10, 0, 0, time.UTC)

	monitor.now = func() time.Time { return day1 }
	monitor.RecordRequest(ctx)
	monitor.RecordRequest(ctx)
	monitor.RecordRequest(ctx)
	monitor.RecordRequest(ctx)
	assert.Equal(t, LevelElevated, monitor.CurrentLevel(ctx))

	// The first request after midnight lands on a fresh key
	monitor.now = func() time.Time { return day2 }
	assert.Equal(t, int64(0), monitor.RequestsToday(ctx))
	assert.Equal(t, LevelNormal, monitor.RecordRequest(ctx))
	assert.Equal(t, int64(1), monitor.RequestsToday(ctx))

	// Yesterday's counter is untouched until it expires
	monitor.now = func() time.Time { return day1 }
	assert.Equal(t, int64(4), monitor.RequestsToday(ctx))
}

func TestCapacityMonitorFailsOpen(t *testing.T) {
	mr, rc := newTestRedis(t)
	ctx := context.Background()

	monitor := NewCapacityMonitor(rc, 5)
	mr.Close()

	assert.Equal(t, LevelNormal, monitor.RecordRequest(ctx))
	assert.Equal(t, LevelNormal, monitor.CurrentLevel(ctx))
	assert.Equal(t, int64(0), monitor.RequestsToday(ctx))
}
