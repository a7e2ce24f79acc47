package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/amirphl/Pythia/models"
	"github.com/amirphl/Pythia/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statsRows(dates ...time.Time) []*models.Prediction {
	rows := make([]*models.Prediction, 0, len(dates))
	for i, d := range dates {
		rows = append(rows, &models.Prediction{
			ID:            uint(i + 1),
			PredictedDate: d,
			Weight:        utils.WeightNear,
		})
	}
	return rows
}

func TestAggregateComputesAndCaches(t *testing.T) {
	mr, rc := newTestRedis(t)
	ctx := context.Background()

	repo := &fakePredictionRepo{rows: statsRows(
		day(2030, 1, 1),
		day(2031, 1, 1),
		day(2032, 1, 1),
		day(2033, 1, 1),
		day(2034, 1, 1),
	)}
	flow := NewStatsFlow(repo, &stubCapacityMonitor{level: LevelNormal}, rc, 5)

	resp, err := flow.Aggregate(ctx)
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, int64(5), resp.Count)
	assert.False(t, resp.BelowSampleFloor)
	assert.False(t, resp.Stale)
	require.NotNil(t, resp.Median)
	assert.Equal(t, "2032-01-01", *resp.Median)
	require.NotNil(t, resp.Min)
	assert.Equal(t, "2030-01-01", *resp.Min)
	require.NotNil(t, resp.Max)
	assert.Equal(t, "2034-01-01", *resp.Max)
	assert.NotEmpty(t, resp.ComputedAt)
	assert.NotEmpty(t, resp.FreshUntil)

	require.True(t, mr.Exists(aggregateCacheKey))

	// A fresh snapshot answers the next request without touching the store
	again, err := flow.Aggregate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls)
	assert.Equal(t, *resp.Median, *again.Median)
	assert.False(t, again.Stale)
}

func TestAggregateBelowSampleFloor(t *testing.T) {
	_, rc := newTestRedis(t)
	ctx := context.Background()

	repo := &fakePredictionRepo{rows: statsRows(day(2030, 1, 1), day(2031, 1, 1))}
	flow := NewStatsFlow(repo, &stubCapacityMonitor{level: LevelNormal}, rc, 5)

	resp, err := flow.Aggregate(ctx)
	require.NoError(t, err)

	// Small sets disclose only the count
	assert.Equal(t, int64(2), resp.Count)
	assert.True(t, resp.BelowSampleFloor)
	assert.Nil(t, resp.Median)
	assert.Nil(t, resp.Min)
	assert.Nil(t, resp.Max)
}

func seedExpiredSnapshot(t *testing.T, mr *miniredis.Miniredis, median string) {
	t.Helper()
	now := time.Now().UTC()
	raw, err := json.Marshal(aggregateSnapshot{
		Median:     &median,
		Min:        &median,
		Max:        &median,
		Count:      42,
		ComputedAt: now.Add(-30 * time.Minute),
		FreshUntil: now.Add(-time.Minute),
	})
	require.NoError(t, err)
	require.NoError(t, mr.Set(aggregateCacheKey, string(raw)))
}

func TestAggregateServesStaleWhenDegraded(t *testing.T) {
	mr, rc := newTestRedis(t)
	ctx := context.Background()

	repo := &fakePredictionRepo{listErr: errors.New("connection refused")}
	flow := NewStatsFlow(repo, &stubCapacityMonitor{level: LevelCritical}, rc, 5)
	seedExpiredSnapshot(t, mr, "2033-07-04")

	resp, err := flow.Aggregate(ctx)
	require.NoError(t, err)

	assert.True(t, resp.Stale)
	assert.Equal(t, int64(42), resp.Count)
	require.NotNil(t, resp.Median)
	assert.Equal(t, "2033-07-04", *resp.Median)
}

func TestAggregateStaleNotServedAtNormal(t *testing.T) {
	mr, rc := newTestRedis(t)
	ctx := context.Background()

	repo := &fakePredictionRepo{listErr: errors.New("connection refused")}
	flow := NewStatsFlow(repo, &stubCapacityMonitor{level: LevelNormal}, rc, 5)
	seedExpiredSnapshot(t, mr, "2033-07-04")

	resp, err := flow.Aggregate(ctx)
	require.Error(t, err)
	assert.Nil(t, resp)

	var bizErr *BusinessError
	require.ErrorAs(t, err, &bizErr)
	assert.Equal(t, "STATS_UNAVAILABLE", bizErr.Code)
}

func TestAggregateFailsWithoutSnapshotOrStore(t *testing.T) {
	_, rc := newTestRedis(t)
	ctx := context.Background()

	repo := &fakePredictionRepo{listErr: errors.New("connection refused")}
	flow := NewStatsFlow(repo, &stubCapacityMonitor{level: LevelCritical}, rc, 5)

	// Degraded mode has nothing to fall back on with an empty cache
	resp, err := flow.Aggregate(ctx)
	require.Error(t, err)
	assert.Nil(t, resp)

	var bizErr *BusinessError
	require.ErrorAs(t, err, &bizErr)
	assert.Equal(t, "STATS_UNAVAILABLE", bizErr.Code)
}

func TestAggregateDiscardsCorruptSnapshot(t *testing.T) {
	mr, rc := newTestRedis(t)
	ctx := context.Background()

	repo := &fakePredictionRepo{rows: statsRows(
		day(2030, 1, 1),
		day(2031, 1, 1),
		day(2032, 1, 1),
	)}
	flow := NewStatsFlow(repo, &stubCapacityMonitor{level: LevelNormal}, rc, 3)
	require.NoError(t, mr.Set(aggregateCacheKey, "{broken"))

	resp, err := flow.Aggregate(ctx)
	require.NoError(t, err)

	// The corrupt entry is replaced by a freshly computed snapshot
	assert.Equal(t, 1, repo.listCalls)
	require.NotNil(t, resp.Median)
	assert.Equal(t, "2031-01-01", *resp.Median)

	var snapshot aggregateSnapshot
	raw, err := mr.Get(aggregateCacheKey)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(raw), &snapshot))
	assert.Equal(t, int64(3), snapshot.Count)
}

func TestCapacityStatusNormal(t *testing.T) {
	_, rc := newTestRedis(t)
	ctx := context.Background()

	flow := NewStatsFlow(&fakePredictionRepo{}, &stubCapacityMonitor{level: LevelNormal}, rc, 5)

	resp, err := flow.CapacityStatus(ctx)
	require.NoError(t, err)

	assert.Equal(t, string(LevelNormal), resp.Level)
	assert.True(t, resp.Features.SubmissionsEnabled)
	assert.True(t, resp.Features.StatsEnabled)
	assert.False(t, resp.Features.SubmissionsQueued)
	assert.Empty(t, resp.Notice)
	assert.Nil(t, resp.RetryAfterSeconds)
}

func TestCapacityStatusExceeded(t *testing.T) {
	_, rc := newTestRedis(t)
	ctx := context.Background()

	flow := NewStatsFlow(&fakePredictionRepo{}, &stubCapacityMonitor{level: LevelExceeded}, rc, 5)

	resp, err := flow.CapacityStatus(ctx)
	require.NoError(t, err)

	assert.Equal(t, string(LevelExceeded), resp.Level)
	assert.False(t, resp.Features.SubmissionsEnabled)
	assert.NotEmpty(t, resp.Notice)

	// Retry-after points at the next UTC midnight
	require.NotNil(t, resp.RetryAfterSeconds)
	assert.Greater(t, *resp.RetryAfterSeconds, int64(0))
	assert.LessOrEqual(t, *resp.RetryAfterSeconds, int64(86400))
}
