// Package businessflow contains the core business logic and use cases for prediction workflows
package businessflow

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/amirphl/Pythia/app/dto"
	"github.com/amirphl/Pythia/repository"
	"github.com/amirphl/Pythia/utils"
	"github.com/redis/go-redis/v9"
)

const aggregateCacheKey = "aggregate:stats"

// StatsFlow serves the read side: the community consensus aggregate and the
// current capacity status.
type StatsFlow interface {
	// Aggregate returns the weighted consensus over all stored predictions,
	// answered from cache while the snapshot is fresh.
	Aggregate(ctx context.Context) (*dto.AggregateResponse, error)
	// CapacityStatus reports the current capacity level and the feature
	// flags derived from it, without counting the request itself.
	CapacityStatus(ctx context.Context) (*dto.CapacityResponse, error)
}

// StatsFlowImpl implements the stats flow
type StatsFlowImpl struct {
	predictionRepo repository.PredictionRepository
	capacity       CapacityMonitor
	cache          redis.Cmdable
	sampleFloor    int
}

// NewStatsFlow creates a new stats flow with all dependencies
func NewStatsFlow(predictionRepo repository.PredictionRepository, capacity CapacityMonitor, cache redis.Cmdable, sampleFloor int) StatsFlow {
	return &StatsFlowImpl{
		predictionRepo: predictionRepo,
		capacity:       capacity,
		cache:          cache,
		sampleFloor:    sampleFloor,
	}
}

// aggregateSnapshot is the cached envelope. Freshness is logical: the entry
// physically outlives FreshUntil so degraded mode can answer from it stale.
type aggregateSnapshot struct {
	Median           *string   `json:"median,omitempty"`
	Min              *string   `json:"min,omitempty"`
	Max              *string   `json:"max,omitempty"`
	Count            int64     `json:"count"`
	BelowSampleFloor bool      `json:"below_sample_floor"`
	ComputedAt       time.Time `json:"computed_at"`
	FreshUntil       time.Time `json:"fresh_until"`
}

func (s *StatsFlowImpl) Aggregate(ctx context.Context) (*dto.AggregateResponse, error) {
	now := utils.UTCNow()
	cached := s.readSnapshot(ctx)
	if cached != nil && now.Before(cached.FreshUntil) {
		return snapshotToResponse(cached, false), nil
	}

	level := s.capacity.CurrentLevel(ctx)

	snapshot, err := s.computeSnapshot(ctx, now, level)
	if err != nil {
		if cached != nil && FeaturesFor(level).ServeStaleAllowed {
			log.Printf("aggregate recompute failed, serving stale snapshot: %v", err)
			return snapshotToResponse(cached, true), nil
		}
		log.Printf("aggregate recompute failed: %v", err)
		return nil, NewBusinessError("STATS_UNAVAILABLE", "Aggregate statistics unavailable", ErrStoreUnavailable)
	}

	s.writeSnapshot(ctx, snapshot)
	return snapshotToResponse(snapshot, false), nil
}

func (s *StatsFlowImpl) CapacityStatus(ctx context.Context) (*dto.CapacityResponse, error) {
	level := s.capacity.CurrentLevel(ctx)
	features := FeaturesFor(level)

	resp := &dto.CapacityResponse{
		Level: string(level),
		Features: dto.CapacityFeaturesDTO{
			StatsEnabled:       features.StatsEnabled,
			SubmissionsEnabled: features.SubmissionsEnabled,
			ChartEnabled:       features.ChartEnabled,
			CacheExtended:      features.CacheExtended,
			SubmissionsQueued:  features.SubmissionsQueued,
		},
		Notice: NoticeFor(level),
	}

	if level == LevelExceeded {
		retryAfter := int64(RetryAfter(utils.UTCNow()).Seconds())
		resp.RetryAfterSeconds = &retryAfter
	}

	return resp, nil
}

// computeSnapshot loads every prediction and derives the consensus. Sets
// smaller than the sample floor produce a placeholder carrying only the count.
func (s *StatsFlowImpl) computeSnapshot(ctx context.Context, now time.Time, level CapacityLevel) (*aggregateSnapshot, error) {
	rows, err := s.predictionRepo.ListForAggregation(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &aggregateSnapshot{
		Count:      int64(len(rows)),
		ComputedAt: now,
		FreshUntil: now.Add(CacheTTLFor(level)),
	}

	if len(rows) < s.sampleFloor {
		snapshot.BelowSampleFloor = true
		return snapshot, nil
	}

	predictions := make([]WeightedPrediction, 0, len(rows))
	for _, row := range rows {
		predictions = append(predictions, WeightedPrediction{
			Date:   row.PredictedDate.UTC(),
			Weight: row.Weight,
		})
	}

	stats := ComputeStats(predictions)
	if stats.Median != nil {
		snapshot.Median = utils.ToPtr(stats.Median.Format(DateLayout))
	}
	snapshot.Min = utils.ToPtr(stats.Min.Format(DateLayout))
	snapshot.Max = utils.ToPtr(stats.Max.Format(DateLayout))

	return snapshot, nil
}

func (s *StatsFlowImpl) readSnapshot(ctx context.Context) *aggregateSnapshot {
	raw, err := s.cache.Get(ctx, aggregateCacheKey).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("aggregate cache read failed: %v", err)
		}
		return nil
	}

	var snapshot aggregateSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		log.Printf("aggregate cache entry corrupt, discarding: %v", err)
		s.cache.Del(ctx, aggregateCacheKey)
		return nil
	}
	return &snapshot
}

func (s *StatsFlowImpl) writeSnapshot(ctx context.Context, snapshot *aggregateSnapshot) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	// Cache failures only cost the next request a recompute.
	if err := s.cache.Set(ctx, aggregateCacheKey, raw, utils.StaleCacheRetention).Err(); err != nil {
		log.Printf("aggregate cache write failed: %v", err)
	}
}

func snapshotToResponse(snapshot *aggregateSnapshot, stale bool) *dto.AggregateResponse {
	return &dto.AggregateResponse{
		Median:           snapshot.Median,
		Min:              snapshot.Min,
		Max:              snapshot.Max,
		Count:            snapshot.Count,
		BelowSampleFloor: snapshot.BelowSampleFloor,
		ComputedAt:       snapshot.ComputedAt.UTC().Format(time.RFC3339),
		FreshUntil:       snapshot.FreshUntil.UTC().Format(time.RFC3339),
		Stale:            stale,
	}
}
