package businessflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/amirphl/Pythia/models"
	"github.com/amirphl/Pythia/repository"
	"github.com/redis/go-redis/v9"
)

// Compile-time interface checks for the in-memory test doubles
var (
	_ CapacityMonitor                      = (*stubCapacityMonitor)(nil)
	_ SubmissionQueue                      = (*fakeQueue)(nil)
	_ repository.SubmissionAuditRepository = (*fakeAuditRepo)(nil)
	_ repository.PredictionRepository      = (*fakePredictionRepo)(nil)
)

// newTestRedis starts an in-process redis and returns a client bound to it
func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	return mr, rc
}

// stubCapacityMonitor serves a fixed level and counts admissions
type stubCapacityMonitor struct {
	mu       sync.Mutex
	level    CapacityLevel
	requests int64
}

func (s *stubCapacityMonitor) RecordRequest(ctx context.Context) CapacityLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	return s.level
}

func (s *stubCapacityMonitor) CurrentLevel(ctx context.Context) CapacityLevel {
	return s.level
}

func (s *stubCapacityMonitor) RequestsToday(ctx context.Context) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// fakeAuditRepo records audit rows in memory
type fakeAuditRepo struct {
	mu    sync.Mutex
	saved []*models.SubmissionAudit
	err   error
}

func (f *fakeAuditRepo) Save(ctx context.Context, entity *models.SubmissionAudit) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, entity)
	return nil
}

func (f *fakeAuditRepo) ByID(ctx context.Context, id uint) (*models.SubmissionAudit, error) {
	return nil, nil
}

func (f *fakeAuditRepo) ByFilter(ctx context.Context, filter models.SubmissionAuditFilter, orderBy string, limit, offset int) ([]*models.SubmissionAudit, error) {
	return nil, nil
}

func (f *fakeAuditRepo) Count(ctx context.Context, filter models.SubmissionAuditFilter) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.saved)), nil
}

func (f *fakeAuditRepo) Exists(ctx context.Context, filter models.SubmissionAuditFilter) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved) > 0, nil
}

func (f *fakeAuditRepo) ListByAction(ctx context.Context, action string, limit, offset int) ([]*models.SubmissionAudit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SubmissionAudit
	for _, a := range f.saved {
		if a.Action == action {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAuditRepo) ListContentionEvents(ctx context.Context, since time.Time, limit, offset int) ([]*models.SubmissionAudit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SubmissionAudit
	for _, a := range f.saved {
		if a.IsContentionEvent() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAuditRepo) ListFailedActions(ctx context.Context, limit, offset int) ([]*models.SubmissionAudit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SubmissionAudit
	for _, a := range f.saved {
		if a.IsFailed() {
			out = append(out, a)
		}
	}
	return out, nil
}

// actions returns the recorded action names in save order
func (f *fakeAuditRepo) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.saved))
	for _, a := range f.saved {
		out = append(out, a.Action)
	}
	return out
}

func (f *fakeAuditRepo) last() *models.SubmissionAudit {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		return nil
	}
	return f.saved[len(f.saved)-1]
}

// fakeQueue is an in-memory SubmissionQueue
type fakeQueue struct {
	mu       sync.Mutex
	items    []QueuedSubmission
	acked    []string
	enqErr   error
	drainErr error
	depthErr error
	seq      int
}

func (f *fakeQueue) Enqueue(ctx context.Context, payload QueuedSubmission) (string, error) {
	if f.enqErr != nil {
		return "", f.enqErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	payload.Token = fmt.Sprintf("queued-%d", f.seq)
	payload.EnqueuedAt = time.Now().UTC()
	payload.TTLDeadline = payload.EnqueuedAt.Add(24 * time.Hour)
	f.items = append(f.items, payload)
	return payload.Token, nil
}

func (f *fakeQueue) Drain(ctx context.Context, maxBatch int64) ([]QueuedSubmission, error) {
	if f.drainErr != nil {
		return nil, f.drainErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.items))
	if maxBatch < n {
		n = maxBatch
	}
	out := make([]QueuedSubmission, n)
	copy(out, f.items[:n])
	return out, nil
}

func (f *fakeQueue) Ack(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, token)
	for i, item := range f.items {
		if item.Token == token {
			f.items = append(f.items[:i], f.items[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeQueue) Depth(ctx context.Context) (int64, error) {
	if f.depthErr != nil {
		return 0, f.depthErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.items)), nil
}

func (f *fakeQueue) enqueued() []QueuedSubmission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]QueuedSubmission, len(f.items))
	copy(out, f.items)
	return out
}

// fakePredictionRepo serves canned rows for read-side flows
type fakePredictionRepo struct {
	mu        sync.Mutex
	rows      []*models.Prediction
	listErr   error
	countErr  error
	listCalls int
}

func (f *fakePredictionRepo) ByID(ctx context.Context, id uint) (*models.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakePredictionRepo) ByFilter(ctx context.Context, filter models.PredictionFilter, orderBy string, limit, offset int) ([]*models.Prediction, error) {
	return nil, nil
}

func (f *fakePredictionRepo) Save(ctx context.Context, entity *models.Prediction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entity.ID = uint(len(f.rows) + 1)
	f.rows = append(f.rows, entity)
	return nil
}

func (f *fakePredictionRepo) Count(ctx context.Context, filter models.PredictionFilter) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.rows)), nil
}

func (f *fakePredictionRepo) Exists(ctx context.Context, filter models.PredictionFilter) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows) > 0, nil
}

func (f *fakePredictionRepo) ByIdentityKey(ctx context.Context, identityKey string) (*models.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.IdentityKey == identityKey {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakePredictionRepo) ByOriginFingerprint(ctx context.Context, fingerprint string) (*models.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.OriginFingerprint == fingerprint {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakePredictionRepo) UpdateForResubmission(ctx context.Context, id uint, predictedDate time.Time, weight float64, originFingerprint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID == id {
			r.PredictedDate = predictedDate
			r.Weight = weight
			r.OriginFingerprint = originFingerprint
			r.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return nil
}

func (f *fakePredictionRepo) ListForAggregation(ctx context.Context) ([]*models.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*models.Prediction, len(f.rows))
	copy(out, f.rows)
	return out, nil
}
