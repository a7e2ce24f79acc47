package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/Pythia/app/dto"
	"github.com/amirphl/Pythia/app/services"
	"github.com/amirphl/Pythia/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flowFixture wires a submission flow against in-memory doubles. The db stays
// nil, so fixture-based tests must stay on paths that never reach the
// transactional coordinator; those paths run against a real store in the
// integration tests.
type flowFixture struct {
	flow       *SubmissionFlowImpl
	audit      *fakeAuditRepo
	queue      *fakeQueue
	capacity   *stubCapacityMonitor
	verifier   *services.MockVerificationService
	challenges *services.MockChallengeService
	resolver   *IdentityResolver
}

func newFlowFixture(level CapacityLevel, verdict services.VerificationVerdict) *flowFixture {
	f := &flowFixture{
		audit:      &fakeAuditRepo{},
		queue:      &fakeQueue{},
		capacity:   &stubCapacityMonitor{level: level},
		verifier:   services.NewMockVerificationService(verdict, 0.5),
		challenges: services.NewMockChallengeService(false),
		resolver:   NewIdentityResolver("unit-test-salt-0123456789abcdef", "v1"),
	}
	f.flow = &SubmissionFlowImpl{
		predictionRepo: &fakePredictionRepo{},
		auditRepo:      f.audit,
		identity:       f.resolver,
		verification:   f.verifier,
		challenges:     f.challenges,
		capacity:       f.capacity,
		queue:          f.queue,
	}
	return f
}

func validSubmission() *dto.SubmissionRequest {
	return &dto.SubmissionRequest{PredictedDate: "2030-06-15"}
}

func testClientMetadata() *ClientMetadata {
	return &ClientMetadata{
		NetworkOrigin: "203.0.113.5|unit-test",
		UserAgent:     "unit-test-agent",
	}
}

func TestParseSubmissionDate(t *testing.T) {
	now := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		raw        string
		expected   time.Time
		outOfRange bool
		malformed  bool
	}{
		{
			name:     "tomorrow is valid",
			raw:      "2026-08-26",
			expected: time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "surrounding whitespace is trimmed",
			raw:      "  2026-08-26  ",
			expected: time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "upper bound is inclusive",
			raw:      "2526-08-25",
			expected: time.Date(2526, 8, 25, 0, 0, 0, 0, time.UTC),
		},
		{
			name:       "today is not in the future",
			raw:        "2026-08-25",
			outOfRange: true,
		},
		{
			name:       "past dates are rejected",
			raw:        "2026-08-24",
			outOfRange: true,
		},
		{
			name:       "one day past the upper bound",
			raw:        "2526-08-26",
			outOfRange: true,
		},
		{
			name:      "slashes are not a date",
			raw:       "2026/08/26",
			malformed: true,
		},
		{
			name:      "timestamps are not accepted",
			raw:       "2026-08-26T00:00:00Z",
			malformed: true,
		},
		{
			name:      "month thirteen",
			raw:       "2026-13-01",
			malformed: true,
		},
		{
			name:      "empty input",
			raw:       "",
			malformed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			date, err := ParseSubmissionDate(tt.raw, now)

			switch {
			case tt.outOfRange:
				require.Error(t, err)
				assert.True(t, IsDateOutOfRange(err))
			case tt.malformed:
				require.Error(t, err)
				assert.True(t, IsDateMalformed(err))
			default:
				require.NoError(t, err)
				assert.True(t, date.Equal(tt.expected))
			}
		})
	}
}

func TestSubmitValidationFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		req          *dto.SubmissionRequest
		metadata     *ClientMetadata
		expectedCode string
	}{
		{
			name:         "nil request",
			req:          nil,
			metadata:     testClientMetadata(),
			expectedCode: "SUBMISSION_VALIDATION_FAILED",
		},
		{
			name:         "nil metadata",
			req:          validSubmission(),
			metadata:     nil,
			expectedCode: "SUBMISSION_VALIDATION_FAILED",
		},
		{
			name:         "malformed date",
			req:          &dto.SubmissionRequest{PredictedDate: "june 2030"},
			metadata:     testClientMetadata(),
			expectedCode: "DATE_MALFORMED",
		},
		{
			name:         "date in the past",
			req:          &dto.SubmissionRequest{PredictedDate: "2005-01-01"},
			metadata:     testClientMetadata(),
			expectedCode: "DATE_OUT_OF_RANGE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFlowFixture(LevelNormal, services.VerdictPass)

			resp, err := f.flow.Submit(ctx, tt.req, tt.metadata)
			require.Error(t, err)
			assert.Nil(t, resp)

			var bizErr *BusinessError
			require.ErrorAs(t, err, &bizErr)
			assert.Equal(t, tt.expectedCode, bizErr.Code)

			// Invalid submissions never count against capacity
			assert.Equal(t, int64(0), f.capacity.RequestsToday(ctx))
		})
	}
}

func TestResubmitRequiresIdentityToken(t *testing.T) {
	ctx := context.Background()

	for _, token := range []string{"", "not-a-uuid", "12345"} {
		t.Run("token "+token, func(t *testing.T) {
			f := newFlowFixture(LevelNormal, services.VerdictPass)

			req := validSubmission()
			req.IdentityToken = token

			resp, err := f.flow.Resubmit(ctx, req, testClientMetadata())
			require.Error(t, err)
			assert.Nil(t, resp)

			var bizErr *BusinessError
			require.ErrorAs(t, err, &bizErr)
			assert.Equal(t, "IDENTITY_TOKEN_REQUIRED", bizErr.Code)
			assert.True(t, IsIdentityTokenRequired(err))

			// Rejected before verification or admission ever run
			assert.Empty(t, f.verifier.Calls)
			assert.Equal(t, int64(0), f.capacity.RequestsToday(ctx))
		})
	}
}

func TestSubmitVerificationGate(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(LevelNormal, services.VerdictFail)

	resp, err := f.flow.Submit(ctx, validSubmission(), testClientMetadata())
	require.Error(t, err)
	assert.Nil(t, resp)

	var bizErr *BusinessError
	require.ErrorAs(t, err, &bizErr)
	assert.Equal(t, "VERIFICATION_FAILED", bizErr.Code)
	assert.True(t, IsVerificationFailed(err))

	require.Len(t, f.verifier.Calls, 1)
	assert.Equal(t, "unit-test-agent", f.verifier.Calls[0].UserAgent)

	assert.Equal(t, []string{models.AuditActionSubmissionRejected}, f.audit.actions())
	rejected := f.audit.last()
	require.NotNil(t, rejected.Success)
	assert.False(t, *rejected.Success)
	assert.NotNil(t, rejected.ErrorMessage)

	// A failed verification never reaches admission
	assert.Equal(t, int64(0), f.capacity.RequestsToday(ctx))
}

func TestSubmitChallengeOverridesFailVerdict(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(LevelCritical, services.VerdictFail)
	f.challenges.VerifyResult = true

	req := validSubmission()
	req.ChallengeID = "challenge-1"
	angle := 42.5
	req.ChallengeAngle = &angle

	resp, err := f.flow.Submit(ctx, req, testClientMetadata())
	require.NoError(t, err)
	require.NotNil(t, resp)

	// The solved challenge admits the request, which then queues at critical
	assert.Equal(t, dto.OutcomeQueued, resp.Outcome)
	assert.Contains(t, f.challenges.VerifiedCalls, "challenge-1")
	assert.Equal(t, int64(1), f.capacity.RequestsToday(ctx))
}

func TestSubmitRejectedWhenCapacityExceeded(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(LevelExceeded, services.VerdictPass)

	resp, err := f.flow.Submit(ctx, validSubmission(), testClientMetadata())
	require.Error(t, err)
	assert.Nil(t, resp)

	var bizErr *BusinessError
	require.ErrorAs(t, err, &bizErr)
	assert.Equal(t, "CAPACITY_EXCEEDED", bizErr.Code)
	assert.True(t, IsCapacityExceeded(err))

	// The rejection is audited but nothing is buffered
	assert.Equal(t, []string{models.AuditActionSubmissionRejected}, f.audit.actions())
	assert.Empty(t, f.queue.enqueued())
	assert.Equal(t, int64(1), f.capacity.RequestsToday(ctx))
}

func TestSubmitQueuedAtCriticalCapacity(t *testing.T) {
	ctx := context.WithValue(context.Background(), RequestIDKey, "req-777")
	f := newFlowFixture(LevelCritical, services.VerdictPass)

	resp, err := f.flow.Submit(ctx, validSubmission(), testClientMetadata())
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, dto.OutcomeQueued, resp.Outcome)
	assert.Equal(t, "2030-06-15", resp.Date)
	require.NotNil(t, resp.QueueToken)
	assert.NotEmpty(t, resp.Notice)

	// First-time submitters get a freshly minted identity token back
	require.NotNil(t, resp.IdentityToken)
	_, err = uuid.Parse(*resp.IdentityToken)
	assert.NoError(t, err)

	items := f.queue.enqueued()
	require.Len(t, items, 1)
	payload := items[0]
	assert.Equal(t, *resp.QueueToken, payload.Token)
	assert.Equal(t, "2030-06-15", payload.PredictedDate)
	assert.Equal(t, *resp.IdentityToken, payload.ClientToken)
	assert.Equal(t, "req-777", payload.RequestID)

	// The payload holds the resolved identity, never the raw origin
	id := f.resolver.Resolve(*resp.IdentityToken, testClientMetadata().NetworkOrigin)
	assert.Equal(t, id.Key, payload.IdentityKey)
	assert.Equal(t, id.OriginFingerprint, payload.OriginFingerprint)
	assert.NotContains(t, payload.OriginFingerprint, "203.0.113.5")

	assert.Equal(t, []string{models.AuditActionSubmissionQueued}, f.audit.actions())
	queued := f.audit.last()
	require.NotNil(t, queued.Outcome)
	assert.Equal(t, dto.OutcomeQueued, *queued.Outcome)
	require.NotNil(t, queued.RequestID)
	assert.Equal(t, "req-777", *queued.RequestID)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(queued.Metadata, &meta))
	assert.Equal(t, *resp.QueueToken, meta["queue_token"])
}

func TestSubmitQueuedKeepsExistingToken(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(LevelCritical, services.VerdictPass)

	req := validSubmission()
	req.IdentityToken = uuid.New().String()

	resp, err := f.flow.Submit(ctx, req, testClientMetadata())
	require.NoError(t, err)

	// A recognized token is echoed into the payload, not replaced
	assert.Nil(t, resp.IdentityToken)
	items := f.queue.enqueued()
	require.Len(t, items, 1)
	assert.Equal(t, req.IdentityToken, items[0].ClientToken)
}

func TestSubmitQueueUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(LevelCritical, services.VerdictPass)
	f.queue.enqErr = errors.New("connection refused")

	resp, err := f.flow.Submit(ctx, validSubmission(), testClientMetadata())
	require.Error(t, err)
	assert.Nil(t, resp)

	var bizErr *BusinessError
	require.ErrorAs(t, err, &bizErr)
	assert.Equal(t, "QUEUE_UNAVAILABLE", bizErr.Code)
	assert.True(t, IsQueueUnavailable(err))
}

func TestProcessQueuedExpired(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(LevelNormal, services.VerdictPass)

	err := f.flow.ProcessQueued(ctx, QueuedSubmission{
		Token:         "stale-token",
		IdentityKey:   "identity-key-1",
		PredictedDate: "2030-06-15",
		TTLDeadline:   time.Now().UTC().Add(-time.Minute),
	})

	// Expired items are finished, not retried
	require.NoError(t, err)
	assert.Equal(t, []string{models.AuditActionSubmissionExpired}, f.audit.actions())
	expired := f.audit.last()
	require.NotNil(t, expired.Success)
	assert.False(t, *expired.Success)
}

func TestProcessQueuedStaleDate(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(LevelNormal, services.VerdictPass)

	err := f.flow.ProcessQueued(ctx, QueuedSubmission{
		Token:         "aged-token",
		IdentityKey:   "identity-key-1",
		PredictedDate: "2020-01-01",
		TTLDeadline:   time.Now().UTC().Add(time.Hour),
	})

	// A date that aged out of the window while queued is terminally rejected
	require.NoError(t, err)
	assert.Equal(t, []string{models.AuditActionSubmissionRejected}, f.audit.actions())
	assert.NotNil(t, f.audit.last().ErrorMessage)
}

func TestMapStoreError(t *testing.T) {
	ctx := context.Background()
	id := Identity{Key: "identity-key-1"}

	t.Run("missing prediction", func(t *testing.T) {
		audit := &fakeAuditRepo{}
		s := &SubmissionFlowImpl{auditRepo: audit}

		err := s.mapStoreError(ctx, id, 0, ErrPredictionNotFound)

		var bizErr *BusinessError
		require.ErrorAs(t, err, &bizErr)
		assert.Equal(t, "PREDICTION_NOT_FOUND", bizErr.Code)
		assert.Empty(t, audit.actions())
	})

	t.Run("identity conflict", func(t *testing.T) {
		audit := &fakeAuditRepo{}
		s := &SubmissionFlowImpl{auditRepo: audit}
		cause := &pgconn.PgError{Code: "23505", ConstraintName: models.UniqueIdentityKey}

		err := s.mapStoreError(ctx, id, 2, cause)

		var bizErr *BusinessError
		require.ErrorAs(t, err, &bizErr)
		assert.Equal(t, "SUBMISSION_CONFLICT", bizErr.Code)
		assert.True(t, IsDuplicateIdentity(err))

		assert.Equal(t, []string{models.AuditActionSubmissionConflict}, audit.actions())
		conflict := audit.last()
		require.NotNil(t, conflict.Constraint)
		assert.Equal(t, models.UniqueIdentityKey, *conflict.Constraint)
		require.NotNil(t, conflict.Attempt)
		assert.Equal(t, 3, *conflict.Attempt)
	})

	t.Run("origin conflict", func(t *testing.T) {
		audit := &fakeAuditRepo{}
		s := &SubmissionFlowImpl{auditRepo: audit}
		cause := &pgconn.PgError{Code: "23505", ConstraintName: models.UniqueOriginFingerprint}

		err := s.mapStoreError(ctx, id, 0, cause)

		var bizErr *BusinessError
		require.ErrorAs(t, err, &bizErr)
		assert.Equal(t, "SUBMISSION_CONFLICT", bizErr.Code)
		assert.True(t, IsDuplicateOrigin(err))
	})

	t.Run("store busy after retries", func(t *testing.T) {
		audit := &fakeAuditRepo{}
		s := &SubmissionFlowImpl{auditRepo: audit}

		err := s.mapStoreError(ctx, id, 3, &pgconn.PgError{Code: "40001"})

		var bizErr *BusinessError
		require.ErrorAs(t, err, &bizErr)
		assert.Equal(t, "STORE_BUSY", bizErr.Code)
		assert.True(t, IsStoreBusy(err))
		assert.Empty(t, audit.actions())
	})

	t.Run("unclassified store failure", func(t *testing.T) {
		audit := &fakeAuditRepo{}
		s := &SubmissionFlowImpl{auditRepo: audit}

		err := s.mapStoreError(ctx, id, 0, errors.New("connection reset"))

		var bizErr *BusinessError
		require.ErrorAs(t, err, &bizErr)
		assert.Equal(t, "STORE_UNAVAILABLE", bizErr.Code)
		assert.True(t, IsStoreUnavailable(err))
	})
}

func TestActionForOutcome(t *testing.T) {
	assert.Equal(t, models.AuditActionSubmissionCreated, actionForOutcome(dto.OutcomeCreated))
	assert.Equal(t, models.AuditActionSubmissionUpdated, actionForOutcome(dto.OutcomeUpdated))
	assert.Equal(t, models.AuditActionSubmissionNoOp, actionForOutcome(dto.OutcomeNoOp))
	assert.Equal(t, models.AuditActionSubmissionNoOp, actionForOutcome("anything-else"))
}
