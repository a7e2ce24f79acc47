// Package businessflow contains the core business logic and use cases for prediction workflows
package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/amirphl/Pythia/app/dto"
	"github.com/amirphl/Pythia/app/services"
	"github.com/amirphl/Pythia/models"
	"github.com/amirphl/Pythia/repository"
	"github.com/amirphl/Pythia/utils"
	"gorm.io/gorm"
)

// SubmissionFlow coordinates prediction submissions end to end: validation,
// identity resolution, bot verification, capacity admission and the
// transactional create-or-update against the store.
type SubmissionFlow interface {
	// Submit handles a first-time or repeat submission. Repeat submissions
	// from the same identity update the stored date; submitting the stored
	// date again is a no-op.
	Submit(ctx context.Context, req *dto.SubmissionRequest, metadata *ClientMetadata) (*dto.SubmissionResponse, error)
	// Resubmit handles an explicit update and requires a valid identity
	// token pointing at an existing prediction.
	Resubmit(ctx context.Context, req *dto.SubmissionRequest, metadata *ClientMetadata) (*dto.SubmissionResponse, error)
	// ProcessQueued replays one drained overflow submission through the
	// coordinator. A nil return means the item is finished, successfully or
	// terminally, and must be acked; an error means transient store trouble
	// and the item stays queued for the next drain.
	ProcessQueued(ctx context.Context, item QueuedSubmission) error
}

// SubmissionFlowImpl implements the submission flow
type SubmissionFlowImpl struct {
	db             *gorm.DB
	predictionRepo repository.PredictionRepository
	auditRepo      repository.SubmissionAuditRepository
	identity       *IdentityResolver
	verification   services.VerificationService
	challenges     services.ChallengeService
	capacity       CapacityMonitor
	queue          SubmissionQueue
}

// NewSubmissionFlow creates a new submission flow with all dependencies
func NewSubmissionFlow(
	db *gorm.DB,
	predictionRepo repository.PredictionRepository,
	auditRepo repository.SubmissionAuditRepository,
	identity *IdentityResolver,
	verification services.VerificationService,
	challenges services.ChallengeService,
	capacity CapacityMonitor,
	queue SubmissionQueue,
) SubmissionFlow {
	return &SubmissionFlowImpl{
		db:             db,
		predictionRepo: predictionRepo,
		auditRepo:      auditRepo,
		identity:       identity,
		verification:   verification,
		challenges:     challenges,
		capacity:       capacity,
		queue:          queue,
	}
}

// ParseSubmissionDate validates the wire date and returns it normalized to
// midnight UTC. Valid dates are strictly after the current UTC day and at most
// MaxPredictionYearsAhead years ahead of it; both bounds are calendar-accurate.
func ParseSubmissionDate(raw string, now time.Time) (time.Time, error) {
	date, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrDateMalformed, raw)
	}

	today := utils.StartOfDayUTC(now)
	if !date.After(today) {
		return time.Time{}, fmt.Errorf("%w: %s is not in the future", ErrDateOutOfRange, raw)
	}
	if date.After(today.AddDate(utils.MaxPredictionYearsAhead, 0, 0)) {
		return time.Time{}, fmt.Errorf("%w: %s is more than %d years ahead", ErrDateOutOfRange, raw, utils.MaxPredictionYearsAhead)
	}

	return date, nil
}

func (s *SubmissionFlowImpl) Submit(ctx context.Context, req *dto.SubmissionRequest, metadata *ClientMetadata) (*dto.SubmissionResponse, error) {
	return s.process(ctx, req, metadata, false)
}

func (s *SubmissionFlowImpl) Resubmit(ctx context.Context, req *dto.SubmissionRequest, metadata *ClientMetadata) (*dto.SubmissionResponse, error) {
	return s.process(ctx, req, metadata, true)
}

func (s *SubmissionFlowImpl) process(ctx context.Context, req *dto.SubmissionRequest, metadata *ClientMetadata, requireExisting bool) (*dto.SubmissionResponse, error) {
	if req == nil || metadata == nil {
		return nil, NewBusinessError("SUBMISSION_VALIDATION_FAILED", "Submission validation failed", ErrDateMalformed)
	}

	date, err := ParseSubmissionDate(req.PredictedDate, utils.UTCNow())
	if err != nil {
		if IsDateOutOfRange(err) {
			return nil, NewBusinessError("DATE_OUT_OF_RANGE", "Predicted date is outside the accepted window", err)
		}
		return nil, NewBusinessError("DATE_MALFORMED", "Predicted date must be formatted as YYYY-MM-DD", err)
	}

	id := s.identity.Resolve(req.IdentityToken, metadata.NetworkOrigin)
	if requireExisting && id.MintedToken != "" {
		return nil, NewBusinessError("IDENTITY_TOKEN_REQUIRED", "A valid identity token is required to resubmit", ErrIdentityTokenRequired)
	}

	if err := s.verifyHumanity(ctx, req, metadata); err != nil {
		errMsg := err.Error()
		_ = s.createAuditLog(ctx, id.Key, models.AuditActionSubmissionRejected, "", "Submission rejected by bot verification", false, &errMsg, nil)
		return nil, NewBusinessError("VERIFICATION_FAILED", "Verification failed; solve the challenge and retry", ErrVerificationFailed)
	}

	level := s.capacity.RecordRequest(ctx)
	features := FeaturesFor(level)
	if !features.SubmissionsEnabled {
		_ = s.createAuditLog(ctx, id.Key, models.AuditActionSubmissionRejected, "", "Submission rejected: daily capacity exceeded", false, nil, nil)
		return nil, NewBusinessError("CAPACITY_EXCEEDED", "Daily capacity reached; try again after midnight UTC", ErrCapacityExceeded)
	}
	if features.SubmissionsQueued {
		return s.enqueueSubmission(ctx, req, id, level)
	}

	out, attempts, err := s.coordinate(ctx, id, date, requireExisting)
	if err != nil {
		return nil, s.mapStoreError(ctx, id, attempts, err)
	}

	s.auditOutcome(ctx, id, out)
	return s.buildResponse(out, id, level), nil
}

// verifyHumanity runs the background bot check. Pass and Unknown both admit;
// an unreachable verifier must never block a submission. A Fail verdict can
// still be overridden by a solved challenge.
func (s *SubmissionFlowImpl) verifyHumanity(ctx context.Context, req *dto.SubmissionRequest, metadata *ClientMetadata) error {
	result := s.verification.Verify(ctx, metadata.NetworkOrigin, metadata.UserAgent)
	if result.Verdict != services.VerdictFail {
		return nil
	}

	if req.ChallengeID != "" && req.ChallengeAngle != nil && s.challenges != nil &&
		s.challenges.Verify(ctx, req.ChallengeID, *req.ChallengeAngle) {
		return nil
	}

	return ErrVerificationFailed
}

// enqueueSubmission buffers a submission instead of writing it synchronously.
// The identity is resolved before buffering, so the raw origin never reaches
// the queue.
func (s *SubmissionFlowImpl) enqueueSubmission(ctx context.Context, req *dto.SubmissionRequest, id Identity, level CapacityLevel) (*dto.SubmissionResponse, error) {
	clientToken := req.IdentityToken
	if id.MintedToken != "" {
		clientToken = id.MintedToken
	}

	payload := QueuedSubmission{
		IdentityKey:       id.Key,
		OriginFingerprint: id.OriginFingerprint,
		ClientToken:       clientToken,
		PredictedDate:     req.PredictedDate,
	}
	if rid, ok := ctx.Value(RequestIDKey).(string); ok {
		payload.RequestID = rid
	}

	token, err := s.queue.Enqueue(ctx, payload)
	if err != nil {
		log.Printf("submission enqueue failed: %v", err)
		return nil, NewBusinessError("QUEUE_UNAVAILABLE", "Failed to buffer submission", ErrQueueUnavailable)
	}

	desc := fmt.Sprintf("Submission buffered at %s capacity", level)
	_ = s.createAuditLog(ctx, id.Key, models.AuditActionSubmissionQueued, dto.OutcomeQueued, desc, true, nil, map[string]any{
		"queue_token":    token,
		"predicted_date": req.PredictedDate,
	})

	resp := &dto.SubmissionResponse{
		Outcome:    dto.OutcomeQueued,
		Date:       req.PredictedDate,
		QueueToken: &token,
		Notice:     NoticeFor(level),
	}
	if id.MintedToken != "" {
		resp.IdentityToken = &id.MintedToken
	}
	return resp, nil
}

// ProcessQueued replays a drained overflow submission. Verification and
// capacity admission already happened at enqueue time, so only the store write
// remains. Items past their deadline or no longer valid are audited and
// finished rather than replayed.
func (s *SubmissionFlowImpl) ProcessQueued(ctx context.Context, item QueuedSubmission) error {
	if utils.UTCNow().After(item.TTLDeadline) {
		desc := fmt.Sprintf("Queued submission %s expired before processing", item.Token)
		_ = s.createAuditLog(ctx, item.IdentityKey, models.AuditActionSubmissionExpired, "", desc, false, nil, nil)
		return nil
	}

	date, err := ParseSubmissionDate(item.PredictedDate, utils.UTCNow())
	if err != nil {
		// The date was valid at enqueue time; it can only have aged out of
		// the window while waiting.
		errMsg := err.Error()
		desc := fmt.Sprintf("Queued submission %s no longer valid", item.Token)
		_ = s.createAuditLog(ctx, item.IdentityKey, models.AuditActionSubmissionRejected, "", desc, false, &errMsg, nil)
		return nil
	}

	id := Identity{Key: item.IdentityKey, OriginFingerprint: item.OriginFingerprint}
	out, attempts, err := s.coordinate(ctx, id, date, false)
	if err != nil {
		if isBusyError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if isUniqueViolation(err) {
			constraint := violatedConstraint(err)
			_ = s.createContentionAudit(ctx, id.Key, models.AuditActionSubmissionConflict, constraint, attempts+1, err)
			log.Printf("queued submission conflict constraint=%s: %v", constraint, err)
			return nil
		}
		return err
	}

	s.auditOutcome(ctx, id, out)
	return nil
}

// submissionOutcome is the result of one coordinator write
type submissionOutcome struct {
	outcome      string
	prediction   *models.Prediction
	previousDate *time.Time
}

// coordinate runs the transactional create-or-update, retrying transient
// contention per the backoff schedule. It returns the outcome, the number of
// retries performed and the final error.
func (s *SubmissionFlowImpl) coordinate(ctx context.Context, id Identity, date time.Time, requireExisting bool) (*submissionOutcome, int, error) {
	attempts := 0
	var out *submissionOutcome

	err := WithRetry(ctx, DefaultBackoffSchedule, isBusyError, func(ra RetryAttempt) {
		attempts = ra.Attempt
		_ = s.createContentionAudit(ctx, id.Key, models.AuditActionSubmissionRetried, violatedConstraint(ra.Err), ra.Attempt, ra.Err)
		log.Printf("submission retry attempt=%d: %v", ra.Attempt, ra.Err)
	}, func() error {
		var opErr error
		out, opErr = s.writeOnce(ctx, id, date, requireExisting)
		return opErr
	})

	return out, attempts, err
}

// writeOnce performs the lookup and the insert or update inside a single
// transaction, so two racing submissions from one identity cannot interleave
// between read and write.
func (s *SubmissionFlowImpl) writeOnce(ctx context.Context, id Identity, date time.Time, requireExisting bool) (*submissionOutcome, error) {
	var out *submissionOutcome

	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		existing, err := s.predictionRepo.ByIdentityKey(txCtx, id.Key)
		if err != nil {
			return err
		}

		if existing == nil {
			if requireExisting {
				return ErrPredictionNotFound
			}

			row := &models.Prediction{
				IdentityKey:       id.Key,
				OriginFingerprint: id.OriginFingerprint,
				PredictedDate:     date,
				Weight:            PredictionWeight(date, utils.UTCNow()),
			}
			if err := s.predictionRepo.Save(txCtx, row); err != nil {
				return err
			}
			out = &submissionOutcome{outcome: dto.OutcomeCreated, prediction: row}
			return nil
		}

		if existing.SameDate(date) {
			// Same date again: nothing is rewritten, not even updated_at.
			out = &submissionOutcome{outcome: dto.OutcomeNoOp, prediction: existing}
			return nil
		}

		prev := existing.PredictedDate
		weight := PredictionWeight(date, utils.UTCNow())
		if err := s.predictionRepo.UpdateForResubmission(txCtx, existing.ID, date, weight, id.OriginFingerprint); err != nil {
			return err
		}

		updated := *existing
		updated.PredictedDate = date
		updated.Weight = weight
		updated.OriginFingerprint = id.OriginFingerprint
		updated.UpdatedAt = utils.UTCNow()
		out = &submissionOutcome{outcome: dto.OutcomeUpdated, prediction: &updated, previousDate: &prev}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// mapStoreError converts a coordinator failure into the business error the
// handler layer renders, auditing terminal conflicts on the way.
func (s *SubmissionFlowImpl) mapStoreError(ctx context.Context, id Identity, attempts int, err error) error {
	switch {
	case errors.Is(err, ErrPredictionNotFound):
		return NewBusinessError("PREDICTION_NOT_FOUND", "No prediction exists for this identity", ErrPredictionNotFound)

	case isUniqueViolation(err):
		constraint := violatedConstraint(err)
		_ = s.createContentionAudit(ctx, id.Key, models.AuditActionSubmissionConflict, constraint, attempts+1, err)
		log.Printf("submission conflict constraint=%s attempt=%d: %v", constraint, attempts+1, err)
		if constraint == models.UniqueOriginFingerprint {
			return NewBusinessError("SUBMISSION_CONFLICT", "A prediction is already registered from this network origin", ErrDuplicateOrigin)
		}
		return NewBusinessError("SUBMISSION_CONFLICT", "A prediction already exists for this identity", ErrDuplicateIdentity)

	case isBusyError(err):
		log.Printf("submission gave up after %d retries: %v", attempts, err)
		return NewBusinessError("STORE_BUSY", "Prediction store is busy; try again shortly", ErrStoreBusy)

	default:
		log.Printf("submission store error: %v", err)
		return NewBusinessError("STORE_UNAVAILABLE", "Prediction store unavailable", ErrStoreUnavailable)
	}
}

func actionForOutcome(outcome string) string {
	switch outcome {
	case dto.OutcomeCreated:
		return models.AuditActionSubmissionCreated
	case dto.OutcomeUpdated:
		return models.AuditActionSubmissionUpdated
	default:
		return models.AuditActionSubmissionNoOp
	}
}

func (s *SubmissionFlowImpl) auditOutcome(ctx context.Context, id Identity, out *submissionOutcome) {
	meta := map[string]any{
		"predicted_date": out.prediction.PredictedDate.UTC().Format(DateLayout),
		"weight":         out.prediction.Weight,
	}
	if out.previousDate != nil {
		meta["previous_date"] = out.previousDate.UTC().Format(DateLayout)
	}

	desc := fmt.Sprintf("Prediction %s", out.outcome)
	_ = s.createAuditLog(ctx, id.Key, actionForOutcome(out.outcome), out.outcome, desc, true, nil, meta)
}

func (s *SubmissionFlowImpl) buildResponse(out *submissionOutcome, id Identity, level CapacityLevel) *dto.SubmissionResponse {
	resp := &dto.SubmissionResponse{
		Outcome: out.outcome,
		Date:    out.prediction.PredictedDate.UTC().Format(DateLayout),
		Weight:  out.prediction.Weight,
		Notice:  NoticeFor(level),
	}
	if out.previousDate != nil {
		resp.PreviousDate = utils.ToPtr(out.previousDate.UTC().Format(DateLayout))
	}
	if id.MintedToken != "" {
		resp.IdentityToken = &id.MintedToken
	}
	return resp
}

func (s *SubmissionFlowImpl) createAuditLog(ctx context.Context, identityKey, action, outcome, description string, success bool, errorMsg *string, metadata map[string]any) error {
	audit := &models.SubmissionAudit{
		IdentityKey:  utils.ToPtr(identityKey),
		Action:       action,
		Description:  &description,
		Success:      utils.ToPtr(success),
		ErrorMessage: errorMsg,
	}
	if outcome != "" {
		audit.Outcome = &outcome
	}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			audit.Metadata = raw
		}
	}

	// Extract request ID from context if available
	requestID := ctx.Value(RequestIDKey)
	if requestID != nil {
		requestIDStr, ok := requestID.(string)
		if ok {
			audit.RequestID = &requestIDStr
		}
	}

	return s.auditRepo.Save(ctx, audit)
}

func (s *SubmissionFlowImpl) createContentionAudit(ctx context.Context, identityKey, action, constraint string, attempt int, cause error) error {
	errMsg := cause.Error()
	outcome := "conflict"
	if action == models.AuditActionSubmissionRetried {
		outcome = "retried"
	}

	audit := &models.SubmissionAudit{
		IdentityKey:  utils.ToPtr(identityKey),
		Action:       action,
		Outcome:      &outcome,
		Attempt:      utils.ToPtr(attempt),
		Success:      utils.ToPtr(false),
		ErrorMessage: &errMsg,
	}
	if constraint != "" {
		audit.Constraint = &constraint
	}

	requestID := ctx.Value(RequestIDKey)
	if requestID != nil {
		requestIDStr, ok := requestID.(string)
		if ok {
			audit.RequestID = &requestIDStr
		}
	}

	return s.auditRepo.Save(ctx, audit)
}
