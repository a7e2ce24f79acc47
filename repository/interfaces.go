// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/Pythia/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// PredictionRepository defines operations for stored predictions
type PredictionRepository interface {
	Repository[models.Prediction, models.PredictionFilter]
	ByIdentityKey(ctx context.Context, identityKey string) (*models.Prediction, error)
	ByOriginFingerprint(ctx context.Context, fingerprint string) (*models.Prediction, error)
	// UpdateForResubmission rewrites the mutable columns of an existing
	// prediction in one statement; created_at is never touched.
	UpdateForResubmission(ctx context.Context, id uint, predictedDate time.Time, weight float64, originFingerprint string) error
	// ListForAggregation returns every prediction ordered by predicted date
	// ascending, the shape the aggregator consumes.
	ListForAggregation(ctx context.Context) ([]*models.Prediction, error)
}

// SubmissionAuditRepository defines operations for the submission audit trail
type SubmissionAuditRepository interface {
	Repository[models.SubmissionAudit, models.SubmissionAuditFilter]
	ListByAction(ctx context.Context, action string, limit, offset int) ([]*models.SubmissionAudit, error)
	ListContentionEvents(ctx context.Context, since time.Time, limit, offset int) ([]*models.SubmissionAudit, error)
	ListFailedActions(ctx context.Context, limit, offset int) ([]*models.SubmissionAudit, error)
}
