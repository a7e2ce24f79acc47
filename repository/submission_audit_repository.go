package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/Pythia/models"
	"gorm.io/gorm"
)

// SubmissionAuditRepositoryImpl implements the SubmissionAuditRepository interface
type SubmissionAuditRepositoryImpl struct {
	*BaseRepository[models.SubmissionAudit, models.SubmissionAuditFilter]
}

// NewSubmissionAuditRepository creates a new submission audit repository
func NewSubmissionAuditRepository(db *gorm.DB) SubmissionAuditRepository {
	return &SubmissionAuditRepositoryImpl{
		BaseRepository: NewBaseRepository[models.SubmissionAudit, models.SubmissionAuditFilter](db),
	}
}

// ByFilter retrieves audit records based on filter criteria
func (r *SubmissionAuditRepositoryImpl) ByFilter(ctx context.Context, filter models.SubmissionAuditFilter, orderBy string, limit, offset int) ([]*models.SubmissionAudit, error) {
	db := r.getDB(ctx)

	query := r.applyFilter(db, filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var records []*models.SubmissionAudit
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to find audit records by filter: %w", err)
	}

	return records, nil
}

// ListByAction retrieves audit records for a specific action
func (r *SubmissionAuditRepositoryImpl) ListByAction(ctx context.Context, action string, limit, offset int) ([]*models.SubmissionAudit, error) {
	filter := models.SubmissionAuditFilter{Action: &action}
	return r.ByFilter(ctx, filter, "created_at DESC", limit, offset)
}

// ListContentionEvents retrieves conflict and retry records since the given
// time, newest first; alerting computes contention rates from this slice.
func (r *SubmissionAuditRepositoryImpl) ListContentionEvents(ctx context.Context, since time.Time, limit, offset int) ([]*models.SubmissionAudit, error) {
	db := r.getDB(ctx)

	query := db.
		Where("action IN ?", []string{models.AuditActionSubmissionConflict, models.AuditActionSubmissionRetried}).
		Where("created_at >= ?", since).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var records []*models.SubmissionAudit
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list contention events: %w", err)
	}

	return records, nil
}

// ListFailedActions retrieves audit records with success = false
func (r *SubmissionAuditRepositoryImpl) ListFailedActions(ctx context.Context, limit, offset int) ([]*models.SubmissionAudit, error) {
	success := false
	filter := models.SubmissionAuditFilter{Success: &success}
	return r.ByFilter(ctx, filter, "created_at DESC", limit, offset)
}

// Count returns the number of audit records matching the filter
func (r *SubmissionAuditRepositoryImpl) Count(ctx context.Context, filter models.SubmissionAuditFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.SubmissionAudit{}), filter)
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}

	return count, nil
}

// Exists checks if any audit record matching the filter exists
func (r *SubmissionAuditRepositoryImpl) Exists(ctx context.Context, filter models.SubmissionAuditFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func (r *SubmissionAuditRepositoryImpl) applyFilter(db *gorm.DB, filter models.SubmissionAuditFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.IdentityKey != nil {
		db = db.Where("identity_key = ?", *filter.IdentityKey)
	}
	if filter.Action != nil {
		db = db.Where("action = ?", *filter.Action)
	}
	if filter.Outcome != nil {
		db = db.Where("outcome = ?", *filter.Outcome)
	}
	if filter.Success != nil {
		db = db.Where("success = ?", *filter.Success)
	}
	if filter.RequestID != nil {
		db = db.Where("request_id = ?", *filter.RequestID)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at <= ?", *filter.CreatedBefore)
	}

	return db
}
