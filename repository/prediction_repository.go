package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/Pythia/models"
	"github.com/amirphl/Pythia/utils"
	"gorm.io/gorm"
)

// PredictionRepositoryImpl implements the PredictionRepository interface
type PredictionRepositoryImpl struct {
	*BaseRepository[models.Prediction, models.PredictionFilter]
}

// NewPredictionRepository creates a new prediction repository
func NewPredictionRepository(db *gorm.DB) PredictionRepository {
	return &PredictionRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Prediction, models.PredictionFilter](db),
	}
}

// ByIdentityKey retrieves the single prediction stored for an identity
func (r *PredictionRepositoryImpl) ByIdentityKey(ctx context.Context, identityKey string) (*models.Prediction, error) {
	filter := models.PredictionFilter{IdentityKey: &identityKey}
	predictions, err := r.ByFilter(ctx, filter, "", 1, 0)
	if err != nil {
		return nil, err
	}

	if len(predictions) == 0 {
		return nil, nil
	}

	return predictions[0], nil
}

// ByOriginFingerprint retrieves the prediction registered under a network-origin fingerprint
func (r *PredictionRepositoryImpl) ByOriginFingerprint(ctx context.Context, fingerprint string) (*models.Prediction, error) {
	filter := models.PredictionFilter{OriginFingerprint: &fingerprint}
	predictions, err := r.ByFilter(ctx, filter, "", 1, 0)
	if err != nil {
		return nil, err
	}

	if len(predictions) == 0 {
		return nil, nil
	}

	return predictions[0], nil
}

// ByFilter retrieves predictions based on filter criteria
func (r *PredictionRepositoryImpl) ByFilter(ctx context.Context, filter models.PredictionFilter, orderBy string, limit, offset int) ([]*models.Prediction, error) {
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

	var predictions []*models.Prediction
	if err := query.Find(&predictions).Error; err != nil {
		return nil, fmt.Errorf("failed to find predictions by filter: %w", err)
	}

	return predictions, nil
}

// UpdateForResubmission rewrites the mutable columns of an existing prediction.
// created_at stays untouched; updated_at is bumped here and only here, so a
// same-date resubmission that skips this call leaves the row byte-identical.
func (r *PredictionRepositoryImpl) UpdateForResubmission(ctx context.Context, id uint, predictedDate time.Time, weight float64, originFingerprint string) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	err = db.Model(&models.Prediction{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"predicted_date":     predictedDate,
			"weight":             weight,
			"origin_fingerprint": originFingerprint,
			"updated_at":         utils.UTCNow(),
		}).Error
	if err != nil {
		return err
	}

	return nil
}

// ListForAggregation returns all predictions ordered by predicted date ascending
func (r *PredictionRepositoryImpl) ListForAggregation(ctx context.Context) ([]*models.Prediction, error) {
	db := r.getDB(ctx)

	var predictions []*models.Prediction
	err := db.Order("predicted_date ASC, id ASC").Find(&predictions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions for aggregation: %w", err)
	}

	return predictions, nil
}

// Count returns the number of predictions matching the filter
func (r *PredictionRepositoryImpl) Count(ctx context.Context, filter models.PredictionFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.Prediction{}), filter)
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count predictions: %w", err)
	}

	return count, nil
}

// Exists checks if any prediction matching the filter exists
func (r *PredictionRepositoryImpl) Exists(ctx context.Context, filter models.PredictionFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func (r *PredictionRepositoryImpl) applyFilter(db *gorm.DB, filter models.PredictionFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.IdentityKey != nil {
		db = db.Where("identity_key = ?", *filter.IdentityKey)
	}
	if filter.OriginFingerprint != nil {
		db = db.Where("origin_fingerprint = ?", *filter.OriginFingerprint)
	}
	if filter.PredictedAfter != nil {
		db = db.Where("predicted_date >= ?", *filter.PredictedAfter)
	}
	if filter.PredictedBefore != nil {
		db = db.Where("predicted_date <= ?", *filter.PredictedBefore)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at <= ?", *filter.CreatedBefore)
	}

	return db
}
