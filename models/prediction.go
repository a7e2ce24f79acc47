// Package models contains domain entities and business models for the prediction service
package models

import (
	"time"
)

// Prediction holds the single durable date-prediction of one logical identity.
// identity_key and origin_fingerprint carry independent uniqueness guards: the
// first deduplicates submissions from the same identity token, the second stops
// one network origin from registering many identities.
type Prediction struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	IdentityKey       string    `gorm:"size:128;not null;uniqueIndex:uk_predictions_identity_key" json:"identity_key"`
	OriginFingerprint string    `gorm:"size:128;not null;uniqueIndex:uk_predictions_origin_fingerprint" json:"-"`
	PredictedDate     time.Time `gorm:"type:date;not null;index:idx_predictions_predicted_date" json:"predicted_date"`
	Weight            float64   `gorm:"type:numeric(3,2);not null" json:"weight"`
	CreatedAt         time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_predictions_created_at" json:"created_at"`
	UpdatedAt         time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (Prediction) TableName() string {
	return "predictions"
}

// Unique constraint names enforced on the predictions table
const (
	UniqueIdentityKey       = "uk_predictions_identity_key"
	UniqueOriginFingerprint = "uk_predictions_origin_fingerprint"
)

// PredictionFilter represents filter criteria for prediction queries
type PredictionFilter struct {
	ID                *uint
	IdentityKey       *string
	OriginFingerprint *string
	PredictedAfter    *time.Time
	PredictedBefore   *time.Time
	CreatedAfter      *time.Time
	CreatedBefore     *time.Time
}

// SameDate reports whether the stored prediction already carries the given
// calendar date; timestamps are compared at day precision in UTC.
func (p *Prediction) SameDate(date time.Time) bool {
	a, b := p.PredictedDate.UTC(), date.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
