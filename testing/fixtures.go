// Package testing provides test utilities and database setup for testing the prediction service
package testing

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	businessflow "github.com/amirphl/Pythia/business_flow"
	"github.com/amirphl/Pythia/models"
	"github.com/amirphl/Pythia/utils"
	"github.com/google/uuid"
)

// FixtureSalt keys the identity resolver used by fixtures. Tests that resolve
// identities themselves must use the same salt to land on the same rows.
const (
	FixtureSalt        = "fixture-salt-0123456789abcdef"
	FixtureSaltVersion = "v1"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB       *TestDB
	Resolver *businessflow.IdentityResolver
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{
		DB:       db,
		Resolver: businessflow.NewIdentityResolver(FixtureSalt, FixtureSaltVersion),
	}
}

// CreateTestPrediction stores one prediction keyed the way the coordinator
// would key it: identity and fingerprint derived from a fresh client token
// and a synthetic network origin through the real resolver.
func (tf *TestFixtures) CreateTestPrediction(daysAhead int) (*models.Prediction, error) {
	token := uuid.New().String()
	origin := fmt.Sprintf("203.0.113.%d|%s", rand.Intn(255), token)
	identity := tf.Resolver.Resolve(token, origin)

	now := utils.UTCNow()
	predictedDate := now.AddDate(0, 0, daysAhead)

	prediction := &models.Prediction{
		IdentityKey:       identity.Key,
		OriginFingerprint: identity.OriginFingerprint,
		PredictedDate:     predictedDate,
		Weight:            businessflow.PredictionWeight(predictedDate, now),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := tf.DB.DB.Create(prediction).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create test prediction: %w", err)
	}

	return prediction, nil
}

// CreateTestPredictions stores one prediction per offset, each under its own
// identity. Offsets are days from today, so {0, 1, 1, 2} yields a small
// clustered population for aggregation tests.
func (tf *TestFixtures) CreateTestPredictions(dayOffsets []int) ([]*models.Prediction, error) {
	var predictions []*models.Prediction
	for i, offset := range dayOffsets {
		prediction, err := tf.CreateTestPrediction(offset)
		if err != nil {
			return nil, fmt.Errorf("failed to create prediction %d: %w", i, err)
		}
		predictions = append(predictions, prediction)
	}

	return predictions, nil
}

// CreateTestAudit creates a test submission audit entry
func (tf *TestFixtures) CreateTestAudit(identityKey *string, action string, success bool) (*models.SubmissionAudit, error) {
	description := fmt.Sprintf("Test %s action", action)
	requestID := uuid.New().String()

	audit := &models.SubmissionAudit{
		IdentityKey: identityKey,
		Action:      action,
		Description: &description,
		RequestID:   &requestID,
		Success:     utils.ToPtr(success),
		CreatedAt:   utils.UTCNow(),
	}

	if !success {
		errorMessage := "Test failed action"
		audit.ErrorMessage = &errorMessage
	}

	err := tf.DB.DB.Create(audit).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create test audit entry: %w", err)
	}

	return audit, nil
}

// CreateContentionAudit creates an audit entry shaped like a conflict the
// coordinator recorded: constraint name, attempt counter and metadata set.
func (tf *TestFixtures) CreateContentionAudit(identityKey string, attempt int) (*models.SubmissionAudit, error) {
	metadata, err := json.Marshal(map[string]any{
		"constraint": models.UniqueIdentityKey,
		"attempt":    attempt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit metadata: %w", err)
	}

	description := "Resubmission raced a concurrent insert"
	requestID := uuid.New().String()

	audit := &models.SubmissionAudit{
		IdentityKey: &identityKey,
		Action:      models.AuditActionSubmissionConflict,
		Outcome:     utils.ToPtr("conflict"),
		Constraint:  utils.ToPtr(models.UniqueIdentityKey),
		Attempt:     &attempt,
		Description: &description,
		RequestID:   &requestID,
		Metadata:    metadata,
		Success:     utils.ToPtr(false),
		CreatedAt:   utils.UTCNow(),
	}

	err = tf.DB.DB.Create(audit).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create contention audit entry: %w", err)
	}

	return audit, nil
}

// BackdatePrediction rewrites created_at and updated_at on a stored
// prediction, for tests that need rows older than the test run.
func (tf *TestFixtures) BackdatePrediction(prediction *models.Prediction, age time.Duration) error {
	stamp := utils.UTCNow().Add(-age)
	err := tf.DB.DB.Model(&models.Prediction{}).
		Where("id = ?", prediction.ID).
		Updates(map[string]any{
			"created_at": stamp,
			"updated_at": stamp,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to backdate prediction %d: %w", prediction.ID, err)
	}

	prediction.CreatedAt = stamp
	prediction.UpdatedAt = stamp
	return nil
}
