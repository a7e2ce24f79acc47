package repository_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/Pythia/models"
	"github.com/amirphl/Pythia/repository"
	testingutil "github.com/amirphl/Pythia/testing"
	"github.com/amirphl/Pythia/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionAuditRepository(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		repo := repository.NewSubmissionAuditRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		t.Run("save and list by action", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			identityKey := "audit-identity-1"
			_, err := fixtures.CreateTestAudit(&identityKey, models.AuditActionSubmissionCreated, true)
			require.NoError(t, err)
			_, err = fixtures.CreateTestAudit(&identityKey, models.AuditActionSubmissionCreated, true)
			require.NoError(t, err)
			_, err = fixtures.CreateTestAudit(&identityKey, models.AuditActionSubmissionRejected, false)
			require.NoError(t, err)

			rows, err := repo.ListByAction(ctx, models.AuditActionSubmissionCreated, 10, 0)
			require.NoError(t, err)
			require.Len(t, rows, 2)
			for _, row := range rows {
				assert.Equal(t, models.AuditActionSubmissionCreated, row.Action)
			}
		})

		t.Run("contention events window and shape", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			_, err := fixtures.CreateContentionAudit("contended-identity", 1)
			require.NoError(t, err)
			_, err = fixtures.CreateContentionAudit("contended-identity", 2)
			require.NoError(t, err)
			identityKey := "quiet-identity"
			_, err = fixtures.CreateTestAudit(&identityKey, models.AuditActionSubmissionCreated, true)
			require.NoError(t, err)

			since := utils.UTCNow().Add(-time.Hour)
			rows, err := repo.ListContentionEvents(ctx, since, 10, 0)
			require.NoError(t, err)
			require.Len(t, rows, 2)
			for _, row := range rows {
				assert.True(t, row.IsContentionEvent())
				require.NotNil(t, row.Constraint)
				assert.Equal(t, models.UniqueIdentityKey, *row.Constraint)
				assert.NotNil(t, row.Attempt)
			}

			// Newest first
			assert.False(t, rows[0].CreatedAt.Before(rows[1].CreatedAt))

			// Nothing inside a window that starts in the future
			rows, err = repo.ListContentionEvents(ctx, utils.UTCNow().Add(time.Hour), 10, 0)
			require.NoError(t, err)
			assert.Empty(t, rows)
		})

		t.Run("list failed actions", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			identityKey := "audit-identity-2"
			_, err := fixtures.CreateTestAudit(&identityKey, models.AuditActionSubmissionRejected, false)
			require.NoError(t, err)
			_, err = fixtures.CreateTestAudit(&identityKey, models.AuditActionSubmissionCreated, true)
			require.NoError(t, err)

			rows, err := repo.ListFailedActions(ctx, 10, 0)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.True(t, rows[0].IsFailed())
			assert.Equal(t, models.AuditActionSubmissionRejected, rows[0].Action)
			assert.NotNil(t, rows[0].ErrorMessage)
		})

		t.Run("metadata jsonb round trip", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			_, err := fixtures.CreateContentionAudit("metadata-identity", 3)
			require.NoError(t, err)

			rows, err := repo.ListContentionEvents(ctx, utils.UTCNow().Add(-time.Hour), 1, 0)
			require.NoError(t, err)
			require.Len(t, rows, 1)

			var meta map[string]any
			require.NoError(t, json.Unmarshal(rows[0].Metadata, &meta))
			assert.Equal(t, models.UniqueIdentityKey, meta["constraint"])
			assert.Equal(t, float64(3), meta["attempt"])
		})

		t.Run("count and filter by request id", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			identityKey := "audit-identity-3"
			created, err := fixtures.CreateTestAudit(&identityKey, models.AuditActionSubmissionCreated, true)
			require.NoError(t, err)
			_, err = fixtures.CreateTestAudit(&identityKey, models.AuditActionSubmissionUpdated, true)
			require.NoError(t, err)

			total, err := repo.Count(ctx, models.SubmissionAuditFilter{IdentityKey: &identityKey})
			require.NoError(t, err)
			assert.Equal(t, int64(2), total)

			rows, err := repo.ByFilter(ctx, models.SubmissionAuditFilter{RequestID: created.RequestID}, "", 10, 0)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, created.ID, rows[0].ID)
		})

		return nil
	})
	if errors.Is(err, testingutil.ErrDatabaseUnavailable) {
		t.Skipf("skipping submission audit repository tests: %v", err)
	}
	require.NoError(t, err)
}
