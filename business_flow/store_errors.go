// Package businessflow contains the core business logic and use cases for prediction workflows
package businessflow

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// PostgreSQL SQLSTATE codes that drive conflict and retry handling
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

func asPgError(err error) *pgconn.PgError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr
	}
	return nil
}

// isUniqueViolation reports whether err is a unique constraint violation.
// The driver error is preferred; gorm's translated sentinel is the fallback.
func isUniqueViolation(err error) bool {
	if pgErr := asPgError(err); pgErr != nil {
		return pgErr.Code == pgUniqueViolation
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// violatedConstraint returns the constraint name behind a unique violation,
// or "" when the driver did not report one
func violatedConstraint(err error) string {
	if pgErr := asPgError(err); pgErr != nil && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName
	}
	return ""
}

// isBusyError reports whether err is transient contention worth retrying
func isBusyError(err error) bool {
	pgErr := asPgError(err)
	if pgErr == nil {
		return false
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return true
	}
	return false
}
