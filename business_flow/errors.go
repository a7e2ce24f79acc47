// Package businessflow contains the core business logic and use cases for the prediction pipeline
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Validation errors, resolved at the edge before the coordinator runs
	ErrDateMalformed  = errors.New("predicted date is malformed")
	ErrDateOutOfRange = errors.New("predicted date is outside the validity window")

	// Prediction lookup errors
	ErrPredictionNotFound    = errors.New("prediction not found")
	ErrIdentityTokenRequired = errors.New("identity token is required for resubmission")

	// Conflict errors, terminal uniqueness violations that are never retried
	ErrDuplicateIdentity = errors.New("a prediction already exists for this identity")
	ErrDuplicateOrigin   = errors.New("a prediction is already registered from this network origin")

	// Transient store errors, retried with backoff before surfacing
	ErrStoreBusy        = errors.New("store reported lock contention")
	ErrStoreUnavailable = errors.New("store unavailable after retries")

	// Capacity errors, queued or rejected depending on the capacity level
	ErrCapacityExceeded   = errors.New("daily capacity reached")
	ErrSubmissionQueued   = errors.New("submission accepted into the overflow queue")
	ErrQueueUnavailable   = errors.New("overflow queue unavailable")
	ErrVerificationFailed = errors.New("verification did not pass")

	// Admin errors
	ErrAdminNotFound          = errors.New("admin account not found")
	ErrAdminIncorrectPassword = errors.New("incorrect admin password")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsDateMalformed(err error) bool {
	return errors.Is(err, ErrDateMalformed)
}

func IsDateOutOfRange(err error) bool {
	return errors.Is(err, ErrDateOutOfRange)
}

func IsPredictionNotFound(err error) bool {
	return errors.Is(err, ErrPredictionNotFound)
}

func IsIdentityTokenRequired(err error) bool {
	return errors.Is(err, ErrIdentityTokenRequired)
}

func IsDuplicateIdentity(err error) bool {
	return errors.Is(err, ErrDuplicateIdentity)
}

func IsDuplicateOrigin(err error) bool {
	return errors.Is(err, ErrDuplicateOrigin)
}

func IsConflict(err error) bool {
	return IsDuplicateIdentity(err) || IsDuplicateOrigin(err)
}

func IsStoreBusy(err error) bool {
	return errors.Is(err, ErrStoreBusy)
}

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

func IsCapacityExceeded(err error) bool {
	return errors.Is(err, ErrCapacityExceeded)
}

func IsSubmissionQueued(err error) bool {
	return errors.Is(err, ErrSubmissionQueued)
}

func IsQueueUnavailable(err error) bool {
	return errors.Is(err, ErrQueueUnavailable)
}

func IsVerificationFailed(err error) bool {
	return errors.Is(err, ErrVerificationFailed)
}

func IsAdminNotFound(err error) bool {
	return errors.Is(err, ErrAdminNotFound)
}

func IsAdminIncorrectPassword(err error) bool {
	return errors.Is(err, ErrAdminIncorrectPassword)
}
