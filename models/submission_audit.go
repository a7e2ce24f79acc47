// Package models contains domain entities and business models for the prediction service
package models

import (
	"encoding/json"
	"time"
)

// SubmissionAudit records one coordinator outcome, retry attempt or admin
// action. External alerting derives conflict and deadlock rates from these
// rows, so constraint and attempt are first-class columns rather than
// free-text in metadata.
type SubmissionAudit struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	IdentityKey  *string         `gorm:"size:128;index:idx_submission_audit_identity_key" json:"identity_key,omitempty"`
	Action       string          `gorm:"size:64;not null;index:idx_submission_audit_action" json:"action"`
	Outcome      *string         `gorm:"size:32;index:idx_submission_audit_outcome" json:"outcome,omitempty"`
	Constraint   *string         `gorm:"column:constraint_name;size:128" json:"constraint,omitempty"`
	Attempt      *int            `json:"attempt,omitempty"`
	Description  *string         `gorm:"type:text" json:"description,omitempty"`
	RequestID    *string         `gorm:"size:255;index:idx_submission_audit_request_id" json:"request_id,omitempty"`
	Metadata     json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`
	Success      *bool           `gorm:"default:true;index:idx_submission_audit_success" json:"success"`
	ErrorMessage *string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time       `gorm:"default:CURRENT_TIMESTAMP;index:idx_submission_audit_created_at" json:"created_at"`
}

func (SubmissionAudit) TableName() string {
	return "submission_audit"
}

// Audit action constants
const (
	AuditActionSubmissionCreated  = "submission_created"
	AuditActionSubmissionUpdated  = "submission_updated"
	AuditActionSubmissionNoOp     = "submission_noop"
	AuditActionSubmissionConflict = "submission_conflict"
	AuditActionSubmissionRetried  = "submission_retried"
	AuditActionSubmissionQueued   = "submission_queued"
	AuditActionSubmissionRejected = "submission_rejected"
	AuditActionSubmissionExpired  = "submission_expired"
	AuditActionQueueDrained       = "queue_drained"
	AuditActionAdminLoginSuccess  = "admin_login_success"
	AuditActionAdminLoginFailed   = "admin_login_failed"
	AuditActionExportGenerated    = "export_generated"
)

// SubmissionAuditFilter represents filter criteria for audit queries
type SubmissionAuditFilter struct {
	ID            *uint
	IdentityKey   *string
	Action        *string
	Outcome       *string
	Success       *bool
	RequestID     *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

func (a *SubmissionAudit) IsFailed() bool {
	return a.Success != nil && !*a.Success
}

// IsContentionEvent reports whether this row counts toward the
// conflict/deadlock rate watched by alerting.
func (a *SubmissionAudit) IsContentionEvent() bool {
	switch a.Action {
	case AuditActionSubmissionConflict, AuditActionSubmissionRetried:
		return true
	}
	return false
}
