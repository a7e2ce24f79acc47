package dto

// Submission outcome values carried in SubmissionResponse
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeNoOp    = "noop"
	OutcomeQueued  = "queued"
)

// SubmissionRequest represents a prediction submission
type SubmissionRequest struct {
	IdentityToken string `json:"identityToken,omitempty" validate:"omitempty,max=64" example:"7b9e41d2-9f04-4c7a-b1a4-1f2fda1c6c6e"`
	PredictedDate string `json:"predictedDate" validate:"required,len=10" example:"2045-06-01"`
	// Challenge fields carry a solved visual challenge; only consulted when
	// bot verification rejects the request.
	ChallengeID    string   `json:"challengeId,omitempty" validate:"omitempty,uuid4"`
	ChallengeAngle *float64 `json:"challengeAngle,omitempty" validate:"omitempty,gte=0,lte=360"`
}

// SubmissionResponse represents the result of a prediction submission
type SubmissionResponse struct {
	Outcome       string  `json:"outcome" example:"created"`
	Date          string  `json:"date" example:"2045-06-01"`
	PreviousDate  *string `json:"previousDate,omitempty" example:"2044-01-15"`
	Weight        float64 `json:"weight" example:"0.3"`
	IdentityToken *string `json:"identityToken,omitempty"`
	QueueToken    *string `json:"queueToken,omitempty"`
	Notice        string  `json:"notice,omitempty"`
}

// PredictionDTO is the API representation of a stored prediction
type PredictionDTO struct {
	PredictedDate string  `json:"predicted_date" example:"2045-06-01"`
	Weight        float64 `json:"weight" example:"1.0"`
	CreatedAt     string  `json:"created_at" example:"2026-08-25T10:30:00Z"`
	UpdatedAt     string  `json:"updated_at" example:"2026-08-25T10:30:00Z"`
}

// AggregateResponse represents the community consensus statistics
type AggregateResponse struct {
	Median *string `json:"median,omitempty" example:"2047-03-20"`
	Min    *string `json:"min,omitempty" example:"2026-11-05"`
	Max    *string `json:"max,omitempty" example:"2120-01-01"`
	Count  int64   `json:"count" example:"1543"`
	// BelowSampleFloor marks the placeholder payload served while the
	// prediction set is too small for a meaningful consensus.
	BelowSampleFloor bool   `json:"belowSampleFloor"`
	ComputedAt       string `json:"computedAt" example:"2026-08-25T10:30:00Z"`
	FreshUntil       string `json:"freshUntil" example:"2026-08-25T10:35:00Z"`
	Stale            bool   `json:"stale"`
}
