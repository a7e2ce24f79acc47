// Package businessflow contains the business logic for the application.
package businessflow

import (
	"time"

	"github.com/amirphl/Pythia/app/dto"
	"github.com/amirphl/Pythia/models"
)

const RequestIDKey = "X-Request-ID"

// DateLayout is the wire format for predicted dates.
const DateLayout = "2006-01-02"

// ClientMetadata holds client-related information for audit logging. The raw
// network origin never leaves this struct except as a derived fingerprint.
type ClientMetadata struct {
	NetworkOrigin string `json:"-"`
	UserAgent     string `json:"user_agent"`
	RequestID     string `json:"request_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance
func NewClientMetadata(networkOrigin, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		NetworkOrigin: networkOrigin,
		UserAgent:     userAgent,
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// ToPredictionDTO converts a prediction model to its API representation
func ToPredictionDTO(p models.Prediction) dto.PredictionDTO {
	return dto.PredictionDTO{
		PredictedDate: p.PredictedDate.UTC().Format(DateLayout),
		Weight:        p.Weight,
		CreatedAt:     p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
