// Package services provides external service integrations and technical concerns like verification and tokens
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/amirphl/Pythia/config"
	"github.com/amirphl/Pythia/utils"
)

// VerificationVerdict is the tri-state outcome of bot verification. Unknown
// means the provider could not produce an answer; callers decide how Unknown
// is treated.
type VerificationVerdict string

const (
	VerdictPass    VerificationVerdict = "pass"
	VerdictFail    VerificationVerdict = "fail"
	VerdictUnknown VerificationVerdict = "unknown"
)

// VerificationResult carries the verdict and the provider's confidence score
type VerificationResult struct {
	Verdict VerificationVerdict
	Score   float64
}

// VerificationService scores a request's likelihood of being human
type VerificationService interface {
	Verify(ctx context.Context, networkOrigin, userAgent string) *VerificationResult
}

// VerificationServiceImpl implements VerificationService against an external
// scoring provider
type VerificationServiceImpl struct {
	config *config.VerificationConfig
	client *http.Client
}

// verificationRequest represents the request payload for the scoring API
type verificationRequest struct {
	Origin    string `json:"origin"`
	UserAgent string `json:"userAgent"`
}

// verificationResponse represents the scoring API response
type verificationResponse struct {
	Score float64 `json:"score"`
}

// NewVerificationService creates a new verification service instance
func NewVerificationService(cfg *config.VerificationConfig) VerificationService {
	return &VerificationServiceImpl{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Verify scores the request. Transport failures, timeouts and malformed
// responses all resolve to Unknown; only a successful provider answer can
// produce Pass or Fail.
func (s *VerificationServiceImpl) Verify(ctx context.Context, networkOrigin, userAgent string) *VerificationResult {
	requestBody, err := json.Marshal(verificationRequest{
		Origin:    networkOrigin,
		UserAgent: userAgent,
	})
	if err != nil {
		return &VerificationResult{Verdict: VerdictUnknown}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.ProviderURL, bytes.NewBuffer(requestBody))
	if err != nil {
		return &VerificationResult{Verdict: VerdictUnknown}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return &VerificationResult{Verdict: VerdictUnknown}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &VerificationResult{Verdict: VerdictUnknown}
	}

	var result verificationResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &VerificationResult{Verdict: VerdictUnknown}
	}

	if result.Score >= s.config.ScoreThreshold {
		return &VerificationResult{Verdict: VerdictPass, Score: result.Score}
	}
	return &VerificationResult{Verdict: VerdictFail, Score: result.Score}
}

// NoopVerificationService passes everything; used when verification is
// disabled in config.
type NoopVerificationService struct{}

// NewNoopVerificationService creates a verification service that always passes
func NewNoopVerificationService() VerificationService {
	return &NoopVerificationService{}
}

func (s *NoopVerificationService) Verify(ctx context.Context, networkOrigin, userAgent string) *VerificationResult {
	return &VerificationResult{Verdict: VerdictPass, Score: 1.0}
}

// MockVerificationService implements VerificationService for testing
type MockVerificationService struct {
	Result *VerificationResult
	Calls  []MockVerificationCall
}

// MockVerificationCall records one Verify invocation
type MockVerificationCall struct {
	Origin    string
	UserAgent string
	At        time.Time
}

// NewMockVerificationService creates a mock that returns the given verdict
func NewMockVerificationService(verdict VerificationVerdict, score float64) *MockVerificationService {
	return &MockVerificationService{
		Result: &VerificationResult{Verdict: verdict, Score: score},
		Calls:  make([]MockVerificationCall, 0),
	}
}

func (m *MockVerificationService) Verify(ctx context.Context, networkOrigin, userAgent string) *VerificationResult {
	m.Calls = append(m.Calls, MockVerificationCall{
		Origin:    networkOrigin,
		UserAgent: userAgent,
		At:        utils.UTCNow(),
	})
	return m.Result
}

