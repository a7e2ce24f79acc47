// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/amirphl/Pythia/app/dto"
	"github.com/amirphl/Pythia/app/middleware"
	businessflow "github.com/amirphl/Pythia/business_flow"
	"github.com/amirphl/Pythia/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// PredictionHandlerInterface defines the contract for prediction handlers
type PredictionHandlerInterface interface {
	SubmitPrediction(c fiber.Ctx) error
	UpdatePrediction(c fiber.Ctx) error
	GetAggregate(c fiber.Ctx) error
}

// PredictionHandler handles prediction-related HTTP requests
type PredictionHandler struct {
	submissionFlow businessflow.SubmissionFlow
	statsFlow      businessflow.StatsFlow
	validator      *validator.Validate
}

func (h *PredictionHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *PredictionHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// NewPredictionHandler creates a new prediction handler
func NewPredictionHandler(submissionFlow businessflow.SubmissionFlow, statsFlow businessflow.StatsFlow) *PredictionHandler {
	return &PredictionHandler{
		submissionFlow: submissionFlow,
		statsFlow:      statsFlow,
		validator:      validator.New(),
	}
}

// SubmitPrediction handles a prediction submission
// @Summary Submit Prediction
// @Description Submit a date prediction; repeat submissions from the same identity update the stored date
// @Tags Predictions
// @Accept json
// @Produce json
// @Param request body dto.SubmissionRequest true "Prediction submission data"
// @Success 201 {object} dto.APIResponse{data=dto.SubmissionResponse} "Prediction created"
// @Success 200 {object} dto.APIResponse{data=dto.SubmissionResponse} "Prediction updated or unchanged"
// @Failure 400 {object} dto.APIResponse "Validation error or invalid date"
// @Failure 403 {object} dto.APIResponse "Bot verification failed"
// @Failure 409 {object} dto.APIResponse "Conflicting prediction exists"
// @Failure 503 {object} dto.APIResponse "Capacity reached, queued, or store unavailable"
// @Router /api/v1/predictions [post]
func (h *PredictionHandler) SubmitPrediction(c fiber.Ctx) error {
	return h.handleSubmission(c, false)
}

// UpdatePrediction handles an explicit resubmission
// @Summary Update Prediction
// @Description Update an existing prediction; requires the identity token issued at creation
// @Tags Predictions
// @Accept json
// @Produce json
// @Param request body dto.SubmissionRequest true "Prediction update data"
// @Success 200 {object} dto.APIResponse{data=dto.SubmissionResponse} "Prediction updated or unchanged"
// @Failure 400 {object} dto.APIResponse "Validation error or missing identity token"
// @Failure 403 {object} dto.APIResponse "Bot verification failed"
// @Failure 404 {object} dto.APIResponse "No prediction exists for this identity"
// @Failure 409 {object} dto.APIResponse "Conflicting prediction exists"
// @Failure 503 {object} dto.APIResponse "Capacity reached, queued, or store unavailable"
// @Router /api/v1/predictions [put]
func (h *PredictionHandler) UpdatePrediction(c fiber.Ctx) error {
	return h.handleSubmission(c, true)
}

func (h *PredictionHandler) handleSubmission(c fiber.Ctx, update bool) error {
	var req dto.SubmissionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	// Validate request
	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	// Get client information
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get("X-Request-ID"))

	ctx, cancel := h.createRequestContext(c, 30*time.Second)
	defer cancel()

	var result *dto.SubmissionResponse
	var err error
	if update {
		result, err = h.submissionFlow.Resubmit(ctx, &req, metadata)
	} else {
		result, err = h.submissionFlow.Submit(ctx, &req, metadata)
	}
	if err != nil {
		return h.submissionErrorResponse(c, err)
	}

	middleware.RecordSubmissionOutcome(result.Outcome)

	if result.Outcome == dto.OutcomeQueued {
		// Queued means deferred, not done; the queue token lets the client
		// correlate, and a minted identity token still has to reach it.
		details := fiber.Map{
			"reason":     "queued",
			"queueToken": result.QueueToken,
		}
		if result.IdentityToken != nil {
			details["identityToken"] = *result.IdentityToken
		}
		notice := result.Notice
		if notice == "" {
			notice = "Submission queued for processing"
		}
		return h.ErrorResponse(c, fiber.StatusServiceUnavailable, notice, "SUBMISSION_QUEUED", details)
	}

	switch result.Outcome {
	case dto.OutcomeCreated:
		return h.SuccessResponse(c, fiber.StatusCreated, "Prediction created successfully", result)
	case dto.OutcomeUpdated:
		return h.SuccessResponse(c, fiber.StatusOK, "Prediction updated successfully", result)
	default:
		return h.SuccessResponse(c, fiber.StatusOK, "Prediction unchanged", result)
	}
}

func (h *PredictionHandler) submissionErrorResponse(c fiber.Ctx, err error) error {
	switch {
	case businessflow.IsDateMalformed(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Predicted date must be formatted as YYYY-MM-DD", "DATE_MALFORMED", nil)
	case businessflow.IsDateOutOfRange(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Predicted date must be in the future and at most 500 years ahead", "DATE_OUT_OF_RANGE", nil)
	case businessflow.IsIdentityTokenRequired(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, "A valid identity token is required to update a prediction", "IDENTITY_TOKEN_REQUIRED", nil)
	case businessflow.IsVerificationFailed(err):
		middleware.RecordSubmissionOutcome("rejected")
		return h.ErrorResponse(c, fiber.StatusForbidden, "Verification failed; solve the challenge and retry", "VERIFICATION_FAILED", fiber.Map{
			"reason": "verification_failed",
		})
	case businessflow.IsPredictionNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "No prediction exists for this identity", "PREDICTION_NOT_FOUND", fiber.Map{
			"reason": "not_found",
		})
	case businessflow.IsDuplicateOrigin(err):
		middleware.RecordSubmissionOutcome("conflict")
		return h.ErrorResponse(c, fiber.StatusConflict, "A prediction is already registered from your network", "SUBMISSION_CONFLICT", fiber.Map{
			"reason": "conflict",
			"field":  "origin",
		})
	case businessflow.IsDuplicateIdentity(err):
		middleware.RecordSubmissionOutcome("conflict")
		return h.ErrorResponse(c, fiber.StatusConflict, "A prediction already exists for this identity", "SUBMISSION_CONFLICT", fiber.Map{
			"reason": "conflict",
			"field":  "identityToken",
		})
	case businessflow.IsCapacityExceeded(err):
		middleware.RecordSubmissionOutcome("rejected")
		retryAfter := int64(businessflow.RetryAfter(utils.UTCNow()).Seconds())
		c.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Daily capacity reached; submissions reopen after midnight UTC", "CAPACITY_EXCEEDED", fiber.Map{
			"reason":            "capacity_exceeded",
			"retryAfterSeconds": retryAfter,
		})
	case businessflow.IsStoreBusy(err):
		c.Set("Retry-After", "1")
		return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "The service is briefly busy; try again shortly", "STORE_BUSY", fiber.Map{
			"reason": "unavailable",
		})
	case businessflow.IsQueueUnavailable(err):
		log.Println("Submission queueing failed", err)
		return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Submission could not be accepted; try again shortly", "QUEUE_UNAVAILABLE", fiber.Map{
			"reason": "unavailable",
		})
	default:
		log.Println("Prediction submission failed", err)
		return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Prediction store unavailable; try again shortly", "STORE_UNAVAILABLE", fiber.Map{
			"reason": "unavailable",
		})
	}
}

// GetAggregate serves the community consensus statistics
// @Summary Get Aggregate
// @Description Retrieve the weighted consensus over all stored predictions
// @Tags Predictions
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.AggregateResponse} "Aggregate statistics"
// @Failure 503 {object} dto.APIResponse "Statistics unavailable"
// @Router /api/v1/aggregate [get]
func (h *PredictionHandler) GetAggregate(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, 15*time.Second)
	defer cancel()

	result, err := h.statsFlow.Aggregate(ctx)
	if err != nil {
		log.Println("Aggregate retrieval failed", err)
		return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Aggregate statistics unavailable; try again shortly", "STATS_UNAVAILABLE", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Aggregate statistics retrieved successfully", result)
}

// createRequestContext creates a context with timeout and request-scoped values
func (h *PredictionHandler) createRequestContext(c fiber.Ctx, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, businessflow.RequestIDKey, c.Get("X-Request-ID"))
	return ctx, cancel
}
