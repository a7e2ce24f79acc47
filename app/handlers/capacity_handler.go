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
	"github.com/gofiber/fiber/v3"
)

// CapacityHandlerInterface defines the contract for capacity handlers
type CapacityHandlerInterface interface {
	GetCapacity(c fiber.Ctx) error
}

// CapacityHandler serves the admission-control state to the frontend
type CapacityHandler struct {
	statsFlow businessflow.StatsFlow
}

func (h *CapacityHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *CapacityHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// NewCapacityHandler creates a new capacity handler
func NewCapacityHandler(statsFlow businessflow.StatsFlow) *CapacityHandler {
	return &CapacityHandler{statsFlow: statsFlow}
}

// GetCapacity reports the current capacity level and derived feature flags
// @Summary Get Capacity
// @Description Retrieve the current capacity level and the feature flags the frontend should apply
// @Tags Capacity
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.CapacityResponse} "Capacity status"
// @Router /api/v1/capacity [get]
func (h *CapacityHandler) GetCapacity(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ctx = context.WithValue(ctx, businessflow.RequestIDKey, c.Get("X-Request-ID"))

	result, err := h.statsFlow.CapacityStatus(ctx)
	if err != nil {
		log.Println("Capacity status retrieval failed", err)
		return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Capacity status unavailable", "CAPACITY_STATUS_FAILED", nil)
	}

	middleware.RecordCapacityLevel(result.Level)
	if result.RetryAfterSeconds != nil {
		c.Set("Retry-After", strconv.FormatInt(*result.RetryAfterSeconds, 10))
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Capacity status retrieved successfully", result)
}
