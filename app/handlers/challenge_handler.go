// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"log"
	"time"

	"github.com/amirphl/Pythia/app/dto"
	"github.com/amirphl/Pythia/app/services"
	"github.com/gofiber/fiber/v3"
)

// ChallengeHandlerInterface defines the contract for challenge handlers
type ChallengeHandlerInterface interface {
	CreateChallenge(c fiber.Ctx) error
}

// ChallengeHandler issues proof-of-humanity challenges
type ChallengeHandler struct {
	challengeSvc services.ChallengeService
}

func (h *ChallengeHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *ChallengeHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// NewChallengeHandler creates a new challenge handler
func NewChallengeHandler(challengeSvc services.ChallengeService) *ChallengeHandler {
	return &ChallengeHandler{challengeSvc: challengeSvc}
}

// CreateChallenge issues a fresh rotate challenge
// @Summary Create Challenge
// @Description Issue a rotate challenge whose solution overrides a failed bot verification
// @Tags Challenges
// @Produce json
// @Success 201 {object} dto.APIResponse{data=dto.ChallengeResponse} "Challenge created"
// @Failure 503 {object} dto.APIResponse "Challenge generation failed"
// @Router /api/v1/challenge [post]
func (h *ChallengeHandler) CreateChallenge(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	challenge, err := h.challengeSvc.Generate(ctx)
	if err != nil {
		log.Println("Challenge generation failed", err)
		return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Failed to generate challenge", "CHALLENGE_GENERATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Challenge created successfully", dto.ChallengeResponse{
		ChallengeID: challenge.ID,
		MasterImage: challenge.MasterImageBase64,
		ThumbImage:  challenge.ThumbImageBase64,
	})
}
