package handlers

import (
	"github.com/amirphl/phishschool/app/dto"
	businessflow "github.com/amirphl/phishschool/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// LearnHandler serves the practice quiz
type LearnHandler struct {
	baseHandler
	learnFlow businessflow.LearnFlow
}

// NewLearnHandler creates a new learn handler
func NewLearnHandler(learnFlow businessflow.LearnFlow, logger *zap.Logger) *LearnHandler {
	return &LearnHandler{
		baseHandler: newBaseHandler(logger),
		learnFlow:   learnFlow,
	}
}

// RecordAttempt records one answered question
// @Summary Record Learn Attempt
// @Tags Learn
// @Accept json
// @Produce json
// @Param request body dto.RecordAttemptRequest true "Whether the answer was correct"
// @Success 200 {object} dto.APIResponse{data=dto.ScoreResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Router /api/v1/learn/attempts [post]
func (h *LearnHandler) RecordAttempt(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	var req dto.RecordAttemptRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", nil)
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}
	req.UserID = userID

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.learnFlow.RecordAttempt(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to record attempt")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Attempt recorded", result)
}

// GetScore returns the caller's score
// @Summary Learn Score
// @Tags Learn
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.ScoreResponse}
// @Router /api/v1/learn/score [get]
func (h *LearnHandler) GetScore(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.learnFlow.GetScore(ctx, userID)
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to load score")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Score retrieved successfully", result)
}

// GenerateSample returns a generated practice message. Nothing is stored.
// @Summary Generate Practice Sample
// @Tags Learn
// @Accept json
// @Produce json
// @Param request body dto.GenerateSampleRequest true "Sample parameters"
// @Success 200 {object} dto.APIResponse{data=dto.SampleResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 502 {object} dto.APIResponse "Generation failed"
// @Router /api/v1/learn/samples [post]
func (h *LearnHandler) GenerateSample(c fiber.Ctx) error {
	if _, ok, err := h.userID(c); !ok {
		return err
	}

	var req dto.GenerateSampleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", nil)
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.learnFlow.GenerateSample(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to generate sample")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Sample generated", result)
}
