package handlers

import (
	"github.com/amirphl/phishschool/app/dto"
	businessflow "github.com/amirphl/phishschool/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// PreferencesHandler handles the user's campaign defaults and the opt-in switch
type PreferencesHandler struct {
	baseHandler
	preferencesFlow businessflow.PreferencesFlow
}

// NewPreferencesHandler creates a new preferences handler
func NewPreferencesHandler(preferencesFlow businessflow.PreferencesFlow, logger *zap.Logger) *PreferencesHandler {
	return &PreferencesHandler{
		baseHandler:     newBaseHandler(logger),
		preferencesFlow: preferencesFlow,
	}
}

// GetPreferences returns the stored preferences or the defaults
// @Summary Get Preferences
// @Tags Preferences
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.PreferencesDTO}
// @Router /api/v1/preferences [get]
func (h *PreferencesHandler) GetPreferences(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.preferencesFlow.GetPreferences(ctx, userID)
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to load preferences")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Preferences retrieved successfully", result)
}

// UpdatePreferences upserts the user's defaults
// @Summary Update Preferences
// @Tags Preferences
// @Accept json
// @Produce json
// @Param request body dto.UpdatePreferencesRequest true "Fields to change"
// @Success 200 {object} dto.APIResponse{data=dto.PreferencesDTO}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Router /api/v1/preferences [put]
func (h *PreferencesHandler) UpdatePreferences(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	var req dto.UpdatePreferencesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", nil)
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}
	req.UserID = userID

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.preferencesFlow.UpdatePreferences(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to update preferences")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Preferences updated successfully", result)
}

// OptIn turns recurring training on
// @Summary Opt In
// @Tags Preferences
// @Accept json
// @Produce json
// @Param request body dto.OptInRequest false "Optional frequency"
// @Success 200 {object} dto.APIResponse{data=dto.OptInResponse}
// @Router /api/v1/preferences/opt-in [post]
func (h *PreferencesHandler) OptIn(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	var req dto.OptInRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", nil)
		}
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}
	req.UserID = userID

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.preferencesFlow.OptIn(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to opt in")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// OptOut turns recurring training off and pauses running campaigns
// @Summary Opt Out
// @Tags Preferences
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.OptOutResponse}
// @Router /api/v1/preferences/opt-out [post]
func (h *PreferencesHandler) OptOut(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.preferencesFlow.OptOut(ctx, userID)
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to opt out")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}
