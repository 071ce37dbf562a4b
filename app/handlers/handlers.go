// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/phishschool/app/dto"
	"github.com/amirphl/phishschool/app/logger"
	"github.com/amirphl/phishschool/app/middleware"
	businessflow "github.com/amirphl/phishschool/business_flow"
	"github.com/amirphl/phishschool/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 30 * time.Second

// baseHandler carries what every handler needs: validation, response helpers and logging
type baseHandler struct {
	validator *validator.Validate
	logger    *zap.Logger
}

func newBaseHandler(logger *zap.Logger) baseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return baseHandler{validator: validator.New(), logger: logger}
}

func (h *baseHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *baseHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// validate returns a written 400 response and false when req fails validation
func (h *baseHandler) validate(c fiber.Ctx, req any) (bool, error) {
	err := h.validator.Struct(req)
	if err == nil {
		return true, nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", nil)
	}
	validationErrors := make([]string, 0, len(ve))
	for _, fe := range ve {
		validationErrors = append(validationErrors, getValidationErrorMessage(fe))
	}
	return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
}

// requestContext creates a context with a timeout and request-scoped values for observability
func (h *baseHandler) requestContext(c fiber.Ctx) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Context(), defaultRequestTimeout)

	endpoint := c.Method() + " " + c.Path()
	if r := c.Route(); r != nil && r.Path != "" {
		endpoint = c.Method() + " " + r.Path
	}

	requestID := requestid.FromContext(c)
	if requestID == "" {
		requestID = c.Get("X-Request-ID")
	}

	ctx = context.WithValue(ctx, utils.RequestIDKey, requestID)
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	return ctx, cancel
}

// userID reads the authenticated user or writes a 401
func (h *baseHandler) userID(c fiber.Ctx) (uint, bool, error) {
	return middleware.RequireAuth(c)
}

// BusinessErrorResponse maps a flow error to an HTTP response. Only the short
// message of a BusinessError reaches the client.
func (h *baseHandler) BusinessErrorResponse(ctx context.Context, c fiber.Ctx, err error, fallbackMessage string) error {
	status := statusForError(err)

	code, message := "INTERNAL_ERROR", fallbackMessage
	var be *businessflow.BusinessError
	if errors.As(err, &be) {
		code, message = be.Code, be.Message
	}
	if status == fiber.StatusNotFound && businessflow.IsTrackingNotFound(err) {
		code, message = "NOT_FOUND", "Not found"
	}

	if status >= fiber.StatusInternalServerError {
		logger.WithContext(ctx, h.logger).Error(fallbackMessage, zap.String("code", code), zap.Error(err))
		if be == nil {
			message = fallbackMessage
		}
	}
	return h.ErrorResponse(c, status, message, code, nil)
}

func statusForError(err error) int {
	switch {
	case businessflow.IsCampaignNotFound(err),
		businessflow.IsCampaignEmailNotFound(err),
		businessflow.IsTrackingNotFound(err):
		return fiber.StatusNotFound
	case businessflow.IsInvalidCampaignConfig(err),
		businessflow.IsCampaignUpdateRequired(err),
		businessflow.IsInvalidPage(err),
		errors.Is(err, businessflow.ErrInvalidAttempt),
		errors.Is(err, businessflow.ErrInvalidSampleRequest):
		return fiber.StatusBadRequest
	case businessflow.IsCampaignCompleted(err),
		businessflow.IsCampaignNotActive(err),
		businessflow.IsCampaignStatusUnchanged(err),
		businessflow.IsCampaignEmailNotFailed(err),
		businessflow.IsEmailCountBelowDispatched(err):
		return fiber.StatusConflict
	case businessflow.IsUserNotFound(err):
		return fiber.StatusUnprocessableEntity
	case businessflow.IsGenerationFailed(err), businessflow.IsDeliveryFailed(err):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "len":
		return err.Field() + " must be exactly " + err.Param() + " characters"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "uuid4", "uuid":
		return err.Field() + " must be a valid UUID"
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}
