package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// HealthCheck is one dependency probe, e.g. a database or redis ping
type HealthCheck func(ctx context.Context) error

// HealthHandler reports liveness and the state of critical dependencies
type HealthHandler struct {
	baseHandler
	checks  map[string]HealthCheck
	version string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, checks map[string]HealthCheck, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		baseHandler: newBaseHandler(logger),
		checks:      checks,
		version:     version,
	}
}

// Health runs every probe with a short timeout
// @Summary Health Check
// @Tags System
// @Produce json
// @Success 200 {object} dto.APIResponse
// @Failure 503 {object} dto.APIResponse
// @Router /api/v1/health [get]
func (h *HealthHandler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	components := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health probe failed", zap.String("component", name), zap.Error(err))
			components[name] = "down"
			healthy = false
			continue
		}
		components[name] = "up"
	}

	data := fiber.Map{
		"status":     "healthy",
		"version":    h.version,
		"timestamp":  time.Now().UTC(),
		"components": components,
	}
	if !healthy {
		data["status"] = "degraded"
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"message": "Service degraded",
			"data":    data,
		})
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Service is healthy", data)
}
