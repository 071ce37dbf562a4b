package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amirphl/phishschool/app/dto"
	"github.com/amirphl/phishschool/app/handlers"
	"github.com/amirphl/phishschool/app/middleware"
	"github.com/amirphl/phishschool/app/services"
	"github.com/amirphl/phishschool/config"
	"github.com/amirphl/phishschool/models"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type noopUsers struct{}

func (noopUsers) EnsureUser(_ context.Context, userID uint, email string) (*models.User, error) {
	return &models.User{ID: userID, Email: email}, nil
}

func newTestRouter(t *testing.T, env string) *fiber.App {
	t.Helper()

	cfg := &config.ProductionConfig{
		Server:     config.ServerConfig{BodyLimit: 1 << 20, ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second},
		Security:   config.SecurityConfig{AllowedOrigins: []string{"http://localhost:3000"}, GlobalRateLimit: 100, RateLimitWindow: time.Minute, XFrameOptions: "DENY"},
		Metrics:    config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Deployment: config.DeploymentConfig{Environment: env},
	}

	tokens, err := services.NewTokenService(time.Hour, "iss", "aud", false, "", "", "0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	logger := zap.NewNop()
	h := Handlers{
		Campaign:    handlers.NewCampaignHandler(nil, logger),
		Tracking:    handlers.NewTrackingHandler(nil, handlers.TrackingPages{}, logger),
		Preferences: handlers.NewPreferencesHandler(nil, logger),
		Analytics:   handlers.NewAnalyticsHandler(nil, logger),
		Learn:       handlers.NewLearnHandler(nil, logger),
		Health:      handlers.NewHealthHandler("test", nil, logger),
	}

	r := NewFiberRouter(cfg, h, middleware.NewAuthMiddleware(tokens, noopUsers{}, logger), middleware.NewRateLimiter(10, 10), logger)
	r.SetupRoutes()
	return r.GetApp()
}

func TestRoutes(t *testing.T) {
	app := newTestRouter(t, "production")

	t.Run("HealthIsPublic", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	})

	t.Run("CampaignsRequireAuth", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("UnknownRoute", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/nope", nil))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

		var body struct {
			Error dto.ErrorDetail `json:"error"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "NOT_FOUND", body.Error.Code)
	})

	t.Run("MetricsExposed", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("SwaggerHiddenInProduction", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/swagger.json", nil))
		require.NoError(t, err)
		assert.NotEqual(t, fiber.StatusOK, resp.StatusCode)
	})
}

func TestSwaggerInDevelopment(t *testing.T) {
	app := newTestRouter(t, "development")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/swagger.json", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "2.0", doc["swagger"])
}
