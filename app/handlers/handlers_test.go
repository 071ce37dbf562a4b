package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amirphl/phishschool/app/dto"
	businessflow "github.com/amirphl/phishschool/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testUserID uint = 7

// stubCampaignFlow embeds the interface so only the methods under test need bodies
type stubCampaignFlow struct {
	businessflow.CampaignFlow
	created *dto.CreateCampaignRequest
	getErr  error
}

func (s *stubCampaignFlow) CreateCampaign(_ context.Context, req *dto.CreateCampaignRequest) (*dto.CreateCampaignResponse, error) {
	s.created = req
	return &dto.CreateCampaignResponse{Message: "Campaign created successfully", EmailsPlanned: 3}, nil
}

func (s *stubCampaignFlow) GetCampaign(_ context.Context, _ *dto.GetCampaignRequest) (*dto.GetCampaignResponse, error) {
	return nil, s.getErr
}

type stubTrackingFlow struct {
	businessflow.TrackingFlow
	details *dto.TrackingDetailsResponse
	err     error
	meta    *businessflow.ClientMetadata
}

func (s *stubTrackingFlow) RecordClick(_ context.Context, _ string, metadata *businessflow.ClientMetadata) (*dto.TrackingDetailsResponse, error) {
	s.meta = metadata
	return s.details, s.err
}

func (s *stubTrackingFlow) ReportPhishing(_ context.Context, trackingID string) (*dto.ReportPhishingResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &dto.ReportPhishingResponse{Message: "Thanks for reporting", TrackingID: trackingID, ReportedAt: time.Now()}, nil
}

type stubAnalyticsFlow struct {
	businessflow.AnalyticsFlow
}

func (stubAnalyticsFlow) ExportCampaignReport(_ context.Context, _ uint, campaignUUID string) (string, []byte, error) {
	return "campaign-" + campaignUUID + ".xlsx", []byte("PK"), nil
}

type stubLearnFlow struct {
	businessflow.LearnFlow
	attempt *dto.RecordAttemptRequest
}

func (s *stubLearnFlow) RecordAttempt(_ context.Context, req *dto.RecordAttemptRequest) (*dto.ScoreResponse, error) {
	s.attempt = req
	return &dto.ScoreResponse{LearnAttempted: 1, LearnCorrect: 1, Accuracy: 100}, nil
}

func (s *stubLearnFlow) GenerateSample(_ context.Context, _ *dto.GenerateSampleRequest) (*dto.SampleResponse, error) {
	return nil, businessflow.NewBusinessError("GENERATION_FAILED", "Content generation failed", businessflow.ErrGenerationFailed)
}

func newTestApp(authenticated bool) *fiber.App {
	app := fiber.New()
	if authenticated {
		app.Use(func(c fiber.Ctx) error {
			c.Locals("user_id", testUserID)
			return c.Next()
		})
	}
	return app
}

func decode(t *testing.T, resp *http.Response) dto.APIResponse {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body dto.APIResponse
	require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	return body
}

func errorCode(t *testing.T, body dto.APIResponse) string {
	t.Helper()
	detail, ok := body.Error.(map[string]any)
	require.True(t, ok, "error detail missing: %#v", body.Error)
	code, _ := detail["code"].(string)
	return code
}

func TestCreateCampaign(t *testing.T) {
	flow := &stubCampaignFlow{}
	h := NewCampaignHandler(flow, zap.NewNop())

	t.Run("Created", func(t *testing.T) {
		app := newTestApp(true)
		app.Post("/campaigns", h.CreateCampaign)

		req := httptest.NewRequest(http.MethodPost, "/campaigns", strings.NewReader(`{"name":"Q4","email_frequency":"weekly"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)

		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
		body := decode(t, resp)
		assert.True(t, body.Success)
		require.NotNil(t, flow.created)
		assert.Equal(t, testUserID, flow.created.UserID)
		assert.Equal(t, "Q4", flow.created.Name)
	})

	t.Run("ValidationError", func(t *testing.T) {
		app := newTestApp(true)
		app.Post("/campaigns", h.CreateCampaign)

		req := httptest.NewRequest(http.MethodPost, "/campaigns", strings.NewReader(`{"name":"Q4","email_frequency":"hourly"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)

		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, decode(t, resp)))
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		app := newTestApp(false)
		app.Post("/campaigns", h.CreateCampaign)

		req := httptest.NewRequest(http.MethodPost, "/campaigns", strings.NewReader(`{"name":"Q4"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)

		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})
}

func TestBusinessErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "NotFound",
			err:        businessflow.NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", businessflow.ErrCampaignNotFound),
			wantStatus: fiber.StatusNotFound,
			wantCode:   "CAMPAIGN_NOT_FOUND",
		},
		{
			name:       "Completed",
			err:        businessflow.NewBusinessError("CAMPAIGN_COMPLETED", "Campaign is completed", businessflow.ErrCampaignCompleted),
			wantStatus: fiber.StatusConflict,
			wantCode:   "CAMPAIGN_COMPLETED",
		},
		{
			name:       "InvalidConfig",
			err:        businessflow.NewBusinessError("INVALID_CAMPAIGN_CONFIG", "email_count too large", businessflow.ErrInvalidCampaignConfig),
			wantStatus: fiber.StatusBadRequest,
			wantCode:   "INVALID_CAMPAIGN_CONFIG",
		},
		{
			name:       "Unexpected",
			err:        errors.New("connection reset"),
			wantStatus: fiber.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewCampaignHandler(&stubCampaignFlow{getErr: tt.err}, zap.NewNop())
			app := newTestApp(true)
			app.Get("/campaigns/:uuid", h.GetCampaign)

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/campaigns/2f0c7a1e-8d55-4b1e-9a57-3c1f2e3d4b5a", nil))
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			body := decode(t, resp)
			assert.False(t, body.Success)
			assert.Equal(t, tt.wantCode, errorCode(t, body))
			assert.NotContains(t, body.Message, "connection reset")
		})
	}
}

func TestTrackingClick(t *testing.T) {
	pages := TrackingPages{
		WarningURL:    "https://app.example.com/warning",
		LegitimateURL: "https://app.example.com/legit",
		ErrorURL:      "https://app.example.com/oops",
	}

	t.Run("PhishingRedirectsToWarning", func(t *testing.T) {
		flow := &stubTrackingFlow{details: &dto.TrackingDetailsResponse{TrackingID: "abc", EmailType: "phishing"}}
		app := newTestApp(false)
		app.Get("/track/:tracking_id", NewTrackingHandler(flow, pages, zap.NewNop()).Click)

		req := httptest.NewRequest(http.MethodGet, "/track/abc", nil)
		req.Header.Set("Accept", "text/html")
		req.Header.Set("User-Agent", "unit-test")
		resp, err := app.Test(req)
		require.NoError(t, err)

		assert.Equal(t, fiber.StatusFound, resp.StatusCode)
		assert.Equal(t, "https://app.example.com/warning?id=abc", resp.Header.Get("Location"))
		require.NotNil(t, flow.meta)
		assert.Equal(t, "unit-test", flow.meta.UserAgent)
	})

	t.Run("LegitimateRedirectsToLegitPage", func(t *testing.T) {
		flow := &stubTrackingFlow{details: &dto.TrackingDetailsResponse{TrackingID: "xyz", EmailType: "legitimate"}}
		app := newTestApp(false)
		app.Get("/track/:tracking_id", NewTrackingHandler(flow, pages, zap.NewNop()).Click)

		req := httptest.NewRequest(http.MethodGet, "/track/xyz", nil)
		req.Header.Set("Accept", "text/html")
		resp, err := app.Test(req)
		require.NoError(t, err)

		assert.Equal(t, fiber.StatusFound, resp.StatusCode)
		assert.Equal(t, "https://app.example.com/legit?id=xyz", resp.Header.Get("Location"))
	})

	t.Run("JSONClientGetsDetails", func(t *testing.T) {
		flow := &stubTrackingFlow{details: &dto.TrackingDetailsResponse{TrackingID: "abc", EmailType: "phishing", FirstClick: true}}
		app := newTestApp(false)
		app.Get("/track/:tracking_id", NewTrackingHandler(flow, pages, zap.NewNop()).Click)

		req := httptest.NewRequest(http.MethodGet, "/track/abc", nil)
		req.Header.Set("Accept", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)

		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		body := decode(t, resp)
		assert.True(t, body.Success)
		data, ok := body.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, true, data["first_click"])
	})

	t.Run("UnknownIDRedirectsToErrorPage", func(t *testing.T) {
		flow := &stubTrackingFlow{err: businessflow.NewBusinessError("TRACKING_NOT_FOUND", "Tracking id not found", businessflow.ErrTrackingNotFound)}
		app := newTestApp(false)
		app.Get("/track/:tracking_id", NewTrackingHandler(flow, pages, zap.NewNop()).Click)

		req := httptest.NewRequest(http.MethodGet, "/track/nope", nil)
		req.Header.Set("Accept", "text/html")
		resp, err := app.Test(req)
		require.NoError(t, err)

		assert.Equal(t, fiber.StatusFound, resp.StatusCode)
		assert.Equal(t, pages.ErrorURL, resp.Header.Get("Location"))
	})

	t.Run("UnknownIDAsJSONIsGeneric404", func(t *testing.T) {
		flow := &stubTrackingFlow{err: businessflow.NewBusinessError("TRACKING_NOT_FOUND", "Tracking id not found", businessflow.ErrTrackingNotFound)}
		app := newTestApp(false)
		app.Get("/track/:tracking_id", NewTrackingHandler(flow, pages, zap.NewNop()).Click)

		req := httptest.NewRequest(http.MethodGet, "/track/nope", nil)
		req.Header.Set("Accept", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)

		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
		body := decode(t, resp)
		assert.Equal(t, "NOT_FOUND", errorCode(t, body))
		assert.Equal(t, "Not found", body.Message)
	})
}

func TestTrackingReport(t *testing.T) {
	flow := &stubTrackingFlow{}
	app := newTestApp(false)
	app.Post("/track/:tracking_id/report", NewTrackingHandler(flow, TrackingPages{}, zap.NewNop()).Report)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/track/abc/report", nil))
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "Thanks for reporting", body.Message)
}

func TestExportCampaignReport(t *testing.T) {
	app := newTestApp(true)
	app.Get("/campaigns/:uuid/report", NewAnalyticsHandler(stubAnalyticsFlow{}, zap.NewNop()).ExportCampaignReport)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/campaigns/c1/report", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "campaign-c1.xlsx")
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "PK", string(raw))
}

func TestLearnHandlers(t *testing.T) {
	flow := &stubLearnFlow{}
	h := NewLearnHandler(flow, zap.NewNop())
	app := newTestApp(true)
	app.Post("/learn/attempts", h.RecordAttempt)
	app.Post("/learn/samples", h.GenerateSample)

	t.Run("AttemptRequiresCorrectFlag", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/learn/attempts", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("AttemptRecorded", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/learn/attempts", strings.NewReader(`{"correct":false}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)

		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		require.NotNil(t, flow.attempt)
		require.NotNil(t, flow.attempt.Correct)
		assert.False(t, *flow.attempt.Correct)
		assert.Equal(t, testUserID, flow.attempt.UserID)
	})

	t.Run("GenerationFailureIsBadGateway", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/learn/samples", strings.NewReader(`{"message_type":"sms","content_type":"phishing"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)

		assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
		assert.Equal(t, "GENERATION_FAILED", errorCode(t, decode(t, resp)))
	})
}

func TestHealth(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		h := NewHealthHandler("test", map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
		}, zap.NewNop())
		app := newTestApp(false)
		app.Get("/health", h.Health)

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("Degraded", func(t *testing.T) {
		h := NewHealthHandler("test", map[string]HealthCheck{
			"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
		}, zap.NewNop())
		app := newTestApp(false)
		app.Get("/health", h.Health)

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
		body := decode(t, resp)
		data, ok := body.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "degraded", data["status"])
	})
}
