package handlers

import (
	businessflow "github.com/amirphl/phishschool/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AnalyticsHandler serves campaign and user analytics
type AnalyticsHandler struct {
	baseHandler
	analyticsFlow businessflow.AnalyticsFlow
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(analyticsFlow businessflow.AnalyticsFlow, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		baseHandler:   newBaseHandler(logger),
		analyticsFlow: analyticsFlow,
	}
}

// CampaignStats returns click and detection rates for one campaign
// @Summary Campaign Stats
// @Tags Analytics
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignStatsResponse}
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Router /api/v1/campaigns/{uuid}/stats [get]
func (h *AnalyticsHandler) CampaignStats(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.analyticsFlow.CampaignStats(ctx, userID, c.Params("uuid"))
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to compute campaign stats")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign stats retrieved successfully", result)
}

// UserAnalytics returns the caller's cross-campaign rollup
// @Summary My Analytics
// @Tags Analytics
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.UserAnalyticsResponse}
// @Router /api/v1/analytics/me [get]
func (h *AnalyticsHandler) UserAnalytics(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.analyticsFlow.UserAnalytics(ctx, userID)
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to compute analytics")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Analytics retrieved successfully", result)
}

// ExportCampaignReport downloads a campaign report as an xlsx workbook
// @Summary Export Campaign Report
// @Tags Analytics
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param uuid path string true "Campaign UUID"
// @Success 200 {file} file
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Router /api/v1/campaigns/{uuid}/report [get]
func (h *AnalyticsHandler) ExportCampaignReport(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	name, data, err := h.analyticsFlow.ExportCampaignReport(ctx, userID, c.Params("uuid"))
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to export campaign report")
	}

	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Attachment(name)
	return c.Status(fiber.StatusOK).Send(data)
}
