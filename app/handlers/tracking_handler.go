package handlers

import (
	"net/url"

	businessflow "github.com/amirphl/phishschool/business_flow"
	"github.com/amirphl/phishschool/models"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"go.uber.org/zap"
)

// TrackingPages are the public pages a click is redirected to
type TrackingPages struct {
	WarningURL    string
	LegitimateURL string
	ErrorURL      string
}

// TrackingHandler serves the public, unauthenticated tracking links
type TrackingHandler struct {
	baseHandler
	trackingFlow businessflow.TrackingFlow
	pages        TrackingPages
}

// NewTrackingHandler creates a new tracking handler
func NewTrackingHandler(trackingFlow businessflow.TrackingFlow, pages TrackingPages, logger *zap.Logger) *TrackingHandler {
	return &TrackingHandler{
		baseHandler:  newBaseHandler(logger),
		trackingFlow: trackingFlow,
		pages:        pages,
	}
}

func wantsJSON(c fiber.Ctx) bool {
	return c.Accepts(fiber.MIMETextHTML, fiber.MIMEApplicationJSON) == fiber.MIMEApplicationJSON
}

func withTrackingID(page, trackingID string) string {
	u, err := url.Parse(page)
	if err != nil {
		return page
	}
	q := u.Query()
	q.Set("id", trackingID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Click records a click on a tracking link
// @Summary Record Click
// @Description Logs the click and redirects to the training page, or returns the details as JSON
// @Tags Tracking
// @Produce json
// @Param tracking_id path string true "Tracking id"
// @Success 200 {object} dto.APIResponse{data=dto.TrackingDetailsResponse}
// @Success 302 "Redirect to the warning or legitimate page"
// @Failure 404 {object} dto.APIResponse "Not found"
// @Router /track/{tracking_id} [get]
func (h *TrackingHandler) Click(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	trackingID := c.Params("tracking_id")
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(requestid.FromContext(c))

	details, err := h.trackingFlow.RecordClick(ctx, trackingID, metadata)
	if err != nil {
		if !wantsJSON(c) && businessflow.IsTrackingNotFound(err) && h.pages.ErrorURL != "" {
			return c.Redirect().Status(fiber.StatusFound).To(h.pages.ErrorURL)
		}
		return h.BusinessErrorResponse(ctx, c, err, "Failed to record click")
	}

	if wantsJSON(c) {
		return h.SuccessResponse(c, fiber.StatusOK, "Click recorded", details)
	}

	target := h.pages.WarningURL
	if details.EmailType == string(models.EmailTypeLegitimate) {
		target = h.pages.LegitimateURL
	}
	return c.Redirect().Status(fiber.StatusFound).To(withTrackingID(target, details.TrackingID))
}

// Details returns the click details without logging a click
// @Summary Tracking Details
// @Tags Tracking
// @Produce json
// @Param tracking_id path string true "Tracking id"
// @Success 200 {object} dto.APIResponse{data=dto.TrackingDetailsResponse}
// @Failure 404 {object} dto.APIResponse "Not found"
// @Router /track/{tracking_id}/details [get]
func (h *TrackingHandler) Details(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	details, err := h.trackingFlow.Lookup(ctx, c.Params("tracking_id"))
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to load tracking details")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Tracking details retrieved", details)
}

// Report flags the email behind a tracking link as phishing
// @Summary Report Phishing
// @Tags Tracking
// @Produce json
// @Param tracking_id path string true "Tracking id"
// @Success 200 {object} dto.APIResponse{data=dto.ReportPhishingResponse}
// @Failure 404 {object} dto.APIResponse "Not found"
// @Router /track/{tracking_id}/report [post]
func (h *TrackingHandler) Report(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.trackingFlow.ReportPhishing(ctx, c.Params("tracking_id"))
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to report phishing")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}
