package handlers

import (
	"context"
	"strconv"

	"github.com/amirphl/phishschool/app/dto"
	businessflow "github.com/amirphl/phishschool/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// CampaignHandlerInterface defines the contract for campaign handlers
type CampaignHandlerInterface interface {
	CreateCampaign(c fiber.Ctx) error
	ListCampaigns(c fiber.Ctx) error
	GetCampaign(c fiber.Ctx) error
	UpdateCampaign(c fiber.Ctx) error
	PauseCampaign(c fiber.Ctx) error
	ResumeCampaign(c fiber.Ctx) error
	DeleteCampaign(c fiber.Ctx) error
	ListCampaignEmails(c fiber.Ctx) error
	RetryCampaignEmail(c fiber.Ctx) error
	SendNow(c fiber.Ctx) error
}

// CampaignHandler handles campaign-related HTTP requests
type CampaignHandler struct {
	baseHandler
	campaignFlow businessflow.CampaignFlow
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignFlow businessflow.CampaignFlow, logger *zap.Logger) *CampaignHandler {
	return &CampaignHandler{
		baseHandler:  newBaseHandler(logger),
		campaignFlow: campaignFlow,
	}
}

// CreateCampaign handles the campaign creation process
// @Summary Create Campaign
// @Description Create a training campaign and plan its emails
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param request body dto.CreateCampaignRequest true "Campaign creation data"
// @Success 201 {object} dto.APIResponse{data=dto.CreateCampaignResponse} "Campaign created successfully"
// @Failure 400 {object} dto.APIResponse "Validation error or invalid configuration"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/campaigns [post]
func (h *CampaignHandler) CreateCampaign(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	var req dto.CreateCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", nil)
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}
	req.UserID = userID

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.campaignFlow.CreateCampaign(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Campaign creation failed")
	}

	return h.SuccessResponse(c, fiber.StatusCreated, result.Message, result)
}

// ListCampaigns lists the user's campaigns
// @Summary List Campaigns
// @Tags Campaigns
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Items per page" default(10)
// @Param orderby query string false "newest or oldest" default(newest)
// @Param status query string false "active, paused or completed"
// @Success 200 {object} dto.APIResponse{data=dto.ListCampaignsResponse}
// @Failure 400 {object} dto.APIResponse "Invalid query"
// @Router /api/v1/campaigns [get]
func (h *CampaignHandler) ListCampaigns(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	req := dto.ListCampaignsRequest{
		UserID:  userID,
		Page:    queryInt(c, "page", 1),
		Limit:   queryInt(c, "limit", 10),
		OrderBy: c.Query("orderby", "newest"),
	}
	if status := c.Query("status"); status != "" {
		req.Filter = &dto.ListCampaignsFilter{Status: &status}
		if ok, err := h.validate(c, req.Filter); !ok {
			return err
		}
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.campaignFlow.ListCampaigns(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to list campaigns")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// GetCampaign returns one campaign with its counters
// @Summary Get Campaign
// @Tags Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.GetCampaignResponse}
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Router /api/v1/campaigns/{uuid} [get]
func (h *CampaignHandler) GetCampaign(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.campaignFlow.GetCampaign(ctx, &dto.GetCampaignRequest{UUID: c.Params("uuid"), UserID: userID})
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to retrieve campaign")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign retrieved successfully", result)
}

// UpdateCampaign handles the campaign update process
// @Summary Update Campaign
// @Description Rename a campaign or change its schedule; schedule changes re-plan unsent emails
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Param request body dto.UpdateCampaignRequest true "Campaign update data"
// @Success 200 {object} dto.APIResponse{data=dto.UpdateCampaignResponse}
// @Failure 400 {object} dto.APIResponse "Validation error or invalid configuration"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 409 {object} dto.APIResponse "Campaign completed or count below dispatched"
// @Router /api/v1/campaigns/{uuid} [put]
func (h *CampaignHandler) UpdateCampaign(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	var req dto.UpdateCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", nil)
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}
	req.UUID = c.Params("uuid")
	req.UserID = userID

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.campaignFlow.UpdateCampaign(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Campaign update failed")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// PauseCampaign stops dispatching for a campaign
// @Summary Pause Campaign
// @Tags Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.ChangeCampaignStatusResponse}
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 409 {object} dto.APIResponse "Campaign is not active"
// @Router /api/v1/campaigns/{uuid}/pause [post]
func (h *CampaignHandler) PauseCampaign(c fiber.Ctx) error {
	return h.changeStatus(c, h.campaignFlow.PauseCampaign, "Failed to pause campaign")
}

// ResumeCampaign restarts dispatching for a paused campaign
// @Summary Resume Campaign
// @Tags Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.ChangeCampaignStatusResponse}
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 409 {object} dto.APIResponse "Campaign is completed or already active"
// @Router /api/v1/campaigns/{uuid}/resume [post]
func (h *CampaignHandler) ResumeCampaign(c fiber.Ctx) error {
	return h.changeStatus(c, h.campaignFlow.ResumeCampaign, "Failed to resume campaign")
}

func (h *CampaignHandler) changeStatus(
	c fiber.Ctx,
	change func(ctx context.Context, req *dto.ChangeCampaignStatusRequest) (*dto.ChangeCampaignStatusResponse, error),
	failure string,
) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := change(ctx, &dto.ChangeCampaignStatusRequest{UUID: c.Params("uuid"), UserID: userID})
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, failure)
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// DeleteCampaign removes a campaign with its emails and click log
// @Summary Delete Campaign
// @Tags Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.DeleteCampaignResponse}
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Router /api/v1/campaigns/{uuid} [delete]
func (h *CampaignHandler) DeleteCampaign(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.campaignFlow.DeleteCampaign(ctx, &dto.GetCampaignRequest{UUID: c.Params("uuid"), UserID: userID})
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to delete campaign")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// ListCampaignEmails lists a campaign's planned and sent emails
// @Summary List Campaign Emails
// @Tags Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.ListCampaignEmailsResponse}
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Router /api/v1/campaigns/{uuid}/emails [get]
func (h *CampaignHandler) ListCampaignEmails(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.campaignFlow.ListCampaignEmails(ctx, &dto.GetCampaignRequest{UUID: c.Params("uuid"), UserID: userID})
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to list campaign emails")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// RetryCampaignEmail puts a failed email back into the dispatch queue
// @Summary Retry Failed Email
// @Tags Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Param tracking_id path string true "Tracking id of the email"
// @Success 200 {object} dto.APIResponse{data=dto.RetryCampaignEmailResponse}
// @Failure 404 {object} dto.APIResponse "Campaign or email not found"
// @Failure 409 {object} dto.APIResponse "Email is not failed or campaign completed"
// @Router /api/v1/campaigns/{uuid}/emails/{tracking_id}/retry [post]
func (h *CampaignHandler) RetryCampaignEmail(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.campaignFlow.RetryCampaignEmail(ctx, &dto.RetryCampaignEmailRequest{
		UUID:       c.Params("uuid"),
		UserID:     userID,
		TrackingID: c.Params("tracking_id"),
	})
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Failed to retry email")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// SendNow creates a one-email campaign and dispatches it immediately
// @Summary Send One Now
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param request body dto.SendNowRequest false "Overrides for the single email"
// @Success 201 {object} dto.APIResponse{data=dto.SendNowResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 422 {object} dto.APIResponse "No email address on file"
// @Router /api/v1/campaigns/send-now [post]
func (h *CampaignHandler) SendNow(c fiber.Ctx) error {
	userID, ok, err := h.userID(c)
	if !ok {
		return err
	}

	var req dto.SendNowRequest
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

	result, err := h.campaignFlow.SendNow(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(ctx, c, err, "Send now failed")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, result.Message, result)
}

func queryInt(c fiber.Ctx, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
