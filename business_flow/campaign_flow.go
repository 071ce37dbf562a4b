package businessflow

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/amirphl/phishschool/app/dto"
	"github.com/amirphl/phishschool/app/services"
	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/repository"
	"github.com/amirphl/phishschool/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// CampaignFlow handles the training campaign business logic
type CampaignFlow interface {
	CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest) (*dto.CreateCampaignResponse, error)
	UpdateCampaign(ctx context.Context, req *dto.UpdateCampaignRequest) (*dto.UpdateCampaignResponse, error)
	GetCampaign(ctx context.Context, req *dto.GetCampaignRequest) (*dto.GetCampaignResponse, error)
	ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error)
	PauseCampaign(ctx context.Context, req *dto.ChangeCampaignStatusRequest) (*dto.ChangeCampaignStatusResponse, error)
	ResumeCampaign(ctx context.Context, req *dto.ChangeCampaignStatusRequest) (*dto.ChangeCampaignStatusResponse, error)
	DeleteCampaign(ctx context.Context, req *dto.GetCampaignRequest) (*dto.DeleteCampaignResponse, error)
	ListCampaignEmails(ctx context.Context, req *dto.GetCampaignRequest) (*dto.ListCampaignEmailsResponse, error)
	RetryCampaignEmail(ctx context.Context, req *dto.RetryCampaignEmailRequest) (*dto.RetryCampaignEmailResponse, error)
	SendNow(ctx context.Context, req *dto.SendNowRequest) (*dto.SendNowResponse, error)
	// StartFromPreferences creates a default campaign unless the user already has an unfinished one
	StartFromPreferences(ctx context.Context, userID uint, prefs *models.UserEmailPreferences) (*models.Campaign, *ScheduleOverflow, error)
}

// CampaignFlowConfig holds the campaign defaults
type CampaignFlowConfig struct {
	LegitimateFraction  float64
	DefaultEmailCount   int
	DefaultDurationDays int
}

// CampaignFlowImpl implements the campaign business flow
type CampaignFlowImpl struct {
	campaignRepo repository.CampaignRepository
	emailRepo    repository.CampaignEmailRepository
	userRepo     repository.UserRepository
	prefsRepo    repository.UserEmailPreferencesRepository
	orchestrator ContentOrchestrator
	dispatcher   Dispatcher
	tx           repository.Transactor
	cache        services.AnalyticsCache
	cfg          CampaignFlowConfig
	clock        utils.Clock
	logger       *zap.Logger
}

// NewCampaignFlow creates a new campaign flow instance
func NewCampaignFlow(
	campaignRepo repository.CampaignRepository,
	emailRepo repository.CampaignEmailRepository,
	userRepo repository.UserRepository,
	prefsRepo repository.UserEmailPreferencesRepository,
	orchestrator ContentOrchestrator,
	dispatcher Dispatcher,
	tx repository.Transactor,
	cache services.AnalyticsCache,
	cfg CampaignFlowConfig,
	clock utils.Clock,
	logger *zap.Logger,
) CampaignFlow {
	if cfg.DefaultEmailCount <= 0 {
		cfg.DefaultEmailCount = utils.DefaultEmailCount
	}
	if cfg.DefaultDurationDays <= 0 {
		cfg.DefaultDurationDays = utils.DefaultDurationDays
	}
	if cache == nil {
		cache = services.NoopAnalyticsCache{}
	}
	if clock == nil {
		clock = utils.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CampaignFlowImpl{
		campaignRepo: campaignRepo,
		emailRepo:    emailRepo,
		userRepo:     userRepo,
		prefsRepo:    prefsRepo,
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		tx:           tx,
		cache:        cache,
		cfg:          cfg,
		clock:        clock,
		logger:       logger.Named("campaigns"),
	}
}

// CreateCampaign validates the configuration, persists the campaign and materializes its schedule
func (s *CampaignFlowImpl) CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest) (*dto.CreateCampaignResponse, error) {
	owner, err := getUser(ctx, s.userRepo, req.UserID)
	if err != nil {
		return nil, err
	}
	prefs, err := loadPreferences(ctx, s.prefsRepo, req.UserID)
	if err != nil {
		return nil, NewBusinessError("PREFERENCES_LOOKUP_FAILED", "Failed to load preferences", err)
	}

	cfg := CampaignConfig{
		EmailFrequency:  prefs.EmailFrequency,
		DifficultyLevel: prefs.DifficultyLevel,
		PreferredThemes: []string(prefs.PreferredThemes),
		EmailCount:      s.cfg.DefaultEmailCount,
		DurationDays:    s.cfg.DefaultDurationDays,
	}
	if req.EmailFrequency != nil {
		cfg.EmailFrequency = models.EmailFrequency(*req.EmailFrequency)
	}
	if req.DifficultyLevel != nil {
		cfg.DifficultyLevel = models.DifficultyLevel(*req.DifficultyLevel)
	}
	if req.PreferredThemes != nil {
		cfg.PreferredThemes = req.PreferredThemes
	}
	if req.EmailCount != nil {
		cfg.EmailCount = *req.EmailCount
	}
	if req.DurationDays != nil {
		cfg.DurationDays = *req.DurationDays
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, NewBusinessError("INVALID_CAMPAIGN_CONFIG", "name must not be empty", newConfigError("name", "must not be empty"))
	}

	campaign, overflow, result, err := s.start(ctx, owner, name, cfg)
	if err != nil {
		return nil, err
	}

	resp := &dto.CreateCampaignResponse{
		Message:          "Campaign created successfully",
		Campaign:         ToCampaignDTO(campaign),
		ScheduleOverflow: toOverflowDTO(overflow),
	}
	if result != nil {
		resp.EmailsPlanned = result.Created
		resp.EmailsSkipped = result.Skipped
	}
	return resp, nil
}

// StartFromPreferences is used by opt-in
func (s *CampaignFlowImpl) StartFromPreferences(ctx context.Context, userID uint, prefs *models.UserEmailPreferences) (*models.Campaign, *ScheduleOverflow, error) {
	owner, err := getUser(ctx, s.userRepo, userID)
	if err != nil {
		return nil, nil, err
	}

	unfinished, err := s.campaignRepo.Exists(ctx, models.CampaignFilter{
		UserID:   &userID,
		Statuses: []models.CampaignStatus{models.CampaignStatusActive, models.CampaignStatusPaused},
	})
	if err != nil {
		return nil, nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaigns", err)
	}
	if unfinished {
		return nil, nil, nil
	}

	cfg := CampaignConfig{
		EmailFrequency:  prefs.EmailFrequency,
		DifficultyLevel: prefs.DifficultyLevel,
		PreferredThemes: []string(prefs.PreferredThemes),
		EmailCount:      s.cfg.DefaultEmailCount,
		DurationDays:    s.cfg.DefaultDurationDays,
	}
	campaign, overflow, _, err := s.start(ctx, owner, "Phishing awareness training", cfg)
	if err != nil {
		return nil, nil, err
	}
	return campaign, overflow, nil
}

// start persists a new active campaign and materializes its slots. Materialization failures
// are logged only: the dispatcher replenishes under-materialized campaigns.
func (s *CampaignFlowImpl) start(ctx context.Context, owner *models.User, name string, cfg CampaignConfig) (*models.Campaign, *ScheduleOverflow, *MaterializeResult, error) {
	cfg.PreferredThemes = cleanThemes(cfg.PreferredThemes)
	if err := ValidateCampaignConfig(cfg); err != nil {
		return nil, nil, nil, NewBusinessError("INVALID_CAMPAIGN_CONFIG", ConfigErrorReason(err), err)
	}
	effective, overflow := ClampEmailCount(cfg)

	campaign := &models.Campaign{
		UUID:            uuid.New(),
		UserID:          owner.ID,
		Name:            name,
		Status:          models.CampaignStatusActive,
		EmailFrequency:  cfg.EmailFrequency,
		DifficultyLevel: cfg.DifficultyLevel,
		PreferredThemes: pq.StringArray(cfg.PreferredThemes),
		EmailCount:      effective,
		DurationDays:    cfg.DurationDays,
		CreatedAt:       s.clock.Now().UTC(),
	}
	if err := s.campaignRepo.Save(ctx, campaign); err != nil {
		return nil, nil, nil, NewBusinessError("CAMPAIGN_CREATION_FAILED", "Campaign creation failed", err)
	}
	if overflow != nil {
		s.logger.Info("email count clamped to fit the campaign duration",
			zap.String("campaign", campaign.UUID.String()),
			zap.Int("requested", overflow.Requested),
			zap.Int("effective", overflow.Effective),
		)
	}

	result := s.materialize(ctx, campaign, owner.Email, time.Time{})
	if result != nil && result.Created == 0 && result.Skipped > 0 {
		// every slot was skipped, nothing is left to dispatch
		if done, err := s.campaignRepo.CompleteIfResolved(ctx, campaign.ID); err == nil && done {
			campaign.Status = models.CampaignStatusCompleted
		}
	}
	s.invalidate(ctx, campaign.UserID, campaign.ID)
	return campaign, overflow, result, nil
}

// materialize fills missing slots of an active campaign. A non-zero respaceFrom pushes pending
// rows to that instant or later so a resume does not burst; the first of them also stays one
// step after the latest email already sent.
func (s *CampaignFlowImpl) materialize(ctx context.Context, campaign *models.Campaign, recipient string, respaceFrom time.Time) *MaterializeResult {
	schedule, err := GenerateSchedule(campaign, campaign.CreatedAt, s.cfg.LegitimateFraction)
	if err != nil {
		s.logger.Warn("cannot plan campaign", zap.Uint("campaign_id", campaign.ID), zap.Error(err))
		return nil
	}
	result, err := s.orchestrator.MaterializeSchedule(ctx, campaign, schedule, recipient)
	if err != nil {
		s.logger.Error("materialization interrupted, the dispatcher will replenish",
			zap.Uint("campaign_id", campaign.ID),
			zap.Error(err),
		)
	}
	if !respaceFrom.IsZero() {
		if last, err := s.lastSentAt(ctx, campaign.ID); err != nil {
			s.logger.Warn("cannot read the latest send time", zap.Uint("campaign_id", campaign.ID), zap.Error(err))
		} else if last != nil && last.Add(schedule.Step).After(respaceFrom) {
			respaceFrom = last.Add(schedule.Step)
		}
		if _, err := s.emailRepo.RescheduleOverdue(ctx, campaign.ID, respaceFrom, schedule.Step); err != nil {
			s.logger.Error("failed to re-space overdue emails", zap.Uint("campaign_id", campaign.ID), zap.Error(err))
		}
	}
	return result
}

func (s *CampaignFlowImpl) lastSentAt(ctx context.Context, campaignID uint) (*time.Time, error) {
	emails, err := s.emailRepo.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	var last *time.Time
	for _, e := range emails {
		if e.SentAt != nil && (last == nil || e.SentAt.After(*last)) {
			last = e.SentAt
		}
	}
	return last, nil
}

// UpdateCampaign applies the provided fields. Schedule fields re-plan the unsent part of the campaign.
func (s *CampaignFlowImpl) UpdateCampaign(ctx context.Context, req *dto.UpdateCampaignRequest) (*dto.UpdateCampaignResponse, error) {
	if req.Name == nil && req.EmailFrequency == nil && req.DifficultyLevel == nil &&
		req.PreferredThemes == nil && req.EmailCount == nil && req.DurationDays == nil {
		return nil, NewBusinessError("CAMPAIGN_UPDATE_REQUIRED", "At least one field must be provided", ErrCampaignUpdateRequired)
	}

	campaign, err := getOwnedCampaign(ctx, s.campaignRepo, req.UUID, req.UserID)
	if err != nil {
		return nil, err
	}
	if campaign.IsTerminal() {
		return nil, NewBusinessError("CAMPAIGN_COMPLETED", "Completed campaigns cannot be updated", ErrCampaignCompleted)
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, NewBusinessError("INVALID_CAMPAIGN_CONFIG", "name must not be empty", newConfigError("name", "must not be empty"))
		}
		campaign.Name = name
	}

	cfg := CampaignConfig{
		EmailFrequency:  campaign.EmailFrequency,
		DifficultyLevel: campaign.DifficultyLevel,
		PreferredThemes: campaign.Themes(),
		EmailCount:      campaign.EmailCount,
		DurationDays:    campaign.DurationDays,
	}
	replan := false
	if req.EmailFrequency != nil && models.EmailFrequency(*req.EmailFrequency) != cfg.EmailFrequency {
		cfg.EmailFrequency = models.EmailFrequency(*req.EmailFrequency)
		replan = true
	}
	if req.DifficultyLevel != nil && models.DifficultyLevel(*req.DifficultyLevel) != cfg.DifficultyLevel {
		cfg.DifficultyLevel = models.DifficultyLevel(*req.DifficultyLevel)
		replan = true
	}
	if req.PreferredThemes != nil {
		themes := cleanThemes(req.PreferredThemes)
		if !slices.Equal(themes, cfg.PreferredThemes) {
			cfg.PreferredThemes = themes
			replan = true
		}
	}
	if req.EmailCount != nil && *req.EmailCount != cfg.EmailCount {
		cfg.EmailCount = *req.EmailCount
		replan = true
	}
	if req.DurationDays != nil && *req.DurationDays != cfg.DurationDays {
		cfg.DurationDays = *req.DurationDays
		replan = true
	}

	var overflow *ScheduleOverflow
	if replan {
		if err := ValidateCampaignConfig(cfg); err != nil {
			return nil, NewBusinessError("INVALID_CAMPAIGN_CONFIG", ConfigErrorReason(err), err)
		}
		var effective int
		effective, overflow = ClampEmailCount(cfg)

		resolved, err := s.emailRepo.CountResolved(ctx, campaign.ID)
		if err != nil {
			return nil, NewBusinessError("CAMPAIGN_UPDATE_FAILED", "Campaign update failed", err)
		}
		if int64(effective) < resolved {
			return nil, NewBusinessErrorf("EMAIL_COUNT_BELOW_DISPATCHED",
				"email_count must be at least %d", ErrEmailCountBelowDispatched, resolved)
		}

		campaign.EmailFrequency = cfg.EmailFrequency
		campaign.DifficultyLevel = cfg.DifficultyLevel
		campaign.PreferredThemes = pq.StringArray(cfg.PreferredThemes)
		campaign.EmailCount = effective
		campaign.DurationDays = cfg.DurationDays
	}

	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.campaignRepo.Update(txCtx, campaign); err != nil {
			return err
		}
		if replan {
			if _, err := s.emailRepo.DeletePending(txCtx, campaign.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_UPDATE_FAILED", "Campaign update failed", err)
	}

	if replan {
		if campaign.Status == models.CampaignStatusActive {
			owner, err := getUser(ctx, s.userRepo, campaign.UserID)
			if err != nil {
				return nil, err
			}
			s.materialize(ctx, campaign, owner.Email, s.clock.Now().UTC())
		}
		if done, err := s.campaignRepo.CompleteIfResolved(ctx, campaign.ID); err != nil {
			s.logger.Error("completion check failed", zap.Uint("campaign_id", campaign.ID), zap.Error(err))
		} else if done {
			campaign.Status = models.CampaignStatusCompleted
		}
		s.invalidate(ctx, campaign.UserID, campaign.ID)
	}

	return &dto.UpdateCampaignResponse{
		Message:          "Campaign updated successfully",
		Campaign:         ToCampaignDTO(campaign),
		ScheduleOverflow: toOverflowDTO(overflow),
		Replanned:        replan,
	}, nil
}

// GetCampaign returns one campaign with its delivery counters
func (s *CampaignFlowImpl) GetCampaign(ctx context.Context, req *dto.GetCampaignRequest) (*dto.GetCampaignResponse, error) {
	campaign, err := getOwnedCampaign(ctx, s.campaignRepo, req.UUID, req.UserID)
	if err != nil {
		return nil, err
	}

	sent, clicked := true, true
	emailsSent, err := s.emailRepo.Count(ctx, models.CampaignEmailFilter{CampaignID: &campaign.ID, Sent: &sent})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	emailsClicked, err := s.emailRepo.Count(ctx, models.CampaignEmailFilter{CampaignID: &campaign.ID, Clicked: &clicked})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}

	return &dto.GetCampaignResponse{
		CampaignDTO:   ToCampaignDTO(campaign),
		EmailsSent:    emailsSent,
		EmailsClicked: emailsClicked,
	}, nil
}

// ListCampaigns retrieves the user's campaigns with pagination
func (s *CampaignFlowImpl) ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error) {
	var err error
	defer func() {
		if err != nil {
			err = NewBusinessError("LIST_CAMPAIGNS_FAILED", "Failed to list campaigns", err)
		}
	}()

	// Normalize pagination
	page := max(1, req.Page)
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	filter := models.CampaignFilter{UserID: &req.UserID}
	if req.Filter != nil && req.Filter.Status != nil && *req.Filter.Status != "" {
		status := models.CampaignStatus(*req.Filter.Status)
		if status.Valid() {
			filter.Status = &status
		}
	}

	orderBy := "created_at DESC"
	if req.OrderBy == "oldest" {
		orderBy = "created_at ASC"
	}

	total64, err := s.campaignRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.campaignRepo.ByFilter(ctx, filter, orderBy, limit, offset)
	if err != nil {
		return nil, err
	}

	items := make([]dto.CampaignDTO, 0, len(rows))
	for _, c := range rows {
		items = append(items, ToCampaignDTO(c))
	}

	totalPages := int((total64 + int64(limit) - 1) / int64(limit))

	return &dto.ListCampaignsResponse{
		Message: "Campaigns retrieved successfully",
		Items:   items,
		Pagination: dto.PaginationInfo{
			Total:      total64,
			Page:       page,
			Limit:      limit,
			TotalPages: totalPages,
		},
	}, nil
}

// PauseCampaign stops dispatch from the next sweep on; sent emails are untouched
func (s *CampaignFlowImpl) PauseCampaign(ctx context.Context, req *dto.ChangeCampaignStatusRequest) (*dto.ChangeCampaignStatusResponse, error) {
	campaign, err := s.transition(ctx, req, models.CampaignStatusActive, models.CampaignStatusPaused)
	if err != nil {
		return nil, err
	}
	return &dto.ChangeCampaignStatusResponse{
		Message: "Campaign paused successfully",
		UUID:    campaign.UUID.String(),
		Status:  string(campaign.Status),
	}, nil
}

// ResumeCampaign reactivates a paused campaign, fills missing slots and re-spaces overdue ones
func (s *CampaignFlowImpl) ResumeCampaign(ctx context.Context, req *dto.ChangeCampaignStatusRequest) (*dto.ChangeCampaignStatusResponse, error) {
	campaign, err := s.transition(ctx, req, models.CampaignStatusPaused, models.CampaignStatusActive)
	if err != nil {
		return nil, err
	}

	owner, err := getUser(ctx, s.userRepo, campaign.UserID)
	if err != nil {
		return nil, err
	}
	s.materialize(ctx, campaign, owner.Email, s.clock.Now().UTC())

	return &dto.ChangeCampaignStatusResponse{
		Message: "Campaign resumed successfully",
		UUID:    campaign.UUID.String(),
		Status:  string(campaign.Status),
	}, nil
}

func (s *CampaignFlowImpl) transition(ctx context.Context, req *dto.ChangeCampaignStatusRequest, from, next models.CampaignStatus) (*models.Campaign, error) {
	campaign, err := getOwnedCampaign(ctx, s.campaignRepo, req.UUID, req.UserID)
	if err != nil {
		return nil, err
	}

	switch campaign.Status {
	case models.CampaignStatusCompleted:
		return nil, NewBusinessError("CAMPAIGN_COMPLETED", "Campaign is already completed", ErrCampaignCompleted)
	case next:
		return nil, NewBusinessErrorf("CAMPAIGN_STATUS_UNCHANGED", "Campaign is already %s", ErrCampaignStatusUnchanged, next)
	}

	ok, err := s.campaignRepo.TransitionStatus(ctx, campaign.ID, []models.CampaignStatus{from}, next)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_STATUS_CHANGE_FAILED", "Failed to change campaign status", err)
	}
	if !ok {
		// lost a race with another writer; report the state that won
		current, err := s.campaignRepo.ByID(ctx, campaign.ID)
		if err != nil || current == nil {
			return nil, NewBusinessError("CAMPAIGN_STATUS_CHANGE_FAILED", "Failed to change campaign status", err)
		}
		if current.Status == models.CampaignStatusCompleted {
			return nil, NewBusinessError("CAMPAIGN_COMPLETED", "Campaign is already completed", ErrCampaignCompleted)
		}
		return nil, NewBusinessErrorf("CAMPAIGN_STATUS_UNCHANGED", "Campaign is already %s", ErrCampaignStatusUnchanged, current.Status)
	}

	campaign.Status = next
	s.invalidate(ctx, campaign.UserID, campaign.ID)
	s.logger.Info("campaign status changed",
		zap.String("campaign", campaign.UUID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
	)
	return campaign, nil
}

// DeleteCampaign removes a campaign together with its emails and click log
func (s *CampaignFlowImpl) DeleteCampaign(ctx context.Context, req *dto.GetCampaignRequest) (*dto.DeleteCampaignResponse, error) {
	campaign, err := getOwnedCampaign(ctx, s.campaignRepo, req.UUID, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.campaignRepo.Delete(ctx, campaign.ID); err != nil {
		return nil, NewBusinessError("CAMPAIGN_DELETE_FAILED", "Failed to delete campaign", err)
	}
	s.invalidate(ctx, campaign.UserID, campaign.ID)
	return &dto.DeleteCampaignResponse{
		Message: "Campaign deleted successfully",
		UUID:    campaign.UUID.String(),
	}, nil
}

// ListCampaignEmails lists a campaign's emails in slot order
func (s *CampaignFlowImpl) ListCampaignEmails(ctx context.Context, req *dto.GetCampaignRequest) (*dto.ListCampaignEmailsResponse, error) {
	campaign, err := getOwnedCampaign(ctx, s.campaignRepo, req.UUID, req.UserID)
	if err != nil {
		return nil, err
	}
	emails, err := s.emailRepo.ListByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_EMAILS_LOOKUP_FAILED", "Failed to list campaign emails", err)
	}

	items := make([]dto.CampaignEmailDTO, 0, len(emails))
	for _, e := range emails {
		items = append(items, ToCampaignEmailDTO(e))
	}
	return &dto.ListCampaignEmailsResponse{
		Message: "Campaign emails retrieved successfully",
		Items:   items,
	}, nil
}

// RetryCampaignEmail moves a failed email back to pending with its attempts reset
func (s *CampaignFlowImpl) RetryCampaignEmail(ctx context.Context, req *dto.RetryCampaignEmailRequest) (*dto.RetryCampaignEmailResponse, error) {
	campaign, err := getOwnedCampaign(ctx, s.campaignRepo, req.UUID, req.UserID)
	if err != nil {
		return nil, err
	}
	if campaign.IsTerminal() {
		return nil, NewBusinessError("CAMPAIGN_COMPLETED", "Emails of completed campaigns cannot be retried", ErrCampaignCompleted)
	}

	email, err := s.emailRepo.ByTrackingID(ctx, req.TrackingID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_EMAIL_LOOKUP_FAILED", "Failed to lookup campaign email", err)
	}
	if email == nil || email.CampaignID != campaign.ID {
		return nil, NewBusinessError("CAMPAIGN_EMAIL_NOT_FOUND", "Campaign email not found", ErrCampaignEmailNotFound)
	}
	if email.DeliveryStatus != models.DeliveryStatusFailed {
		return nil, NewBusinessError("CAMPAIGN_EMAIL_NOT_FAILED", "Only failed emails can be retried", ErrCampaignEmailNotFailed)
	}

	ok, err := s.emailRepo.ResetFailed(ctx, email.ID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_EMAIL_RETRY_FAILED", "Failed to retry campaign email", err)
	}
	if !ok {
		return nil, NewBusinessError("CAMPAIGN_EMAIL_NOT_FAILED", "Only failed emails can be retried", ErrCampaignEmailNotFailed)
	}
	s.invalidate(ctx, campaign.UserID, campaign.ID)

	return &dto.RetryCampaignEmailResponse{
		Message:        "Campaign email queued for retry",
		TrackingID:     email.ClickTrackingID,
		DeliveryStatus: string(models.DeliveryStatusPending),
	}, nil
}

// SendNow runs one schedule, content and dispatch cycle synchronously for a single-slot campaign
func (s *CampaignFlowImpl) SendNow(ctx context.Context, req *dto.SendNowRequest) (*dto.SendNowResponse, error) {
	owner, err := getUser(ctx, s.userRepo, req.UserID)
	if err != nil {
		return nil, err
	}
	if owner.Email == "" {
		return nil, NewBusinessError("USER_EMAIL_MISSING", "No email address on file", ErrUserNotFound)
	}
	prefs, err := loadPreferences(ctx, s.prefsRepo, req.UserID)
	if err != nil {
		return nil, NewBusinessError("PREFERENCES_LOOKUP_FAILED", "Failed to load preferences", err)
	}

	difficulty := prefs.DifficultyLevel
	if req.Difficulty != nil {
		difficulty = models.DifficultyLevel(*req.Difficulty)
	}
	themes := cleanThemes([]string(prefs.PreferredThemes))
	theme := utils.DefaultThemes[0]
	if len(themes) > 0 {
		theme = themes[0]
	}
	if req.Theme != nil && strings.TrimSpace(*req.Theme) != "" {
		theme = strings.TrimSpace(*req.Theme)
	}
	contentType := models.EmailTypePhishing
	if req.ContentType != nil {
		contentType = models.EmailType(*req.ContentType)
	}
	if !difficulty.Valid() || !contentType.Valid() {
		return nil, NewBusinessError("INVALID_CAMPAIGN_CONFIG", "difficulty or content type is invalid", ErrInvalidCampaignConfig)
	}

	now := s.clock.Now().UTC()
	campaign := &models.Campaign{
		UUID:            uuid.New(),
		UserID:          owner.ID,
		Name:            fmt.Sprintf("Send now %s", now.Format(time.RFC3339)),
		Status:          models.CampaignStatusActive,
		EmailFrequency:  models.EmailFrequencyDaily,
		DifficultyLevel: difficulty,
		PreferredThemes: pq.StringArray{theme},
		EmailCount:      1,
		DurationDays:    1,
		CreatedAt:       now,
	}
	if err := s.campaignRepo.Save(ctx, campaign); err != nil {
		return nil, NewBusinessError("CAMPAIGN_CREATION_FAILED", "Campaign creation failed", err)
	}

	slot := Slot{Index: 0, SendTime: now, ContentType: contentType, Theme: theme}
	usedFallback := false
	content, err := s.orchestrator.Generate(ctx, services.GenerationRequest{
		MessageType: services.MessageTypeEmail,
		ContentType: contentType,
		Difficulty:  difficulty,
		Theme:       theme,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("generation exhausted, using the static phishing template", zap.Error(err))
		content = FallbackPhishingEmail()
		slot.ContentType = models.EmailTypePhishing
		usedFallback = true
	}

	email, err := s.orchestrator.MaterializeWithContent(ctx, campaign, slot, owner.Email, content)
	if err != nil {
		return nil, NewBusinessError("SEND_NOW_FAILED", "Failed to prepare the email", err)
	}

	status := email.DeliveryStatus
	if status == models.DeliveryStatusPending {
		claimed, err := s.emailRepo.ClaimByID(ctx, email.ID, now)
		if err != nil {
			return nil, NewBusinessError("SEND_NOW_FAILED", "Failed to dispatch the email", err)
		}
		if claimed == nil {
			// a concurrent sweep picked the row up first
			status = models.DeliveryStatusSending
		} else {
			status, err = s.dispatcher.Deliver(ctx, claimed)
			if err != nil {
				return nil, NewBusinessError("SEND_NOW_FAILED", "Failed to dispatch the email", err)
			}
		}
	}

	if done, err := s.campaignRepo.CompleteIfResolved(ctx, campaign.ID); err != nil {
		s.logger.Error("completion check failed", zap.Uint("campaign_id", campaign.ID), zap.Error(err))
	} else if done {
		campaign.Status = models.CampaignStatusCompleted
	}
	s.invalidate(ctx, campaign.UserID, campaign.ID)

	message := "Email sent successfully"
	switch status {
	case models.DeliveryStatusSent:
	case models.DeliveryStatusPending, models.DeliveryStatusSending:
		message = "Email queued for delivery"
	default:
		message = "Email could not be delivered"
	}

	return &dto.SendNowResponse{
		Message:        message,
		Campaign:       ToCampaignDTO(campaign),
		TrackingID:     email.ClickTrackingID,
		DeliveryStatus: string(status),
		UsedFallback:   usedFallback,
	}, nil
}

// FallbackPhishingEmail is sent when the generator is unavailable for a send-now request
func FallbackPhishingEmail() services.EmailContent {
	return services.EmailContent{
		Subject: "Urgent: Verify Your Account",
		Sender:  "Account Security <security@account-verify-support.com>",
		Body: "Dear customer,\n\n" +
			"We detected unusual sign-in activity on your account. Your account will be suspended within 24 hours " +
			"unless you verify your identity.\n\n" +
			"Verify now: " + utils.TrackingURLPlaceholder + "\n\n" +
			"Account Security Team",
		PhishingIndicators: []string{
			"Urgent language",
			"Threat of account suspension",
			"Request to click a link",
		},
		ExplanationText: "Uses urgency and threats to coerce action.",
	}
}

func (s *CampaignFlowImpl) invalidate(ctx context.Context, userID, campaignID uint) {
	if err := s.cache.Invalidate(ctx, services.UserAnalyticsKey(userID), services.CampaignAnalyticsKey(campaignID)); err != nil {
		s.logger.Warn("analytics cache invalidation failed", zap.Error(err))
	}
}

// getOwnedCampaign resolves a campaign by its public id. Campaigns of other users look missing.
func getOwnedCampaign(ctx context.Context, repo repository.CampaignRepository, campaignUUID string, userID uint) (*models.Campaign, error) {
	if _, err := uuid.Parse(strings.TrimSpace(campaignUUID)); err != nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	campaign, err := repo.ByUUID(ctx, strings.TrimSpace(campaignUUID))
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil || campaign.UserID != userID {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	return campaign, nil
}

func getUser(ctx context.Context, repo repository.UserRepository, userID uint) (*models.User, error) {
	if userID == 0 {
		return nil, NewBusinessError("USER_NOT_FOUND", "User not found", ErrUserNotFound)
	}
	user, err := repo.ByID(ctx, userID)
	if err != nil {
		return nil, NewBusinessError("USER_LOOKUP_FAILED", "Failed to lookup user", err)
	}
	if user == nil {
		return nil, NewBusinessError("USER_NOT_FOUND", "User not found", ErrUserNotFound)
	}
	return user, nil
}

// loadPreferences returns the stored preferences or the defaults when none were saved
func loadPreferences(ctx context.Context, repo repository.UserEmailPreferencesRepository, userID uint) (*models.UserEmailPreferences, error) {
	prefs, err := repo.ByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if prefs == nil {
		return models.DefaultUserEmailPreferences(userID), nil
	}
	return prefs, nil
}

// cleanThemes trims entries and drops blanks and duplicates, keeping order
func cleanThemes(themes []string) []string {
	out := make([]string, 0, len(themes))
	seen := make(map[string]struct{}, len(themes))
	for _, t := range themes {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}
