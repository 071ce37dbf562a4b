package businessflow

import (
	"context"

	"github.com/amirphl/phishschool/app/dto"
	"github.com/amirphl/phishschool/app/services"
	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/repository"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PreferencesFlow manages per-user campaign defaults and the opt-in switch
type PreferencesFlow interface {
	GetPreferences(ctx context.Context, userID uint) (*dto.PreferencesDTO, error)
	UpdatePreferences(ctx context.Context, req *dto.UpdatePreferencesRequest) (*dto.PreferencesDTO, error)
	OptIn(ctx context.Context, req *dto.OptInRequest) (*dto.OptInResponse, error)
	OptOut(ctx context.Context, userID uint) (*dto.OptOutResponse, error)
}

// PreferencesFlowImpl implements PreferencesFlow
type PreferencesFlowImpl struct {
	prefsRepo    repository.UserEmailPreferencesRepository
	campaignRepo repository.CampaignRepository
	campaigns    CampaignFlow
	cache        services.AnalyticsCache
	logger       *zap.Logger
}

// NewPreferencesFlow creates a new preferences flow
func NewPreferencesFlow(
	prefsRepo repository.UserEmailPreferencesRepository,
	campaignRepo repository.CampaignRepository,
	campaigns CampaignFlow,
	cache services.AnalyticsCache,
	logger *zap.Logger,
) PreferencesFlow {
	if cache == nil {
		cache = services.NoopAnalyticsCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreferencesFlowImpl{
		prefsRepo:    prefsRepo,
		campaignRepo: campaignRepo,
		campaigns:    campaigns,
		cache:        cache,
		logger:       logger,
	}
}

// GetPreferences returns the stored preferences, or the defaults when none were saved
func (f *PreferencesFlowImpl) GetPreferences(ctx context.Context, userID uint) (*dto.PreferencesDTO, error) {
	prefs, err := loadPreferences(ctx, f.prefsRepo, userID)
	if err != nil {
		return nil, NewBusinessError("PREFERENCES_LOOKUP_FAILED", "Failed to load preferences", err)
	}
	out := ToPreferencesDTO(prefs)
	return &out, nil
}

// UpdatePreferences upserts the provided fields and keeps the rest
func (f *PreferencesFlowImpl) UpdatePreferences(ctx context.Context, req *dto.UpdatePreferencesRequest) (*dto.PreferencesDTO, error) {
	prefs, err := loadPreferences(ctx, f.prefsRepo, req.UserID)
	if err != nil {
		return nil, NewBusinessError("PREFERENCES_LOOKUP_FAILED", "Failed to load preferences", err)
	}

	if req.EmailFrequency != nil {
		prefs.EmailFrequency = models.EmailFrequency(*req.EmailFrequency)
	}
	if req.DifficultyLevel != nil {
		prefs.DifficultyLevel = models.DifficultyLevel(*req.DifficultyLevel)
	}
	if req.PreferredThemes != nil {
		prefs.PreferredThemes = pq.StringArray(cleanThemes(req.PreferredThemes))
	}
	if err := validatePreferences(prefs); err != nil {
		return nil, NewBusinessError("INVALID_PREFERENCES", ConfigErrorReason(err), err)
	}

	if err := f.prefsRepo.Upsert(ctx, prefs); err != nil {
		return nil, NewBusinessError("PREFERENCES_UPDATE_FAILED", "Failed to update preferences", err)
	}
	out := ToPreferencesDTO(prefs)
	return &out, nil
}

// OptIn activates recurring training and starts a campaign when the user has none running
func (f *PreferencesFlowImpl) OptIn(ctx context.Context, req *dto.OptInRequest) (*dto.OptInResponse, error) {
	prefs, err := loadPreferences(ctx, f.prefsRepo, req.UserID)
	if err != nil {
		return nil, NewBusinessError("PREFERENCES_LOOKUP_FAILED", "Failed to load preferences", err)
	}
	if req.EmailFrequency != nil {
		prefs.EmailFrequency = models.EmailFrequency(*req.EmailFrequency)
	}
	if err := validatePreferences(prefs); err != nil {
		return nil, NewBusinessError("INVALID_PREFERENCES", ConfigErrorReason(err), err)
	}
	prefs.IsActive = true
	if err := f.prefsRepo.Upsert(ctx, prefs); err != nil {
		return nil, NewBusinessError("PREFERENCES_UPDATE_FAILED", "Failed to update preferences", err)
	}

	campaign, overflow, err := f.campaigns.StartFromPreferences(ctx, req.UserID, prefs)
	if err != nil {
		return nil, err
	}

	resp := &dto.OptInResponse{
		Message:          "Training activated",
		Preferences:      ToPreferencesDTO(prefs),
		ScheduleOverflow: toOverflowDTO(overflow),
	}
	if campaign != nil {
		c := ToCampaignDTO(campaign)
		resp.Campaign = &c
		resp.Message = "Training activated and campaign started"
	}
	return resp, nil
}

// OptOut deactivates training and pauses every active campaign of the user
func (f *PreferencesFlowImpl) OptOut(ctx context.Context, userID uint) (*dto.OptOutResponse, error) {
	prefs, err := loadPreferences(ctx, f.prefsRepo, userID)
	if err != nil {
		return nil, NewBusinessError("PREFERENCES_LOOKUP_FAILED", "Failed to load preferences", err)
	}
	prefs.IsActive = false
	if err := f.prefsRepo.Upsert(ctx, prefs); err != nil {
		return nil, NewBusinessError("PREFERENCES_UPDATE_FAILED", "Failed to update preferences", err)
	}

	paused, err := f.campaignRepo.PauseActiveByUser(ctx, userID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_STATUS_CHANGE_FAILED", "Failed to pause campaigns", err)
	}
	if paused > 0 {
		if err := f.cache.Invalidate(ctx, services.UserAnalyticsKey(userID)); err != nil {
			f.logger.Warn("analytics cache invalidation failed", zap.Error(err))
		}
		f.logger.Info("campaigns paused on opt-out", zap.Uint("user_id", userID), zap.Int64("paused", paused))
	}

	return &dto.OptOutResponse{
		Message:         "Training deactivated",
		Preferences:     ToPreferencesDTO(prefs),
		PausedCampaigns: paused,
	}, nil
}

func validatePreferences(p *models.UserEmailPreferences) error {
	if !p.EmailFrequency.Valid() {
		return newConfigError("email_frequency", "must be one of daily, weekly, monthly")
	}
	if !p.DifficultyLevel.Valid() {
		return newConfigError("difficulty_level", "must be one of easy, medium, hard")
	}
	if len(p.PreferredThemes) == 0 {
		return newConfigError("preferred_themes", "must not be empty")
	}
	return nil
}
