package businessflow

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/amirphl/phishschool/app/dto"
	"github.com/amirphl/phishschool/app/services"
	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/repository"
	"github.com/amirphl/phishschool/utils"
	"go.uber.org/zap"
)

// TrackingFlow handles inbound clicks on tracking links
type TrackingFlow interface {
	RecordClick(ctx context.Context, trackingID string, metadata *ClientMetadata) (*dto.TrackingDetailsResponse, error)
	Lookup(ctx context.Context, trackingID string) (*dto.TrackingDetailsResponse, error)
	ReportPhishing(ctx context.Context, trackingID string) (*dto.ReportPhishingResponse, error)
}

// TrackingFlowImpl implements TrackingFlow
type TrackingFlowImpl struct {
	emailRepo    repository.CampaignEmailRepository
	trackingRepo repository.EmailTrackingRepository
	campaignRepo repository.CampaignRepository
	userRepo     repository.UserRepository
	tx           repository.Transactor
	cache        services.AnalyticsCache
	clock        utils.Clock
	logger       *zap.Logger
}

// NewTrackingFlow creates a new tracking flow
func NewTrackingFlow(
	emailRepo repository.CampaignEmailRepository,
	trackingRepo repository.EmailTrackingRepository,
	campaignRepo repository.CampaignRepository,
	userRepo repository.UserRepository,
	tx repository.Transactor,
	cache services.AnalyticsCache,
	clock utils.Clock,
	logger *zap.Logger,
) TrackingFlow {
	if cache == nil {
		cache = services.NoopAnalyticsCache{}
	}
	if clock == nil {
		clock = utils.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackingFlowImpl{
		emailRepo:    emailRepo,
		trackingRepo: trackingRepo,
		campaignRepo: campaignRepo,
		userRepo:     userRepo,
		tx:           tx,
		cache:        cache,
		clock:        clock,
		logger:       logger,
	}
}

// resolve finds the sent email behind a token. Unknown and unsent tokens look the same to callers.
func (f *TrackingFlowImpl) resolve(ctx context.Context, trackingID string) (*models.CampaignEmail, *models.Campaign, error) {
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" || len(trackingID) > 64 {
		return nil, nil, ErrTrackingNotFound
	}

	email, err := f.emailRepo.ByTrackingID(ctx, trackingID)
	if err != nil {
		return nil, nil, NewBusinessError("TRACKING_LOOKUP_FAILED", "Failed to resolve tracking link", err)
	}
	if email == nil || !email.IsSent() {
		return nil, nil, ErrTrackingNotFound
	}

	campaign, err := f.campaignRepo.ByID(ctx, email.CampaignID)
	if err != nil {
		return nil, nil, NewBusinessError("TRACKING_LOOKUP_FAILED", "Failed to resolve tracking link", err)
	}
	if campaign == nil {
		return nil, nil, ErrTrackingNotFound
	}
	return email, campaign, nil
}

// RecordClick appends a click log row and, for the first click only, stamps clicked_at.
// Concurrent duplicates all log a row; the conditional write picks exactly one first click.
func (f *TrackingFlowImpl) RecordClick(ctx context.Context, trackingID string, metadata *ClientMetadata) (*dto.TrackingDetailsResponse, error) {
	email, campaign, err := f.resolve(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = &ClientMetadata{}
	}

	now := f.clock.Now().UTC()
	first := false
	err = f.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		first, err = f.emailRepo.MarkFirstClick(txCtx, email.ID, now)
		if err != nil {
			return err
		}

		if err := f.trackingRepo.Save(txCtx, &models.EmailTracking{
			TrackingID: email.ClickTrackingID,
			EmailID:    email.ID,
			CampaignID: email.CampaignID,
			ClickedAt:  now,
			IPAddress:  truncate(metadata.IPAddress, 64),
			UserAgent:  truncate(metadata.UserAgent, 1024),
		}); err != nil {
			return err
		}

		if first && email.EmailType == models.EmailTypePhishing {
			return f.userRepo.IncrementNumFished(txCtx, campaign.UserID)
		}
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("CLICK_RECORD_FAILED", "Failed to record click", err)
	}

	trackingClicksTotal.WithLabelValues(boolLabel(first)).Inc()
	if first {
		if err := f.cache.Invalidate(ctx, services.UserAnalyticsKey(campaign.UserID), services.CampaignAnalyticsKey(campaign.ID)); err != nil {
			f.logger.Warn("analytics cache invalidation failed", zap.Error(err))
		}
	}

	// re-read so a losing concurrent caller reports the winner's timestamp
	fresh, err := f.emailRepo.ByTrackingID(ctx, email.ClickTrackingID)
	if err == nil && fresh != nil {
		email = fresh
	}

	resp := f.toDetails(email, campaign)
	resp.FirstClick = first
	return resp, nil
}

// Lookup is the read-only variant used for re-rendering the warning page
func (f *TrackingFlowImpl) Lookup(ctx context.Context, trackingID string) (*dto.TrackingDetailsResponse, error) {
	email, campaign, err := f.resolve(ctx, trackingID)
	if err != nil {
		return nil, err
	}

	resp := f.toDetails(email, campaign)
	reported, err := f.trackingRepo.Exists(ctx, models.EmailTrackingFilter{EmailID: &email.ID, PhishingReported: utils.ToPtr(true)})
	if err != nil {
		return nil, NewBusinessError("TRACKING_LOOKUP_FAILED", "Failed to resolve tracking link", err)
	}
	resp.PhishingReported = reported
	return resp, nil
}

// ReportPhishing flags the latest click row of the email as reported
func (f *TrackingFlowImpl) ReportPhishing(ctx context.Context, trackingID string) (*dto.ReportPhishingResponse, error) {
	email, campaign, err := f.resolve(ctx, trackingID)
	if err != nil {
		return nil, err
	}

	row, err := f.trackingRepo.MarkLatestReported(ctx, email.ID, f.clock.Now().UTC())
	if err != nil {
		return nil, NewBusinessError("PHISHING_REPORT_FAILED", "Failed to report phishing", err)
	}
	if row == nil {
		// nothing was clicked yet, so there is no log row to flag
		return nil, ErrTrackingNotFound
	}

	trackingReportsTotal.Inc()
	if err := f.cache.Invalidate(ctx, services.UserAnalyticsKey(campaign.UserID), services.CampaignAnalyticsKey(campaign.ID)); err != nil {
		f.logger.Warn("analytics cache invalidation failed", zap.Error(err))
	}

	reportedAt := f.clock.Now().UTC()
	if row.ReportedAt != nil {
		reportedAt = *row.ReportedAt
	}
	return &dto.ReportPhishingResponse{
		Message:    "Thanks for reporting this email",
		TrackingID: email.ClickTrackingID,
		ReportedAt: reportedAt,
	}, nil
}

func (f *TrackingFlowImpl) toDetails(email *models.CampaignEmail, campaign *models.Campaign) *dto.TrackingDetailsResponse {
	return &dto.TrackingDetailsResponse{
		TrackingID:         email.ClickTrackingID,
		CampaignUUID:       campaign.UUID.String(),
		EmailType:          string(email.EmailType),
		Subject:            email.Subject,
		SenderEmail:        email.SenderEmail,
		PhishingIndicators: email.Indicators(),
		Explanation:        email.Explanation,
		SentAt:             email.SentAt,
		ClickedAt:          email.ClickedAt,
	}
}

// truncate caps s at n bytes without splitting a rune. Invalid UTF-8 is dropped since
// PostgreSQL rejects it in text columns.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
