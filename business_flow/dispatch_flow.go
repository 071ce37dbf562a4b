package businessflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/phishschool/app/services"
	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/repository"
	"github.com/amirphl/phishschool/utils"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// DispatcherConfig controls one dispatcher sweep
type DispatcherConfig struct {
	BatchSize          int
	MaxAttempts        int
	ClaimLease         time.Duration
	ReplenishLimit     int
	TrackingBaseURL    string
	FromEmail          string
	FromName           string
	LegitimateFraction float64
}

// SweepResult counts what one sweep did
type SweepResult struct {
	Expired      int `json:"expired"`
	Stale        int `json:"stale"`
	Materialized int `json:"materialized"`
	Claimed      int `json:"claimed"`
	Sent         int `json:"sent"`
	Retried      int `json:"retried"`
	Failed       int `json:"failed"`
	Released     int `json:"released"`
	Completed    int `json:"completed"`
}

// Dispatcher delivers due campaign emails
type Dispatcher interface {
	Sweep(ctx context.Context) (*SweepResult, error)
	// Deliver sends one row already claimed by the caller and records the outcome
	Deliver(ctx context.Context, email *models.CampaignEmail) (models.DeliveryStatus, error)
}

// DispatcherImpl implements Dispatcher
type DispatcherImpl struct {
	campaignRepo repository.CampaignRepository
	emailRepo    repository.CampaignEmailRepository
	userRepo     repository.UserRepository
	orchestrator ContentOrchestrator
	transport    services.MailTransport
	cache        services.AnalyticsCache
	cfg          DispatcherConfig
	clock        utils.Clock
	logger       *zap.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	campaignRepo repository.CampaignRepository,
	emailRepo repository.CampaignEmailRepository,
	userRepo repository.UserRepository,
	orchestrator ContentOrchestrator,
	transport services.MailTransport,
	cache services.AnalyticsCache,
	cfg DispatcherConfig,
	clock utils.Clock,
	logger *zap.Logger,
) Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = utils.DefaultDispatchBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = utils.DefaultMaxDeliveryTries
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = utils.DefaultClaimLease
	}
	if cfg.ReplenishLimit <= 0 {
		cfg.ReplenishLimit = 10
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
	return &DispatcherImpl{
		campaignRepo: campaignRepo,
		emailRepo:    emailRepo,
		userRepo:     userRepo,
		orchestrator: orchestrator,
		transport:    transport,
		cache:        cache,
		cfg:          cfg,
		clock:        clock,
		logger:       logger.Named("dispatcher"),
	}
}

// TrackingURL renders the public link that embeds a click tracking id
func TrackingURL(baseURL, trackingID string) string {
	return strings.TrimRight(baseURL, "/") + "/track/" + trackingID
}

// Sweep runs one dispatcher pass. Per-row failures are contained; only store errors on the
// batch-level steps abort the sweep. Due rows are delivered before missing slots are
// materialized, so slow generation never eats the delivery budget.
func (d *DispatcherImpl) Sweep(ctx context.Context) (*SweepResult, error) {
	dispatchSweepsTotal.Inc()
	start := time.Now()
	now := d.clock.Now().UTC()
	result := &SweepResult{}
	touched := make(map[uint]struct{})

	expired, err := d.campaignRepo.CompleteExpired(ctx, now)
	if err != nil {
		return result, err
	}
	for _, c := range expired {
		result.Expired++
		d.invalidate(ctx, c.UserID, c.ID)
		d.logger.Info("campaign completed after its duration elapsed", zap.String("campaign", c.UUID.String()))
	}

	stale, err := d.emailRepo.ReleaseStaleClaims(ctx, now.Add(-d.cfg.ClaimLease))
	if err != nil {
		return result, err
	}
	for _, e := range stale {
		result.Stale++
		touched[e.CampaignID] = struct{}{}
		dispatchEmailsTotal.WithLabelValues("stale").Inc()
		d.logger.Warn("stale delivery claim marked failed", zap.Uint("email_id", e.ID), zap.Uint("campaign_id", e.CampaignID))
	}

	claimed, err := d.emailRepo.ClaimDue(ctx, now, d.cfg.BatchSize)
	if err != nil {
		return result, err
	}
	result.Claimed = len(claimed)

	for i, email := range claimed {
		if ctx.Err() != nil {
			result.Released = d.release(ctx, claimed[i:])
			break
		}
		touched[email.CampaignID] = struct{}{}
		status, err := d.Deliver(ctx, email)
		if err != nil {
			d.logger.Error("failed to record delivery outcome", zap.Uint("email_id", email.ID), zap.Error(err))
			continue
		}
		switch status {
		case models.DeliveryStatusSent:
			result.Sent++
		case models.DeliveryStatusPending:
			result.Retried++
		case models.DeliveryStatusFailed:
			result.Failed++
		}
	}

	if d.orchestrator != nil && ctx.Err() == nil {
		n, err := d.replenish(ctx, now)
		if err != nil {
			return result, err
		}
		result.Materialized = n
	}

	for campaignID := range touched {
		done, err := d.campaignRepo.CompleteIfResolved(ctx, campaignID)
		if err != nil {
			d.logger.Error("completion check failed", zap.Uint("campaign_id", campaignID), zap.Error(err))
			continue
		}
		if done {
			result.Completed++
		}
	}

	if result.Claimed > 0 || result.Stale > 0 || result.Expired > 0 || result.Materialized > 0 {
		d.logger.Info("dispatch sweep finished",
			zap.Int("claimed", result.Claimed),
			zap.Int("sent", result.Sent),
			zap.Int("retried", result.Retried),
			zap.Int("failed", result.Failed),
			zap.Int("released", result.Released),
			zap.Int("stale", result.Stale),
			zap.Int("materialized", result.Materialized),
			zap.Int("completed", result.Completed),
			zap.Int("expired", result.Expired),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return result, nil
}

// release hands rows the transport never saw back to pending. The sweep context is already
// done at this point, so the write runs without its cancellation.
func (d *DispatcherImpl) release(ctx context.Context, rows []*models.CampaignEmail) int {
	ids := make([]uint, 0, len(rows))
	for _, e := range rows {
		ids = append(ids, e.ID)
	}
	n, err := d.emailRepo.ReleaseClaims(context.WithoutCancel(ctx), ids)
	if err != nil {
		d.logger.Error("failed to release unattempted claims", zap.Int("count", len(ids)), zap.Error(err))
		return 0
	}
	dispatchEmailsTotal.WithLabelValues("released").Add(float64(n))
	d.logger.Warn("sweep ran out of time, claims released", zap.Int64("released", n))
	return int(n)
}

// replenish materializes slots missing from active campaigns, e.g. after a crash mid-create
func (d *DispatcherImpl) replenish(ctx context.Context, now time.Time) (int, error) {
	campaigns, err := d.campaignRepo.ListUnderMaterialized(ctx, now.Add(-d.cfg.ClaimLease), d.cfg.ReplenishLimit)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, c := range campaigns {
		if ctx.Err() != nil {
			break
		}
		owner, err := d.userRepo.ByID(ctx, c.UserID)
		if err != nil || owner == nil {
			d.logger.Warn("skipping materialization for campaign without owner", zap.Uint("campaign_id", c.ID), zap.Error(err))
			continue
		}
		schedule, err := GenerateSchedule(c, c.CreatedAt, d.cfg.LegitimateFraction)
		if err != nil {
			d.logger.Warn("cannot plan campaign", zap.Uint("campaign_id", c.ID), zap.Error(err))
			continue
		}
		res, err := d.orchestrator.MaterializeSchedule(ctx, c, schedule, owner.Email)
		if err != nil {
			d.logger.Error("materialization failed", zap.Uint("campaign_id", c.ID), zap.Error(err))
			continue
		}
		total += res.Created + res.Skipped
	}
	return total, nil
}

// Deliver renders and sends one claimed row
func (d *DispatcherImpl) Deliver(ctx context.Context, email *models.CampaignEmail) (models.DeliveryStatus, error) {
	campaign, err := d.campaignRepo.ByID(ctx, email.CampaignID)
	if err != nil {
		return "", err
	}
	if campaign == nil {
		return d.fail(ctx, email, 0, errors.New("campaign not found"))
	}

	owner, err := d.userRepo.ByID(ctx, campaign.UserID)
	if err != nil {
		return "", err
	}
	if owner == nil || owner.Email == "" {
		return d.fail(ctx, email, campaign.UserID, errors.New("campaign owner has no email address"))
	}

	htmlBody, textBody, err := services.RenderTrackedEmail(email.Subject, email.Body, TrackingURL(d.cfg.TrackingBaseURL, email.ClickTrackingID))
	if err != nil {
		return d.fail(ctx, email, owner.ID, fmt.Errorf("render failed: %w", err))
	}

	fromName := d.cfg.FromName
	if email.SenderEmail != "" {
		fromName = email.SenderEmail
	}
	err = d.transport.Send(ctx, services.OutboundEmail{
		FromEmail: d.cfg.FromEmail,
		FromName:  fromName,
		ToEmail:   owner.Email,
		ToName:    owner.DisplayName(),
		Subject:   email.Subject,
		HTMLBody:  htmlBody,
		TextBody:  textBody,
	})
	if err != nil {
		return d.fail(ctx, email, owner.ID, fmt.Errorf("%w: %v", ErrDeliveryFailed, err))
	}

	// the transport already accepted the message, record it even if the sweep is out of time
	sentAt := d.clock.Now().UTC()
	ok, err := d.emailRepo.MarkSent(context.WithoutCancel(ctx), email.ID, owner.Email, sentAt)
	if err != nil {
		return "", err
	}
	if !ok {
		// the claim was lost to the stale-claim step while the transport call was running
		d.logger.Warn("sent email was no longer claimed", zap.Uint("email_id", email.ID))
		return models.DeliveryStatusFailed, nil
	}

	dispatchEmailsTotal.WithLabelValues("sent").Inc()
	d.invalidate(ctx, owner.ID, email.CampaignID)
	email.SentAt = &sentAt
	email.DeliveryStatus = models.DeliveryStatusSent
	email.RecipientEmail = owner.Email
	return models.DeliveryStatusSent, nil
}

func (d *DispatcherImpl) fail(ctx context.Context, email *models.CampaignEmail, userID uint, cause error) (models.DeliveryStatus, error) {
	status, err := d.emailRepo.MarkDeliveryFailed(context.WithoutCancel(ctx), email.ID, cause.Error(), d.cfg.MaxAttempts)
	if err != nil {
		return "", err
	}

	switch status {
	case "":
		d.logger.Warn("delivery failure for a row that was no longer claimed", zap.Uint("email_id", email.ID), zap.Error(cause))
		return models.DeliveryStatusFailed, nil
	case models.DeliveryStatusFailed:
		dispatchEmailsTotal.WithLabelValues("failed").Inc()
		d.logger.Error("delivery permanently failed",
			zap.Uint("email_id", email.ID),
			zap.Uint("campaign_id", email.CampaignID),
			zap.Int("attempts", email.DeliveryAttempts),
			zap.Error(cause),
		)
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("component", "dispatcher")
			scope.SetExtra("campaign_id", email.CampaignID)
			scope.SetExtra("email_id", email.ID)
			sentry.CaptureException(cause)
		})
		if userID != 0 {
			d.invalidate(ctx, userID, email.CampaignID)
		}
	default:
		dispatchEmailsTotal.WithLabelValues("retry").Inc()
		d.logger.Warn("delivery failed, will retry",
			zap.Uint("email_id", email.ID),
			zap.Int("attempts", email.DeliveryAttempts),
			zap.Error(cause),
		)
	}
	email.DeliveryStatus = status
	return status, nil
}

func (d *DispatcherImpl) invalidate(ctx context.Context, userID, campaignID uint) {
	if err := d.cache.Invalidate(ctx, services.UserAnalyticsKey(userID), services.CampaignAnalyticsKey(campaignID)); err != nil {
		d.logger.Warn("analytics cache invalidation failed", zap.Error(err))
	}
}
