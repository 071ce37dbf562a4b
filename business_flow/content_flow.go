package businessflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/phishschool/app/services"
	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/repository"
	"github.com/amirphl/phishschool/utils"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const maxTrackingTokenTries = 5

// GenerationPolicy bounds retries against the generation collaborator
type GenerationPolicy struct {
	Attempts    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// MaterializeResult summarizes a schedule materialization
type MaterializeResult struct {
	Created  int
	Skipped  int
	Existing int
}

// ContentOrchestrator turns schedule slots into persisted campaign emails
type ContentOrchestrator interface {
	Materialize(ctx context.Context, campaign *models.Campaign, slot Slot, recipient string) (*models.CampaignEmail, error)
	MaterializeWithContent(ctx context.Context, campaign *models.Campaign, slot Slot, recipient string, content services.GeneratedContent) (*models.CampaignEmail, error)
	MaterializeSchedule(ctx context.Context, campaign *models.Campaign, schedule *Schedule, recipient string) (*MaterializeResult, error)
	Generate(ctx context.Context, req services.GenerationRequest) (services.GeneratedContent, error)
}

// ContentOrchestratorImpl implements ContentOrchestrator
type ContentOrchestratorImpl struct {
	emailRepo repository.CampaignEmailRepository
	generator services.ContentGenerator
	policy    GenerationPolicy
	clock     utils.Clock
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewContentOrchestrator creates a new content orchestrator
func NewContentOrchestrator(
	emailRepo repository.CampaignEmailRepository,
	generator services.ContentGenerator,
	policy GenerationPolicy,
	clock utils.Clock,
	logger *zap.Logger,
) *ContentOrchestratorImpl {
	if policy.Attempts < 1 {
		policy.Attempts = utils.DefaultGenerationAttempts
	}
	if policy.BaseBackoff <= 0 {
		policy.BaseBackoff = utils.DefaultGenerationBackoff
	}
	if clock == nil {
		clock = utils.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentOrchestratorImpl{
		emailRepo: emailRepo,
		generator: generator,
		policy:    policy,
		clock:     clock,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// Generate calls the collaborator with bounded exponential backoff
func (o *ContentOrchestratorImpl) Generate(ctx context.Context, req services.GenerationRequest) (services.GeneratedContent, error) {
	var lastErr error
	for attempt := 0; attempt < o.policy.Attempts; attempt++ {
		if attempt > 0 {
			if err := o.sleep(ctx, o.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		content, err := o.generator.Generate(ctx, req)
		if err == nil {
			contentGenerationTotal.WithLabelValues("ok").Inc()
			return content, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		contentGenerationTotal.WithLabelValues("retry").Inc()
		o.logger.Warn("content generation attempt failed",
			zap.Int("attempt", attempt+1),
			zap.String("content_type", string(req.ContentType)),
			zap.String("theme", req.Theme),
			zap.Error(err),
		)
	}

	contentGenerationTotal.WithLabelValues("exhausted").Inc()
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrGenerationFailed, o.policy.Attempts, lastErr)
}

// backoff returns base * 2^(attempt-1), capped by MaxBackoff
func (o *ContentOrchestratorImpl) backoff(attempt int) time.Duration {
	d := o.policy.BaseBackoff * time.Duration(1<<uint(attempt-1))
	if o.policy.MaxBackoff > 0 && d > o.policy.MaxBackoff {
		d = o.policy.MaxBackoff
	}
	return d
}

// Materialize generates and persists the email for one slot. Exhausted generation still
// persists a skipped row so the slot counts as resolved and is never dispatched.
func (o *ContentOrchestratorImpl) Materialize(ctx context.Context, campaign *models.Campaign, slot Slot, recipient string) (*models.CampaignEmail, error) {
	content, err := o.Generate(ctx, services.GenerationRequest{
		MessageType: services.MessageTypeEmail,
		ContentType: slot.ContentType,
		Difficulty:  campaign.DifficultyLevel,
		Theme:       slot.Theme,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Error("slot skipped after generation failure",
			zap.Uint("campaign_id", campaign.ID),
			zap.Int("slot", slot.Index),
			zap.Error(err),
		)
		email := o.newEmail(campaign, slot, recipient)
		o.skip(email, err)
		if err := o.insertWithToken(ctx, email); err != nil {
			return nil, err
		}
		return email, nil
	}
	return o.MaterializeWithContent(ctx, campaign, slot, recipient, content)
}

// MaterializeWithContent persists a slot with content the caller already has
func (o *ContentOrchestratorImpl) MaterializeWithContent(ctx context.Context, campaign *models.Campaign, slot Slot, recipient string, content services.GeneratedContent) (*models.CampaignEmail, error) {
	email := o.newEmail(campaign, slot, recipient)
	if err := applyEmailContent(email, content); err != nil {
		o.skip(email, err)
	}
	if err := o.insertWithToken(ctx, email); err != nil {
		return nil, err
	}
	return email, nil
}

func (o *ContentOrchestratorImpl) newEmail(campaign *models.Campaign, slot Slot, recipient string) *models.CampaignEmail {
	return &models.CampaignEmail{
		CampaignID:         campaign.ID,
		SlotIndex:          slot.Index,
		EmailType:          slot.ContentType,
		Theme:              slot.Theme,
		DifficultyLevel:    campaign.DifficultyLevel,
		RecipientEmail:     recipient,
		PhishingIndicators: pq.StringArray{},
		ScheduledSendTime:  slot.SendTime,
		DeliveryStatus:     models.DeliveryStatusPending,
		CreatedAt:          o.clock.Now().UTC(),
	}
}

func (o *ContentOrchestratorImpl) skip(email *models.CampaignEmail, cause error) {
	reason := cause.Error()
	email.DeliveryStatus = models.DeliveryStatusSkipped
	email.LastError = &reason
}

// MaterializeSchedule materializes every slot that has no row yet. Per-slot generation
// failures are contained; store failures abort.
func (o *ContentOrchestratorImpl) MaterializeSchedule(ctx context.Context, campaign *models.Campaign, schedule *Schedule, recipient string) (*MaterializeResult, error) {
	existing, err := o.emailRepo.ListByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}
	have := make(map[int]bool, len(existing))
	for _, e := range existing {
		have[e.SlotIndex] = true
	}

	result := &MaterializeResult{}
	for _, slot := range schedule.Slots {
		if have[slot.Index] {
			result.Existing++
			continue
		}
		email, err := o.Materialize(ctx, campaign, slot, recipient)
		if errors.Is(err, repository.ErrDuplicateSlot) {
			result.Existing++
			continue
		}
		if err != nil {
			return result, err
		}
		if email.DeliveryStatus == models.DeliveryStatusSkipped {
			result.Skipped++
		} else {
			result.Created++
		}
	}
	return result, nil
}

// insertWithToken mints a token, checks it is unused and inserts the row, retrying on collision
func (o *ContentOrchestratorImpl) insertWithToken(ctx context.Context, email *models.CampaignEmail) error {
	for i := 0; i < maxTrackingTokenTries; i++ {
		token, err := NewTrackingToken()
		if err != nil {
			return err
		}
		taken, err := o.emailRepo.TrackingIDExists(ctx, token)
		if err != nil {
			return err
		}
		if taken {
			continue
		}

		email.ClickTrackingID = token
		err = o.emailRepo.Insert(ctx, email)
		if errors.Is(err, repository.ErrDuplicateTrackingID) {
			continue
		}
		return err
	}
	return ErrTrackingToken
}

// NewTrackingToken returns a URL-safe random token
func NewTrackingToken() (string, error) {
	buf := make([]byte, utils.TrackingTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func applyEmailContent(email *models.CampaignEmail, content services.GeneratedContent) error {
	if content == nil {
		return fmt.Errorf("%w: empty content", ErrGenerationFailed)
	}
	ec, ok := content.(services.EmailContent)
	if !ok {
		return fmt.Errorf("%w: expected email content, got %s", ErrGenerationFailed, content.MessageType())
	}
	email.Subject = ec.Subject
	email.SenderEmail = ec.Sender
	email.Body = ec.Body
	email.Explanation = ec.Explanation()
	email.PhishingIndicators = pq.StringArray(ec.Indicators())
	if email.EmailType == models.EmailTypeLegitimate || email.PhishingIndicators == nil {
		email.PhishingIndicators = pq.StringArray{}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
