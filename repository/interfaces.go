// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/phishschool/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// UserRepository reads owner profiles
type UserRepository interface {
	ByID(ctx context.Context, id uint) (*models.User, error)
	ByEmail(ctx context.Context, email string) (*models.User, error)
	Save(ctx context.Context, user *models.User) error
	IncrementNumFished(ctx context.Context, id uint) error
	EnsureProfile(ctx context.Context, id uint, email string) (*models.User, error)
}

// UserEmailPreferencesRepository defines operations for per-user campaign defaults
type UserEmailPreferencesRepository interface {
	ByUserID(ctx context.Context, userID uint) (*models.UserEmailPreferences, error)
	Upsert(ctx context.Context, prefs *models.UserEmailPreferences) error
}

// CampaignRepository defines operations for campaigns and their lifecycle
type CampaignRepository interface {
	Repository[models.Campaign, models.CampaignFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Campaign, error)
	Update(ctx context.Context, campaign *models.Campaign) error
	// TransitionStatus moves a campaign to next only when its current status is one of from
	TransitionStatus(ctx context.Context, id uint, from []models.CampaignStatus, next models.CampaignStatus) (bool, error)
	PauseActiveByUser(ctx context.Context, userID uint) (int64, error)
	// CompleteIfResolved marks the campaign completed once every slot is sent, skipped or failed
	CompleteIfResolved(ctx context.Context, id uint) (bool, error)
	CompleteExpired(ctx context.Context, now time.Time) ([]*models.Campaign, error)
	ListUnderMaterialized(ctx context.Context, changedBefore time.Time, limit int) ([]*models.Campaign, error)
	Delete(ctx context.Context, id uint) error
}

// CampaignEmailRepository defines operations for simulated messages, including dispatcher claims
type CampaignEmailRepository interface {
	Repository[models.CampaignEmail, models.CampaignEmailFilter]
	ByTrackingID(ctx context.Context, trackingID string) (*models.CampaignEmail, error)
	Insert(ctx context.Context, email *models.CampaignEmail) error
	TrackingIDExists(ctx context.Context, trackingID string) (bool, error)
	ListByCampaign(ctx context.Context, campaignID uint) ([]*models.CampaignEmail, error)

	// ClaimDue atomically moves up to limit due pending rows of active campaigns to sending
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.CampaignEmail, error)
	// ClaimByID claims one pending row regardless of its scheduled time
	ClaimByID(ctx context.Context, id uint, now time.Time) (*models.CampaignEmail, error)
	MarkSent(ctx context.Context, id uint, recipient string, sentAt time.Time) (bool, error)
	MarkDeliveryFailed(ctx context.Context, id uint, reason string, maxAttempts int) (models.DeliveryStatus, error)
	ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) ([]*models.CampaignEmail, error)
	// ReleaseClaims returns claimed rows the transport never saw to pending and undoes their attempt
	ReleaseClaims(ctx context.Context, ids []uint) (int64, error)
	ResetFailed(ctx context.Context, id uint) (bool, error)

	// MarkFirstClick sets clicked_at only when it is still null and the email was sent
	MarkFirstClick(ctx context.Context, id uint, at time.Time) (bool, error)

	DeletePending(ctx context.Context, campaignID uint) (int64, error)
	RescheduleOverdue(ctx context.Context, campaignID uint, from time.Time, step time.Duration) (int64, error)
	CountResolved(ctx context.Context, campaignID uint) (int64, error)
	Stats(ctx context.Context, filter models.EmailStatsFilter) ([]*models.EmailStatsRow, error)
}

// EmailTrackingRepository defines operations for the append-only click log
type EmailTrackingRepository interface {
	Repository[models.EmailTracking, models.EmailTrackingFilter]
	// MarkLatestReported flags the newest click row of an email as reported
	MarkLatestReported(ctx context.Context, emailID uint, at time.Time) (*models.EmailTracking, error)
}

// ScoreRepository defines operations for Learn quiz scores
type ScoreRepository interface {
	ByUserID(ctx context.Context, userID uint) (*models.Score, error)
	RecordAttempt(ctx context.Context, userID uint, correct bool) (*models.Score, error)
}
