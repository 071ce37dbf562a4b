package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/amirphl/phishschool/models"
	"gorm.io/gorm"
)

// CampaignEmailRepositoryImpl implements the CampaignEmailRepository interface
type CampaignEmailRepositoryImpl struct {
	*BaseRepository[models.CampaignEmail, models.CampaignEmailFilter]
}

// NewCampaignEmailRepository creates a new campaign email repository
func NewCampaignEmailRepository(db *gorm.DB) CampaignEmailRepository {
	return &CampaignEmailRepositoryImpl{
		BaseRepository: NewBaseRepository[models.CampaignEmail, models.CampaignEmailFilter](db),
	}
}

// ByTrackingID resolves a click tracking token with a single unique index lookup
func (r *CampaignEmailRepositoryImpl) ByTrackingID(ctx context.Context, trackingID string) (*models.CampaignEmail, error) {
	db := r.getDB(ctx)

	var email models.CampaignEmail
	err := db.Where("click_tracking_id = ?", trackingID).Take(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &email, nil
}

func (r *CampaignEmailRepositoryImpl) TrackingIDExists(ctx context.Context, trackingID string) (bool, error) {
	return r.Exists(ctx, models.CampaignEmailFilter{ClickTrackingID: &trackingID})
}

// Insert creates one email row. Unique violations on the slot or the tracking id come back
// as ErrDuplicateSlot and ErrDuplicateTrackingID.
func (r *CampaignEmailRepositoryImpl) Insert(ctx context.Context, email *models.CampaignEmail) error {
	db := r.getDB(ctx)
	if err := db.Create(email).Error; err != nil {
		return translateUniqueViolation(err)
	}
	return nil
}

// ListByCampaign returns every email of a campaign in slot order
func (r *CampaignEmailRepositoryImpl) ListByCampaign(ctx context.Context, campaignID uint) ([]*models.CampaignEmail, error) {
	return r.ByFilter(ctx, models.CampaignEmailFilter{CampaignID: &campaignID}, "slot_index ASC", 0, 0)
}

const claimDueSQL = `
UPDATE campaign_emails
SET delivery_status = 'sending',
    claimed_at = ?,
    delivery_attempts = delivery_attempts + 1
WHERE id IN (
    SELECT ce.id
    FROM campaign_emails ce
    JOIN campaigns c ON c.id = ce.campaign_id
    WHERE ce.sent_at IS NULL
      AND ce.delivery_status = 'pending'
      AND ce.scheduled_send_time <= ?
      AND c.status = 'active'
    ORDER BY ce.scheduled_send_time ASC, ce.id ASC
    LIMIT ?
    FOR UPDATE OF ce SKIP LOCKED
)
RETURNING *`

// ClaimDue moves due rows to sending in one statement. Overlapping sweeps skip rows locked
// by each other, so a row is handed to at most one caller.
func (r *CampaignEmailRepositoryImpl) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.CampaignEmail, error) {
	db := r.getDB(ctx)

	var rows []*models.CampaignEmail
	if err := db.Raw(claimDueSQL, now, now, limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to claim due emails: %w", err)
	}

	// RETURNING does not keep the subquery order
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ScheduledSendTime.Equal(rows[j].ScheduledSendTime) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].ScheduledSendTime.Before(rows[j].ScheduledSendTime)
	})
	return rows, nil
}

// ClaimByID claims a single pending row, used by the send-now path
func (r *CampaignEmailRepositoryImpl) ClaimByID(ctx context.Context, id uint, now time.Time) (*models.CampaignEmail, error) {
	db := r.getDB(ctx)

	var rows []*models.CampaignEmail
	err := db.Raw(`
		UPDATE campaign_emails
		SET delivery_status = 'sending', claimed_at = ?, delivery_attempts = delivery_attempts + 1
		WHERE id = ? AND sent_at IS NULL AND delivery_status = 'pending'
		RETURNING *`, now, id).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to claim email %d: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// MarkSent stamps sent_at on a claimed row. sent_at never precedes created_at.
func (r *CampaignEmailRepositoryImpl) MarkSent(ctx context.Context, id uint, recipient string, sentAt time.Time) (bool, error) {
	db := r.getDB(ctx)

	res := db.Exec(`
		UPDATE campaign_emails
		SET sent_at = GREATEST(?::timestamptz, created_at),
		    delivery_status = 'sent',
		    recipient_email = ?,
		    claimed_at = NULL,
		    last_error = NULL
		WHERE id = ? AND sent_at IS NULL AND delivery_status = 'sending'`,
		sentAt, recipient, id)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark email %d as sent: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkDeliveryFailed releases a claimed row back to pending, or to failed once attempts reach maxAttempts
func (r *CampaignEmailRepositoryImpl) MarkDeliveryFailed(ctx context.Context, id uint, reason string, maxAttempts int) (models.DeliveryStatus, error) {
	db := r.getDB(ctx)

	var statuses []models.DeliveryStatus
	err := db.Raw(`
		UPDATE campaign_emails
		SET delivery_status = CASE WHEN delivery_attempts >= ? THEN 'failed' ELSE 'pending' END,
		    last_error = ?,
		    claimed_at = NULL
		WHERE id = ? AND delivery_status = 'sending'
		RETURNING delivery_status`,
		maxAttempts, reason, id).Scan(&statuses).Error
	if err != nil {
		return "", fmt.Errorf("failed to record delivery failure for email %d: %w", id, err)
	}
	if len(statuses) == 0 {
		return "", nil
	}
	return statuses[0], nil
}

// ReleaseStaleClaims fails rows stuck in sending past the lease. The transport may already have
// delivered them, so they are never put back to pending automatically.
func (r *CampaignEmailRepositoryImpl) ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) ([]*models.CampaignEmail, error) {
	db := r.getDB(ctx)

	var rows []*models.CampaignEmail
	err := db.Raw(`
		UPDATE campaign_emails
		SET delivery_status = 'failed',
		    last_error = 'delivery outcome unknown: claim lease expired',
		    claimed_at = NULL
		WHERE delivery_status = 'sending' AND sent_at IS NULL AND claimed_at < ?
		RETURNING *`, claimedBefore).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to release stale claims: %w", err)
	}
	return rows, nil
}

// ReleaseClaims puts claimed rows back to pending without spending an attempt
func (r *CampaignEmailRepositoryImpl) ReleaseClaims(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	db := r.getDB(ctx)

	res := db.Exec(`
		UPDATE campaign_emails
		SET delivery_status = 'pending',
		    delivery_attempts = GREATEST(delivery_attempts - 1, 0),
		    claimed_at = NULL
		WHERE id IN ? AND delivery_status = 'sending' AND sent_at IS NULL`, ids)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to release claimed emails: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ResetFailed moves a failed row back to pending for a manual retry
func (r *CampaignEmailRepositoryImpl) ResetFailed(ctx context.Context, id uint) (bool, error) {
	db := r.getDB(ctx)

	res := db.Model(&models.CampaignEmail{}).
		Where("id = ? AND delivery_status = ? AND sent_at IS NULL", id, models.DeliveryStatusFailed).
		Updates(map[string]any{
			"delivery_status":   models.DeliveryStatusPending,
			"delivery_attempts": 0,
			"last_error":        nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkFirstClick is a compare-and-swap on clicked_at; exactly one concurrent caller gets true
func (r *CampaignEmailRepositoryImpl) MarkFirstClick(ctx context.Context, id uint, at time.Time) (bool, error) {
	db := r.getDB(ctx)

	res := db.Exec(`
		UPDATE campaign_emails
		SET clicked_at = GREATEST(?::timestamptz, sent_at)
		WHERE id = ? AND clicked_at IS NULL AND sent_at IS NOT NULL`,
		at, id)
	if res.Error != nil {
		return false, fmt.Errorf("failed to record first click for email %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// DeletePending removes unsent pending and skipped rows so the campaign can be re-planned
func (r *CampaignEmailRepositoryImpl) DeletePending(ctx context.Context, campaignID uint) (int64, error) {
	db := r.getDB(ctx)

	res := db.Where("campaign_id = ? AND sent_at IS NULL AND delivery_status IN ?",
		campaignID, []models.DeliveryStatus{models.DeliveryStatusPending, models.DeliveryStatusSkipped}).
		Delete(&models.CampaignEmail{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// RescheduleOverdue moves pending rows of a campaign so the first one is due no earlier than from
// and consecutive rows stay at least step apart. Row i (by current order) goes to
// max(current, from + i*step), so rows already far enough in the future keep their time.
func (r *CampaignEmailRepositoryImpl) RescheduleOverdue(ctx context.Context, campaignID uint, from time.Time, step time.Duration) (int64, error) {
	db := r.getDB(ctx)

	res := db.Exec(`
		UPDATE campaign_emails ce
		SET scheduled_send_time = o.target
		FROM (
			SELECT id, ?::timestamptz + (ROW_NUMBER() OVER (ORDER BY scheduled_send_time ASC, id ASC) - 1) * make_interval(secs => ?) AS target
			FROM campaign_emails
			WHERE campaign_id = ? AND delivery_status = 'pending' AND sent_at IS NULL
		) o
		WHERE ce.id = o.id AND ce.scheduled_send_time < o.target`,
		from, step.Seconds(), campaignID)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reschedule overdue emails of campaign %d: %w", campaignID, res.Error)
	}
	return res.RowsAffected, nil
}

// CountResolved counts slots that no longer need dispatching, plus in-flight claims
func (r *CampaignEmailRepositoryImpl) CountResolved(ctx context.Context, campaignID uint) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.CampaignEmail{}).
		Where("campaign_id = ? AND delivery_status IN ?", campaignID, []models.DeliveryStatus{
			models.DeliveryStatusSent,
			models.DeliveryStatusFailed,
			models.DeliveryStatusSending,
		}).
		Count(&count).Error
	return count, err
}

// Stats groups email counters by difficulty, theme and type
func (r *CampaignEmailRepositoryImpl) Stats(ctx context.Context, filter models.EmailStatsFilter) ([]*models.EmailStatsRow, error) {
	db := r.getDB(ctx)

	query := db.Table("campaign_emails ce").
		Select(`ce.difficulty_level AS difficulty_level,
			ce.theme AS theme,
			ce.email_type AS email_type,
			COUNT(*) AS total,
			COUNT(ce.sent_at) AS sent,
			COUNT(ce.clicked_at) AS clicked,
			SUM(CASE WHEN EXISTS (
				SELECT 1 FROM email_tracking et WHERE et.email_id = ce.id AND et.phishing_reported
			) THEN 1 ELSE 0 END) AS reported`).
		Group("ce.difficulty_level, ce.theme, ce.email_type").
		Order("ce.difficulty_level, ce.theme, ce.email_type")

	if filter.CampaignID != nil {
		query = query.Where("ce.campaign_id = ?", *filter.CampaignID)
	}
	if filter.UserID != nil {
		query = query.Joins("JOIN campaigns c ON c.id = ce.campaign_id").Where("c.user_id = ?", *filter.UserID)
	}

	var rows []*models.EmailStatsRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate email stats: %w", err)
	}
	return rows, nil
}

// ByFilter retrieves campaign emails based on filter criteria
func (r *CampaignEmailRepositoryImpl) ByFilter(ctx context.Context, filter models.CampaignEmailFilter, orderBy string, limit, offset int) ([]*models.CampaignEmail, error) {
	db := r.getDB(ctx)

	var emails []*models.CampaignEmail
	query := paginate(r.applyFilter(db, filter), orderBy, limit, offset)
	if err := query.Find(&emails).Error; err != nil {
		return nil, err
	}
	return emails, nil
}

func (r *CampaignEmailRepositoryImpl) Count(ctx context.Context, filter models.CampaignEmailFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	if err := r.applyFilter(db.Model(&models.CampaignEmail{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *CampaignEmailRepositoryImpl) Exists(ctx context.Context, filter models.CampaignEmailFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *CampaignEmailRepositoryImpl) applyFilter(db *gorm.DB, filter models.CampaignEmailFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.CampaignID != nil {
		db = db.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.ClickTrackingID != nil {
		db = db.Where("click_tracking_id = ?", *filter.ClickTrackingID)
	}
	if filter.EmailType != nil {
		db = db.Where("email_type = ?", *filter.EmailType)
	}
	if filter.DeliveryStatus != nil {
		db = db.Where("delivery_status = ?", *filter.DeliveryStatus)
	}
	if filter.Sent != nil {
		if *filter.Sent {
			db = db.Where("sent_at IS NOT NULL")
		} else {
			db = db.Where("sent_at IS NULL")
		}
	}
	if filter.Clicked != nil {
		if *filter.Clicked {
			db = db.Where("clicked_at IS NOT NULL")
		} else {
			db = db.Where("clicked_at IS NULL")
		}
	}
	return db
}
