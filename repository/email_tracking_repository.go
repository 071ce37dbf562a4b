package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/phishschool/models"
	"gorm.io/gorm"
)

// EmailTrackingRepositoryImpl implements the EmailTrackingRepository interface
type EmailTrackingRepositoryImpl struct {
	*BaseRepository[models.EmailTracking, models.EmailTrackingFilter]
}

// NewEmailTrackingRepository creates a new click log repository
func NewEmailTrackingRepository(db *gorm.DB) EmailTrackingRepository {
	return &EmailTrackingRepositoryImpl{
		BaseRepository: NewBaseRepository[models.EmailTracking, models.EmailTrackingFilter](db),
	}
}

// MarkLatestReported flags the newest click row of an email. Rows already reported keep
// their original reported_at. Returns nil when the email has no click rows.
func (r *EmailTrackingRepositoryImpl) MarkLatestReported(ctx context.Context, emailID uint, at time.Time) (*models.EmailTracking, error) {
	db := r.getDB(ctx)

	var rows []*models.EmailTracking
	err := db.Raw(`
		UPDATE email_tracking
		SET phishing_reported = TRUE,
		    reported_at = COALESCE(reported_at, ?)
		WHERE id = (
			SELECT id FROM email_tracking
			WHERE email_id = ?
			ORDER BY clicked_at DESC, id DESC
			LIMIT 1
		)
		RETURNING *`, at, emailID).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to report phishing for email %d: %w", emailID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *EmailTrackingRepositoryImpl) ByFilter(ctx context.Context, filter models.EmailTrackingFilter, orderBy string, limit, offset int) ([]*models.EmailTracking, error) {
	db := r.getDB(ctx)

	var rows []*models.EmailTracking
	query := paginate(r.applyFilter(db, filter), orderBy, limit, offset)
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *EmailTrackingRepositoryImpl) Count(ctx context.Context, filter models.EmailTrackingFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	if err := r.applyFilter(db.Model(&models.EmailTracking{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *EmailTrackingRepositoryImpl) Exists(ctx context.Context, filter models.EmailTrackingFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *EmailTrackingRepositoryImpl) applyFilter(db *gorm.DB, filter models.EmailTrackingFilter) *gorm.DB {
	if filter.TrackingID != nil {
		db = db.Where("tracking_id = ?", *filter.TrackingID)
	}
	if filter.EmailID != nil {
		db = db.Where("email_id = ?", *filter.EmailID)
	}
	if filter.CampaignID != nil {
		db = db.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.PhishingReported != nil {
		db = db.Where("phishing_reported = ?", *filter.PhishingReported)
	}
	return db
}
