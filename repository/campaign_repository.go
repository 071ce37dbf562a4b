package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/utils"
	"gorm.io/gorm"
)

// CampaignRepositoryImpl implements the CampaignRepository interface
type CampaignRepositoryImpl struct {
	*BaseRepository[models.Campaign, models.CampaignFilter]
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &CampaignRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Campaign, models.CampaignFilter](db),
	}
}

// ByUUID retrieves a campaign by UUID
func (r *CampaignRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Campaign, error) {
	parsedUUID, err := utils.ParseUUID(uuid)
	if err != nil {
		return nil, nil
	}

	campaigns, err := r.ByFilter(ctx, models.CampaignFilter{UUID: &parsedUUID}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(campaigns) == 0 {
		return nil, nil
	}
	return campaigns[0], nil
}

// Update persists the mutable configuration of a campaign
func (r *CampaignRepositoryImpl) Update(ctx context.Context, campaign *models.Campaign) error {
	db := r.getDB(ctx)

	now := utils.UTCNow()
	campaign.UpdatedAt = &now

	return db.Model(&models.Campaign{}).
		Where("id = ?", campaign.ID).
		Updates(map[string]any{
			"name":             campaign.Name,
			"email_frequency":  campaign.EmailFrequency,
			"difficulty_level": campaign.DifficultyLevel,
			"preferred_themes": campaign.PreferredThemes,
			"email_count":      campaign.EmailCount,
			"duration_days":    campaign.DurationDays,
			"updated_at":       now,
		}).Error
}

// TransitionStatus is a conditional status write; it reports false when the current status is not in from
func (r *CampaignRepositoryImpl) TransitionStatus(ctx context.Context, id uint, from []models.CampaignStatus, next models.CampaignStatus) (bool, error) {
	db := r.getDB(ctx)

	res := db.Model(&models.Campaign{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":     next,
			"updated_at": utils.UTCNow(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to transition campaign %d to %s: %w", id, next, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// PauseActiveByUser pauses every active campaign of a user
func (r *CampaignRepositoryImpl) PauseActiveByUser(ctx context.Context, userID uint) (int64, error) {
	db := r.getDB(ctx)

	res := db.Model(&models.Campaign{}).
		Where("user_id = ? AND status = ?", userID, models.CampaignStatusActive).
		Updates(map[string]any{
			"status":     models.CampaignStatusPaused,
			"updated_at": utils.UTCNow(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// CompleteIfResolved completes the campaign once email_count slots are sent or skipped
func (r *CampaignRepositoryImpl) CompleteIfResolved(ctx context.Context, id uint) (bool, error) {
	db := r.getDB(ctx)

	res := db.Exec(`
		UPDATE campaigns SET status = ?, updated_at = ?
		WHERE id = ?
		  AND status <> ?
		  AND (
			SELECT COUNT(*) FROM campaign_emails ce
			WHERE ce.campaign_id = campaigns.id AND ce.delivery_status IN ?
		  ) >= campaigns.email_count`,
		models.CampaignStatusCompleted,
		utils.UTCNow(),
		id,
		models.CampaignStatusCompleted,
		models.ResolvedDeliveryStatuses,
	)
	if res.Error != nil {
		return false, fmt.Errorf("failed to complete campaign %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CompleteExpired completes campaigns whose duration has elapsed. Active campaigns
// still holding unresolved rows are left for the dispatcher to drain first.
func (r *CampaignRepositoryImpl) CompleteExpired(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	db := r.getDB(ctx)

	var campaigns []*models.Campaign
	err := db.Raw(`
		UPDATE campaigns SET status = ?, updated_at = ?
		WHERE status IN ?
		  AND created_at + make_interval(days => duration_days) <= ?
		  AND (
			status = ?
			OR NOT EXISTS (
				SELECT 1 FROM campaign_emails ce
				WHERE ce.campaign_id = campaigns.id AND ce.delivery_status IN ?
			)
		  )
		RETURNING *`,
		models.CampaignStatusCompleted,
		now,
		[]models.CampaignStatus{models.CampaignStatusActive, models.CampaignStatusPaused},
		now,
		models.CampaignStatusPaused,
		[]models.DeliveryStatus{models.DeliveryStatusPending, models.DeliveryStatusSending},
	).Scan(&campaigns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to complete expired campaigns: %w", err)
	}
	return campaigns, nil
}

// ListUnderMaterialized returns active campaigns holding fewer email rows than email_count
// Campaigns touched after changedBefore are skipped; their own create or update call is still materializing.
func (r *CampaignRepositoryImpl) ListUnderMaterialized(ctx context.Context, changedBefore time.Time, limit int) ([]*models.Campaign, error) {
	db := r.getDB(ctx)

	var campaigns []*models.Campaign
	query := db.Where("status = ?", models.CampaignStatusActive).
		Where("COALESCE(updated_at, created_at) < ?", changedBefore).
		Where("(SELECT COUNT(*) FROM campaign_emails ce WHERE ce.campaign_id = campaigns.id) < campaigns.email_count")
	if err := paginate(query, "id ASC", limit, 0).Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("failed to list campaigns pending materialization: %w", err)
	}
	return campaigns, nil
}

// Delete removes a campaign; emails and click logs go with it through FK cascade
func (r *CampaignRepositoryImpl) Delete(ctx context.Context, id uint) error {
	db := r.getDB(ctx)
	return db.Delete(&models.Campaign{}, id).Error
}

// ByFilter retrieves campaigns based on filter criteria
func (r *CampaignRepositoryImpl) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	db := r.getDB(ctx)

	var campaigns []*models.Campaign
	query := paginate(r.applyFilter(db, filter), orderBy, limit, offset)

	if err := query.Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}

// Count returns the number of campaigns matching the filter
func (r *CampaignRepositoryImpl) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	if err := r.applyFilter(db.Model(&models.Campaign{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any campaign matching the filter exists
func (r *CampaignRepositoryImpl) Exists(ctx context.Context, filter models.CampaignFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *CampaignRepositoryImpl) applyFilter(db *gorm.DB, filter models.CampaignFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.UserID != nil {
		db = db.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if len(filter.Statuses) > 0 {
		db = db.Where("status IN ?", filter.Statuses)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}
	return db
}
