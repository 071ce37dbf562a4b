package repository

import (
	"context"
	"errors"

	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserEmailPreferencesRepositoryImpl implements the UserEmailPreferencesRepository interface
type UserEmailPreferencesRepositoryImpl struct {
	*BaseRepository[models.UserEmailPreferences, struct{}]
}

// NewUserEmailPreferencesRepository creates a new preferences repository
func NewUserEmailPreferencesRepository(db *gorm.DB) UserEmailPreferencesRepository {
	return &UserEmailPreferencesRepositoryImpl{
		BaseRepository: NewBaseRepository[models.UserEmailPreferences, struct{}](db),
	}
}

// ByUserID returns the stored preferences or nil when the user never saved any
func (r *UserEmailPreferencesRepositoryImpl) ByUserID(ctx context.Context, userID uint) (*models.UserEmailPreferences, error) {
	db := r.getDB(ctx)

	var prefs models.UserEmailPreferences
	err := db.Where("user_id = ?", userID).Last(&prefs).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &prefs, nil
}

// Upsert inserts or replaces the preferences row of a user
func (r *UserEmailPreferencesRepositoryImpl) Upsert(ctx context.Context, prefs *models.UserEmailPreferences) error {
	db := r.getDB(ctx)

	now := utils.UTCNow()
	prefs.UpdatedAt = &now

	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email_frequency",
			"difficulty_level",
			"preferred_themes",
			"is_active",
			"updated_at",
		}),
	}).Create(prefs).Error
}
