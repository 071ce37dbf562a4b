package models

import (
	"time"

	"github.com/amirphl/phishschool/utils"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// UserEmailPreferences holds per-user defaults for campaign creation
type UserEmailPreferences struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	UserID          uint            `gorm:"not null;uniqueIndex:uk_user_email_preferences_user_id" json:"user_id"`
	EmailFrequency  EmailFrequency  `gorm:"type:varchar(16);not null;default:'weekly'" json:"email_frequency"`
	DifficultyLevel DifficultyLevel `gorm:"type:varchar(16);not null;default:'medium'" json:"difficulty_level"`
	PreferredThemes pq.StringArray  `gorm:"type:text[];not null" json:"preferred_themes"`
	IsActive        bool            `gorm:"not null;default:false" json:"is_active"`
	CreatedAt       time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt       *time.Time      `json:"updated_at,omitempty"`
}

func (UserEmailPreferences) TableName() string {
	return "user_email_preferences"
}

func (p *UserEmailPreferences) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = utils.UTCNow()
	}
	return nil
}

// DefaultUserEmailPreferences returns the defaults used when a user never saved preferences
func DefaultUserEmailPreferences(userID uint) *UserEmailPreferences {
	return &UserEmailPreferences{
		UserID:          userID,
		EmailFrequency:  EmailFrequencyWeekly,
		DifficultyLevel: DifficultyMedium,
		PreferredThemes: pq.StringArray(append([]string(nil), utils.DefaultThemes...)),
		IsActive:        false,
	}
}
