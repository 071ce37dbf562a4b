package models

import (
	"time"

	"github.com/amirphl/phishschool/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Campaign is a user's recurring simulated phishing training run
type Campaign struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	UUID            uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uk_campaigns_uuid" json:"uuid"`
	UserID          uint            `gorm:"not null;index:idx_campaigns_user_id" json:"user_id"`
	Name            string          `gorm:"size:255;not null" json:"name"`
	Status          CampaignStatus  `gorm:"type:varchar(16);not null;default:'active';index:idx_campaigns_status" json:"status"`
	EmailFrequency  EmailFrequency  `gorm:"type:varchar(16);not null" json:"email_frequency"`
	DifficultyLevel DifficultyLevel `gorm:"type:varchar(16);not null" json:"difficulty_level"`
	PreferredThemes pq.StringArray  `gorm:"type:text[];not null" json:"preferred_themes"`
	EmailCount      int             `gorm:"not null" json:"email_count"`
	DurationDays    int             `gorm:"not null" json:"duration_days"`
	CreatedAt       time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_campaigns_created_at" json:"created_at"`
	UpdatedAt       *time.Time      `json:"updated_at,omitempty"`

	User *User `gorm:"foreignKey:UserID;references:ID" json:"user,omitempty"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Status == "" {
		c.Status = CampaignStatusActive
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

func (c *Campaign) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	c.UpdatedAt = &now
	return nil
}

// IsTerminal reports whether no further emails may be scheduled
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignStatusCompleted
}

// CanTransitionTo checks owner driven and completion transitions
func (c *Campaign) CanTransitionTo(next CampaignStatus) bool {
	switch c.Status {
	case CampaignStatusActive:
		return next == CampaignStatusPaused || next == CampaignStatusCompleted
	case CampaignStatusPaused:
		return next == CampaignStatusActive || next == CampaignStatusCompleted
	default:
		return false
	}
}

// Themes returns the preferred themes as a plain slice
func (c *Campaign) Themes() []string {
	return []string(c.PreferredThemes)
}

// CampaignFilter represents filter criteria for campaigns
type CampaignFilter struct {
	ID            *uint            `json:"id,omitempty"`
	UUID          *uuid.UUID       `json:"uuid,omitempty"`
	UserID        *uint            `json:"user_id,omitempty"`
	Status        *CampaignStatus  `json:"status,omitempty"`
	Statuses      []CampaignStatus `json:"statuses,omitempty"`
	CreatedAfter  *time.Time       `json:"created_after,omitempty"`
	CreatedBefore *time.Time       `json:"created_before,omitempty"`
}
