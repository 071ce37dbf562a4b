package models

import (
	"time"

	"github.com/amirphl/phishschool/utils"
	"gorm.io/gorm"
)

// EmailTracking is an append-only click log row
type EmailTracking struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	TrackingID       string     `gorm:"size:64;not null;index:idx_email_tracking_tracking_id" json:"tracking_id"`
	EmailID          uint       `gorm:"not null;index:idx_email_tracking_email_id" json:"email_id"`
	CampaignID       uint       `gorm:"not null;index:idx_email_tracking_campaign_id" json:"campaign_id"`
	ClickedAt        time.Time  `gorm:"not null" json:"clicked_at"`
	IPAddress        string     `gorm:"size:64;not null;default:''" json:"ip_address"`
	UserAgent        string     `gorm:"type:text;not null;default:''" json:"user_agent"`
	PhishingReported bool       `gorm:"not null;default:false" json:"phishing_reported"`
	ReportedAt       *time.Time `json:"reported_at,omitempty"`

	Email *CampaignEmail `gorm:"foreignKey:EmailID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (EmailTracking) TableName() string {
	return "email_tracking"
}

func (t *EmailTracking) BeforeCreate(tx *gorm.DB) error {
	if t.ClickedAt.IsZero() {
		t.ClickedAt = utils.UTCNow()
	}
	return nil
}

// EmailTrackingFilter represents filter criteria for click log rows
type EmailTrackingFilter struct {
	TrackingID       *string `json:"tracking_id,omitempty"`
	EmailID          *uint   `json:"email_id,omitempty"`
	CampaignID       *uint   `json:"campaign_id,omitempty"`
	PhishingReported *bool   `json:"phishing_reported,omitempty"`
}
