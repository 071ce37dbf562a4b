package models

import (
	"time"

	"github.com/amirphl/phishschool/utils"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// CampaignEmail is one simulated message instance owned by a campaign
type CampaignEmail struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	CampaignID         uint            `gorm:"not null;uniqueIndex:uk_campaign_emails_slot,priority:1" json:"campaign_id"`
	SlotIndex          int             `gorm:"not null;uniqueIndex:uk_campaign_emails_slot,priority:2" json:"slot_index"`
	EmailType          EmailType       `gorm:"type:varchar(16);not null" json:"email_type"`
	Theme              string          `gorm:"size:100;not null" json:"theme"`
	DifficultyLevel    DifficultyLevel `gorm:"type:varchar(16);not null" json:"difficulty_level"`
	Subject            string          `gorm:"type:text;not null;default:''" json:"subject"`
	SenderEmail        string          `gorm:"size:255;not null;default:''" json:"sender_email"`
	RecipientEmail     string          `gorm:"size:255;not null;default:''" json:"recipient_email"`
	Body               string          `gorm:"type:text;not null;default:''" json:"body"`
	PhishingIndicators pq.StringArray  `gorm:"type:text[];not null;default:'{}'" json:"phishing_indicators"`
	Explanation        string          `gorm:"type:text;not null;default:''" json:"explanation"`
	ScheduledSendTime  time.Time       `gorm:"not null;index:idx_campaign_emails_due" json:"scheduled_send_time"`
	SentAt             *time.Time      `json:"sent_at,omitempty"`
	ClickedAt          *time.Time      `json:"clicked_at,omitempty"`
	ClickTrackingID    string          `gorm:"size:64;not null;uniqueIndex:uk_campaign_emails_click_tracking_id" json:"click_tracking_id"`
	DeliveryStatus     DeliveryStatus  `gorm:"type:varchar(16);not null;default:'pending'" json:"delivery_status"`
	DeliveryAttempts   int             `gorm:"not null;default:0" json:"delivery_attempts"`
	LastError          *string         `gorm:"type:text" json:"last_error,omitempty"`
	ClaimedAt          *time.Time      `json:"claimed_at,omitempty"`
	CreatedAt          time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`

	Campaign *Campaign `gorm:"foreignKey:CampaignID;references:ID;constraint:OnDelete:CASCADE" json:"campaign,omitempty"`
}

func (CampaignEmail) TableName() string {
	return "campaign_emails"
}

func (e *CampaignEmail) BeforeCreate(tx *gorm.DB) error {
	if e.DeliveryStatus == "" {
		e.DeliveryStatus = DeliveryStatusPending
	}
	if e.PhishingIndicators == nil {
		e.PhishingIndicators = pq.StringArray{}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = utils.UTCNow()
	}
	return nil
}

// IsSent reports whether the dispatcher already handed the email to the transport
func (e *CampaignEmail) IsSent() bool {
	return e.SentAt != nil
}

// IsClicked reports whether the first click was recorded
func (e *CampaignEmail) IsClicked() bool {
	return e.ClickedAt != nil
}

// Indicators returns the phishing indicators as a plain slice
func (e *CampaignEmail) Indicators() []string {
	if e.PhishingIndicators == nil {
		return []string{}
	}
	return []string(e.PhishingIndicators)
}

// CampaignEmailFilter represents filter criteria for campaign emails
type CampaignEmailFilter struct {
	ID              *uint           `json:"id,omitempty"`
	CampaignID      *uint           `json:"campaign_id,omitempty"`
	ClickTrackingID *string         `json:"click_tracking_id,omitempty"`
	EmailType       *EmailType      `json:"email_type,omitempty"`
	DeliveryStatus  *DeliveryStatus `json:"delivery_status,omitempty"`
	Sent            *bool           `json:"sent,omitempty"`
	Clicked         *bool           `json:"clicked,omitempty"`
}

// EmailStatsRow is one grouped aggregate row used by analytics
type EmailStatsRow struct {
	DifficultyLevel DifficultyLevel `json:"difficulty_level"`
	Theme           string          `json:"theme"`
	EmailType       EmailType       `json:"email_type"`
	Total           int64           `json:"total"`
	Sent            int64           `json:"sent"`
	Clicked         int64           `json:"clicked"`
	Reported        int64           `json:"reported"`
}

// EmailStatsFilter scopes aggregate queries to a campaign or to a user
type EmailStatsFilter struct {
	CampaignID *uint
	UserID     *uint
}
