package dto

import (
	"time"
)

// ScheduleOverflowDTO reports that the requested email_count did not fit the duration
type ScheduleOverflowDTO struct {
	Requested int `json:"requested"`
	Effective int `json:"effective"`
}

// CreateCampaignRequest represents the request to create a new training campaign
type CreateCampaignRequest struct {
	UserID          uint     `json:"-"`
	Name            string   `json:"name" validate:"required,min=1,max=255"`
	EmailFrequency  *string  `json:"email_frequency,omitempty" validate:"omitempty,oneof=daily weekly monthly"`
	DifficultyLevel *string  `json:"difficulty_level,omitempty" validate:"omitempty,oneof=easy medium hard"`
	PreferredThemes []string `json:"preferred_themes,omitempty" validate:"omitempty,max=20,dive,required,max=100"`
	EmailCount      *int     `json:"email_count,omitempty" validate:"omitempty,min=1"`
	DurationDays    *int     `json:"duration_days,omitempty" validate:"omitempty,min=1"`
}

// CreateCampaignResponse represents the response to create a new campaign
type CreateCampaignResponse struct {
	Message          string               `json:"message"`
	Campaign         CampaignDTO          `json:"campaign"`
	ScheduleOverflow *ScheduleOverflowDTO `json:"schedule_overflow,omitempty"`
	EmailsPlanned    int                  `json:"emails_planned"`
	EmailsSkipped    int                  `json:"emails_skipped"`
}

// UpdateCampaignRequest represents the request to update an existing campaign
type UpdateCampaignRequest struct {
	UUID            string   `json:"-"`
	UserID          uint     `json:"-"`
	Name            *string  `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	EmailFrequency  *string  `json:"email_frequency,omitempty" validate:"omitempty,oneof=daily weekly monthly"`
	DifficultyLevel *string  `json:"difficulty_level,omitempty" validate:"omitempty,oneof=easy medium hard"`
	PreferredThemes []string `json:"preferred_themes,omitempty" validate:"omitempty,max=20,dive,required,max=100"`
	EmailCount      *int     `json:"email_count,omitempty" validate:"omitempty,min=1"`
	DurationDays    *int     `json:"duration_days,omitempty" validate:"omitempty,min=1"`
}

// UpdateCampaignResponse represents the response to update an existing campaign
type UpdateCampaignResponse struct {
	Message          string               `json:"message"`
	Campaign         CampaignDTO          `json:"campaign"`
	ScheduleOverflow *ScheduleOverflowDTO `json:"schedule_overflow,omitempty"`
	Replanned        bool                 `json:"replanned"`
}

// CampaignDTO is the public view of a campaign
type CampaignDTO struct {
	UUID            string     `json:"uuid"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	EmailFrequency  string     `json:"email_frequency"`
	DifficultyLevel string     `json:"difficulty_level"`
	PreferredThemes []string   `json:"preferred_themes"`
	EmailCount      int        `json:"email_count"`
	DurationDays    int        `json:"duration_days"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// GetCampaignRequest represents the request to get an existing campaign
type GetCampaignRequest struct {
	UUID   string `json:"-"`
	UserID uint   `json:"-"`
}

// GetCampaignResponse represents a campaign together with its counters
type GetCampaignResponse struct {
	CampaignDTO
	EmailsSent    int64 `json:"emails_sent"`
	EmailsClicked int64 `json:"emails_clicked"`
}

// ChangeCampaignStatusRequest is used by pause and resume
type ChangeCampaignStatusRequest struct {
	UUID   string `json:"-"`
	UserID uint   `json:"-"`
}

// ChangeCampaignStatusResponse is returned by pause and resume
type ChangeCampaignStatusResponse struct {
	Message string `json:"message"`
	UUID    string `json:"uuid"`
	Status  string `json:"status"`
}

// DeleteCampaignResponse is returned after a campaign is removed
type DeleteCampaignResponse struct {
	Message string `json:"message"`
	UUID    string `json:"uuid"`
}

// ListCampaignsFilter represents filter criteria for listing campaigns in request layer
type ListCampaignsFilter struct {
	Status *string `json:"status,omitempty" validate:"omitempty,oneof=active paused completed"`
}

// ListCampaignsRequest represents a paginated list request for user's campaigns
type ListCampaignsRequest struct {
	UserID  uint                 `json:"-"`
	Page    int                  `json:"page"`
	Limit   int                  `json:"limit"`
	OrderBy string               `json:"orderby"` // newest, oldest
	Filter  *ListCampaignsFilter `json:"filter,omitempty"`
}

// PaginationInfo contains pagination metadata
type PaginationInfo struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

// ListCampaignsResponse represents a paginated list of campaigns
type ListCampaignsResponse struct {
	Message    string         `json:"message"`
	Items      []CampaignDTO  `json:"items"`
	Pagination PaginationInfo `json:"pagination"`
}

// CampaignEmailDTO is the owner's view of one simulated email. Content is shown only once sent.
type CampaignEmailDTO struct {
	TrackingID         string     `json:"tracking_id"`
	SlotIndex          int        `json:"slot_index"`
	EmailType          string     `json:"email_type"`
	Theme              string     `json:"theme"`
	DifficultyLevel    string     `json:"difficulty_level"`
	Subject            string     `json:"subject,omitempty"`
	SenderEmail        string     `json:"sender_email,omitempty"`
	PhishingIndicators []string   `json:"phishing_indicators,omitempty"`
	Explanation        string     `json:"explanation,omitempty"`
	ScheduledSendTime  time.Time  `json:"scheduled_send_time"`
	SentAt             *time.Time `json:"sent_at,omitempty"`
	ClickedAt          *time.Time `json:"clicked_at,omitempty"`
	DeliveryStatus     string     `json:"delivery_status"`
	DeliveryAttempts   int        `json:"delivery_attempts"`
	LastError          *string    `json:"last_error,omitempty"`
}

// ListCampaignEmailsResponse lists the emails of a campaign in slot order
type ListCampaignEmailsResponse struct {
	Message string             `json:"message"`
	Items   []CampaignEmailDTO `json:"items"`
}

// RetryCampaignEmailRequest puts a failed email back into the dispatch queue
type RetryCampaignEmailRequest struct {
	UUID       string `json:"-"`
	UserID     uint   `json:"-"`
	TrackingID string `json:"-"`
}

// RetryCampaignEmailResponse is returned after a manual retry
type RetryCampaignEmailResponse struct {
	Message        string `json:"message"`
	TrackingID     string `json:"tracking_id"`
	DeliveryStatus string `json:"delivery_status"`
}

// SendNowRequest creates a single-email campaign and dispatches it right away
type SendNowRequest struct {
	UserID      uint    `json:"-"`
	Difficulty  *string `json:"difficulty,omitempty" validate:"omitempty,oneof=easy medium hard"`
	Theme       *string `json:"theme,omitempty" validate:"omitempty,min=1,max=100"`
	ContentType *string `json:"content_type,omitempty" validate:"omitempty,oneof=phishing legitimate"`
}

// SendNowResponse reports the outcome of a send-now call
type SendNowResponse struct {
	Message        string      `json:"message"`
	Campaign       CampaignDTO `json:"campaign"`
	TrackingID     string      `json:"tracking_id"`
	DeliveryStatus string      `json:"delivery_status"`
	UsedFallback   bool        `json:"used_fallback"`
}
