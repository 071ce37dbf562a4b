package dto

import "time"

// PreferencesDTO is a user's campaign defaults
type PreferencesDTO struct {
	EmailFrequency  string     `json:"email_frequency"`
	DifficultyLevel string     `json:"difficulty_level"`
	PreferredThemes []string   `json:"preferred_themes"`
	IsActive        bool       `json:"is_active"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// UpdatePreferencesRequest upserts a user's defaults; omitted fields keep their value
type UpdatePreferencesRequest struct {
	UserID          uint     `json:"-"`
	EmailFrequency  *string  `json:"email_frequency,omitempty" validate:"omitempty,oneof=daily weekly monthly"`
	DifficultyLevel *string  `json:"difficulty_level,omitempty" validate:"omitempty,oneof=easy medium hard"`
	PreferredThemes []string `json:"preferred_themes,omitempty" validate:"omitempty,min=1,max=20,dive,required,max=100"`
}

// OptInRequest activates recurring training
type OptInRequest struct {
	UserID         uint    `json:"-"`
	EmailFrequency *string `json:"email_frequency,omitempty" validate:"omitempty,oneof=daily weekly monthly"`
}

// OptInResponse returns the stored preferences and the campaign started for them, if any
type OptInResponse struct {
	Message          string               `json:"message"`
	Preferences      PreferencesDTO       `json:"preferences"`
	Campaign         *CampaignDTO         `json:"campaign,omitempty"`
	ScheduleOverflow *ScheduleOverflowDTO `json:"schedule_overflow,omitempty"`
}

// OptOutResponse reports how many campaigns were paused
type OptOutResponse struct {
	Message         string         `json:"message"`
	Preferences     PreferencesDTO `json:"preferences"`
	PausedCampaigns int64          `json:"paused_campaigns"`
}
