// Package businessflow contains the business logic for the application.
package businessflow

import (
	"github.com/amirphl/phishschool/app/dto"
	"github.com/amirphl/phishschool/models"
)

// ClientMetadata holds client information recorded with click events
type ClientMetadata struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	RequestID string `json:"request_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// ToCampaignDTO converts a campaign model to its public view
func ToCampaignDTO(c *models.Campaign) dto.CampaignDTO {
	themes := c.Themes()
	if themes == nil {
		themes = []string{}
	}
	return dto.CampaignDTO{
		UUID:            c.UUID.String(),
		Name:            c.Name,
		Status:          string(c.Status),
		EmailFrequency:  string(c.EmailFrequency),
		DifficultyLevel: string(c.DifficultyLevel),
		PreferredThemes: themes,
		EmailCount:      c.EmailCount,
		DurationDays:    c.DurationDays,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// ToCampaignEmailDTO converts a campaign email to the owner's view. Generated content of
// unsent emails is withheld so the schedule cannot be used to spoil upcoming simulations.
func ToCampaignEmailDTO(e *models.CampaignEmail) dto.CampaignEmailDTO {
	out := dto.CampaignEmailDTO{
		TrackingID:        e.ClickTrackingID,
		SlotIndex:         e.SlotIndex,
		EmailType:         string(e.EmailType),
		Theme:             e.Theme,
		DifficultyLevel:   string(e.DifficultyLevel),
		ScheduledSendTime: e.ScheduledSendTime,
		SentAt:            e.SentAt,
		ClickedAt:         e.ClickedAt,
		DeliveryStatus:    string(e.DeliveryStatus),
		DeliveryAttempts:  e.DeliveryAttempts,
		LastError:         e.LastError,
	}
	if e.IsSent() {
		out.Subject = e.Subject
		out.SenderEmail = e.SenderEmail
		out.PhishingIndicators = e.Indicators()
		out.Explanation = e.Explanation
	}
	return out
}

// ToPreferencesDTO converts stored preferences to their public view
func ToPreferencesDTO(p *models.UserEmailPreferences) dto.PreferencesDTO {
	themes := []string(p.PreferredThemes)
	if themes == nil {
		themes = []string{}
	}
	return dto.PreferencesDTO{
		EmailFrequency:  string(p.EmailFrequency),
		DifficultyLevel: string(p.DifficultyLevel),
		PreferredThemes: themes,
		IsActive:        p.IsActive,
		UpdatedAt:       p.UpdatedAt,
	}
}

func toOverflowDTO(o *ScheduleOverflow) *dto.ScheduleOverflowDTO {
	if o == nil {
		return nil
	}
	return &dto.ScheduleOverflowDTO{Requested: o.Requested, Effective: o.Effective}
}
