package dto

import "time"

// TrackingDetailsResponse is what the post-click warning page renders
type TrackingDetailsResponse struct {
	TrackingID         string     `json:"tracking_id"`
	CampaignUUID       string     `json:"campaign_id"`
	EmailType          string     `json:"email_type"`
	Subject            string     `json:"subject"`
	SenderEmail        string     `json:"sender_email"`
	PhishingIndicators []string   `json:"phishing_indicators"`
	Explanation        string     `json:"explanation"`
	SentAt             *time.Time `json:"sent_at,omitempty"`
	ClickedAt          *time.Time `json:"clicked_at,omitempty"`
	FirstClick         bool       `json:"first_click"`
	PhishingReported   bool       `json:"phishing_reported"`
}

// ReportPhishingResponse is returned after the user flags an email as phishing
type ReportPhishingResponse struct {
	Message    string    `json:"message"`
	TrackingID string    `json:"tracking_id"`
	ReportedAt time.Time `json:"reported_at"`
}
