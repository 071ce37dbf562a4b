package dto

// BreakdownDTO holds counters for one difficulty level or theme
type BreakdownDTO struct {
	Sent      int64   `json:"sent"`
	Clicked   int64   `json:"clicked"`
	ClickRate float64 `json:"click_rate"`
}

// CampaignStatsResponse is the per-campaign rollup
type CampaignStatsResponse struct {
	CampaignUUID     string                  `json:"campaign_id"`
	Status           string                  `json:"status"`
	EmailsPlanned    int64                   `json:"emails_planned"`
	EmailsSent       int64                   `json:"emails_sent"`
	EmailsClicked    int64                   `json:"emails_clicked"`
	ClickRate        float64                 `json:"click_rate"`
	PhishingSent     int64                   `json:"phishing_sent"`
	PhishingReported int64                   `json:"phishing_reported"`
	DetectionRate    float64                 `json:"detection_rate"`
	ByDifficulty     map[string]BreakdownDTO `json:"by_difficulty"`
	ByTheme          map[string]BreakdownDTO `json:"by_theme"`
}

// UserAnalyticsResponse is the cross-campaign rollup of one user
type UserAnalyticsResponse struct {
	TotalCampaigns   int64                   `json:"total_campaigns"`
	ActiveCampaigns  int64                   `json:"active_campaigns"`
	EmailsSent       int64                   `json:"emails_sent"`
	EmailsClicked    int64                   `json:"emails_clicked"`
	ClickRate        float64                 `json:"click_rate"`
	PhishingSent     int64                   `json:"phishing_sent"`
	PhishingReported int64                   `json:"phishing_reported"`
	DetectionRate    float64                 `json:"detection_rate"`
	ByDifficulty     map[string]BreakdownDTO `json:"by_difficulty"`
	ByTheme          map[string]BreakdownDTO `json:"by_theme"`
}
