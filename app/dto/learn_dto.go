package dto

import "time"

// RecordAttemptRequest records one answered Learn question
type RecordAttemptRequest struct {
	UserID  uint  `json:"-"`
	Correct *bool `json:"correct" validate:"required"`
}

// ScoreResponse is a user's Learn score
type ScoreResponse struct {
	LearnAttempted int64     `json:"learn_attempted"`
	LearnCorrect   int64     `json:"learn_correct"`
	Accuracy       float64   `json:"accuracy"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GenerateSampleRequest asks for a practice message that is not persisted
type GenerateSampleRequest struct {
	MessageType string  `json:"message_type" validate:"required,oneof=email sms"`
	ContentType string  `json:"content_type" validate:"required,oneof=phishing legitimate"`
	Difficulty  *string `json:"difficulty,omitempty" validate:"omitempty,oneof=easy medium hard"`
	Theme       *string `json:"theme,omitempty" validate:"omitempty,min=1,max=100"`
}

// SampleResponse is a generated practice message; only the fields of its variant are set
type SampleResponse struct {
	MessageType        string   `json:"message_type"`
	ContentType        string   `json:"content_type"`
	Difficulty         string   `json:"difficulty"`
	Theme              string   `json:"theme"`
	Subject            string   `json:"subject,omitempty"`
	Sender             string   `json:"sender,omitempty"`
	Body               string   `json:"body,omitempty"`
	PhoneNumber        string   `json:"phone_number,omitempty"`
	ContactName        string   `json:"contact_name,omitempty"`
	Message            string   `json:"message,omitempty"`
	PhishingIndicators []string `json:"phishing_indicators"`
	Explanation        string   `json:"explanation"`
}
