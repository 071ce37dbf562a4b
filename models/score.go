package models

import "time"

// Score tracks quiz attempts for the Learn feature, one row per user
type Score struct {
	UserID         uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	LearnAttempted int64     `gorm:"not null;default:0" json:"learn_attempted"`
	LearnCorrect   int64     `gorm:"not null;default:0" json:"learn_correct"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Score) TableName() string {
	return "scores"
}

// Accuracy returns the share of correct answers, zero when nothing was attempted
func (s *Score) Accuracy() float64 {
	if s.LearnAttempted == 0 {
		return 0
	}
	return float64(s.LearnCorrect) / float64(s.LearnAttempted)
}
