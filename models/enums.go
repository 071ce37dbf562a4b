package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// CampaignStatus represents the lifecycle status of a training campaign
type CampaignStatus string

const (
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
)

func (s CampaignStatus) String() string {
	return string(s)
}

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusActive, CampaignStatusPaused, CampaignStatusCompleted:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CampaignStatus
func (s *CampaignStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = CampaignStatus(v)
	case []byte:
		*s = CampaignStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CampaignStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for CampaignStatus
func (s CampaignStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CampaignStatus: %s", s)
	}
	return string(s), nil
}

// EmailFrequency controls the minimum spacing between two emails of a campaign
type EmailFrequency string

const (
	EmailFrequencyDaily   EmailFrequency = "daily"
	EmailFrequencyWeekly  EmailFrequency = "weekly"
	EmailFrequencyMonthly EmailFrequency = "monthly"
)

func (f EmailFrequency) Valid() bool {
	switch f {
	case EmailFrequencyDaily, EmailFrequencyWeekly, EmailFrequencyMonthly:
		return true
	default:
		return false
	}
}

// PeriodDays returns the minimum number of days between two sends
func (f EmailFrequency) PeriodDays() int {
	switch f {
	case EmailFrequencyDaily:
		return 1
	case EmailFrequencyWeekly:
		return 7
	case EmailFrequencyMonthly:
		return 30
	default:
		return 0
	}
}

// Period returns the minimum spacing as a duration
func (f EmailFrequency) Period() time.Duration {
	return time.Duration(f.PeriodDays()) * 24 * time.Hour
}

// DifficultyLevel describes how hard a simulated message is to spot
type DifficultyLevel string

const (
	DifficultyEasy   DifficultyLevel = "easy"
	DifficultyMedium DifficultyLevel = "medium"
	DifficultyHard   DifficultyLevel = "hard"
)

func (d DifficultyLevel) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	default:
		return false
	}
}

// EmailType tells whether a message is a phishing simulation or legitimate content
type EmailType string

const (
	EmailTypePhishing   EmailType = "phishing"
	EmailTypeLegitimate EmailType = "legitimate"
)

func (t EmailType) Valid() bool {
	return t == EmailTypePhishing || t == EmailTypeLegitimate
}

// DeliveryStatus is the dispatcher state of a campaign email.
//
//	pending -> sending -> sent
//	pending -> sending -> pending   (retryable failure)
//	pending -> sending -> failed    (attempts exhausted or claim lease expired)
//	failed  -> pending              (manual retry)
//	skipped                          (content generation exhausted, never dispatched)
type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSending DeliveryStatus = "sending"
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusFailed  DeliveryStatus = "failed"
	DeliveryStatusSkipped DeliveryStatus = "skipped"
)

// Resolved reports whether the slot counts toward completion. Failed rows stay open for a
// manual retry until the campaign duration elapses.
func (s DeliveryStatus) Resolved() bool {
	return s == DeliveryStatusSent || s == DeliveryStatusSkipped
}

// ResolvedDeliveryStatuses is used by completion checks
var ResolvedDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusSent,
	DeliveryStatusSkipped,
}
