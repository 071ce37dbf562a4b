package businessflow

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/utils"
	"golang.org/x/crypto/blake2b"
)

// Slot is one planned send of a campaign
type Slot struct {
	Index       int              `json:"index"`
	SendTime    time.Time        `json:"send_time"`
	ContentType models.EmailType `json:"content_type"`
	Theme       string           `json:"theme"`
}

// ScheduleOverflow reports that email_count was clamped to fit the duration and frequency
type ScheduleOverflow struct {
	Requested int `json:"requested"`
	Effective int `json:"effective"`
}

// Schedule is the ordered slot plan of a campaign
type Schedule struct {
	Slots    []Slot
	Step     time.Duration
	Overflow *ScheduleOverflow
}

// CampaignConfig is the schedule-relevant part of a campaign
type CampaignConfig struct {
	EmailFrequency  models.EmailFrequency
	DifficultyLevel models.DifficultyLevel
	PreferredThemes []string
	EmailCount      int
	DurationDays    int
}

// ValidateCampaignConfig rejects configurations that can never be scheduled
func ValidateCampaignConfig(cfg CampaignConfig) error {
	if !cfg.EmailFrequency.Valid() {
		return newConfigError("email_frequency", "must be one of daily, weekly, monthly")
	}
	if !cfg.DifficultyLevel.Valid() {
		return newConfigError("difficulty_level", "must be one of easy, medium, hard")
	}
	if cfg.EmailCount < 1 {
		return newConfigError("email_count", "must be at least 1")
	}
	if cfg.DurationDays < 1 {
		return newConfigError("duration_days", "must be at least 1")
	}
	if cfg.DurationDays > utils.MaxDurationDays {
		return newConfigError("duration_days", fmt.Sprintf("must be at most %d", utils.MaxDurationDays))
	}
	if len(cfg.PreferredThemes) == 0 {
		return newConfigError("preferred_themes", "must not be empty")
	}
	if len(cfg.PreferredThemes) > utils.MaxThemes {
		return newConfigError("preferred_themes", fmt.Sprintf("must have at most %d entries", utils.MaxThemes))
	}
	for _, t := range cfg.PreferredThemes {
		if strings.TrimSpace(t) == "" {
			return newConfigError("preferred_themes", "must not contain blank entries")
		}
	}
	return nil
}

// MaxSlots is the largest email_count a duration supports at the frequency's minimum spacing
func MaxSlots(frequency models.EmailFrequency, durationDays int) int {
	period := frequency.PeriodDays()
	if period <= 0 || durationDays < 1 {
		return 0
	}
	return (durationDays-1)/period + 1
}

// ClampEmailCount returns the effective count and an overflow report when clamping happened.
// An oversized email_count is clamped like any other overflow rather than rejected.
func ClampEmailCount(cfg CampaignConfig) (int, *ScheduleOverflow) {
	limit := min(MaxSlots(cfg.EmailFrequency, cfg.DurationDays), utils.MaxEmailCount)
	if cfg.EmailCount <= limit {
		return cfg.EmailCount, nil
	}
	return limit, &ScheduleOverflow{Requested: cfg.EmailCount, Effective: limit}
}

// GenerateSchedule plans the send slots of an active campaign over [anchor, anchor+duration).
// The result depends only on the campaign and anchor, so regenerating it is idempotent.
func GenerateSchedule(campaign *models.Campaign, anchor time.Time, legitimateFraction float64) (*Schedule, error) {
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	if campaign.Status != models.CampaignStatusActive {
		return nil, ErrCampaignNotActive
	}

	cfg := CampaignConfig{
		EmailFrequency:  campaign.EmailFrequency,
		DifficultyLevel: campaign.DifficultyLevel,
		PreferredThemes: campaign.Themes(),
		EmailCount:      campaign.EmailCount,
		DurationDays:    campaign.DurationDays,
	}
	if err := ValidateCampaignConfig(cfg); err != nil {
		return nil, err
	}

	count, overflow := ClampEmailCount(cfg)

	window := utils.Days(cfg.DurationDays)
	step := window / time.Duration(count)
	if period := cfg.EmailFrequency.Period(); step < period {
		step = period
	}

	themes := cfg.PreferredThemes
	slots := make([]Slot, 0, count)
	for i := 0; i < count; i++ {
		contentType := models.EmailTypePhishing
		if isLegitimateSlot(campaign.ID, i, legitimateFraction) {
			contentType = models.EmailTypeLegitimate
		}
		slots = append(slots, Slot{
			Index:       i,
			SendTime:    anchor.Add(time.Duration(i) * step).UTC(),
			ContentType: contentType,
			Theme:       themes[i%len(themes)],
		})
	}

	return &Schedule{Slots: slots, Step: step, Overflow: overflow}, nil
}

// isLegitimateSlot maps (campaign id, slot index) to a stable point in [0,1)
func isLegitimateSlot(campaignID uint, index int, fraction float64) bool {
	if fraction <= 0 {
		return false
	}
	if fraction >= 1 {
		return true
	}
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%d:%d", campaignID, index)))
	point := float64(binary.BigEndian.Uint64(sum[:8])) / float64(math.MaxUint64)
	return point < fraction
}
