package testing

import (
	"fmt"
	"time"

	businessflow "github.com/amirphl/phishschool/business_flow"
	"github.com/amirphl/phishschool/models"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/lib/pq"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestUser inserts a user with a random name and address
func (tf *TestFixtures) CreateTestUser() (*models.User, error) {
	user := &models.User{
		Email:     gofakeit.Email(),
		FirstName: gofakeit.FirstName(),
		LastName:  gofakeit.LastName(),
	}
	if err := tf.DB.DB.Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create test user: %w", err)
	}
	return user, nil
}

// CreateTestCampaign inserts an active weekly campaign for userID
func (tf *TestFixtures) CreateTestCampaign(userID uint, emailCount int) (*models.Campaign, error) {
	campaign := &models.Campaign{
		UserID:          userID,
		Name:            gofakeit.BuzzWord() + " drill",
		Status:          models.CampaignStatusActive,
		EmailFrequency:  models.EmailFrequencyWeekly,
		DifficultyLevel: models.DifficultyMedium,
		PreferredThemes: pq.StringArray{"bank", "job"},
		EmailCount:      emailCount,
		DurationDays:    emailCount * 7,
	}
	if err := tf.DB.DB.Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create test campaign: %w", err)
	}
	return campaign, nil
}

// CreateTestEmail inserts a pending phishing email for slot, due at scheduled
func (tf *TestFixtures) CreateTestEmail(campaignID uint, slot int, scheduled time.Time) (*models.CampaignEmail, error) {
	trackingID, err := businessflow.NewTrackingToken()
	if err != nil {
		return nil, err
	}
	email := &models.CampaignEmail{
		CampaignID:         campaignID,
		SlotIndex:          slot,
		EmailType:          models.EmailTypePhishing,
		Theme:              "bank",
		DifficultyLevel:    models.DifficultyMedium,
		Subject:            gofakeit.Sentence(6),
		SenderEmail:        "security@" + gofakeit.DomainName(),
		Body:               gofakeit.Paragraph(2, 3, 12, " "),
		PhishingIndicators: pq.StringArray{"urgent tone", "look-alike domain"},
		Explanation:        gofakeit.Sentence(12),
		ScheduledSendTime:  scheduled,
		ClickTrackingID:    trackingID,
		DeliveryStatus:     models.DeliveryStatusPending,
	}
	if err := tf.DB.DB.Create(email).Error; err != nil {
		return nil, fmt.Errorf("failed to create test email: %w", err)
	}
	return email, nil
}

// MarkTestEmailSent stamps sent_at directly, bypassing the claim cycle
func (tf *TestFixtures) MarkTestEmailSent(email *models.CampaignEmail, sentAt time.Time) error {
	err := tf.DB.DB.Model(email).Updates(map[string]any{
		"sent_at":         sentAt,
		"delivery_status": models.DeliveryStatusSent,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to mark test email sent: %w", err)
	}
	email.SentAt = &sentAt
	email.DeliveryStatus = models.DeliveryStatusSent
	return nil
}
