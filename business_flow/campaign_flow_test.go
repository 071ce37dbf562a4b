package businessflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/phishschool/app/dto"
	"github.com/amirphl/phishschool/app/services"
	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/utils"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func businessCode(t *testing.T, err error) string {
	t.Helper()
	var be *BusinessError
	require.True(t, errors.As(err, &be), "expected a business error, got %v", err)
	return be.Code
}

func TestCampaignFlowCreateCampaign(t *testing.T) {
	ctx := context.Background()

	t.Run("DefaultsFromPreferences", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("learner@example.com")

		resp, err := h.campaigns.CreateCampaign(ctx, &dto.CreateCampaignRequest{UserID: owner.ID, Name: "  Onboarding  "})
		require.NoError(t, err)
		assert.Equal(t, "Onboarding", resp.Campaign.Name)
		assert.Equal(t, "active", resp.Campaign.Status)
		assert.Equal(t, "weekly", resp.Campaign.EmailFrequency)
		assert.Equal(t, "medium", resp.Campaign.DifficultyLevel)
		assert.Equal(t, utils.DefaultThemes, resp.Campaign.PreferredThemes)
		assert.Equal(t, utils.DefaultDurationDays, resp.Campaign.DurationDays)

		// ten weekly emails do not fit thirty days
		require.NotNil(t, resp.ScheduleOverflow)
		assert.Equal(t, utils.DefaultEmailCount, resp.ScheduleOverflow.Requested)
		assert.Equal(t, 5, resp.ScheduleOverflow.Effective)
		assert.Equal(t, 5, resp.Campaign.EmailCount)
		assert.Equal(t, 5, resp.EmailsPlanned)

		c := h.campaignByUUID(t, resp.Campaign.UUID)
		assert.Len(t, h.store.emailsOf(c.ID), 5)
		assert.True(t, h.cache.wasInvalidated(services.UserAnalyticsKey(owner.ID)))
	})

	t.Run("StoredPreferencesAndOverrides", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("learner@example.com")
		require.NoError(t, h.prefs.Upsert(ctx, &models.UserEmailPreferences{
			UserID:          owner.ID,
			EmailFrequency:  models.EmailFrequencyDaily,
			DifficultyLevel: models.DifficultyHard,
			PreferredThemes: pq.StringArray{"tax"},
		}))

		resp, err := h.campaigns.CreateCampaign(ctx, &dto.CreateCampaignRequest{
			UserID:          owner.ID,
			Name:            "Tax season",
			PreferredThemes: []string{"tax", " Tax ", "parcel", ""},
			EmailCount:      utils.ToPtr(3),
			DurationDays:    utils.ToPtr(3),
		})
		require.NoError(t, err)
		assert.Nil(t, resp.ScheduleOverflow)
		assert.Equal(t, "daily", resp.Campaign.EmailFrequency)
		assert.Equal(t, "hard", resp.Campaign.DifficultyLevel)
		assert.Equal(t, []string{"tax", "parcel"}, resp.Campaign.PreferredThemes)
		assert.Equal(t, 3, resp.EmailsPlanned)
	})

	t.Run("InvalidConfiguration", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("learner@example.com")

		_, err := h.campaigns.CreateCampaign(ctx, &dto.CreateCampaignRequest{UserID: owner.ID, Name: "x", EmailFrequency: utils.ToPtr("hourly")})
		assert.True(t, IsInvalidCampaignConfig(err))
		assert.Equal(t, "INVALID_CAMPAIGN_CONFIG", businessCode(t, err))

		_, err = h.campaigns.CreateCampaign(ctx, &dto.CreateCampaignRequest{UserID: owner.ID, Name: "x", DurationDays: utils.ToPtr(utils.MaxDurationDays + 1)})
		assert.True(t, IsInvalidCampaignConfig(err))

		_, err = h.campaigns.CreateCampaign(ctx, &dto.CreateCampaignRequest{UserID: owner.ID, Name: "x", PreferredThemes: []string{" "}})
		assert.True(t, IsInvalidCampaignConfig(err))

		_, err = h.campaigns.CreateCampaign(ctx, &dto.CreateCampaignRequest{UserID: owner.ID, Name: "   "})
		assert.True(t, IsInvalidCampaignConfig(err))

		assert.Empty(t, h.store.campaigns)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		h := newHarness()
		_, err := h.campaigns.CreateCampaign(ctx, &dto.CreateCampaignRequest{UserID: 999, Name: "x"})
		assert.True(t, IsUserNotFound(err))
	})

	t.Run("EverySlotSkippedCompletesCampaign", func(t *testing.T) {
		h := newHarness()
		h.generator.Err = errors.New("quota exceeded")
		owner := h.store.addUser("learner@example.com")

		resp := h.createCampaign(t, owner.ID, "daily", 3, 3)
		assert.Equal(t, 0, resp.EmailsPlanned)
		assert.Equal(t, 3, resp.EmailsSkipped)
		assert.Equal(t, "completed", resp.Campaign.Status)
	})
}

func TestCampaignFlowGetAndList(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	owner := h.store.addUser("learner@example.com")
	stranger := h.store.addUser("stranger@example.com")

	first := h.createCampaign(t, owner.ID, "daily", 3, 3)
	h.clock.Advance(time.Minute)
	second := h.createCampaign(t, owner.ID, "daily", 3, 3)
	h.clock.Advance(time.Minute)
	third := h.createCampaign(t, owner.ID, "daily", 3, 3)

	_, err := h.dispatcher.Sweep(ctx)
	require.NoError(t, err)
	_, err = h.campaigns.PauseCampaign(ctx, &dto.ChangeCampaignStatusRequest{UUID: second.Campaign.UUID, UserID: owner.ID})
	require.NoError(t, err)

	t.Run("Get", func(t *testing.T) {
		got, err := h.campaigns.GetCampaign(ctx, &dto.GetCampaignRequest{UUID: first.Campaign.UUID, UserID: owner.ID})
		require.NoError(t, err)
		assert.Equal(t, first.Campaign.UUID, got.UUID)
		assert.Equal(t, int64(1), got.EmailsSent)
		assert.Equal(t, int64(0), got.EmailsClicked)

		_, err = h.campaigns.GetCampaign(ctx, &dto.GetCampaignRequest{UUID: first.Campaign.UUID, UserID: stranger.ID})
		assert.True(t, IsCampaignNotFound(err))
	})

	t.Run("NewestFirstWithPaging", func(t *testing.T) {
		res, err := h.campaigns.ListCampaigns(ctx, &dto.ListCampaignsRequest{UserID: owner.ID, Page: 1, Limit: 2})
		require.NoError(t, err)
		require.Len(t, res.Items, 2)
		assert.Equal(t, third.Campaign.UUID, res.Items[0].UUID)
		assert.Equal(t, int64(3), res.Pagination.Total)
		assert.Equal(t, 2, res.Pagination.TotalPages)

		res, err = h.campaigns.ListCampaigns(ctx, &dto.ListCampaignsRequest{UserID: owner.ID, Page: 2, Limit: 2})
		require.NoError(t, err)
		require.Len(t, res.Items, 1)
		assert.Equal(t, first.Campaign.UUID, res.Items[0].UUID)
	})

	t.Run("OldestFirst", func(t *testing.T) {
		res, err := h.campaigns.ListCampaigns(ctx, &dto.ListCampaignsRequest{UserID: owner.ID, OrderBy: "oldest"})
		require.NoError(t, err)
		require.Len(t, res.Items, 3)
		assert.Equal(t, first.Campaign.UUID, res.Items[0].UUID)
		assert.Equal(t, 10, res.Pagination.Limit)
	})

	t.Run("StatusFilter", func(t *testing.T) {
		res, err := h.campaigns.ListCampaigns(ctx, &dto.ListCampaignsRequest{UserID: owner.ID, Filter: &dto.ListCampaignsFilter{Status: utils.ToPtr("paused")}})
		require.NoError(t, err)
		require.Len(t, res.Items, 1)
		assert.Equal(t, second.Campaign.UUID, res.Items[0].UUID)
	})

	t.Run("OtherUsersSeeNothing", func(t *testing.T) {
		res, err := h.campaigns.ListCampaigns(ctx, &dto.ListCampaignsRequest{UserID: stranger.ID})
		require.NoError(t, err)
		assert.Empty(t, res.Items)
		assert.Equal(t, int64(0), res.Pagination.Total)
	})
}

func TestCampaignFlowPauseResume(t *testing.T) {
	ctx := context.Background()

	t.Run("StatusErrors", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("learner@example.com")
		resp := h.createCampaign(t, owner.ID, "daily", 3, 3)
		req := &dto.ChangeCampaignStatusRequest{UUID: resp.Campaign.UUID, UserID: owner.ID}

		_, err := h.campaigns.ResumeCampaign(ctx, req)
		assert.True(t, IsCampaignStatusUnchanged(err))

		paused, err := h.campaigns.PauseCampaign(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "paused", paused.Status)

		_, err = h.campaigns.PauseCampaign(ctx, req)
		assert.True(t, IsCampaignStatusUnchanged(err))

		c := h.campaignByUUID(t, resp.Campaign.UUID)
		h.store.setCampaign(c.ID, func(c *models.Campaign) { c.Status = models.CampaignStatusCompleted })
		_, err = h.campaigns.ResumeCampaign(ctx, req)
		assert.True(t, IsCampaignCompleted(err))
		_, err = h.campaigns.PauseCampaign(ctx, req)
		assert.True(t, IsCampaignCompleted(err))

		_, err = h.campaigns.PauseCampaign(ctx, &dto.ChangeCampaignStatusRequest{UUID: resp.Campaign.UUID, UserID: owner.ID + 100})
		assert.True(t, IsCampaignNotFound(err))
	})

	t.Run("ResumeRespacesOverdueEmails", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("learner@example.com")
		resp := h.createCampaign(t, owner.ID, "daily", 5, 5)
		c := h.campaignByUUID(t, resp.Campaign.UUID)
		req := &dto.ChangeCampaignStatusRequest{UUID: resp.Campaign.UUID, UserID: owner.ID}

		_, err := h.dispatcher.Sweep(ctx)
		require.NoError(t, err)
		_, err = h.campaigns.PauseCampaign(ctx, req)
		require.NoError(t, err)

		h.clock.Advance(3 * 24 * time.Hour)
		resumed, err := h.campaigns.ResumeCampaign(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "active", resumed.Status)

		now := h.clock.Now()
		emails := h.store.emailsOf(c.ID)
		require.Len(t, emails, 5)
		var prev time.Time
		for _, e := range emails {
			if e.SentAt != nil {
				prev = *e.SentAt
				continue
			}
			assert.False(t, e.ScheduledSendTime.Before(now))
			assert.GreaterOrEqual(t, e.ScheduledSendTime.Sub(prev), 24*time.Hour)
			prev = e.ScheduledSendTime
		}

		res, err := h.dispatcher.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Sent)
	})
}

func TestCampaignFlowUpdateCampaign(t *testing.T) {
	ctx := context.Background()

	t.Run("RequiresAField", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("learner@example.com")
		resp := h.createCampaign(t, owner.ID, "daily", 3, 3)
		_, err := h.campaigns.UpdateCampaign(ctx, &dto.UpdateCampaignRequest{UUID: resp.Campaign.UUID, UserID: owner.ID})
		assert.True(t, IsCampaignUpdateRequired(err))
	})

	t.Run("RenameDoesNotReplan", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("learner@example.com")
		resp := h.createCampaign(t, owner.ID, "daily", 3, 3)
		c := h.campaignByUUID(t, resp.Campaign.UUID)
		before := h.store.emailsOf(c.ID)

		res, err := h.campaigns.UpdateCampaign(ctx, &dto.UpdateCampaignRequest{
			UUID:           resp.Campaign.UUID,
			UserID:         owner.ID,
			Name:           utils.ToPtr("Renamed"),
			EmailFrequency: utils.ToPtr("daily"),
		})
		require.NoError(t, err)
		assert.False(t, res.Replanned)
		assert.Equal(t, "Renamed", res.Campaign.Name)

		after := h.store.emailsOf(c.ID)
		require.Len(t, after, len(before))
		for i := range before {
			assert.Equal(t, before[i].ClickTrackingID, after[i].ClickTrackingID)
		}
	})

	t.Run("ReplanKeepsSentEmails", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("learner@example.com")
		resp := h.createCampaign(t, owner.ID, "daily", 10, 10)
		c := h.campaignByUUID(t, resp.Campaign.UUID)
		_, err := h.dispatcher.Sweep(ctx)
		require.NoError(t, err)
		sent := h.store.emailsOf(c.ID)[0]
		require.NotNil(t, sent.SentAt)

		res, err := h.campaigns.UpdateCampaign(ctx, &dto.UpdateCampaignRequest{
			UUID:       resp.Campaign.UUID,
			UserID:     owner.ID,
			EmailCount: utils.ToPtr(5),
		})
		require.NoError(t, err)
		assert.True(t, res.Replanned)
		assert.Equal(t, 5, res.Campaign.EmailCount)

		emails := h.store.emailsOf(c.ID)
		require.Len(t, emails, 5)
		assert.Equal(t, sent.ClickTrackingID, emails[0].ClickTrackingID)
		for i := 1; i < len(emails); i++ {
			assert.Equal(t, models.DeliveryStatusPending, emails[i].DeliveryStatus)
			assert.GreaterOrEqual(t, emails[i].ScheduledSendTime.Sub(emails[i-1].ScheduledSendTime), 24*time.Hour)
		}
	})

	t.Run("CountBelowDispatched", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("learner@example.com")
		resp := h.createCampaign(t, owner.ID, "daily", 3, 3)
		h.sendAll(ctx, 1)

		_, err := h.campaigns.UpdateCampaign(ctx, &dto.UpdateCampaignRequest{UUID: resp.Campaign.UUID, UserID: owner.ID, EmailCount: utils.ToPtr(1)})
		require.Error(t, err)
		assert.True(t, IsEmailCountBelowDispatched(err))
		assert.Equal(t, "EMAIL_COUNT_BELOW_DISPATCHED", businessCode(t, err))
	})

	t.Run("CompletedCampaignIsFrozen", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("learner@example.com")
		resp := h.createCampaign(t, owner.ID, "daily", 1, 1)
		_, err := h.dispatcher.Sweep(ctx)
		require.NoError(t, err)

		_, err = h.campaigns.UpdateCampaign(ctx, &dto.UpdateCampaignRequest{UUID: resp.Campaign.UUID, UserID: owner.ID, Name: utils.ToPtr("late")})
		assert.True(t, IsCampaignCompleted(err))
	})
}

func TestCampaignFlowEmails(t *testing.T) {
	ctx := context.Background()

	t.Run("UnsentContentIsWithheld", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("learner@example.com")
		resp := h.createCampaign(t, owner.ID, "daily", 2, 2)
		_, err := h.dispatcher.Sweep(ctx)
		require.NoError(t, err)

		res, err := h.campaigns.ListCampaignEmails(ctx, &dto.GetCampaignRequest{UUID: resp.Campaign.UUID, UserID: owner.ID})
		require.NoError(t, err)
		require.Len(t, res.Items, 2)
		assert.NotEmpty(t, res.Items[0].Subject)
		assert.NotEmpty(t, res.Items[0].PhishingIndicators)
		assert.Empty(t, res.Items[1].Subject)
		assert.Empty(t, res.Items[1].Explanation)
		assert.Nil(t, res.Items[1].PhishingIndicators)
		assert.NotEmpty(t, res.Items[1].TrackingID)
	})

	t.Run("RetryFailedEmail", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("learner@example.com")
		resp := h.createCampaign(t, owner.ID, "daily", 2, 2)
		c := h.campaignByUUID(t, resp.Campaign.UUID)
		h.transport.Err = errors.New("mailbox unavailable")
		for i := 0; i < 3; i++ {
			_, err := h.dispatcher.Sweep(ctx)
			require.NoError(t, err)
		}
		emails := h.store.emailsOf(c.ID)
		require.Equal(t, models.DeliveryStatusFailed, emails[0].DeliveryStatus)

		retryReq := func(trackingID string) *dto.RetryCampaignEmailRequest {
			return &dto.RetryCampaignEmailRequest{UUID: resp.Campaign.UUID, UserID: owner.ID, TrackingID: trackingID}
		}

		_, err := h.campaigns.RetryCampaignEmail(ctx, retryReq(emails[1].ClickTrackingID))
		assert.True(t, IsCampaignEmailNotFailed(err))
		_, err = h.campaigns.RetryCampaignEmail(ctx, retryReq("unknown"))
		assert.True(t, IsCampaignEmailNotFound(err))

		res, err := h.campaigns.RetryCampaignEmail(ctx, retryReq(emails[0].ClickTrackingID))
		require.NoError(t, err)
		assert.Equal(t, "pending", res.DeliveryStatus)
		reset := h.store.email(emails[0].ID)
		assert.Equal(t, 0, reset.DeliveryAttempts)
		assert.Nil(t, reset.LastError)

		h.transport.Err = nil
		h.transport.FailTimes = 0
		sweep, err := h.dispatcher.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sweep.Sent)
	})

	t.Run("RetryLastSlotAfterExhaustion", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("learner@example.com")
		resp := h.createCampaign(t, owner.ID, "daily", 1, 1)
		c := h.campaignByUUID(t, resp.Campaign.UUID)
		h.transport.Err = errors.New("mailbox unavailable")
		for i := 0; i < 3; i++ {
			_, err := h.dispatcher.Sweep(ctx)
			require.NoError(t, err)
		}
		email := h.store.emailsOf(c.ID)[0]
		require.Equal(t, models.DeliveryStatusFailed, email.DeliveryStatus)
		require.Equal(t, models.CampaignStatusActive, h.store.campaign(c.ID).Status)

		_, err := h.campaigns.RetryCampaignEmail(ctx, &dto.RetryCampaignEmailRequest{
			UUID: resp.Campaign.UUID, UserID: owner.ID, TrackingID: email.ClickTrackingID,
		})
		require.NoError(t, err)

		h.transport.Err = nil
		sweep, err := h.dispatcher.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sweep.Sent)
		assert.Equal(t, 1, sweep.Completed)
		assert.Equal(t, models.CampaignStatusCompleted, h.store.campaign(c.ID).Status)
	})

	t.Run("EmailOfAnotherCampaign", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("learner@example.com")
		a := h.createCampaign(t, owner.ID, "daily", 2, 2)
		b := h.createCampaign(t, owner.ID, "daily", 2, 2)
		other := h.store.emailsOf(h.campaignByUUID(t, b.Campaign.UUID).ID)[0]

		_, err := h.campaigns.RetryCampaignEmail(ctx, &dto.RetryCampaignEmailRequest{UUID: a.Campaign.UUID, UserID: owner.ID, TrackingID: other.ClickTrackingID})
		assert.True(t, IsCampaignEmailNotFound(err))
	})

	t.Run("Delete", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("learner@example.com")
		resp := h.createCampaign(t, owner.ID, "daily", 2, 2)
		c := h.campaignByUUID(t, resp.Campaign.UUID)

		_, err := h.campaigns.DeleteCampaign(ctx, &dto.GetCampaignRequest{UUID: resp.Campaign.UUID, UserID: owner.ID + 1})
		assert.True(t, IsCampaignNotFound(err))

		res, err := h.campaigns.DeleteCampaign(ctx, &dto.GetCampaignRequest{UUID: resp.Campaign.UUID, UserID: owner.ID})
		require.NoError(t, err)
		assert.Equal(t, resp.Campaign.UUID, res.UUID)
		assert.Empty(t, h.store.emailsOf(c.ID))

		_, err = h.campaigns.GetCampaign(ctx, &dto.GetCampaignRequest{UUID: resp.Campaign.UUID, UserID: owner.ID})
		assert.True(t, IsCampaignNotFound(err))
	})
}

func TestCampaignFlowSendNow(t *testing.T) {
	ctx := context.Background()

	t.Run("Delivered", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("learner@example.com")

		res, err := h.campaigns.SendNow(ctx, &dto.SendNowRequest{UserID: owner.ID})
		require.NoError(t, err)
		assert.Equal(t, "sent", res.DeliveryStatus)
		assert.Equal(t, "Email sent successfully", res.Message)
		assert.False(t, res.UsedFallback)
		assert.Equal(t, "completed", res.Campaign.Status)
		assert.Equal(t, 1, res.Campaign.EmailCount)
		assert.Equal(t, []string{"bank"}, res.Campaign.PreferredThemes)

		msgs := h.transport.Messages()
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0].TextBody, TrackingURL("https://train.example.com", res.TrackingID))

		_, err = h.tracking.RecordClick(ctx, res.TrackingID, nil)
		require.NoError(t, err)
	})

	t.Run("FallbackWhenGenerationFails", func(t *testing.T) {
		h := newHarness()
		h.generator.Err = errors.New("model overloaded")
		owner := h.store.addUser("learner@example.com")

		res, err := h.campaigns.SendNow(ctx, &dto.SendNowRequest{UserID: owner.ID, ContentType: utils.ToPtr("legitimate"), Theme: utils.ToPtr("parcel")})
		require.NoError(t, err)
		assert.True(t, res.UsedFallback)
		assert.Equal(t, "sent", res.DeliveryStatus)

		msgs := h.transport.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, FallbackPhishingEmail().Subject, msgs[0].Subject)

		c := h.campaignByUUID(t, res.Campaign.UUID)
		email := h.store.emailsOf(c.ID)[0]
		assert.Equal(t, models.EmailTypePhishing, email.EmailType)
		assert.Equal(t, "parcel", email.Theme)
	})

	t.Run("TransportFailureLeavesRowQueued", func(t *testing.T) {
		h := newHarness()
		h.transport.FailTimes = 1
		owner := h.store.addUser("learner@example.com")

		res, err := h.campaigns.SendNow(ctx, &dto.SendNowRequest{UserID: owner.ID})
		require.NoError(t, err)
		assert.Equal(t, "pending", res.DeliveryStatus)
		assert.Equal(t, "Email queued for delivery", res.Message)
		assert.Equal(t, "active", res.Campaign.Status)

		sweep, err := h.dispatcher.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sweep.Sent)
	})

	t.Run("OwnerWithoutEmail", func(t *testing.T) {
		h := newHarness()
		owner := h.store.addUser("")
		_, err := h.campaigns.SendNow(ctx, &dto.SendNowRequest{UserID: owner.ID})
		require.Error(t, err)
		assert.Equal(t, "USER_EMAIL_MISSING", businessCode(t, err))
	})
}
