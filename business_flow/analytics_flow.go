package businessflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/phishschool/app/dto"
	"github.com/amirphl/phishschool/app/services"
	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/repository"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// AnalyticsFlow derives click analytics from campaign emails and the click log
type AnalyticsFlow interface {
	CampaignStats(ctx context.Context, userID uint, campaignUUID string) (*dto.CampaignStatsResponse, error)
	UserAnalytics(ctx context.Context, userID uint) (*dto.UserAnalyticsResponse, error)
	ExportCampaignReport(ctx context.Context, userID uint, campaignUUID string) (string, []byte, error)
}

// AnalyticsFlowImpl implements AnalyticsFlow
type AnalyticsFlowImpl struct {
	campaignRepo repository.CampaignRepository
	emailRepo    repository.CampaignEmailRepository
	cache        services.AnalyticsCache
	logger       *zap.Logger
}

// NewAnalyticsFlow creates a new analytics flow
func NewAnalyticsFlow(
	campaignRepo repository.CampaignRepository,
	emailRepo repository.CampaignEmailRepository,
	cache services.AnalyticsCache,
	logger *zap.Logger,
) AnalyticsFlow {
	if cache == nil {
		cache = services.NoopAnalyticsCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsFlowImpl{
		campaignRepo: campaignRepo,
		emailRepo:    emailRepo,
		cache:        cache,
		logger:       logger,
	}
}

// rollup is the folded form of EmailStatsRow groups
type rollup struct {
	Planned          int64
	Sent             int64
	Clicked          int64
	PhishingSent     int64
	PhishingReported int64
	ByDifficulty     map[string]dto.BreakdownDTO
	ByTheme          map[string]dto.BreakdownDTO
}

func foldStats(rows []*models.EmailStatsRow) rollup {
	r := rollup{
		ByDifficulty: map[string]dto.BreakdownDTO{},
		ByTheme:      map[string]dto.BreakdownDTO{},
	}
	for _, row := range rows {
		r.Planned += row.Total
		r.Sent += row.Sent
		r.Clicked += row.Clicked
		if row.EmailType == models.EmailTypePhishing {
			r.PhishingSent += row.Sent
			r.PhishingReported += row.Reported
		}
		r.ByDifficulty[string(row.DifficultyLevel)] = addBreakdown(r.ByDifficulty[string(row.DifficultyLevel)], row)
		r.ByTheme[row.Theme] = addBreakdown(r.ByTheme[row.Theme], row)
	}
	for k, v := range r.ByDifficulty {
		v.ClickRate = ratio(v.Clicked, v.Sent)
		r.ByDifficulty[k] = v
	}
	for k, v := range r.ByTheme {
		v.ClickRate = ratio(v.Clicked, v.Sent)
		r.ByTheme[k] = v
	}
	return r
}

func addBreakdown(b dto.BreakdownDTO, row *models.EmailStatsRow) dto.BreakdownDTO {
	b.Sent += row.Sent
	b.Clicked += row.Clicked
	return b
}

// ratio returns num/den rounded to four decimals, or 0 when den is 0
func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	v := float64(num) / float64(den)
	return float64(int64(v*10000+0.5)) / 10000
}

// CampaignStats returns the per-campaign rollup
func (f *AnalyticsFlowImpl) CampaignStats(ctx context.Context, userID uint, campaignUUID string) (*dto.CampaignStatsResponse, error) {
	campaign, err := getOwnedCampaign(ctx, f.campaignRepo, campaignUUID, userID)
	if err != nil {
		return nil, err
	}

	key := services.CampaignAnalyticsKey(campaign.ID)
	var cached dto.CampaignStatsResponse
	if hit, err := f.cache.Get(ctx, key, &cached); err == nil && hit && cached.Status == string(campaign.Status) {
		return &cached, nil
	} else if err != nil {
		f.logger.Warn("analytics cache read failed", zap.Error(err))
	}

	rows, err := f.emailRepo.Stats(ctx, models.EmailStatsFilter{CampaignID: &campaign.ID})
	if err != nil {
		return nil, NewBusinessError("ANALYTICS_FAILED", "Failed to compute campaign statistics", err)
	}
	r := foldStats(rows)

	resp := &dto.CampaignStatsResponse{
		CampaignUUID:     campaign.UUID.String(),
		Status:           string(campaign.Status),
		EmailsPlanned:    int64(campaign.EmailCount),
		EmailsSent:       r.Sent,
		EmailsClicked:    r.Clicked,
		ClickRate:        ratio(r.Clicked, r.Sent),
		PhishingSent:     r.PhishingSent,
		PhishingReported: r.PhishingReported,
		DetectionRate:    ratio(r.PhishingReported, r.PhishingSent),
		ByDifficulty:     r.ByDifficulty,
		ByTheme:          r.ByTheme,
	}
	if err := f.cache.Set(ctx, key, resp); err != nil {
		f.logger.Warn("analytics cache write failed", zap.Error(err))
	}
	return resp, nil
}

// UserAnalytics returns the cross-campaign rollup of a user
func (f *AnalyticsFlowImpl) UserAnalytics(ctx context.Context, userID uint) (*dto.UserAnalyticsResponse, error) {
	key := services.UserAnalyticsKey(userID)
	var cached dto.UserAnalyticsResponse
	if hit, err := f.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	} else if err != nil {
		f.logger.Warn("analytics cache read failed", zap.Error(err))
	}

	total, err := f.campaignRepo.Count(ctx, models.CampaignFilter{UserID: &userID})
	if err != nil {
		return nil, NewBusinessError("ANALYTICS_FAILED", "Failed to compute analytics", err)
	}
	active := models.CampaignStatusActive
	activeCount, err := f.campaignRepo.Count(ctx, models.CampaignFilter{UserID: &userID, Status: &active})
	if err != nil {
		return nil, NewBusinessError("ANALYTICS_FAILED", "Failed to compute analytics", err)
	}
	rows, err := f.emailRepo.Stats(ctx, models.EmailStatsFilter{UserID: &userID})
	if err != nil {
		return nil, NewBusinessError("ANALYTICS_FAILED", "Failed to compute analytics", err)
	}
	r := foldStats(rows)

	resp := &dto.UserAnalyticsResponse{
		TotalCampaigns:   total,
		ActiveCampaigns:  activeCount,
		EmailsSent:       r.Sent,
		EmailsClicked:    r.Clicked,
		ClickRate:        ratio(r.Clicked, r.Sent),
		PhishingSent:     r.PhishingSent,
		PhishingReported: r.PhishingReported,
		DetectionRate:    ratio(r.PhishingReported, r.PhishingSent),
		ByDifficulty:     r.ByDifficulty,
		ByTheme:          r.ByTheme,
	}
	if err := f.cache.Set(ctx, key, resp); err != nil {
		f.logger.Warn("analytics cache write failed", zap.Error(err))
	}
	return resp, nil
}

// ExportCampaignReport builds an XLSX workbook with a summary sheet and one row per email
func (f *AnalyticsFlowImpl) ExportCampaignReport(ctx context.Context, userID uint, campaignUUID string) (string, []byte, error) {
	stats, err := f.CampaignStats(ctx, userID, campaignUUID)
	if err != nil {
		return "", nil, err
	}
	campaign, err := getOwnedCampaign(ctx, f.campaignRepo, campaignUUID, userID)
	if err != nil {
		return "", nil, err
	}
	emails, err := f.emailRepo.ListByCampaign(ctx, campaign.ID)
	if err != nil {
		return "", nil, NewBusinessError("FETCH_CAMPAIGN_EMAILS_FAILED", "Failed to fetch campaign emails", err)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	const summary = "Summary"
	xl.SetSheetName(xl.GetSheetName(0), summary)
	summaryRows := [][]any{
		{"campaign", campaign.Name},
		{"status", stats.Status},
		{"emails_planned", stats.EmailsPlanned},
		{"emails_sent", stats.EmailsSent},
		{"emails_clicked", stats.EmailsClicked},
		{"click_rate", stats.ClickRate},
		{"phishing_sent", stats.PhishingSent},
		{"phishing_reported", stats.PhishingReported},
		{"detection_rate", stats.DetectionRate},
	}
	for i, row := range summaryRows {
		cellRef, _ := excelize.CoordinatesToCellName(1, i+1)
		_ = xl.SetSheetRow(summary, cellRef, &row)
	}

	const sheet = "Emails"
	if _, err := xl.NewSheet(sheet); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	header := []string{"slot", "type", "theme", "difficulty", "subject", "scheduled_send_time", "sent_at", "clicked_at", "delivery_status", "attempts"}
	_ = xl.SetSheetRow(sheet, "A1", &header)
	for i, e := range emails {
		subject := ""
		if e.IsSent() {
			subject = e.Subject
		}
		record := []string{
			strconv.Itoa(e.SlotIndex),
			string(e.EmailType),
			e.Theme,
			string(e.DifficultyLevel),
			subject,
			e.ScheduledSendTime.UTC().Format(time.RFC3339),
			formatOptionalTime(e.SentAt),
			formatOptionalTime(e.ClickedAt),
			string(e.DeliveryStatus),
			strconv.Itoa(e.DeliveryAttempts),
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = xl.SetSheetRow(sheet, cellRef, &record)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := fmt.Sprintf("campaign_%s.xlsx", campaign.UUID.String())
	return filename, buf.Bytes(), nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
