package businessflow

import (
	"context"
	"strings"

	"github.com/amirphl/phishschool/app/dto"
	"github.com/amirphl/phishschool/app/services"
	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/repository"
	"go.uber.org/zap"
)

// LearnFlow backs the practice quiz: score keeping and on-demand sample messages
type LearnFlow interface {
	RecordAttempt(ctx context.Context, req *dto.RecordAttemptRequest) (*dto.ScoreResponse, error)
	GetScore(ctx context.Context, userID uint) (*dto.ScoreResponse, error)
	GenerateSample(ctx context.Context, req *dto.GenerateSampleRequest) (*dto.SampleResponse, error)
}

// LearnFlowImpl implements LearnFlow
type LearnFlowImpl struct {
	scoreRepo    repository.ScoreRepository
	orchestrator ContentOrchestrator
	logger       *zap.Logger
}

// NewLearnFlow creates a new learn flow
func NewLearnFlow(scoreRepo repository.ScoreRepository, orchestrator ContentOrchestrator, logger *zap.Logger) LearnFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LearnFlowImpl{
		scoreRepo:    scoreRepo,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// RecordAttempt counts one answered question
func (f *LearnFlowImpl) RecordAttempt(ctx context.Context, req *dto.RecordAttemptRequest) (*dto.ScoreResponse, error) {
	if req.Correct == nil {
		return nil, NewBusinessError("INVALID_ATTEMPT", "correct is required", ErrInvalidAttempt)
	}
	score, err := f.scoreRepo.RecordAttempt(ctx, req.UserID, *req.Correct)
	if err != nil {
		return nil, NewBusinessError("SCORE_UPDATE_FAILED", "Failed to record attempt", err)
	}
	return toScoreResponse(score), nil
}

// GetScore returns the user's counters, zero when nothing was attempted
func (f *LearnFlowImpl) GetScore(ctx context.Context, userID uint) (*dto.ScoreResponse, error) {
	score, err := f.scoreRepo.ByUserID(ctx, userID)
	if err != nil {
		return nil, NewBusinessError("SCORE_LOOKUP_FAILED", "Failed to load score", err)
	}
	if score == nil {
		score = &models.Score{UserID: userID}
	}
	return toScoreResponse(score), nil
}

// GenerateSample asks the generator for a practice message. Nothing is persisted.
func (f *LearnFlowImpl) GenerateSample(ctx context.Context, req *dto.GenerateSampleRequest) (*dto.SampleResponse, error) {
	genReq := services.GenerationRequest{
		MessageType: services.MessageType(req.MessageType),
		ContentType: models.EmailType(req.ContentType),
		Difficulty:  models.DifficultyMedium,
		Theme:       "bank",
	}
	if req.Difficulty != nil {
		genReq.Difficulty = models.DifficultyLevel(*req.Difficulty)
	}
	if req.Theme != nil && strings.TrimSpace(*req.Theme) != "" {
		genReq.Theme = strings.TrimSpace(*req.Theme)
	}
	if !genReq.MessageType.Valid() || !genReq.ContentType.Valid() || !genReq.Difficulty.Valid() {
		return nil, NewBusinessError("INVALID_SAMPLE_REQUEST", "message_type, content_type or difficulty is invalid", ErrInvalidSampleRequest)
	}

	content, err := f.orchestrator.Generate(ctx, genReq)
	if err != nil {
		return nil, NewBusinessError("GENERATION_FAILED", "Sample generation is unavailable, try again later", err)
	}

	resp := &dto.SampleResponse{
		MessageType:        string(content.MessageType()),
		ContentType:        string(genReq.ContentType),
		Difficulty:         string(genReq.Difficulty),
		Theme:              genReq.Theme,
		PhishingIndicators: content.Indicators(),
		Explanation:        content.Explanation(),
	}
	switch c := content.(type) {
	case services.EmailContent:
		resp.Subject = c.Subject
		resp.Sender = c.Sender
		resp.Body = c.Body
	case services.SMSContent:
		resp.PhoneNumber = c.PhoneNumber
		resp.ContactName = c.ContactName
		resp.Message = c.Message
	}
	if resp.PhishingIndicators == nil {
		resp.PhishingIndicators = []string{}
	}
	return resp, nil
}

func toScoreResponse(s *models.Score) *dto.ScoreResponse {
	return &dto.ScoreResponse{
		LearnAttempted: s.LearnAttempted,
		LearnCorrect:   s.LearnCorrect,
		Accuracy:       ratio(s.LearnCorrect, s.LearnAttempted),
		UpdatedAt:      s.UpdatedAt,
	}
}
