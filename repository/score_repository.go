package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScoreRepositoryImpl implements the ScoreRepository interface
type ScoreRepositoryImpl struct {
	*BaseRepository[models.Score, struct{}]
}

// NewScoreRepository creates a new score repository
func NewScoreRepository(db *gorm.DB) ScoreRepository {
	return &ScoreRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Score, struct{}](db),
	}
}

func (r *ScoreRepositoryImpl) ByUserID(ctx context.Context, userID uint) (*models.Score, error) {
	db := r.getDB(ctx)

	var score models.Score
	err := db.Where("user_id = ?", userID).Take(&score).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &score, nil
}

// RecordAttempt upserts the score row with atomic increments so concurrent answers never lose updates
func (r *ScoreRepositoryImpl) RecordAttempt(ctx context.Context, userID uint, correct bool) (*models.Score, error) {
	db := r.getDB(ctx)

	var correctInc int64
	if correct {
		correctInc = 1
	}

	score := models.Score{
		UserID:         userID,
		LearnAttempted: 1,
		LearnCorrect:   correctInc,
		UpdatedAt:      utils.UTCNow(),
	}

	err := db.Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"learn_attempted": gorm.Expr("scores.learn_attempted + 1"),
				"learn_correct":   gorm.Expr("scores.learn_correct + ?", correctInc),
				"updated_at":      score.UpdatedAt,
			}),
		},
		clause.Returning{},
	).Create(&score).Error
	if err != nil {
		return nil, fmt.Errorf("failed to record learn attempt for user %d: %w", userID, err)
	}

	return &score, nil
}
