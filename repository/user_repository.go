package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepositoryImpl implements the UserRepository interface
type UserRepositoryImpl struct {
	*BaseRepository[models.User, struct{}]
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &UserRepositoryImpl{
		BaseRepository: NewBaseRepository[models.User, struct{}](db),
	}
}

// ByEmail retrieves a user by email, case-insensitively
func (r *UserRepositoryImpl) ByEmail(ctx context.Context, email string) (*models.User, error) {
	db := r.getDB(ctx)

	var user models.User
	err := db.Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).Last(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// IncrementNumFished bumps the fished counter of a user
func (r *UserRepositoryImpl) IncrementNumFished(ctx context.Context, id uint) error {
	db := r.getDB(ctx)

	res := db.Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"num_fished": gorm.Expr("num_fished + 1"),
			"updated_at": utils.UTCNow(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to increment num_fished for user %d: %w", id, res.Error)
	}
	return nil
}

// EnsureProfile inserts the user keyed by the auth provider's id, or refreshes its email
func (r *UserRepositoryImpl) EnsureProfile(ctx context.Context, id uint, email string) (*models.User, error) {
	db := r.getDB(ctx)

	now := utils.UTCNow()
	user := models.User{
		ID:        id,
		Email:     strings.TrimSpace(email),
		CreatedAt: now,
	}
	err := db.Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"email":      gorm.Expr("CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE users.email END"),
				"updated_at": now,
			}),
		},
		clause.Returning{},
	).Create(&user).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user %d: %w", id, err)
	}
	return &user, nil
}
