package businessflow

import (
	"context"
	"strings"

	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/repository"
)

// UserFlow keeps the local owner profile in step with the authentication provider
type UserFlow interface {
	EnsureUser(ctx context.Context, userID uint, email string) (*models.User, error)
}

// UserFlowImpl implements UserFlow
type UserFlowImpl struct {
	userRepo repository.UserRepository
}

// NewUserFlow creates a new user flow
func NewUserFlow(userRepo repository.UserRepository) UserFlow {
	return &UserFlowImpl{userRepo: userRepo}
}

// EnsureUser returns the profile for an authenticated subject, creating or refreshing it
func (f *UserFlowImpl) EnsureUser(ctx context.Context, userID uint, email string) (*models.User, error) {
	if userID == 0 {
		return nil, NewBusinessError("USER_NOT_FOUND", "User not found", ErrUserNotFound)
	}
	email = strings.TrimSpace(email)

	existing, err := f.userRepo.ByID(ctx, userID)
	if err != nil {
		return nil, NewBusinessError("USER_LOOKUP_FAILED", "Failed to lookup user", err)
	}
	if existing != nil && (email == "" || strings.EqualFold(existing.Email, email)) {
		return existing, nil
	}
	if existing == nil && email == "" {
		return nil, NewBusinessError("USER_NOT_FOUND", "User not found", ErrUserNotFound)
	}

	user, err := f.userRepo.EnsureProfile(ctx, userID, email)
	if err != nil {
		return nil, NewBusinessError("USER_PROVISIONING_FAILED", "Failed to provision user", err)
	}
	return user, nil
}
