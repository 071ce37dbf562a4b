// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/amirphl/phishschool/app/dto"
	"github.com/amirphl/phishschool/app/services"
	"github.com/amirphl/phishschool/models"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// UserEnsurer provisions the local profile for an authenticated subject
type UserEnsurer interface {
	EnsureUser(ctx context.Context, userID uint, email string) (*models.User, error)
}

// AuthMiddleware handles JWT token validation for protected endpoints
type AuthMiddleware struct {
	tokenService services.TokenService
	users        UserEnsurer
	logger       *zap.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokenService services.TokenService, users UserEnsurer, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{
		tokenService: tokenService,
		users:        users,
		logger:       logger,
	}
}

func unauthorized(c fiber.Ctx, message, code string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error:   dto.ErrorDetail{Code: code},
	})
}

// Authenticate validates the bearer token and makes sure the owner profile exists
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "Authorization header is required", "MISSING_AUTHORIZATION_HEADER")
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return unauthorized(c, "Invalid authorization header format. Expected 'Bearer <token>'", "INVALID_AUTHORIZATION_FORMAT")
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			return unauthorized(c, "Access token is required", "MISSING_ACCESS_TOKEN")
		}

		claims, err := m.tokenService.ValidateToken(token)
		if err != nil {
			if errors.Is(err, services.ErrTokenExpired) {
				return unauthorized(c, "Access token has expired", "TOKEN_EXPIRED")
			}
			return unauthorized(c, "Invalid access token", "TOKEN_INVALID")
		}

		if m.users != nil {
			if _, err := m.users.EnsureUser(c.Context(), claims.UserID, claims.Email); err != nil {
				m.logger.Warn("failed to provision user profile", zap.Uint("user_id", claims.UserID), zap.Error(err))
				return unauthorized(c, "User profile is not available", "USER_NOT_PROVISIONED")
			}
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("token_id", claims.TokenID)
		c.Locals("token_claims", claims)

		return c.Next()
	}
}

// GetUserIDFromContext extracts the authenticated user id from the request context
func GetUserIDFromContext(c fiber.Ctx) (uint, bool) {
	userID, ok := c.Locals("user_id").(uint)
	return userID, ok
}

// GetTokenClaimsFromContext extracts token claims from the request context
func GetTokenClaimsFromContext(c fiber.Ctx) (*services.TokenClaims, bool) {
	claims, ok := c.Locals("token_claims").(*services.TokenClaims)
	return claims, ok
}

// RequireAuth ensures an authenticated user is present. It returns the user id,
// or writes a 401 response and returns ok=false.
func RequireAuth(c fiber.Ctx) (uint, bool, error) {
	userID, exists := GetUserIDFromContext(c)
	if !exists || userID == 0 {
		return 0, false, unauthorized(c, "Authentication required", "AUTHENTICATION_REQUIRED")
	}
	return userID, true, nil
}
