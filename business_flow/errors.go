// Package businessflow contains the core business logic and use cases of the training engine
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// User-related errors
	ErrUserNotFound = errors.New("user not found")

	// Campaign-related errors
	ErrInvalidCampaignConfig     = errors.New("invalid campaign configuration")
	ErrCampaignNotFound          = errors.New("campaign not found")
	ErrCampaignNotActive         = errors.New("campaign is not active")
	ErrCampaignCompleted         = errors.New("campaign is completed")
	ErrCampaignStatusUnchanged   = errors.New("campaign is already in the requested status")
	ErrCampaignUpdateRequired    = errors.New("at least one field must be provided for update")
	ErrEmailCountBelowDispatched = errors.New("email count cannot be lower than the number of emails already dispatched")

	// Campaign email errors
	ErrCampaignEmailNotFound  = errors.New("campaign email not found")
	ErrCampaignEmailNotFailed = errors.New("campaign email is not in failed state")

	// Content and delivery errors
	ErrGenerationFailed = errors.New("content generation failed")
	ErrDeliveryFailed   = errors.New("delivery failed")
	ErrTrackingToken    = errors.New("failed to mint a unique tracking token")

	// Tracking errors
	ErrTrackingNotFound = errors.New("tracking id not found")

	// Learn errors
	ErrInvalidAttempt       = errors.New("attempt must state whether the answer was correct")
	ErrInvalidSampleRequest = errors.New("invalid sample request")

	// Filter errors
	ErrInvalidPage     = errors.New("page must be at least 1")
	ErrInvalidPageSize = errors.New("page size must be between 1 and 100")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// ConfigError describes why a campaign configuration was rejected
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidCampaignConfig
}

func newConfigError(field, reason string) error {
	return &ConfigError{Field: field, Reason: reason}
}

// ConfigErrorReason extracts a short human readable reason from a configuration error
func ConfigErrorReason(err error) string {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Error()
	}
	return ErrInvalidCampaignConfig.Error()
}

func IsUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

func IsInvalidCampaignConfig(err error) bool {
	return errors.Is(err, ErrInvalidCampaignConfig)
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

func IsCampaignNotActive(err error) bool {
	return errors.Is(err, ErrCampaignNotActive)
}

func IsCampaignCompleted(err error) bool {
	return errors.Is(err, ErrCampaignCompleted)
}

func IsCampaignStatusUnchanged(err error) bool {
	return errors.Is(err, ErrCampaignStatusUnchanged)
}

func IsCampaignUpdateRequired(err error) bool {
	return errors.Is(err, ErrCampaignUpdateRequired)
}

func IsEmailCountBelowDispatched(err error) bool {
	return errors.Is(err, ErrEmailCountBelowDispatched)
}

func IsCampaignEmailNotFound(err error) bool {
	return errors.Is(err, ErrCampaignEmailNotFound)
}

func IsCampaignEmailNotFailed(err error) bool {
	return errors.Is(err, ErrCampaignEmailNotFailed)
}

func IsGenerationFailed(err error) bool {
	return errors.Is(err, ErrGenerationFailed)
}

func IsDeliveryFailed(err error) bool {
	return errors.Is(err, ErrDeliveryFailed)
}

func IsTrackingNotFound(err error) bool {
	return errors.Is(err, ErrTrackingNotFound)
}

func IsInvalidPage(err error) bool {
	return errors.Is(err, ErrInvalidPage) || errors.Is(err, ErrInvalidPageSize)
}
