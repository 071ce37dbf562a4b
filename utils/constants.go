package utils

import (
	"time"
)

// Context keys for request-scoped values
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	UserAgentKey ContextKey = "user_agent"
	IPAddressKey ContextKey = "ip_address"
	EndpointKey  ContextKey = "endpoint"
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Campaign defaults applied when neither the request nor the stored preferences say otherwise
const (
	DefaultEmailCount   = 10
	DefaultDurationDays = 30

	// DefaultLegitimateFraction is the share of slots that carry legitimate content
	DefaultLegitimateFraction = 0.2

	MaxEmailCount   = 365
	MaxDurationDays = 365
	MaxThemes       = 20
)

// DefaultThemes are used when a user has not picked any
var DefaultThemes = []string{"bank", "job", "friend"}

// Delivery and generation defaults
const (
	DefaultGenerationAttempts = 3
	DefaultGenerationBackoff  = 500 * time.Millisecond
	DefaultMaxDeliveryTries   = 3
	DefaultDispatchBatchSize  = 100
	DefaultClaimLease         = 10 * time.Minute

	// TrackingTokenBytes is the entropy of a click tracking token before encoding
	TrackingTokenBytes = 24

	// TrackingURLPlaceholder is replaced by the rendered tracking link at dispatch time
	TrackingURLPlaceholder = "{{TRACKING_URL}}"
)
