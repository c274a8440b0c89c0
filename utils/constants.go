package utils

import (
	"time"
)

// Token store constants
const (
	// PageTokenTTL is the time-to-live for stored page access tokens (30 days)
	PageTokenTTL = 30 * 24 * time.Hour
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Ingestor constants
const (
	QuickCheckConversations = 20
	QuickCheckMessages      = 5
	FullCheckConversations  = 50
	FullCheckMessages       = 10

	// QuickCheckFreshness limits quick-check to conversations updated this recently
	QuickCheckFreshness = time.Minute

	// CustomerDataLookback bounds build_customer_data to the last year
	CustomerDataLookback = 365 * 24 * time.Hour
)

// Scheduler constants
const (
	// ScheduledFireWindow is how close to scheduled_at a tick must land
	ScheduledFireWindow = 30 * time.Second

	// ScheduledMinGap is the minimum time between two fires of one schedule
	ScheduledMinGap = time.Hour

	// InactivityBandFloor and InactivityBandRatio define the tolerance band
	InactivityBandFloor = 0.2
	InactivityBandRatio = 0.02
)

// Classifier constants
const (
	ClassificationCooldown = time.Hour
)

// Default display name prefix for customers whose profile cannot be fetched
const UnknownCustomerPrefix = "User"
