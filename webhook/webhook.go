// Package webhook manages tenant-registered webhook configurations: the
// target URL, subscribed event types, signing secret and delivery limits.
package webhook

import (
	"slices"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/signature"
)

// Status is the lifecycle state of a webhook config.
type Status string

const (
	// StatusActive configs receive deliveries.
	StatusActive Status = "active"

	// StatusInactive configs were switched off by a user.
	StatusInactive Status = "inactive"

	// StatusSuspended configs were switched off by the dispatcher after too
	// many consecutive dead letters. Only a user can reactivate them.
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// Limits applied when an input leaves them unset.
const (
	DefaultTimeoutMs  = 10000
	MinTimeoutMs      = 1000
	MaxTimeoutMs      = 30000
	DefaultMaxRetries = 3
	MaxMaxRetries     = 5
)

// Config is a webhook delivery target registered by a company.
type Config struct {
	entity.Entity

	ID id.ID `json:"id"`

	// CompanyID is the owning tenant. It never changes.
	CompanyID string `json:"company_id"`

	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`

	// Events is the set of subscribed event types. Matching is exact.
	Events []string `json:"events"`

	// Secret is the HMAC signing key. Never serialized.
	Secret string `json:"-"`

	Status Status `json:"status"`

	// Headers are sent with every delivery. They cannot override the
	// headers herald sets itself.
	Headers map[string]string `json:"headers,omitempty"`

	TimeoutMs  int `json:"timeout_ms"`
	MaxRetries int `json:"max_retries"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	ConsecutiveDeadLetters int `json:"consecutive_dead_letters"`
}

// Subscribes reports whether the config listens to eventType.
func (c *Config) Subscribes(eventType string) bool {
	return slices.Contains(c.Events, eventType)
}

// Timeout returns the per-attempt HTTP timeout.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// MaskedSecret returns the placeholder shown instead of the secret.
func (c *Config) MaskedSecret() string {
	return signature.Mask(c.Secret)
}

// ListOpts configures filtering and pagination for config listing.
type ListOpts struct {
	Offset int
	Limit  int

	// Status filters by lifecycle state when non-empty.
	Status Status
}
