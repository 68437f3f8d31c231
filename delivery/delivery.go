// Package delivery tracks and performs webhook deliveries: one record per
// (event, webhook) pair, mutated in place across retries until it reaches
// a terminal status.
package delivery

import (
	"time"
	"unicode/utf8"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

// Status is the lifecycle state of a delivery.
type Status string

const (
	// StatusPending deliveries await their first attempt or a retry at
	// NextAttemptAt.
	StatusPending Status = "pending"

	// StatusSuccess deliveries got a 2xx response. Terminal.
	StatusSuccess Status = "success"

	// StatusFailed deliveries could not be attempted at all, for example
	// because their webhook was deleted. Terminal.
	StatusFailed Status = "failed"

	// StatusDeadLetter deliveries exhausted their retries. Terminal.
	StatusDeadLetter Status = "dead_letter"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusDeadLetter
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// Delivery is the delivery lineage of one event to one webhook.
type Delivery struct {
	entity.Entity

	ID        id.ID  `json:"id"`
	CompanyID string `json:"company_id"`
	WebhookID id.ID  `json:"webhook_id"`
	EventID   id.ID  `json:"event_id"`
	Status    Status `json:"status"`

	// Attempt counts the HTTP attempts made so far.
	Attempt int `json:"attempt"`

	// NextAttemptAt is set while pending. It doubles as the claim lease.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	RequestSignature string  `json:"request_signature,omitempty"`
	ResponseStatus   int     `json:"response_status,omitempty"`
	ResponseBody     *string `json:"response_body,omitempty"`
	ErrorMessage     string  `json:"error_message,omitempty"`
	LatencyMs        int     `json:"latency_ms,omitempty"`
}

// ListOpts configures filtering and pagination for delivery listing.
type ListOpts struct {
	Offset    int
	Limit     int
	WebhookID id.ID
	EventID   id.ID
	Status    Status
}

// MaxBodyChars is the number of characters of a response body kept.
const MaxBodyChars = 4096

// TruncatedSuffix marks a cut response body.
const TruncatedSuffix = "... [truncated]"

// Truncate keeps the first MaxBodyChars characters of body and appends
// TruncatedSuffix when anything was cut. A nil body stays nil.
func Truncate(body *string) *string {
	if body == nil {
		return nil
	}
	s := *body
	if utf8.RuneCountInString(s) <= MaxBodyChars {
		return &s
	}

	n := 0
	for i := range s {
		if n == MaxBodyChars {
			out := s[:i] + TruncatedSuffix
			return &out
		}
		n++
	}
	return &s
}
