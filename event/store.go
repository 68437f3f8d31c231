package event

import (
	"context"
	"errors"

	"github.com/xraph/herald/id"
)

// ErrNotFound is returned for unknown events and for events owned by
// another company.
var ErrNotFound = errors.New("herald: event not found")

// Store defines the persistence contract for events.
type Store interface {
	// CreateEvent persists an event. Must be durable before returning.
	CreateEvent(ctx context.Context, evt *Event) error

	// GetEvent returns an event by ID regardless of tenant.
	GetEvent(ctx context.Context, evtID id.ID) (*Event, error)

	// ListEvents returns a company's events, newest first.
	ListEvents(ctx context.Context, companyID string, opts ListOpts) ([]*Event, error)
}
