package herald

import (
	"errors"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/webhook"
)

// Sentinel errors returned by Herald operations.
var (
	// ErrNoStore is returned when a Herald is created without a store.
	ErrNoStore = errors.New("herald: store is required")

	// ErrInvalidEvent is returned by Emit for a missing company or a
	// malformed event type.
	ErrInvalidEvent = errors.New("herald: invalid event")

	// ErrWebhookNotFound is returned for unknown webhooks and for webhooks
	// owned by another company.
	ErrWebhookNotFound = webhook.ErrNotFound

	// ErrEventNotFound is returned for unknown events and for events owned
	// by another company.
	ErrEventNotFound = event.ErrNotFound

	// ErrDeliveryNotFound is returned for unknown deliveries and for
	// deliveries owned by another company.
	ErrDeliveryNotFound = delivery.ErrNotFound

	// ErrStoreClosed is returned when a store is used after Close.
	ErrStoreClosed = store.ErrClosed
)

// ValidationError is returned by webhook create and update for bad input.
type ValidationError = webhook.ValidationError
