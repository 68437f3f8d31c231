package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/herald/id"
)

var (
	// ErrNotFound is returned for unknown deliveries and for deliveries
	// owned by another company.
	ErrNotFound = errors.New("herald: delivery not found")

	// ErrDuplicate is returned when a delivery already exists for the
	// same (event, webhook) pair.
	ErrDuplicate = errors.New("herald: duplicate delivery")

	// ErrFinalized is returned when updating a delivery that already
	// reached a terminal status.
	ErrFinalized = errors.New("herald: delivery already finalized")
)

// Store defines the persistence contract for deliveries.
type Store interface {
	// CreateDeliveries persists a fan-out batch atomically.
	CreateDeliveries(ctx context.Context, ds []*Delivery) error

	// GetDelivery returns a delivery by ID regardless of tenant.
	GetDelivery(ctx context.Context, delID id.ID) (*Delivery, error)

	// FindDelivery returns the delivery for an (event, webhook) pair.
	FindDelivery(ctx context.Context, evtID, whID id.ID) (*Delivery, error)

	// UpdateDelivery persists attempt results. It returns ErrFinalized when
	// the stored row is already terminal.
	UpdateDelivery(ctx context.Context, d *Delivery) error

	// ClaimDue atomically takes up to limit pending deliveries whose
	// NextAttemptAt is at or before now, pushing their NextAttemptAt to
	// leaseUntil so concurrent sweeps skip them.
	ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*Delivery, error)

	// ClaimDelivery leases a single pending delivery for an attempt by
	// moving its NextAttemptAt to leaseUntil. It only succeeds while the
	// stored NextAttemptAt is unset or at or before expected, that is while
	// no sweep, retry or park has moved the row since the caller read it.
	// A missing or terminal row reports false.
	ClaimDelivery(ctx context.Context, delID id.ID, expected, leaseUntil time.Time) (bool, error)

	// ListDeliveries returns a company's deliveries, newest first.
	ListDeliveries(ctx context.Context, companyID string, opts ListOpts) ([]*Delivery, error)

	// CountByStatus counts a webhook's deliveries created at or after since.
	CountByStatus(ctx context.Context, whID id.ID, since time.Time) (map[Status]int64, error)
}
