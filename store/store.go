// Package store defines the composite Store interface for all herald
// persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them, so a backend implements everything in one type.
package store

import (
	"context"
	"errors"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/webhook"
)

// ErrClosed is returned when a store is used after Close.
var ErrClosed = errors.New("herald: store is closed")

// Store is the aggregate persistence interface.
type Store interface {
	webhook.Store
	event.Store
	delivery.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
