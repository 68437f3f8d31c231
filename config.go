package herald

import (
	"time"

	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/scheduler"
)

// Config holds the configuration for a Herald instance.
type Config struct {
	// Concurrency is the number of delivery workers, and the number of
	// parallel attempts within one retry sweep.
	Concurrency int

	// QueueSize is the capacity of the first-attempt queue. Deliveries that
	// do not fit are picked up by the retry scheduler.
	QueueSize int

	// SweepInterval is how often the retry scheduler runs.
	SweepInterval time.Duration

	// BatchSize is the maximum number of deliveries claimed per sweep.
	BatchSize int

	// ClaimLease hides a claimed delivery from other sweeps. New deliveries
	// are created with this lease too, so a crash before the first attempt
	// is recovered once it expires.
	ClaimLease time.Duration

	// ParkInterval postpones due retries of inactive or suspended webhooks.
	ParkInterval time.Duration

	// RetrySchedule is the delay before the Nth retry. The last value
	// repeats.
	RetrySchedule []time.Duration

	// SuspendThreshold is the number of consecutive dead letters that
	// suspends a webhook.
	SuspendThreshold int

	// BlockPrivateNetworks refuses deliveries to loopback, private and
	// link-local addresses.
	BlockPrivateNetworks bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      scheduler.DefaultConcurrency,
		QueueSize:        1024,
		SweepInterval:    scheduler.DefaultInterval,
		BatchSize:        scheduler.DefaultBatchSize,
		ClaimLease:       scheduler.DefaultClaimLease,
		ParkInterval:     scheduler.DefaultParkInterval,
		RetrySchedule:    backoff.DefaultSchedule,
		SuspendThreshold: delivery.DefaultSuspendThreshold,
	}
}
