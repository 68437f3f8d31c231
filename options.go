package herald

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/store"
)

// Option configures a Herald instance.
type Option func(*Herald) error

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(h *Herald) error {
		h.store = s
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Herald) error {
		if logger != nil {
			h.logger = logger
		}
		return nil
	}
}

// WithConcurrency sets the number of delivery workers.
func WithConcurrency(n int) Option {
	return func(h *Herald) error {
		if n <= 0 {
			return errors.New("herald: concurrency must be positive")
		}
		h.config.Concurrency = n
		return nil
	}
}

// WithQueueSize sets the capacity of the first-attempt queue.
func WithQueueSize(n int) Option {
	return func(h *Herald) error {
		if n < 0 {
			return errors.New("herald: queue size must not be negative")
		}
		h.config.QueueSize = n
		return nil
	}
}

// WithSweepInterval sets how often the retry scheduler runs.
func WithSweepInterval(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.SweepInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of deliveries claimed per sweep.
func WithBatchSize(n int) Option {
	return func(h *Herald) error {
		h.config.BatchSize = n
		return nil
	}
}

// WithClaimLease sets how long a claimed delivery stays hidden from other
// sweeps.
func WithClaimLease(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.ClaimLease = d
		return nil
	}
}

// WithParkInterval sets how long due retries of inactive webhooks wait.
func WithParkInterval(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.ParkInterval = d
		return nil
	}
}

// WithRetrySchedule sets the backoff delays between attempts.
func WithRetrySchedule(schedule []time.Duration) Option {
	return func(h *Herald) error {
		if len(schedule) == 0 {
			return errors.New("herald: retry schedule must not be empty")
		}
		h.config.RetrySchedule = schedule
		return nil
	}
}

// WithSuspendThreshold sets the consecutive dead letters that suspend a
// webhook.
func WithSuspendThreshold(n int) Option {
	return func(h *Herald) error {
		h.config.SuspendThreshold = n
		return nil
	}
}

// WithBlockPrivateNetworks refuses deliveries to non-public addresses.
func WithBlockPrivateNetworks(block bool) Option {
	return func(h *Herald) error {
		h.config.BlockPrivateNetworks = block
		return nil
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Herald) error {
		h.metrics = m
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer for delivery attempts.
func WithTracer(t *observability.Tracer) Option {
	return func(h *Herald) error {
		h.tracer = t
		return nil
	}
}

// WithCatalog sets the event type catalog webhooks subscribe from.
func WithCatalog(c *catalog.Catalog) Option {
	return func(h *Herald) error {
		h.catalog = c
		return nil
	}
}

// WithHTTPClient uses the client's transport for outbound deliveries.
// Redirect and timeout handling stay under herald's control.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Herald) error {
		if c != nil {
			h.transport = c.Transport
		}
		return nil
	}
}
