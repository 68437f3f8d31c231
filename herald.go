package herald

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/ratelimit"
	"github.com/xraph/herald/scheduler"
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/webhook"
)

// Herald is the root webhook delivery engine.
type Herald struct {
	config    Config
	store     store.Store
	catalog   *catalog.Catalog
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	transport http.RoundTripper
	logger    *slog.Logger

	webhooks   *webhook.Service
	dispatcher *delivery.Dispatcher
	pool       *delivery.Pool
	scheduler  *scheduler.Scheduler
}

// New creates a new Herald with the given options.
func New(opts ...Option) (*Herald, error) {
	h := &Herald{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	if h.store == nil {
		return nil, ErrNoStore
	}
	if h.catalog == nil {
		h.catalog = catalog.Default()
	}
	if err := h.wireServices(); err != nil {
		return nil, err
	}
	return h, nil
}

// wireServices initializes the internal services after options have been applied.
func (h *Herald) wireServices() error {
	svc, err := webhook.NewService(h.store, h.catalog, h.logger)
	if err != nil {
		return fmt.Errorf("herald: webhook service: %w", err)
	}
	h.webhooks = svc

	sender := delivery.NewSender(delivery.SenderOptions{
		BlockPrivateNetworks: h.config.BlockPrivateNetworks,
		Transport:            h.transport,
	})

	h.dispatcher = delivery.NewDispatcher(h.store, sender, delivery.DispatcherConfig{
		Backoff:          backoff.Policy{Schedule: h.config.RetrySchedule},
		SuspendThreshold: h.config.SuspendThreshold,
		ClaimLease:       h.config.ClaimLease,
		Limiter:          ratelimit.New(0, 0),
		Metrics:          h.metrics,
		Tracer:           h.tracer,
	}, h.logger)

	h.pool = delivery.NewPool(h.dispatcher, h.config.Concurrency, h.config.QueueSize, h.metrics, h.logger)

	h.scheduler = scheduler.New(h.store, h.dispatcher, scheduler.Config{
		Interval:     h.config.SweepInterval,
		BatchSize:    h.config.BatchSize,
		Concurrency:  h.config.Concurrency,
		ClaimLease:   h.config.ClaimLease,
		ParkInterval: h.config.ParkInterval,
		Metrics:      h.metrics,
	}, h.logger)
	return nil
}

// Start launches the delivery workers and the retry scheduler.
func (h *Herald) Start(ctx context.Context) error {
	h.pool.Start(ctx)
	return h.scheduler.Start(ctx)
}

// Stop halts the scheduler, then waits for in-flight attempts until ctx
// ends. Deliveries still queued stay pending and are retried by the next
// process that runs the scheduler.
func (h *Herald) Stop(ctx context.Context) error {
	return errors.Join(
		h.scheduler.Stop(ctx),
		h.pool.Stop(ctx),
	)
}

// Sweep runs one retry pass immediately and returns the number of
// deliveries it claimed. Deployments without Start can drive retries
// from their own scheduler with it.
func (h *Herald) Sweep(ctx context.Context) (int, error) {
	return h.scheduler.Sweep(ctx)
}

// Webhooks returns the webhook management service.
func (h *Herald) Webhooks() *webhook.Service {
	return h.webhooks
}

// Catalog returns the event type catalog.
func (h *Herald) Catalog() *catalog.Catalog {
	return h.catalog
}

// Store returns the underlying store.
func (h *Herald) Store() store.Store {
	return h.store
}

// Config returns the effective configuration.
func (h *Herald) Config() Config {
	return h.config
}
