// Package scheduler re-drives pending deliveries whose next attempt is due.
//
// Retry timing lives in the store, so a sweep after a restart picks up
// exactly where the previous process stopped. Sweeps claim rows through the
// store's lease, which makes overlapping sweeps from several processes safe.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/webhook"
)

// Store is what a sweep reads and writes.
type Store interface {
	ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*delivery.Delivery, error)
	UpdateDelivery(ctx context.Context, d *delivery.Delivery) error
	GetWebhook(ctx context.Context, whID id.ID) (*webhook.Config, error)
	GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error)
}

// Config holds scheduler timing.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration

	// BatchSize caps the rows claimed per sweep.
	BatchSize int

	// Concurrency caps parallel attempts within a sweep.
	Concurrency int

	// ClaimLease is how long a claimed row stays hidden from other sweeps.
	ClaimLease time.Duration

	// ParkInterval delays due rows whose webhook is not active.
	ParkInterval time.Duration

	Metrics *observability.Metrics
}

// Defaults.
const (
	DefaultInterval     = 5 * time.Second
	DefaultBatchSize    = 100
	DefaultConcurrency  = 10
	DefaultClaimLease   = delivery.DefaultClaimLease
	DefaultParkInterval = time.Minute
)

// Scheduler periodically claims due deliveries and attempts them.
type Scheduler struct {
	store      Store
	dispatcher *delivery.Dispatcher
	config     Config
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	baseCtx context.Context
}

// New creates a scheduler. Zero config fields take the defaults.
func New(store Store, dispatcher *delivery.Dispatcher, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = DefaultClaimLease
	}
	if cfg.ParkInterval <= 0 {
		cfg.ParkInterval = DefaultParkInterval
	}
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules a sweep every Interval. A sweep still running when the
// next tick fires causes that tick to be skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	s.baseCtx = context.WithoutCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := fmt.Sprintf("@every %s", s.config.Interval)
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("herald: schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c

	s.logger.InfoContext(ctx, "retry scheduler started", "interval", s.config.Interval.String())
	return nil
}

// Stop halts the schedule and waits for a running sweep until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	if _, err := s.Sweep(s.baseCtx); err != nil {
		s.logger.ErrorContext(s.baseCtx, "sweep failed", "error", err)
	}
}

// Sweep claims one batch of due deliveries and processes it. It returns
// the number of rows claimed once every attempt has been persisted.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	batch, err := s.store.ClaimDue(ctx, now, now.Add(s.config.ClaimLease), s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("herald: claim due deliveries: %w", err)
	}
	s.config.Metrics.RecordClaimed(len(batch))
	if len(batch) == 0 {
		return 0, nil
	}

	sem := make(chan struct{}, s.config.Concurrency)
	var wg sync.WaitGroup
	for _, d := range batch {
		select {
		case <-ctx.Done():
			wg.Wait()
			return len(batch), ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(d *delivery.Delivery) {
			defer wg.Done()
			defer func() { <-sem }()
			s.process(ctx, d)
		}(d)
	}
	wg.Wait()

	s.logger.DebugContext(ctx, "sweep complete", "claimed", len(batch))
	return len(batch), nil
}

func (s *Scheduler) process(ctx context.Context, d *delivery.Delivery) {
	cfg, err := s.store.GetWebhook(ctx, d.WebhookID)
	if errors.Is(err, webhook.ErrNotFound) {
		s.dispatcher.Fail(ctx, d, "webhook not found")
		return
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "get webhook failed",
			"delivery_id", d.ID.String(), "webhook_id", d.WebhookID.String(), "error", err)
		return
	}

	if cfg.Status != webhook.StatusActive {
		s.park(ctx, d, cfg.Status)
		return
	}

	evt, err := s.store.GetEvent(ctx, d.EventID)
	if errors.Is(err, event.ErrNotFound) {
		s.dispatcher.Fail(ctx, d, "event not found")
		return
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "get event failed",
			"delivery_id", d.ID.String(), "event_id", d.EventID.String(), "error", err)
		return
	}

	s.dispatcher.Attempt(ctx, d, cfg, evt)
}

// park pushes a due delivery back without attempting it.
func (s *Scheduler) park(ctx context.Context, d *delivery.Delivery, status webhook.Status) {
	next := s.now().Add(s.config.ParkInterval)
	d.NextAttemptAt = &next
	if err := s.store.UpdateDelivery(ctx, d); err != nil && !errors.Is(err, delivery.ErrFinalized) {
		s.logger.ErrorContext(ctx, "park delivery failed",
			"delivery_id", d.ID.String(), "error", err)
		return
	}
	s.logger.DebugContext(ctx, "delivery parked",
		"delivery_id", d.ID.String(),
		"webhook_id", d.WebhookID.String(),
		"webhook_status", string(status),
	)
}
