package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/ratelimit"
	"github.com/xraph/herald/signature"
	"github.com/xraph/herald/webhook"
)

// Decision is the outcome of one Attempt call.
type Decision int

const (
	// Delivered means the endpoint answered 2xx.
	Delivered Decision = iota

	// Retry means the attempt failed and another one is scheduled.
	Retry

	// DeadLettered means retries are exhausted.
	DeadLettered

	// Failed means the delivery could not be attempted and was finalized.
	Failed

	// Skipped means nothing was attempted or recorded, e.g. the delivery
	// was already terminal or the context ended while rate limited.
	Skipped
)

func (d Decision) String() string {
	switch d {
	case Delivered:
		return observability.OutcomeSuccess
	case Retry:
		return observability.OutcomeRetry
	case DeadLettered:
		return observability.OutcomeDeadLetter
	case Failed:
		return observability.OutcomeFailed
	}
	return "skipped"
}

// DefaultSuspendThreshold is the dead-letter count that suspends a webhook.
const DefaultSuspendThreshold = 10

// DefaultClaimLease is how long a claimed delivery stays hidden from
// sweeps beyond its own request timeout.
const DefaultClaimLease = 2 * time.Minute

// DispatchStore is what the dispatcher needs to persist outcomes.
type DispatchStore interface {
	ClaimDelivery(ctx context.Context, delID id.ID, expected, leaseUntil time.Time) (bool, error)
	UpdateDelivery(ctx context.Context, d *Delivery) error
	IncrementDeadLetters(ctx context.Context, whID id.ID, threshold int) (int, bool, error)
	ResetDeadLetters(ctx context.Context, whID id.ID) error
}

// DispatcherConfig holds dispatcher policy and instrumentation.
type DispatcherConfig struct {
	Backoff          backoff.Policy
	SuspendThreshold int
	ClaimLease       time.Duration
	Limiter          *ratelimit.Limiter
	Metrics          *observability.Metrics
	Tracer           *observability.Tracer
}

// Dispatcher runs the delivery state machine for single attempts.
type Dispatcher struct {
	store  DispatchStore
	sender *Sender
	config DispatcherConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(store DispatchStore, sender *Sender, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SuspendThreshold <= 0 {
		cfg.SuspendThreshold = DefaultSuspendThreshold
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = DefaultClaimLease
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(0, 0)
	}
	return &Dispatcher{
		store:  store,
		sender: sender,
		config: cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Attempt performs one signed POST for d and persists the result before
// returning. The row is claimed first, so a copy that a sweep or another
// worker has moved on from is skipped without sending. A 2xx response finalizes the delivery and resets the webhook's
// dead-letter counter. Any other result schedules a retry per the backoff
// policy, or dead-letters the delivery and counts it against the webhook,
// which may suspend it.
func (dp *Dispatcher) Attempt(ctx context.Context, d *Delivery, cfg *webhook.Config, evt *event.Event) Decision {
	if d.Status.Terminal() {
		return Skipped
	}

	body, err := evt.Envelope()
	if err != nil {
		dp.Fail(ctx, d, "encode envelope: "+err.Error())
		return Failed
	}

	if err := dp.config.Limiter.Wait(ctx, cfg.ID.String(), cfg.RateLimit); err != nil {
		dp.logger.DebugContext(ctx, "rate limit wait aborted",
			"delivery_id", d.ID.String(), "webhook_id", cfg.ID.String(), "error", err)
		return Skipped
	}

	if !dp.claim(ctx, d, cfg) {
		return Skipped
	}

	d.Attempt++
	now := dp.now()
	d.LastAttemptAt = &now
	d.RequestSignature = signature.Sign(body, cfg.Secret)

	ctx, span := dp.config.Tracer.StartDeliverySpan(ctx, d.ID.String(), d.EventID.String(), d.WebhookID.String(), d.Attempt)

	res := dp.sender.Send(ctx, cfg, evt, d, body)

	d.ResponseStatus = res.StatusCode
	d.ResponseBody = res.Body
	d.ErrorMessage = res.Error
	d.LatencyMs = res.LatencyMs

	decision := dp.decide(d, cfg, res)
	dp.config.Tracer.EndDeliverySpan(span, res.StatusCode, res.LatencyMs, decision.String(), res.Error)
	dp.config.Metrics.RecordDelivery(decision.String(), float64(res.LatencyMs)/1000.0)

	if err := dp.store.UpdateDelivery(ctx, d); err != nil {
		if errors.Is(err, ErrFinalized) {
			dp.logger.WarnContext(ctx, "delivery finalized concurrently",
				"delivery_id", d.ID.String())
			return Skipped
		}
		dp.logger.ErrorContext(ctx, "update delivery failed",
			"delivery_id", d.ID.String(), "error", err)
		return decision
	}

	switch decision {
	case Delivered:
		if err := dp.store.ResetDeadLetters(ctx, cfg.ID); err != nil {
			dp.logger.ErrorContext(ctx, "reset dead letters failed",
				"webhook_id", cfg.ID.String(), "error", err)
		}
		dp.logger.DebugContext(ctx, "delivered",
			"delivery_id", d.ID.String(), "status", res.StatusCode, "latency_ms", res.LatencyMs)

	case Retry:
		dp.logger.DebugContext(ctx, "retry scheduled",
			"delivery_id", d.ID.String(), "attempt", d.Attempt, "next_at", *d.NextAttemptAt)

	case DeadLettered:
		dp.logger.WarnContext(ctx, "delivery dead-lettered",
			"delivery_id", d.ID.String(), "webhook_id", cfg.ID.String(),
			"attempt", d.Attempt, "status", res.StatusCode, "error", res.Error)
		dp.countDeadLetter(ctx, cfg)
	}
	return decision
}

// claim leases d for the length of one attempt. The lease outlives the
// request timeout so no sweep can take the row while it is in flight.
func (dp *Dispatcher) claim(ctx context.Context, d *Delivery, cfg *webhook.Config) bool {
	now := dp.now()
	expected := now
	if d.NextAttemptAt != nil {
		expected = *d.NextAttemptAt
	}
	lease := now.Add(cfg.Timeout() + dp.config.ClaimLease)

	ok, err := dp.store.ClaimDelivery(ctx, d.ID, expected, lease)
	if err != nil {
		dp.logger.ErrorContext(ctx, "claim delivery failed",
			"delivery_id", d.ID.String(), "error", err)
		return false
	}
	if !ok {
		dp.logger.DebugContext(ctx, "delivery claimed elsewhere",
			"delivery_id", d.ID.String())
		return false
	}
	d.NextAttemptAt = &lease
	return true
}

func (dp *Dispatcher) decide(d *Delivery, cfg *webhook.Config, res Result) Decision {
	now := dp.now()

	if res.OK() {
		d.Status = StatusSuccess
		d.NextAttemptAt = nil
		d.CompletedAt = &now
		return Delivered
	}

	if delay, ok := dp.config.Backoff.NextDelay(d.Attempt, cfg.MaxRetries); ok {
		next := now.Add(delay)
		d.NextAttemptAt = &next
		return Retry
	}

	d.Status = StatusDeadLetter
	d.NextAttemptAt = nil
	d.CompletedAt = &now
	return DeadLettered
}

func (dp *Dispatcher) countDeadLetter(ctx context.Context, cfg *webhook.Config) {
	count, suspended, err := dp.store.IncrementDeadLetters(ctx, cfg.ID, dp.config.SuspendThreshold)
	if err != nil {
		dp.logger.ErrorContext(ctx, "increment dead letters failed",
			"webhook_id", cfg.ID.String(), "error", err)
		return
	}
	if suspended {
		dp.config.Metrics.RecordSuspension()
		dp.logger.WarnContext(ctx, "webhook suspended",
			"webhook_id", cfg.ID.String(),
			"company_id", cfg.CompanyID,
			"consecutive_dead_letters", count,
		)
	}
}

// Fail finalizes a delivery that cannot be attempted. It does not count
// toward the webhook's dead letters.
func (dp *Dispatcher) Fail(ctx context.Context, d *Delivery, reason string) {
	now := dp.now()
	d.Status = StatusFailed
	d.ErrorMessage = reason
	d.NextAttemptAt = nil
	d.CompletedAt = &now
	dp.config.Metrics.RecordDelivery(Failed.String(), 0)

	if err := dp.store.UpdateDelivery(ctx, d); err != nil && !errors.Is(err, ErrFinalized) {
		dp.logger.ErrorContext(ctx, "update delivery failed",
			"delivery_id", d.ID.String(), "error", err)
		return
	}
	dp.logger.WarnContext(ctx, "delivery failed",
		"delivery_id", d.ID.String(), "reason", reason)
}
