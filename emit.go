package herald

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/webhook"
)

// EmitOption sets optional event fields.
type EmitOption func(*emitOptions)

type emitOptions struct {
	entityType string
	entityID   string
	metadata   any
}

// WithEntity references the business record the event is about.
func WithEntity(entityType, entityID string) EmitOption {
	return func(o *emitOptions) {
		o.entityType = entityType
		o.entityID = entityID
	}
}

// WithMetadata stores free-form data with the event. It is not delivered.
func WithMetadata(metadata any) EmitOption {
	return func(o *emitOptions) {
		o.metadata = metadata
	}
}

// Emit records an event and fans it out to the company's active webhooks
// subscribed to eventType.
//
// The event and one pending delivery per matching webhook are persisted
// before Emit returns; the HTTP attempts happen asynchronously. Delivery
// failures are never returned, only reflected in delivery and webhook
// status. The returned error covers input and persistence only.
func (h *Herald) Emit(ctx context.Context, companyID, eventType string, payload any, opts ...EmitOption) (*event.Event, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: company is required", ErrInvalidEvent)
	}
	if !catalog.ValidName(eventType) {
		return nil, fmt.Errorf("%w: malformed type %q", ErrInvalidEvent, eventType)
	}

	var o emitOptions
	for _, opt := range opts {
		opt(&o)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", ErrInvalidEvent, err)
	}
	var meta json.RawMessage
	if o.metadata != nil {
		if meta, err = json.Marshal(o.metadata); err != nil {
			return nil, fmt.Errorf("%w: encode metadata: %v", ErrInvalidEvent, err)
		}
	}

	evt := &event.Event{
		ID:         id.NewEventID(),
		CompanyID:  companyID,
		Type:       eventType,
		EntityType: o.entityType,
		EntityID:   o.entityID,
		Metadata:   meta,
		Payload:    data,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.CreateEvent(ctx, evt); err != nil {
		return nil, fmt.Errorf("herald: persist event: %w", err)
	}
	h.metrics.RecordEmit(eventType)

	targets, err := h.store.ResolveWebhooks(ctx, companyID, eventType)
	if err != nil {
		return nil, fmt.Errorf("herald: resolve webhooks: %w", err)
	}
	if len(targets) == 0 {
		h.logger.DebugContext(ctx, "event emitted without subscribers",
			"event_id", evt.ID.String(), "type", eventType, "company_id", companyID)
		return evt, nil
	}

	if err := h.fanOut(ctx, evt, targets); err != nil {
		return nil, err
	}

	h.logger.DebugContext(ctx, "event emitted",
		"event_id", evt.ID.String(),
		"type", eventType,
		"company_id", companyID,
		"webhooks", len(targets),
	)
	return evt, nil
}

// fanOut persists one pending delivery per target, then queues first
// attempts. Rows carry a claim lease so that an attempt lost to a crash or
// a full queue is recovered by the scheduler once it expires.
func (h *Herald) fanOut(ctx context.Context, evt *event.Event, targets []*webhook.Config) error {
	lease := time.Now().UTC().Add(h.config.ClaimLease)
	ds := make([]*delivery.Delivery, 0, len(targets))
	for _, cfg := range targets {
		next := lease
		ds = append(ds, &delivery.Delivery{
			Entity:        entity.New(),
			ID:            id.NewDeliveryID(),
			CompanyID:     evt.CompanyID,
			WebhookID:     cfg.ID,
			EventID:       evt.ID,
			Status:        delivery.StatusPending,
			NextAttemptAt: &next,
		})
	}
	if err := h.store.CreateDeliveries(ctx, ds); err != nil {
		return fmt.Errorf("herald: persist deliveries: %w", err)
	}

	for i, d := range ds {
		cfg := targets[i]
		if cfg.Status != webhook.StatusActive {
			continue
		}
		if !h.pool.Submit(delivery.Job{Delivery: d, Webhook: cfg, Event: evt}) {
			h.logger.WarnContext(ctx, "dispatch queue full, deferring to scheduler",
				"delivery_id", d.ID.String(), "webhook_id", cfg.ID.String())
		}
	}
	return nil
}
