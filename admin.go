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
	"github.com/xraph/herald/webhook"
)

// DefaultStatsPeriodDays is the stats window used when none is given.
const DefaultStatsPeriodDays = 30

// testPayload is the fixed data of test events.
var testPayload = json.RawMessage(`{"message":"This is a test webhook event.","test":true}`)

// CreateWebhook registers a webhook for companyID. The returned config is
// the only read that carries the plaintext secret.
func (h *Herald) CreateWebhook(ctx context.Context, companyID string, in webhook.Input) (*webhook.Config, error) {
	return h.webhooks.Create(ctx, companyID, in)
}

// UpdateWebhook applies the set fields of in.
func (h *Herald) UpdateWebhook(ctx context.Context, companyID string, whID id.ID, in webhook.Input) (*webhook.Config, error) {
	return h.webhooks.Update(ctx, companyID, whID, in)
}

// DeleteWebhook removes a webhook and its deliveries.
func (h *Herald) DeleteWebhook(ctx context.Context, companyID string, whID id.ID) error {
	return h.webhooks.Delete(ctx, companyID, whID)
}

// GetWebhook returns a webhook owned by companyID.
func (h *Herald) GetWebhook(ctx context.Context, companyID string, whID id.ID) (*webhook.Config, error) {
	return h.webhooks.Get(ctx, companyID, whID)
}

// ListWebhooks returns a company's webhooks.
func (h *Herald) ListWebhooks(ctx context.Context, companyID string, opts webhook.ListOpts) ([]*webhook.Config, error) {
	return h.webhooks.List(ctx, companyID, opts)
}

// SetWebhookStatus activates or deactivates a webhook. Activating a
// suspended webhook clears its dead-letter counter.
func (h *Herald) SetWebhookStatus(ctx context.Context, companyID string, whID id.ID, status webhook.Status) (*webhook.Config, error) {
	return h.webhooks.SetStatus(ctx, companyID, whID, status)
}

// RotateSecret replaces a webhook's signing secret and returns it.
func (h *Herald) RotateSecret(ctx context.Context, companyID string, whID id.ID) (string, error) {
	return h.webhooks.RotateSecret(ctx, companyID, whID)
}

// SendTestEvent emits a webhook.test event addressed to one webhook only,
// whatever it subscribes to, and returns the event ID.
func (h *Herald) SendTestEvent(ctx context.Context, companyID string, whID id.ID) (id.ID, error) {
	cfg, err := h.webhooks.Get(ctx, companyID, whID)
	if err != nil {
		return id.Nil, err
	}
	if cfg.Status != webhook.StatusActive {
		return id.Nil, &webhook.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("webhook is %s; only active webhooks receive test events", cfg.Status),
		}
	}

	evt := &event.Event{
		ID:        id.NewEventID(),
		CompanyID: companyID,
		Type:      catalog.TestEventType,
		Payload:   testPayload,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateEvent(ctx, evt); err != nil {
		return id.Nil, fmt.Errorf("herald: persist event: %w", err)
	}
	h.metrics.RecordEmit(evt.Type)

	if err := h.fanOut(ctx, evt, []*webhook.Config{cfg}); err != nil {
		return id.Nil, err
	}

	h.logger.InfoContext(ctx, "test event sent",
		"event_id", evt.ID.String(), "webhook_id", whID.String(), "company_id", companyID)
	return evt.ID, nil
}

// DeliveryStats summarizes a webhook's deliveries created in the last
// periodDays days. A non-positive period uses DefaultStatsPeriodDays.
func (h *Herald) DeliveryStats(ctx context.Context, companyID string, whID id.ID, periodDays int) (*delivery.Stats, error) {
	if _, err := h.webhooks.Get(ctx, companyID, whID); err != nil {
		return nil, err
	}
	if periodDays <= 0 {
		periodDays = DefaultStatsPeriodDays
	}

	since := time.Now().UTC().AddDate(0, 0, -periodDays)
	counts, err := h.store.CountByStatus(ctx, whID, since)
	if err != nil {
		return nil, fmt.Errorf("herald: count deliveries: %w", err)
	}
	return delivery.NewStats(whID, periodDays, since, counts), nil
}

// ListDeliveries returns a company's deliveries, newest first.
func (h *Herald) ListDeliveries(ctx context.Context, companyID string, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	return h.store.ListDeliveries(ctx, companyID, opts)
}

// GetDelivery returns a delivery owned by companyID.
func (h *Herald) GetDelivery(ctx context.Context, companyID string, delID id.ID) (*delivery.Delivery, error) {
	d, err := h.store.GetDelivery(ctx, delID)
	if err != nil {
		return nil, err
	}
	if d.CompanyID != companyID {
		return nil, ErrDeliveryNotFound
	}
	return d, nil
}

// ListEvents returns a company's events, newest first.
func (h *Herald) ListEvents(ctx context.Context, companyID string, opts event.ListOpts) ([]*event.Event, error) {
	return h.store.ListEvents(ctx, companyID, opts)
}

// GetEvent returns an event owned by companyID.
func (h *Herald) GetEvent(ctx context.Context, companyID string, evtID id.ID) (*event.Event, error) {
	evt, err := h.store.GetEvent(ctx, evtID)
	if err != nil {
		return nil, err
	}
	if evt.CompanyID != companyID {
		return nil, ErrEventNotFound
	}
	return evt, nil
}

// EventDeliveries returns every delivery of one event.
func (h *Herald) EventDeliveries(ctx context.Context, companyID string, evtID id.ID) ([]*delivery.Delivery, error) {
	if _, err := h.GetEvent(ctx, companyID, evtID); err != nil {
		return nil, err
	}
	return h.store.ListDeliveries(ctx, companyID, delivery.ListOpts{EventID: evtID})
}

// EventTypes returns the catalog as name → description.
func (h *Herald) EventTypes() map[string]string {
	return h.catalog.Descriptions()
}
