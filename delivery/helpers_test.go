package delivery_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/store/memory"
	"github.com/xraph/herald/webhook"
)

func ctx() context.Context { return context.Background() }

const testSecret = "whsec_test_secret_1234567890abcdef1234567890abcdef"

func newTestWebhook(url string) *webhook.Config {
	return &webhook.Config{
		Entity:     entity.New(),
		ID:         id.NewWebhookID(),
		CompanyID:  "co_1",
		Name:       "test",
		URL:        url,
		Secret:     testSecret,
		Events:     []string{"order.created"},
		Status:     webhook.StatusActive,
		TimeoutMs:  5000,
		MaxRetries: 3,
	}
}

func newTestEvent() *event.Event {
	return &event.Event{
		ID:        id.NewEventID(),
		CompanyID: "co_1",
		Type:      "order.created",
		Payload:   json.RawMessage(`{"hello":"world"}`),
		CreatedAt: time.Now().UTC(),
	}
}

func newTestDelivery(cfg *webhook.Config, evt *event.Event) *delivery.Delivery {
	now := time.Now().UTC()
	return &delivery.Delivery{
		Entity:        entity.New(),
		ID:            id.NewDeliveryID(),
		CompanyID:     cfg.CompanyID,
		WebhookID:     cfg.ID,
		EventID:       evt.ID,
		Status:        delivery.StatusPending,
		NextAttemptAt: &now,
	}
}

// seed stores a webhook, an event and a pending delivery for url.
func seed(t *testing.T, s *memory.Store, url string, maxRetries int) (*webhook.Config, *event.Event, *delivery.Delivery) {
	t.Helper()
	cfg := newTestWebhook(url)
	cfg.MaxRetries = maxRetries
	if err := s.CreateWebhook(ctx(), cfg); err != nil {
		t.Fatal(err)
	}
	evt := newTestEvent()
	if err := s.CreateEvent(ctx(), evt); err != nil {
		t.Fatal(err)
	}
	d := newTestDelivery(cfg, evt)
	if err := s.CreateDeliveries(ctx(), []*delivery.Delivery{d}); err != nil {
		t.Fatal(err)
	}
	return cfg, evt, d
}

func reload(t *testing.T, s *memory.Store, delID id.ID) *delivery.Delivery {
	t.Helper()
	d, err := s.GetDelivery(ctx(), delID)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func reloadWebhook(t *testing.T, s *memory.Store, whID id.ID) *webhook.Config {
	t.Helper()
	cfg, err := s.GetWebhook(ctx(), whID)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}
