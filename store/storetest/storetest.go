// Package storetest is a conformance suite shared by every store backend.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/webhook"
)

// Factory returns an empty, migrated store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes every conformance test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"WebhookCRUD", testWebhookCRUD},
		{"WebhookUpdateKeepsStatus", testWebhookUpdateKeepsStatus},
		{"WebhookList", testWebhookList},
		{"ResolveWebhooks", testResolveWebhooks},
		{"DeadLetterCounter", testDeadLetterCounter},
		{"DeadLetterCounterConcurrent", testDeadLetterCounterConcurrent},
		{"SetWebhookStatus", testSetWebhookStatus},
		{"EventCRUD", testEventCRUD},
		{"EventList", testEventList},
		{"DeliveryCreateAndFind", testDeliveryCreateAndFind},
		{"DeliveryDuplicatePair", testDeliveryDuplicatePair},
		{"DeliveryUpdateMonotonic", testDeliveryUpdateMonotonic},
		{"ClaimDue", testClaimDue},
		{"ClaimDueConcurrent", testClaimDueConcurrent},
		{"ClaimDelivery", testClaimDelivery},
		{"ClaimDeliveryAfterSweep", testClaimDeliveryAfterSweep},
		{"DeliveryList", testDeliveryList},
		{"CountByStatus", testCountByStatus},
		{"DeleteWebhookCascades", testDeleteWebhookCascades},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func ctx() context.Context { return context.Background() }

// NewWebhook returns an active config for companyID subscribed to events.
func NewWebhook(companyID string, events ...string) *webhook.Config {
	return &webhook.Config{
		Entity:     entity.New(),
		ID:         id.NewWebhookID(),
		CompanyID:  companyID,
		Name:       "orders",
		URL:        "https://example.com/hook",
		Events:     events,
		Secret:     "whsec_test",
		Status:     webhook.StatusActive,
		Headers:    map[string]string{"X-Team": "core"},
		TimeoutMs:  webhook.DefaultTimeoutMs,
		MaxRetries: webhook.DefaultMaxRetries,
	}
}

// NewEvent returns an event for companyID.
func NewEvent(companyID, typ string) *event.Event {
	return &event.Event{
		ID:        id.NewEventID(),
		CompanyID: companyID,
		Type:      typ,
		Payload:   json.RawMessage(`{"k":"v"}`),
		Metadata:  json.RawMessage(`{"source":"test"}`),
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// NewDelivery returns a pending delivery due at due.
func NewDelivery(cfg *webhook.Config, evt *event.Event, due time.Time) *delivery.Delivery {
	return &delivery.Delivery{
		Entity:        entity.New(),
		ID:            id.NewDeliveryID(),
		CompanyID:     cfg.CompanyID,
		WebhookID:     cfg.ID,
		EventID:       evt.ID,
		Status:        delivery.StatusPending,
		NextAttemptAt: &due,
	}
}

func mustCreateWebhook(t *testing.T, s store.Store, cfg *webhook.Config) *webhook.Config {
	t.Helper()
	if err := s.CreateWebhook(ctx(), cfg); err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}
	return cfg
}

func mustCreateEvent(t *testing.T, s store.Store, evt *event.Event) *event.Event {
	t.Helper()
	if err := s.CreateEvent(ctx(), evt); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	return evt
}

func mustCreateDeliveries(t *testing.T, s store.Store, ds ...*delivery.Delivery) {
	t.Helper()
	if err := s.CreateDeliveries(ctx(), ds); err != nil {
		t.Fatalf("CreateDeliveries: %v", err)
	}
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

func testWebhookCRUD(t *testing.T, s store.Store) {
	cfg := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created", "stock.low"))

	got, err := s.GetWebhook(ctx(), cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != cfg.URL || got.CompanyID != "co_1" || got.Secret != "whsec_test" {
		t.Fatalf("got %+v", got)
	}
	if len(got.Events) != 2 || got.Headers["X-Team"] != "core" {
		t.Fatalf("events/headers not persisted: %+v", got)
	}

	got.URL = "https://example.com/v2"
	got.Secret = "whsec_rotated"
	if err := s.UpdateWebhook(ctx(), got); err != nil {
		t.Fatal(err)
	}
	again, err := s.GetWebhook(ctx(), cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.URL != "https://example.com/v2" || again.Secret != "whsec_rotated" {
		t.Fatalf("update not persisted: %+v", again)
	}

	if err := s.DeleteWebhook(ctx(), cfg.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetWebhook(ctx(), cfg.ID); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteWebhook(ctx(), cfg.ID); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := s.UpdateWebhook(ctx(), cfg); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func testWebhookUpdateKeepsStatus(t *testing.T, s store.Store) {
	cfg := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))
	stale, err := s.GetWebhook(ctx(), cfg.ID)
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := s.IncrementDeadLetters(ctx(), cfg.ID, 1); err != nil {
		t.Fatal(err)
	}

	stale.Name = "renamed"
	if err := s.UpdateWebhook(ctx(), stale); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetWebhook(ctx(), cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "renamed" {
		t.Fatalf("name = %q", got.Name)
	}
	if got.Status != webhook.StatusSuspended || got.ConsecutiveDeadLetters != 1 {
		t.Fatalf("update clobbered status/counter: %s %d", got.Status, got.ConsecutiveDeadLetters)
	}
}

func testWebhookList(t *testing.T, s store.Store) {
	for range 3 {
		mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))
		time.Sleep(2 * time.Millisecond)
	}
	mustCreateWebhook(t, s, NewWebhook("co_2", "order.created"))

	all, err := s.ListWebhooks(ctx(), "co_1", webhook.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3, got %d", len(all))
	}
	for _, cfg := range all {
		if cfg.CompanyID != "co_1" {
			t.Fatalf("leaked config of %s", cfg.CompanyID)
		}
	}
	if !all[0].CreatedAt.After(all[2].CreatedAt) && !all[0].CreatedAt.Equal(all[2].CreatedAt) {
		t.Fatal("expected newest first")
	}

	page, err := s.ListWebhooks(ctx(), "co_1", webhook.ListOpts{Offset: 1, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != all[1].ID {
		t.Fatalf("pagination returned %d items", len(page))
	}

	if err := s.SetWebhookStatus(ctx(), all[0].ID, webhook.StatusInactive); err != nil {
		t.Fatal(err)
	}
	inactive, err := s.ListWebhooks(ctx(), "co_1", webhook.ListOpts{Status: webhook.StatusInactive})
	if err != nil {
		t.Fatal(err)
	}
	if len(inactive) != 1 || inactive[0].ID != all[0].ID {
		t.Fatalf("status filter returned %d items", len(inactive))
	}
}

func testResolveWebhooks(t *testing.T, s store.Store) {
	match := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created", "invoice.paid"))
	mustCreateWebhook(t, s, NewWebhook("co_1", "stock.low"))
	mustCreateWebhook(t, s, NewWebhook("co_2", "order.created"))
	off := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))
	if err := s.SetWebhookStatus(ctx(), off.ID, webhook.StatusInactive); err != nil {
		t.Fatal(err)
	}

	got, err := s.ResolveWebhooks(ctx(), "co_1", "order.created")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != match.ID {
		t.Fatalf("resolved %d configs", len(got))
	}

	none, err := s.ResolveWebhooks(ctx(), "co_1", "order.updated")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no match, got %d", len(none))
	}

	prefix, err := s.ResolveWebhooks(ctx(), "co_1", "order")
	if err != nil {
		t.Fatal(err)
	}
	if len(prefix) != 0 {
		t.Fatalf("matching must be exact, got %d", len(prefix))
	}
}

func testDeadLetterCounter(t *testing.T, s store.Store) {
	cfg := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))

	for i := 1; i <= 2; i++ {
		n, suspended, err := s.IncrementDeadLetters(ctx(), cfg.ID, 3)
		if err != nil {
			t.Fatal(err)
		}
		if n != i || suspended {
			t.Fatalf("increment %d: got (%d, %v)", i, n, suspended)
		}
	}

	n, suspended, err := s.IncrementDeadLetters(ctx(), cfg.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || !suspended {
		t.Fatalf("third increment: got (%d, %v)", n, suspended)
	}

	n, suspended, err = s.IncrementDeadLetters(ctx(), cfg.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 || suspended {
		t.Fatalf("already suspended config reported suspension again: (%d, %v)", n, suspended)
	}

	got, _ := s.GetWebhook(ctx(), cfg.ID)
	if got.Status != webhook.StatusSuspended {
		t.Fatalf("status = %s", got.Status)
	}

	if err := s.ResetDeadLetters(ctx(), cfg.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetWebhook(ctx(), cfg.ID)
	if got.ConsecutiveDeadLetters != 0 {
		t.Fatalf("counter = %d after reset", got.ConsecutiveDeadLetters)
	}

	if _, _, err := s.IncrementDeadLetters(ctx(), id.NewWebhookID(), 3); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testDeadLetterCounterConcurrent(t *testing.T, s store.Store) {
	cfg := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))

	const workers = 20
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		suspensions int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, suspended, err := s.IncrementDeadLetters(ctx(), cfg.ID, 10)
			if err != nil {
				t.Error(err)
				return
			}
			if suspended {
				mu.Lock()
				suspensions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := s.GetWebhook(ctx(), cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ConsecutiveDeadLetters != workers {
		t.Fatalf("lost updates: counter = %d, want %d", got.ConsecutiveDeadLetters, workers)
	}
	if suspensions != 1 {
		t.Fatalf("suspension reported %d times, want 1", suspensions)
	}
}

func testSetWebhookStatus(t *testing.T, s store.Store) {
	cfg := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))
	if _, _, err := s.IncrementDeadLetters(ctx(), cfg.ID, 1); err != nil {
		t.Fatal(err)
	}

	if err := s.SetWebhookStatus(ctx(), cfg.ID, webhook.StatusActive); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetWebhook(ctx(), cfg.ID)
	if got.Status != webhook.StatusActive || got.ConsecutiveDeadLetters != 0 {
		t.Fatalf("reactivation: status=%s counter=%d", got.Status, got.ConsecutiveDeadLetters)
	}

	if err := s.SetWebhookStatus(ctx(), id.NewWebhookID(), webhook.StatusActive); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

func testEventCRUD(t *testing.T, s store.Store) {
	evt := NewEvent("co_1", "order.created")
	evt.EntityType = "order"
	evt.EntityID = "ord_42"
	mustCreateEvent(t, s, evt)

	got, err := s.GetEvent(ctx(), evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != "order.created" || got.EntityID != "ord_42" || got.CompanyID != "co_1" {
		t.Fatalf("got %+v", got)
	}
	if !got.CreatedAt.Equal(evt.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, evt.CreatedAt)
	}

	var payload map[string]string
	if err := json.Unmarshal(got.Payload, &payload); err != nil || payload["k"] != "v" {
		t.Fatalf("payload = %s (%v)", got.Payload, err)
	}

	if _, err := s.GetEvent(ctx(), id.NewEventID()); !errors.Is(err, event.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testEventList(t *testing.T, s store.Store) {
	for _, typ := range []string{"order.created", "order.created", "stock.low"} {
		mustCreateEvent(t, s, NewEvent("co_1", typ))
		time.Sleep(2 * time.Millisecond)
	}
	mustCreateEvent(t, s, NewEvent("co_2", "order.created"))

	all, err := s.ListEvents(ctx(), "co_1", event.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3, got %d", len(all))
	}
	if all[0].Type != "stock.low" {
		t.Fatalf("expected newest first, got %s", all[0].Type)
	}

	orders, err := s.ListEvents(ctx(), "co_1", event.ListOpts{Type: "order.created"})
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 2 {
		t.Fatalf("type filter returned %d", len(orders))
	}

	negative, err := s.ListEvents(ctx(), "co_1", event.ListOpts{Offset: -1})
	if err != nil {
		t.Fatal(err)
	}
	if len(negative) != 3 {
		t.Fatalf("negative offset returned %d", len(negative))
	}

	page, err := s.ListEvents(ctx(), "co_1", event.ListOpts{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("limit returned %d", len(page))
	}
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

func testDeliveryCreateAndFind(t *testing.T, s store.Store) {
	cfg := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))
	evt := mustCreateEvent(t, s, NewEvent("co_1", "order.created"))
	d := NewDelivery(cfg, evt, time.Now().UTC())
	mustCreateDeliveries(t, s, d)

	got, err := s.GetDelivery(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusPending || got.WebhookID != cfg.ID || got.EventID != evt.ID {
		t.Fatalf("got %+v", got)
	}

	found, err := s.FindDelivery(ctx(), evt.ID, cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if found.ID != d.ID {
		t.Fatalf("FindDelivery returned %s", found.ID)
	}

	if _, err := s.FindDelivery(ctx(), id.NewEventID(), cfg.ID); !errors.Is(err, delivery.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetDelivery(ctx(), id.NewDeliveryID()); !errors.Is(err, delivery.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testDeliveryDuplicatePair(t *testing.T, s store.Store) {
	cfg := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))
	evt := mustCreateEvent(t, s, NewEvent("co_1", "order.created"))
	mustCreateDeliveries(t, s, NewDelivery(cfg, evt, time.Now()))

	err := s.CreateDeliveries(ctx(), []*delivery.Delivery{NewDelivery(cfg, evt, time.Now())})
	if !errors.Is(err, delivery.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func testDeliveryUpdateMonotonic(t *testing.T, s store.Store) {
	cfg := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))
	evt := mustCreateEvent(t, s, NewEvent("co_1", "order.created"))
	d := NewDelivery(cfg, evt, time.Now().UTC())
	mustCreateDeliveries(t, s, d)

	body := "ok"
	now := time.Now().UTC().Truncate(time.Millisecond)
	d.Attempt = 1
	d.Status = delivery.StatusSuccess
	d.ResponseStatus = 200
	d.ResponseBody = &body
	d.RequestSignature = "sha256=abc"
	d.LastAttemptAt = &now
	d.CompletedAt = &now
	d.NextAttemptAt = nil
	if err := s.UpdateDelivery(ctx(), d); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDelivery(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusSuccess || got.Attempt != 1 || got.ResponseStatus != 200 {
		t.Fatalf("got %+v", got)
	}
	if got.ResponseBody == nil || *got.ResponseBody != "ok" || got.RequestSignature != "sha256=abc" {
		t.Fatalf("response fields not persisted: %+v", got)
	}
	if got.NextAttemptAt != nil {
		t.Fatalf("next_attempt_at = %v, want nil", got.NextAttemptAt)
	}

	d.Status = delivery.StatusPending
	if err := s.UpdateDelivery(ctx(), d); !errors.Is(err, delivery.ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}

	if err := s.UpdateDelivery(ctx(), NewDelivery(cfg, evt, time.Now())); !errors.Is(err, delivery.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testClaimDue(t *testing.T, s store.Store) {
	cfg := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))
	now := time.Now().UTC().Truncate(time.Millisecond)

	due1 := NewDelivery(cfg, mustCreateEvent(t, s, NewEvent("co_1", "order.created")), now.Add(-2*time.Minute))
	due2 := NewDelivery(cfg, mustCreateEvent(t, s, NewEvent("co_1", "order.created")), now.Add(-time.Minute))
	later := NewDelivery(cfg, mustCreateEvent(t, s, NewEvent("co_1", "order.created")), now.Add(time.Hour))
	done := NewDelivery(cfg, mustCreateEvent(t, s, NewEvent("co_1", "order.created")), now.Add(-time.Hour))
	done.Status = delivery.StatusSuccess
	mustCreateDeliveries(t, s, due1, due2, later, done)

	lease := now.Add(5 * time.Minute)
	claimed, err := s.ClaimDue(ctx(), now, lease, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0].ID != due1.ID {
		t.Fatalf("expected oldest due delivery, got %d items", len(claimed))
	}
	if claimed[0].NextAttemptAt == nil || !claimed[0].NextAttemptAt.Equal(lease) {
		t.Fatalf("lease not applied: %v", claimed[0].NextAttemptAt)
	}

	claimed, err = s.ClaimDue(ctx(), now, lease, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0].ID != due2.ID {
		t.Fatalf("expected only the second due delivery, got %d items", len(claimed))
	}

	claimed, err = s.ClaimDue(ctx(), now, lease, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Fatalf("leased rows were claimed again: %d", len(claimed))
	}

	claimed, err = s.ClaimDue(ctx(), lease, lease.Add(time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expired leases should be claimable, got %d", len(claimed))
	}
}

func testClaimDueConcurrent(t *testing.T, s store.Store) {
	cfg := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))
	now := time.Now().UTC()

	const total = 30
	ds := make([]*delivery.Delivery, 0, total)
	for range total {
		ds = append(ds, NewDelivery(cfg, mustCreateEvent(t, s, NewEvent("co_1", "order.created")), now.Add(-time.Second)))
	}
	mustCreateDeliveries(t, s, ds...)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := s.ClaimDue(ctx(), now, now.Add(time.Hour), 4)
				if err != nil {
					t.Error(err)
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, d := range claimed {
					seen[d.ID.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("claimed %d distinct deliveries, want %d", len(seen), total)
	}
	for key, n := range seen {
		if n != 1 {
			t.Fatalf("delivery %s claimed %d times", key, n)
		}
	}
}

func testClaimDelivery(t *testing.T, s store.Store) {
	cfg := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))
	now := time.Now().UTC().Truncate(time.Millisecond)

	d := NewDelivery(cfg, mustCreateEvent(t, s, NewEvent("co_1", "order.created")), now)
	done := NewDelivery(cfg, mustCreateEvent(t, s, NewEvent("co_1", "order.created")), now)
	done.Status = delivery.StatusSuccess
	mustCreateDeliveries(t, s, d, done)

	lease := now.Add(5 * time.Minute)
	ok, err := s.ClaimDelivery(ctx(), d.ID, now, lease)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("untouched delivery should be claimable")
	}
	got, err := s.GetDelivery(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.NextAttemptAt == nil || !got.NextAttemptAt.Equal(lease) {
		t.Fatalf("lease not applied: %v", got.NextAttemptAt)
	}

	// A second holder still looking at the original due time loses.
	ok, err = s.ClaimDelivery(ctx(), d.ID, now, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("claimed a delivery that was already leased")
	}

	ok, err = s.ClaimDelivery(ctx(), done.ID, now, lease)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("claimed a terminal delivery")
	}

	ok, err = s.ClaimDelivery(ctx(), id.NewDeliveryID(), now, lease)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("claimed a missing delivery")
	}
}

func testClaimDeliveryAfterSweep(t *testing.T, s store.Store) {
	cfg := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))
	now := time.Now().UTC().Truncate(time.Millisecond)
	due := now.Add(-time.Minute)

	d := NewDelivery(cfg, mustCreateEvent(t, s, NewEvent("co_1", "order.created")), due)
	mustCreateDeliveries(t, s, d)

	lease := now.Add(5 * time.Minute)
	claimed, err := s.ClaimDue(ctx(), now, lease, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d", len(claimed))
	}

	// A queued copy holding the pre-sweep due time must not take the row.
	ok, err := s.ClaimDelivery(ctx(), d.ID, due, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("stale copy claimed a swept delivery")
	}

	// The sweep's own copy carries the lease and wins.
	ok, err = s.ClaimDelivery(ctx(), d.ID, *claimed[0].NextAttemptAt, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("sweep copy could not claim its delivery")
	}
}

func testDeliveryList(t *testing.T, s store.Store) {
	a := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))
	b := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))
	foreign := mustCreateWebhook(t, s, NewWebhook("co_2", "order.created"))

	evt := mustCreateEvent(t, s, NewEvent("co_1", "order.created"))
	evt2 := mustCreateEvent(t, s, NewEvent("co_1", "order.created"))
	fevt := mustCreateEvent(t, s, NewEvent("co_2", "order.created"))

	dead := NewDelivery(a, evt2, time.Now())
	dead.Status = delivery.StatusDeadLetter
	mustCreateDeliveries(t, s, NewDelivery(a, evt, time.Now()), NewDelivery(b, evt, time.Now()), dead)
	mustCreateDeliveries(t, s, NewDelivery(foreign, fevt, time.Now()))

	all, err := s.ListDeliveries(ctx(), "co_1", delivery.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3, got %d", len(all))
	}

	negative, err := s.ListDeliveries(ctx(), "co_1", delivery.ListOpts{Offset: -1})
	if err != nil {
		t.Fatal(err)
	}
	if len(negative) != 3 {
		t.Fatalf("negative offset returned %d", len(negative))
	}

	byWebhook, err := s.ListDeliveries(ctx(), "co_1", delivery.ListOpts{WebhookID: a.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(byWebhook) != 2 {
		t.Fatalf("webhook filter returned %d", len(byWebhook))
	}

	byEvent, err := s.ListDeliveries(ctx(), "co_1", delivery.ListOpts{EventID: evt.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(byEvent) != 2 {
		t.Fatalf("event filter returned %d", len(byEvent))
	}

	byStatus, err := s.ListDeliveries(ctx(), "co_1", delivery.ListOpts{Status: delivery.StatusDeadLetter})
	if err != nil {
		t.Fatal(err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != dead.ID {
		t.Fatalf("status filter returned %d", len(byStatus))
	}

	cross, err := s.ListDeliveries(ctx(), "co_2", delivery.ListOpts{WebhookID: a.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(cross) != 0 {
		t.Fatalf("cross-tenant listing leaked %d deliveries", len(cross))
	}
}

func testCountByStatus(t *testing.T, s store.Store) {
	cfg := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))
	statuses := []delivery.Status{
		delivery.StatusSuccess, delivery.StatusSuccess, delivery.StatusSuccess,
		delivery.StatusDeadLetter, delivery.StatusFailed, delivery.StatusPending,
	}
	for _, st := range statuses {
		d := NewDelivery(cfg, mustCreateEvent(t, s, NewEvent("co_1", "order.created")), time.Now())
		d.Status = st
		mustCreateDeliveries(t, s, d)
	}

	old := NewDelivery(cfg, mustCreateEvent(t, s, NewEvent("co_1", "order.created")), time.Now())
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	old.Status = delivery.StatusSuccess
	mustCreateDeliveries(t, s, old)

	counts, err := s.CountByStatus(ctx(), cfg.ID, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	want := map[delivery.Status]int64{
		delivery.StatusSuccess:    3,
		delivery.StatusDeadLetter: 1,
		delivery.StatusFailed:     1,
		delivery.StatusPending:    1,
	}
	for st, n := range want {
		if counts[st] != n {
			t.Errorf("%s: got %d, want %d", st, counts[st], n)
		}
	}
}

func testDeleteWebhookCascades(t *testing.T, s store.Store) {
	cfg := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))
	keep := mustCreateWebhook(t, s, NewWebhook("co_1", "order.created"))
	evt := mustCreateEvent(t, s, NewEvent("co_1", "order.created"))
	gone := NewDelivery(cfg, evt, time.Now().Add(-time.Minute))
	kept := NewDelivery(keep, evt, time.Now().Add(time.Hour))
	mustCreateDeliveries(t, s, gone, kept)

	if err := s.DeleteWebhook(ctx(), cfg.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetDelivery(ctx(), gone.ID); !errors.Is(err, delivery.ErrNotFound) {
		t.Fatalf("expected cascade delete, got %v", err)
	}
	if _, err := s.GetDelivery(ctx(), kept.ID); err != nil {
		t.Fatalf("unrelated delivery removed: %v", err)
	}
	if _, err := s.GetEvent(ctx(), evt.ID); err != nil {
		t.Fatalf("event must survive config deletion: %v", err)
	}

	claimed, err := s.ClaimDue(ctx(), time.Now(), time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Fatalf("deleted config's delivery was claimed")
	}
}
