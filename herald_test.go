package herald_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/signature"
	"github.com/xraph/herald/store/memory"
	"github.com/xraph/herald/webhook"
)

func ctx() context.Context { return context.Background() }

// receiver is a webhook endpoint answering with a fixed status.
type receiver struct {
	srv  *httptest.Server
	hits atomic.Int32

	mu      sync.Mutex
	bodies  [][]byte
	headers []http.Header
}

func newReceiver(t *testing.T, code int) *receiver {
	t.Helper()
	rc := &receiver{}
	rc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rc.mu.Lock()
		rc.bodies = append(rc.bodies, body)
		rc.headers = append(rc.headers, r.Header.Clone())
		rc.mu.Unlock()
		rc.hits.Add(1)
		w.WriteHeader(code)
	}))
	t.Cleanup(rc.srv.Close)
	return rc
}

func (rc *receiver) last() ([]byte, http.Header) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if len(rc.bodies) == 0 {
		return nil, nil
	}
	return rc.bodies[len(rc.bodies)-1], rc.headers[len(rc.headers)-1]
}

func setup(t *testing.T, opts ...herald.Option) (*herald.Herald, *memory.Store) {
	t.Helper()
	s := memory.New()
	base := []herald.Option{
		herald.WithStore(s),
		herald.WithRetrySchedule([]time.Duration{10 * time.Millisecond}),
		herald.WithSweepInterval(time.Hour),
	}
	h, err := herald.New(append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Start(ctx()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(ctx(), 5*time.Second)
		defer cancel()
		_ = h.Stop(stopCtx)
	})
	return h, s
}

func createWebhook(t *testing.T, h *herald.Herald, companyID, url string, maxRetries int, events ...string) *webhook.Config {
	t.Helper()
	cfg, err := h.CreateWebhook(ctx(), companyID, webhook.Input{
		Name:       webhook.Ptr("test"),
		URL:        webhook.Ptr(url),
		Events:     events,
		MaxRetries: webhook.Ptr(maxRetries),
		TimeoutMs:  webhook.Ptr(5000),
	})
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

// eventually sweeps until cond holds or the deadline passes.
func eventually(t *testing.T, h *herald.Herald, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		if _, err := h.Sweep(ctx()); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func deliveryOf(t *testing.T, s *memory.Store, evtID, whID id.ID) *delivery.Delivery {
	t.Helper()
	d, err := s.FindDelivery(ctx(), evtID, whID)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := herald.New(); !errors.Is(err, herald.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	s := memory.New()
	for name, opt := range map[string]herald.Option{
		"concurrency": herald.WithConcurrency(0),
		"queue":       herald.WithQueueSize(-1),
		"schedule":    herald.WithRetrySchedule(nil),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := herald.New(herald.WithStore(s), opt); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := herald.DefaultConfig()
	if cfg.Concurrency != 10 || cfg.QueueSize != 1024 || cfg.BatchSize != 100 {
		t.Fatalf("sizes = %+v", cfg)
	}
	if cfg.SweepInterval != 5*time.Second || cfg.ClaimLease != 2*time.Minute || cfg.ParkInterval != time.Minute {
		t.Fatalf("timings = %+v", cfg)
	}
	if cfg.SuspendThreshold != 10 || len(cfg.RetrySchedule) != 3 {
		t.Fatalf("policy = %+v", cfg)
	}
}

func TestEmitDelivers(t *testing.T) {
	rc := newReceiver(t, http.StatusOK)
	h, s := setup(t)
	cfg := createWebhook(t, h, "co_1", rc.srv.URL, 3, "order.created")

	evt, err := h.Emit(ctx(), "co_1", "order.created",
		map[string]any{"order_id": "o_1", "total": 42},
		herald.WithEntity("order", "o_1"),
		herald.WithMetadata(map[string]string{"source": "checkout"}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if evt.EntityType != "order" || evt.EntityID != "o_1" {
		t.Fatalf("entity = %q/%q", evt.EntityType, evt.EntityID)
	}

	eventually(t, h, func() bool {
		return deliveryOf(t, s, evt.ID, cfg.ID).Status == delivery.StatusSuccess
	})

	d := deliveryOf(t, s, evt.ID, cfg.ID)
	if d.Attempt != 1 || d.ResponseStatus != http.StatusOK {
		t.Fatalf("attempt = %d status = %d", d.Attempt, d.ResponseStatus)
	}
	if rc.hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", rc.hits.Load())
	}

	body, hdr := rc.last()
	if !signature.Verify(body, cfg.Secret, hdr.Get(signature.Header)) {
		t.Fatal("signature does not verify with the webhook secret")
	}
	if d.RequestSignature != hdr.Get(signature.Header) {
		t.Fatal("stored signature differs from the sent one")
	}

	var env event.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatal(err)
	}
	if env.ID != evt.ID.String() || env.Type != "order.created" {
		t.Fatalf("envelope = %+v", env)
	}
	if string(env.Data) != `{"order_id":"o_1","total":42}` {
		t.Fatalf("data = %s", env.Data)
	}
}

func TestEmitRetriesThenDeadLetters(t *testing.T) {
	rc := newReceiver(t, http.StatusInternalServerError)
	h, s := setup(t)
	cfg := createWebhook(t, h, "co_1", rc.srv.URL, 3, "order.created")

	evt, err := h.Emit(ctx(), "co_1", "order.created", map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, h, func() bool {
		return deliveryOf(t, s, evt.ID, cfg.ID).Status == delivery.StatusDeadLetter
	})

	d := deliveryOf(t, s, evt.ID, cfg.ID)
	if d.Attempt != 3 {
		t.Fatalf("attempt = %d, want 3", d.Attempt)
	}
	if rc.hits.Load() != 3 {
		t.Fatalf("hits = %d, want 3", rc.hits.Load())
	}
	if d.ResponseStatus != http.StatusInternalServerError {
		t.Fatalf("response status = %d", d.ResponseStatus)
	}

	wh, err := h.GetWebhook(ctx(), "co_1", cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if wh.ConsecutiveDeadLetters != 1 || wh.Status != webhook.StatusActive {
		t.Fatalf("counter = %d status = %q", wh.ConsecutiveDeadLetters, wh.Status)
	}

	// Every attempt carried the same bytes.
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for i := 1; i < len(rc.bodies); i++ {
		if string(rc.bodies[i]) != string(rc.bodies[0]) {
			t.Fatalf("attempt %d body differs", i+1)
		}
	}
}

func TestEmitSuspendsAfterThreshold(t *testing.T) {
	rc := newReceiver(t, http.StatusServiceUnavailable)
	h, s := setup(t)
	cfg := createWebhook(t, h, "co_1", rc.srv.URL, 0, "order.created")

	for range 10 {
		if _, err := h.Emit(ctx(), "co_1", "order.created", map[string]int{"n": 1}); err != nil {
			t.Fatal(err)
		}
	}

	eventually(t, h, func() bool {
		wh, err := s.GetWebhook(ctx(), cfg.ID)
		return err == nil && wh.Status == webhook.StatusSuspended
	})

	wh, err := s.GetWebhook(ctx(), cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if wh.ConsecutiveDeadLetters != 10 {
		t.Fatalf("counter = %d, want 10", wh.ConsecutiveDeadLetters)
	}

	evt, err := h.Emit(ctx(), "co_1", "order.created", map[string]int{"n": 11})
	if err != nil {
		t.Fatal(err)
	}
	ds, err := h.EventDeliveries(ctx(), "co_1", evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 0 {
		t.Fatalf("deliveries = %d, want 0 for a suspended webhook", len(ds))
	}

	// Reactivation clears the counter and resumes fan-out.
	wh, err = h.SetWebhookStatus(ctx(), "co_1", cfg.ID, webhook.StatusActive)
	if err != nil {
		t.Fatal(err)
	}
	if wh.Status != webhook.StatusActive || wh.ConsecutiveDeadLetters != 0 {
		t.Fatalf("status = %q counter = %d", wh.Status, wh.ConsecutiveDeadLetters)
	}
	evt, err = h.Emit(ctx(), "co_1", "order.created", map[string]int{"n": 12})
	if err != nil {
		t.Fatal(err)
	}
	ds, err = h.EventDeliveries(ctx(), "co_1", evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(ds))
	}
}

func TestEmitWithoutSubscribers(t *testing.T) {
	rc := newReceiver(t, http.StatusOK)
	h, _ := setup(t)
	createWebhook(t, h, "co_1", rc.srv.URL, 3, "order.created")

	evt, err := h.Emit(ctx(), "co_1", "invoice.paid", map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	ds, err := h.EventDeliveries(ctx(), "co_1", evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 0 {
		t.Fatalf("deliveries = %d, want 0", len(ds))
	}

	// The event is still recorded.
	if _, err := h.GetEvent(ctx(), "co_1", evt.ID); err != nil {
		t.Fatal(err)
	}
}

func TestEmitValidation(t *testing.T) {
	h, _ := setup(t)

	tests := []struct {
		name      string
		companyID string
		eventType string
		payload   any
	}{
		{"no company", "", "order.created", 1},
		{"malformed type", "co_1", "Order Created", 1},
		{"unencodable payload", "co_1", "order.created", func() {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Emit(ctx(), tt.companyID, tt.eventType, tt.payload)
			if !errors.Is(err, herald.ErrInvalidEvent) {
				t.Fatalf("err = %v, want ErrInvalidEvent", err)
			}
		})
	}
}

func TestTenantIsolation(t *testing.T) {
	rc := newReceiver(t, http.StatusOK)
	h, _ := setup(t)
	cfg := createWebhook(t, h, "co_a", rc.srv.URL, 3, "order.created")

	evt, err := h.Emit(ctx(), "co_b", "order.created", map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	ds, err := h.EventDeliveries(ctx(), "co_b", evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 0 {
		t.Fatalf("co_b event reached co_a's webhook")
	}

	if _, err := h.GetWebhook(ctx(), "co_b", cfg.ID); !errors.Is(err, herald.ErrWebhookNotFound) {
		t.Fatalf("GetWebhook err = %v", err)
	}
	if err := h.DeleteWebhook(ctx(), "co_b", cfg.ID); !errors.Is(err, herald.ErrWebhookNotFound) {
		t.Fatalf("DeleteWebhook err = %v", err)
	}
	if _, err := h.RotateSecret(ctx(), "co_b", cfg.ID); !errors.Is(err, herald.ErrWebhookNotFound) {
		t.Fatalf("RotateSecret err = %v", err)
	}
	if _, err := h.SendTestEvent(ctx(), "co_b", cfg.ID); !errors.Is(err, herald.ErrWebhookNotFound) {
		t.Fatalf("SendTestEvent err = %v", err)
	}
	if _, err := h.DeliveryStats(ctx(), "co_b", cfg.ID, 7); !errors.Is(err, herald.ErrWebhookNotFound) {
		t.Fatalf("DeliveryStats err = %v", err)
	}
	if _, err := h.GetEvent(ctx(), "co_a", evt.ID); !errors.Is(err, herald.ErrEventNotFound) {
		t.Fatalf("GetEvent err = %v", err)
	}

	list, err := h.ListWebhooks(ctx(), "co_b", webhook.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("co_b sees %d webhooks", len(list))
	}
}

func TestSendTestEvent(t *testing.T) {
	rc := newReceiver(t, http.StatusOK)
	h, s := setup(t)
	cfg := createWebhook(t, h, "co_1", rc.srv.URL, 3, "order.created")
	other := createWebhook(t, h, "co_1", rc.srv.URL, 3, "order.created")

	evtID, err := h.SendTestEvent(ctx(), "co_1", cfg.ID)
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, h, func() bool {
		return deliveryOf(t, s, evtID, cfg.ID).Status == delivery.StatusSuccess
	})

	_, hdr := rc.last()
	if got := hdr.Get(delivery.HeaderEvent); got != catalog.TestEventType {
		t.Fatalf("event header = %q", got)
	}
	if _, err := s.FindDelivery(ctx(), evtID, other.ID); !errors.Is(err, delivery.ErrNotFound) {
		t.Fatalf("test event reached another webhook: %v", err)
	}

	evt, err := h.GetEvent(ctx(), "co_1", evtID)
	if err != nil {
		t.Fatal(err)
	}
	if evt.Type != catalog.TestEventType {
		t.Fatalf("type = %q", evt.Type)
	}
}

func TestQueuedDeliveryIsNotSentTwice(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	// One worker keeps the second delivery queued while its lease runs
	// out, so a sweep picks up the same row.
	h, s := setup(t, herald.WithConcurrency(1), herald.WithClaimLease(20*time.Millisecond))
	cfg := createWebhook(t, h, "co_1", srv.URL, 3, "order.created")

	e1, err := h.Emit(ctx(), "co_1", "order.created", map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	e2, err := h.Emit(ctx(), "co_1", "order.created", map[string]int{"n": 2})
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(60 * time.Millisecond)
	if _, err := h.Sweep(ctx()); err != nil {
		t.Fatal(err)
	}

	eventually(t, h, func() bool {
		return deliveryOf(t, s, e1.ID, cfg.ID).Status == delivery.StatusSuccess &&
			deliveryOf(t, s, e2.ID, cfg.ID).Status == delivery.StatusSuccess
	})
	// Give the worker time to reach the stale queued copy.
	time.Sleep(300 * time.Millisecond)

	if n := hits.Load(); n != 2 {
		t.Fatalf("endpoint hits = %d, want 2", n)
	}
	for _, evtID := range []id.ID{e1.ID, e2.ID} {
		if d := deliveryOf(t, s, evtID, cfg.ID); d.Attempt != 1 {
			t.Fatalf("delivery %s attempts = %d, want 1", d.ID, d.Attempt)
		}
	}
}

func TestListingToleratesNegativeOffset(t *testing.T) {
	rc := newReceiver(t, http.StatusOK)
	h, s := setup(t)
	cfg := createWebhook(t, h, "co_1", rc.srv.URL, 3, "order.created")

	evt, err := h.Emit(ctx(), "co_1", "order.created", map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, h, func() bool {
		return deliveryOf(t, s, evt.ID, cfg.ID).Status == delivery.StatusSuccess
	})

	ds, err := h.ListDeliveries(ctx(), "co_1", delivery.ListOpts{Offset: -1})
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(ds))
	}
	evts, err := h.ListEvents(ctx(), "co_1", event.ListOpts{Offset: -1})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("events = %d, want 1", len(evts))
	}
}

func TestSendTestEventRequiresActiveWebhook(t *testing.T) {
	rc := newReceiver(t, http.StatusOK)
	h, s := setup(t)
	cfg := createWebhook(t, h, "co_1", rc.srv.URL, 3, "order.created")

	if _, err := h.SetWebhookStatus(ctx(), "co_1", cfg.ID, webhook.StatusInactive); err != nil {
		t.Fatal(err)
	}

	_, err := h.SendTestEvent(ctx(), "co_1", cfg.ID)
	var ve *herald.ValidationError
	if !errors.As(err, &ve) || ve.Field != "status" {
		t.Fatalf("err = %v, want status validation error", err)
	}
	ds, err := s.ListDeliveries(ctx(), "co_1", delivery.ListOpts{WebhookID: cfg.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 0 {
		t.Fatalf("rejected test event left %d deliveries", len(ds))
	}
}

func TestDeliveryStats(t *testing.T) {
	rc := newReceiver(t, http.StatusOK)
	h, s := setup(t)
	cfg := createWebhook(t, h, "co_1", rc.srv.URL, 3, "order.created")

	var last *event.Event
	for range 4 {
		evt, err := h.Emit(ctx(), "co_1", "order.created", map[string]int{"n": 1})
		if err != nil {
			t.Fatal(err)
		}
		last = evt
	}
	eventually(t, h, func() bool {
		return rc.hits.Load() == 4 && deliveryOf(t, s, last.ID, cfg.ID).Status == delivery.StatusSuccess
	})
	eventually(t, h, func() bool {
		st, err := h.DeliveryStats(ctx(), "co_1", cfg.ID, 0)
		return err == nil && st.Success == 4
	})

	st, err := h.DeliveryStats(ctx(), "co_1", cfg.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if st.PeriodDays != herald.DefaultStatsPeriodDays {
		t.Fatalf("period = %d", st.PeriodDays)
	}
	if st.Total != 4 || st.SuccessRate != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestListDeliveriesFilters(t *testing.T) {
	rc := newReceiver(t, http.StatusOK)
	h, s := setup(t)
	cfg := createWebhook(t, h, "co_1", rc.srv.URL, 3, "order.created")

	evt, err := h.Emit(ctx(), "co_1", "order.created", map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, h, func() bool {
		return deliveryOf(t, s, evt.ID, cfg.ID).Status == delivery.StatusSuccess
	})

	ok, err := h.ListDeliveries(ctx(), "co_1", delivery.ListOpts{Status: delivery.StatusSuccess})
	if err != nil {
		t.Fatal(err)
	}
	if len(ok) != 1 {
		t.Fatalf("success deliveries = %d", len(ok))
	}
	dead, err := h.ListDeliveries(ctx(), "co_1", delivery.ListOpts{Status: delivery.StatusDeadLetter})
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 0 {
		t.Fatalf("dead-letter deliveries = %d", len(dead))
	}

	got, err := h.GetDelivery(ctx(), "co_1", ok[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.EventID.String() != evt.ID.String() {
		t.Fatal("delivery event mismatch")
	}
	if _, err := h.GetDelivery(ctx(), "co_2", ok[0].ID); !errors.Is(err, herald.ErrDeliveryNotFound) {
		t.Fatalf("foreign GetDelivery err = %v", err)
	}
}

func TestEventTypes(t *testing.T) {
	h, _ := setup(t)
	types := h.EventTypes()
	if _, ok := types[catalog.TestEventType]; !ok {
		t.Fatal("catalog misses the test event type")
	}
	if types["order.created"] == "" {
		t.Fatal("order.created has no description")
	}
}
