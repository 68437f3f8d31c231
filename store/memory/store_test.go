package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/herald/delivery"
	heraldstore "github.com/xraph/herald/store"
	"github.com/xraph/herald/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) heraldstore.Store { return New() })
}

func TestLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx); !errors.Is(err, heraldstore.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	cfg := storetest.NewWebhook("co_1", "order.created")
	if err := s.CreateWebhook(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	cfg.Events[0] = "mutated.after.create"

	got, err := s.GetWebhook(ctx, cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Events[0] != "order.created" {
		t.Fatalf("store shares memory with caller: %v", got.Events)
	}

	evt := storetest.NewEvent("co_1", "order.created")
	if err := s.CreateEvent(ctx, evt); err != nil {
		t.Fatal(err)
	}
	d := storetest.NewDelivery(cfg, evt, time.Now())
	if err := s.CreateDeliveries(ctx, []*delivery.Delivery{d}); err != nil {
		t.Fatal(err)
	}
	*d.NextAttemptAt = time.Time{}

	stored, err := s.GetDelivery(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.NextAttemptAt.IsZero() {
		t.Fatal("delivery next_attempt_at aliased caller memory")
	}
}
