package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/webhook"
)

type pgError struct{ code string }

func (e *pgError) Error() string    { return "pg error " + e.code }
func (e *pgError) SQLState() string { return e.code }

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(fmt.Errorf("insert: %w", &pgError{code: "23505"})) {
		t.Error("wrapped 23505 not detected")
	}
	if isUniqueViolation(&pgError{code: "23503"}) {
		t.Error("foreign key violation reported as unique")
	}
	if isUniqueViolation(errors.New("duplicate")) {
		t.Error("plain error reported as unique")
	}
}

func TestWebhookModelRoundTrip(t *testing.T) {
	cfg := &webhook.Config{
		Entity:                 entity.New(),
		ID:                     id.NewWebhookID(),
		CompanyID:              "co_1",
		URL:                    "https://example.com",
		Events:                 []string{"order.created"},
		Status:                 webhook.StatusSuspended,
		ConsecutiveDeadLetters: 10,
	}
	m := toWebhookModel(cfg)
	if m.Headers == nil {
		t.Fatal("nil headers must be stored as an empty object")
	}
	got, err := fromWebhookModel(m)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != cfg.ID || got.Status != webhook.StatusSuspended || got.ConsecutiveDeadLetters != 10 {
		t.Fatalf("got %+v", got)
	}
}

func TestDeliveryModelKeepsNulls(t *testing.T) {
	d := &delivery.Delivery{
		Entity:    entity.New(),
		ID:        id.NewDeliveryID(),
		WebhookID: id.NewWebhookID(),
		EventID:   id.NewEventID(),
		Status:    delivery.StatusPending,
	}
	got, err := fromDeliveryModel(toDeliveryModel(d))
	if err != nil {
		t.Fatal(err)
	}
	if got.NextAttemptAt != nil || got.ResponseBody != nil || got.CompletedAt != nil {
		t.Fatalf("nullable fields not preserved: %+v", got)
	}

	now := time.Now().UTC()
	d.NextAttemptAt = &now
	got, _ = fromDeliveryModel(toDeliveryModel(d))
	if got.NextAttemptAt == nil || !got.NextAttemptAt.Equal(now) {
		t.Fatal("next_attempt_at lost")
	}
}

func TestFromDeliveryModelRejectsBadIDs(t *testing.T) {
	m := toDeliveryModel(&delivery.Delivery{
		ID:        id.NewDeliveryID(),
		WebhookID: id.NewWebhookID(),
		EventID:   id.NewEventID(),
	})
	m.WebhookID = id.NewEventID().String()
	if _, err := fromDeliveryModel(m); err == nil {
		t.Fatal("webhook_id with the wrong prefix accepted")
	}
}
