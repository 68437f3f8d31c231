package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/webhook"
)

func TestDeliveryListFilter(t *testing.T) {
	whID := id.NewWebhookID()

	f := deliveryListFilter("co_1", delivery.ListOpts{})
	assert.Equal(t, bson.M{"company_id": "co_1"}, f)

	f = deliveryListFilter("co_1", delivery.ListOpts{WebhookID: whID, Status: delivery.StatusDeadLetter})
	assert.Equal(t, "co_1", f["company_id"], "tenant scope must always apply")
	assert.Equal(t, whID.String(), f["webhook_id"])
	assert.Equal(t, "dead_letter", f["status"])
	assert.NotContains(t, f, "event_id")
}

func TestEventListFilterWindow(t *testing.T) {
	from := time.Now().Add(-time.Hour)
	f := eventListFilter("co_1", event.ListOpts{Type: "order.created", From: &from})

	assert.Equal(t, "order.created", f["type"])
	window, ok := f["created_at"].(bson.M)
	if assert.True(t, ok) {
		assert.Equal(t, from, window["$gte"])
		assert.NotContains(t, window, "$lte")
	}
}

func TestWebhookListFilter(t *testing.T) {
	f := webhookListFilter("co_1", webhook.ListOpts{Status: webhook.StatusSuspended})
	assert.Equal(t, bson.M{"company_id": "co_1", "status": "suspended"}, f)
}

func TestIncrementPipelineShape(t *testing.T) {
	p := incrementPipeline(10)
	if assert.Len(t, p, 2) {
		assert.Equal(t, "$set", p[0][0].Key)
		assert.Equal(t, "$set", p[1][0].Key)
	}
}

func TestModelsRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	d := &delivery.Delivery{
		ID:            id.NewDeliveryID(),
		CompanyID:     "co_1",
		WebhookID:     id.NewWebhookID(),
		EventID:       id.NewEventID(),
		Status:        delivery.StatusPending,
		NextAttemptAt: &now,
	}
	got, err := fromDeliveryModel(toDeliveryModel(d))
	assert.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, d.WebhookID, got.WebhookID)
	assert.Nil(t, got.ResponseBody)
}

func TestClaimFilter(t *testing.T) {
	delID := id.NewDeliveryID()
	expected := time.Now().UTC()
	f := claimFilter(delID, expected)

	assert.Equal(t, delID.String(), f["_id"])
	assert.Equal(t, "pending", f["status"], "terminal rows must never be claimed")
	or, ok := f["$or"].(bson.A)
	if assert.True(t, ok) && assert.Len(t, or, 2) {
		assert.Equal(t, bson.M{"next_attempt_at": nil}, or[0])
		assert.Equal(t, bson.M{"next_attempt_at": bson.M{"$lte": expected}}, or[1])
	}
}
