package event_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
)

func TestEnvelopeShape(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	evt := &event.Event{
		ID:        id.NewEventID(),
		CompanyID: "co_1",
		Type:      "order.created",
		Payload:   json.RawMessage(`{"order_id":"ord_9","total":120.5}`),
		CreatedAt: created,
	}

	body, err := evt.Envelope()
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]json.RawMessage
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("envelope has %d keys, want 4: %s", len(got), body)
	}

	var envID, envType, ts string
	_ = json.Unmarshal(got["id"], &envID)
	_ = json.Unmarshal(got["type"], &envType)
	_ = json.Unmarshal(got["timestamp"], &ts)

	if envID != evt.ID.String() {
		t.Errorf("id = %q", envID)
	}
	if envType != "order.created" {
		t.Errorf("type = %q", envType)
	}
	if ts != "2025-03-01T12:30:00Z" {
		t.Errorf("timestamp = %q", ts)
	}
	if string(got["data"]) != `{"order_id":"ord_9","total":120.5}` {
		t.Errorf("data = %s", got["data"])
	}
}

func TestEnvelopeStable(t *testing.T) {
	evt := &event.Event{
		ID:        id.NewEventID(),
		Type:      "stock.low",
		Payload:   json.RawMessage(`{"sku":"A1"}`),
		CreatedAt: time.Now(),
	}

	a, err := evt.Envelope()
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	b, err := evt.Envelope()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("envelope changed between calls:\n%s\n%s", a, b)
	}
}

func TestEnvelopeNilPayload(t *testing.T) {
	evt := &event.Event{ID: id.NewEventID(), Type: "a.b", CreatedAt: time.Now()}
	body, err := evt.Envelope()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(body, []byte(`"data":null`)) {
		t.Fatalf("body = %s", body)
	}
}
