package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xraph/herald"
	"github.com/xraph/herald/api"
	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/store/memory"
)

// testServer creates a Handler backed by a memory store and returns the test server.
func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	h, err := herald.New(herald.WithStore(memory.New()))
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(api.NewHandler(h, slog.Default()))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, want, body)
	}
}

type webhookBody struct {
	ID                     string   `json:"id"`
	CompanyID              string   `json:"company_id"`
	Name                   string   `json:"name"`
	URL                    string   `json:"url"`
	Events                 []string `json:"events"`
	Status                 string   `json:"status"`
	Secret                 string   `json:"secret"`
	TimeoutMs              int      `json:"timeout_ms"`
	MaxRetries             int      `json:"max_retries"`
	ConsecutiveDeadLetters int      `json:"consecutive_dead_letters"`
}

func createWebhook(t *testing.T, srv *httptest.Server, company string) webhookBody {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/companies/"+company+"/webhooks", map[string]any{
		"name":   "orders",
		"url":    "https://example.com/hooks",
		"events": []string{"order.created"},
	})
	expectStatus(t, resp, http.StatusCreated)
	var wh webhookBody
	decodeBody(t, resp, &wh)
	return wh
}

func TestHealth(t *testing.T) {
	srv := testServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestEventTypes(t *testing.T) {
	srv := testServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/event-types", nil)
	expectStatus(t, resp, http.StatusOK)

	var defs []catalog.Definition
	decodeBody(t, resp, &defs)
	found := false
	for _, d := range defs {
		if d.Name == catalog.TestEventType {
			found = true
		}
	}
	if !found {
		t.Fatalf("%s missing from %d definitions", catalog.TestEventType, len(defs))
	}
}

func TestWebhooks_CRUD(t *testing.T) {
	srv := testServer(t)
	base := srv.URL + "/companies/co_1/webhooks"

	created := createWebhook(t, srv, "co_1")
	if !strings.HasPrefix(created.Secret, "whsec_") || len(created.Secret) != len("whsec_")+64 {
		t.Fatalf("create must return the plaintext secret, got %q", created.Secret)
	}
	if created.Status != "active" || created.TimeoutMs != 10000 || created.MaxRetries != 3 {
		t.Fatalf("defaults = %+v", created)
	}

	// Get masks the secret.
	resp := doJSON(t, http.MethodGet, base+"/"+created.ID, nil)
	expectStatus(t, resp, http.StatusOK)
	var got webhookBody
	decodeBody(t, resp, &got)
	if got.Secret == created.Secret || !strings.Contains(got.Secret, "****") {
		t.Fatalf("get secret = %q, want masked", got.Secret)
	}

	// Patch updates only the given fields.
	resp = doJSON(t, http.MethodPatch, base+"/"+created.ID, map[string]any{"name": "renamed"})
	expectStatus(t, resp, http.StatusOK)
	var updated webhookBody
	decodeBody(t, resp, &updated)
	if updated.Name != "renamed" || updated.URL != created.URL {
		t.Fatalf("updated = %+v", updated)
	}

	// List.
	resp = doJSON(t, http.MethodGet, base, nil)
	expectStatus(t, resp, http.StatusOK)
	var list []webhookBody
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("list = %d", len(list))
	}

	// Delete.
	resp = doJSON(t, http.MethodDelete, base+"/"+created.ID, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, base+"/"+created.ID, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestWebhooks_Validation(t *testing.T) {
	srv := testServer(t)
	base := srv.URL + "/companies/co_1/webhooks"

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"bad url", map[string]any{"name": "x", "url": "ftp://example.com", "events": []string{"order.created"}}, "url"},
		{"unknown event", map[string]any{"name": "x", "url": "https://example.com", "events": []string{"nope.nope"}}, "events"},
		{"reserved header", map[string]any{
			"name": "x", "url": "https://example.com", "events": []string{"order.created"},
			"headers": map[string]string{"X-Webhook-Signature": "forged"},
		}, "headers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, base, tt.body)
			expectStatus(t, resp, http.StatusBadRequest)
			var e struct {
				Error string `json:"error"`
				Field string `json:"field"`
			}
			decodeBody(t, resp, &e)
			if e.Field != tt.field {
				t.Fatalf("field = %q, want %q (%s)", e.Field, tt.field, e.Error)
			}
		})
	}

	resp := doJSON(t, http.MethodPost, base, map[string]any{"unknown": true})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestWebhooks_UpdateRejectsEmptyEvents(t *testing.T) {
	srv := testServer(t)
	wh := createWebhook(t, srv, "co_1")

	resp := doJSON(t, http.MethodPatch, srv.URL+"/companies/co_1/webhooks/"+wh.ID,
		map[string]any{"events": []string{}})
	expectStatus(t, resp, http.StatusBadRequest)
	var e struct {
		Field string `json:"field"`
	}
	decodeBody(t, resp, &e)
	if e.Field != "events" {
		t.Fatalf("field = %q", e.Field)
	}
}

func TestWebhooks_TenantIsolation(t *testing.T) {
	srv := testServer(t)
	wh := createWebhook(t, srv, "co_a")

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, ""},
		{http.MethodDelete, ""},
		{http.MethodPost, "/rotate-secret"},
		{http.MethodPost, "/test"},
		{http.MethodGet, "/stats"},
		{http.MethodGet, "/deliveries"},
	} {
		resp := doJSON(t, tc.method, srv.URL+"/companies/co_b/webhooks/"+wh.ID+tc.path, nil)
		expectStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/companies/co_b/webhooks", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []webhookBody
	decodeBody(t, resp, &list)
	if len(list) != 0 {
		t.Fatalf("co_b sees %d webhooks", len(list))
	}
}

func TestWebhooks_InvalidID(t *testing.T) {
	srv := testServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/companies/co_1/webhooks/evt_notawebhook", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestWebhooks_StatusAndRotate(t *testing.T) {
	srv := testServer(t)
	wh := createWebhook(t, srv, "co_1")
	base := srv.URL + "/companies/co_1/webhooks/" + wh.ID

	resp := doJSON(t, http.MethodPut, base+"/status", map[string]string{"status": "inactive"})
	expectStatus(t, resp, http.StatusOK)
	var got webhookBody
	decodeBody(t, resp, &got)
	if got.Status != "inactive" {
		t.Fatalf("status = %q", got.Status)
	}

	resp = doJSON(t, http.MethodPut, base+"/status", map[string]string{"status": "suspended"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, base+"/rotate-secret", nil)
	expectStatus(t, resp, http.StatusOK)
	var rotated struct {
		Secret string `json:"secret"`
	}
	decodeBody(t, resp, &rotated)
	if rotated.Secret == wh.Secret || !strings.HasPrefix(rotated.Secret, "whsec_") {
		t.Fatalf("rotated secret = %q", rotated.Secret)
	}
}

func TestEvents_EmitAndRead(t *testing.T) {
	srv := testServer(t)
	wh := createWebhook(t, srv, "co_1")
	base := srv.URL + "/companies/co_1"

	resp := doJSON(t, http.MethodPost, base+"/events", map[string]any{
		"type":        "order.created",
		"payload":     map[string]any{"order_id": "o_1"},
		"entity_type": "order",
		"entity_id":   "o_1",
	})
	expectStatus(t, resp, http.StatusAccepted)
	var evt struct {
		ID       string          `json:"id"`
		Type     string          `json:"type"`
		EntityID string          `json:"entity_id"`
		Payload  json.RawMessage `json:"payload"`
	}
	decodeBody(t, resp, &evt)
	if evt.Type != "order.created" || evt.EntityID != "o_1" {
		t.Fatalf("event = %+v", evt)
	}
	if string(evt.Payload) != `{"order_id":"o_1"}` {
		t.Fatalf("payload = %s", evt.Payload)
	}

	resp = doJSON(t, http.MethodGet, base+"/events/"+evt.ID, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, base+"/events/"+evt.ID+"/deliveries", nil)
	expectStatus(t, resp, http.StatusOK)
	var ds []struct {
		ID        string `json:"id"`
		WebhookID string `json:"webhook_id"`
		Status    string `json:"status"`
	}
	decodeBody(t, resp, &ds)
	if len(ds) != 1 || ds[0].WebhookID != wh.ID {
		t.Fatalf("deliveries = %+v", ds)
	}

	resp = doJSON(t, http.MethodGet, base+"/deliveries/"+ds[0].ID, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, base+"/deliveries?event_id="+evt.ID, nil)
	expectStatus(t, resp, http.StatusOK)
	var filtered []json.RawMessage
	decodeBody(t, resp, &filtered)
	if len(filtered) != 1 {
		t.Fatalf("filtered deliveries = %d", len(filtered))
	}

	resp = doJSON(t, http.MethodGet, base+"/events?type=order.created", nil)
	expectStatus(t, resp, http.StatusOK)
	var evts []json.RawMessage
	decodeBody(t, resp, &evts)
	if len(evts) != 1 {
		t.Fatalf("events = %d", len(evts))
	}

	// Another company cannot read it.
	resp = doJSON(t, http.MethodGet, srv.URL+"/companies/co_2/events/"+evt.ID, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
	resp = doJSON(t, http.MethodGet, srv.URL+"/companies/co_2/deliveries/"+ds[0].ID, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestEvents_EmitValidation(t *testing.T) {
	srv := testServer(t)
	base := srv.URL + "/companies/co_1/events"

	resp := doJSON(t, http.MethodPost, base, map[string]any{"type": "Bad Type", "payload": 1})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, base, map[string]any{"type": "order.created"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestDeliveries_BadFilters(t *testing.T) {
	srv := testServer(t)
	base := srv.URL + "/companies/co_1"

	for _, path := range []string{
		"/deliveries?status=bogus",
		"/deliveries?webhook_id=nope",
		"/deliveries?event_id=nope",
		"/events?from=yesterday",
	} {
		resp := doJSON(t, http.MethodGet, base+path, nil)
		expectStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	}
}

func TestStatsAndTestEvent(t *testing.T) {
	srv := testServer(t)
	wh := createWebhook(t, srv, "co_1")
	base := srv.URL + "/companies/co_1/webhooks/" + wh.ID

	resp := doJSON(t, http.MethodPost, base+"/test", nil)
	expectStatus(t, resp, http.StatusAccepted)
	var sent struct {
		EventID string `json:"event_id"`
	}
	decodeBody(t, resp, &sent)
	if !strings.HasPrefix(sent.EventID, "evt_") {
		t.Fatalf("event id = %q", sent.EventID)
	}

	resp = doJSON(t, http.MethodGet, base+"/stats?period_days=7", nil)
	expectStatus(t, resp, http.StatusOK)
	var stats struct {
		PeriodDays int   `json:"period_days"`
		Total      int64 `json:"total"`
		Pending    int64 `json:"pending"`
	}
	decodeBody(t, resp, &stats)
	if stats.PeriodDays != 7 || stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestTestEvent_InactiveWebhook(t *testing.T) {
	srv := testServer(t)
	wh := createWebhook(t, srv, "co_1")
	base := srv.URL + "/companies/co_1/webhooks/" + wh.ID

	resp := doJSON(t, http.MethodPut, base+"/status", map[string]string{"status": "inactive"})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, base+"/test", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	var e struct {
		Field string `json:"field"`
	}
	decodeBody(t, resp, &e)
	if e.Field != "status" {
		t.Fatalf("field = %q", e.Field)
	}
}
