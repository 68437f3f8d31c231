package delivery_test

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/signature"
)

func TestSenderHappyPath(t *testing.T) {
	var (
		receivedHeaders http.Header
		receivedBody    []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header.Clone()
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	cfg := newTestWebhook(srv.URL)
	cfg.Headers = map[string]string{"X-Team": "billing"}
	evt := newTestEvent()
	d := newTestDelivery(cfg, evt)
	d.Attempt = 1

	body, err := evt.Envelope()
	if err != nil {
		t.Fatal(err)
	}
	d.RequestSignature = signature.Sign(body, cfg.Secret)

	res := delivery.NewSender(delivery.SenderOptions{}).Send(ctx(), cfg, evt, d, body)

	if !res.OK() || res.StatusCode != 200 {
		t.Fatalf("result = %+v", res)
	}
	if res.Body == nil || *res.Body != `{"ok":true}` {
		t.Fatalf("body = %v", res.Body)
	}
	if string(receivedBody) != string(body) {
		t.Fatalf("server got %s, want %s", receivedBody, body)
	}

	if got := receivedHeaders.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := receivedHeaders.Get("X-Webhook-Signature"); !signature.Verify(receivedBody, cfg.Secret, got) {
		t.Errorf("signature %q does not verify", got)
	}
	if got := receivedHeaders.Get("X-Webhook-Event"); got != "order.created" {
		t.Errorf("X-Webhook-Event = %q", got)
	}
	if got := receivedHeaders.Get("X-Webhook-Event-Id"); got != evt.ID.String() {
		t.Errorf("X-Webhook-Event-Id = %q", got)
	}
	if got := receivedHeaders.Get("X-Webhook-Delivery-Id"); got != d.ID.String() {
		t.Errorf("X-Webhook-Delivery-Id = %q", got)
	}
	if got := receivedHeaders.Get("X-Webhook-Attempt"); got != "1" {
		t.Errorf("X-Webhook-Attempt = %q", got)
	}
	if got := receivedHeaders.Get("X-Team"); got != "billing" {
		t.Errorf("custom header = %q", got)
	}
}

func TestSenderCustomHeadersCannotOverride(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := newTestWebhook(srv.URL)
	cfg.Headers = map[string]string{
		"Content-Type":        "text/plain",
		"X-Webhook-Signature": "sha256=forged",
	}
	evt := newTestEvent()
	d := newTestDelivery(cfg, evt)
	d.RequestSignature = "sha256=real"

	res := delivery.NewSender(delivery.SenderOptions{}).Send(ctx(), cfg, evt, d, []byte(`{}`))
	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	if got.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type overridden: %q", got.Get("Content-Type"))
	}
	if got.Get("X-Webhook-Signature") != "sha256=real" {
		t.Errorf("signature overridden: %q", got.Get("X-Webhook-Signature"))
	}
}

func TestSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	cfg := newTestWebhook(srv.URL)
	evt := newTestEvent()
	res := delivery.NewSender(delivery.SenderOptions{}).Send(ctx(), cfg, evt, newTestDelivery(cfg, evt), []byte(`{}`))

	if res.OK() {
		t.Fatal("500 should not be OK")
	}
	if res.StatusCode != 500 || res.Body == nil || *res.Body != "boom" {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Error, "500") {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestSender2xxWithBrokenBodyIsOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\npartial")
		_ = buf.Flush()
	}))
	defer srv.Close()

	cfg := newTestWebhook(srv.URL)
	evt := newTestEvent()
	res := delivery.NewSender(delivery.SenderOptions{}).Send(ctx(), cfg, evt, newTestDelivery(cfg, evt), []byte(`{}`))

	if !res.OK() {
		t.Fatalf("acknowledged delivery not OK: %+v", res)
	}
	if !strings.Contains(res.Error, "read response") {
		t.Fatalf("read error not kept: %q", res.Error)
	}
}

func TestSenderDoesNotFollowRedirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer srv.Close()

	cfg := newTestWebhook(srv.URL)
	evt := newTestEvent()
	res := delivery.NewSender(delivery.SenderOptions{}).Send(ctx(), cfg, evt, newTestDelivery(cfg, evt), []byte(`{}`))
	if res.StatusCode != http.StatusFound || res.OK() {
		t.Fatalf("redirect should be reported as-is, got %+v", res)
	}
}

func TestSenderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := newTestWebhook(srv.URL)
	cfg.TimeoutMs = 50
	evt := newTestEvent()

	start := time.Now()
	res := delivery.NewSender(delivery.SenderOptions{}).Send(ctx(), cfg, evt, newTestDelivery(cfg, evt), []byte(`{}`))
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not applied")
	}
	if res.OK() || res.StatusCode != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.Error != "request timed out" {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestSenderConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := newTestWebhook(url)
	evt := newTestEvent()
	res := delivery.NewSender(delivery.SenderOptions{}).Send(ctx(), cfg, evt, newTestDelivery(cfg, evt), []byte(`{}`))
	if res.OK() || res.Error == "" {
		t.Fatalf("expected network error, got %+v", res)
	}
}

func TestSenderBlocksPrivateNetworks(t *testing.T) {
	var hit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := newTestWebhook(srv.URL)
	evt := newTestEvent()
	res := delivery.NewSender(delivery.SenderOptions{BlockPrivateNetworks: true}).
		Send(ctx(), cfg, evt, newTestDelivery(cfg, evt), []byte(`{}`))

	if hit {
		t.Fatal("request reached a loopback server")
	}
	if res.Error != delivery.ErrBlockedAddress.Error() {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestPublicIP(t *testing.T) {
	tests := []struct {
		ip     string
		public bool
	}{
		{"8.8.8.8", true},
		{"2606:4700:4700::1111", true},
		{"127.0.0.1", false},
		{"10.1.2.3", false},
		{"172.16.0.1", false},
		{"192.168.1.1", false},
		{"169.254.169.254", false},
		{"100.64.0.1", false},
		{"0.0.0.0", false},
		{"::1", false},
		{"fe80::1", false},
		{"fd00::1", false},
	}
	for _, tt := range tests {
		if got := delivery.PublicIP(net.ParseIP(tt.ip)); got != tt.public {
			t.Errorf("PublicIP(%s) = %v, want %v", tt.ip, got, tt.public)
		}
	}
}

func TestSenderTruncatesLargeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("x", 10000)))
	}))
	defer srv.Close()

	cfg := newTestWebhook(srv.URL)
	evt := newTestEvent()
	res := delivery.NewSender(delivery.SenderOptions{}).Send(ctx(), cfg, evt, newTestDelivery(cfg, evt), []byte(`{}`))
	if res.Body == nil || !strings.HasSuffix(*res.Body, delivery.TruncatedSuffix) {
		t.Fatal("large body not truncated")
	}
}
