package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xraph/herald/event"
	"github.com/xraph/herald/signature"
	"github.com/xraph/herald/webhook"
)

// maxResponseRead caps how much of a response body is read off the wire.
// Truncate trims it further before storage.
const maxResponseRead = 64 << 10

// UserAgent is sent with every delivery.
const UserAgent = "Herald-Webhooks/1.0"

// Delivery headers set by herald. They win over custom headers.
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderEventID   = "X-Webhook-Event-Id"
	HeaderDelivery  = "X-Webhook-Delivery-Id"
	HeaderAttempt   = "X-Webhook-Attempt"
	HeaderSignature = signature.Header
)

// ErrBlockedAddress is returned when a webhook URL resolves to a private,
// loopback or link-local address while private networks are blocked.
var ErrBlockedAddress = errors.New("herald: destination address is not allowed")

// Result holds the outcome of a single HTTP attempt.
type Result struct {
	StatusCode int
	Body       *string
	Error      string
	LatencyMs  int
}

// OK reports whether the endpoint acknowledged with a 2xx status. A body
// that could not be read after a 2xx still counts as acknowledged.
func (r Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// SenderOptions configures a Sender.
type SenderOptions struct {
	// BlockPrivateNetworks refuses connections to non-public addresses.
	// The check runs on the resolved IP, so DNS tricks cannot bypass it.
	BlockPrivateNetworks bool

	// Transport overrides the base round tripper. Mainly for tests.
	Transport http.RoundTripper
}

// Sender performs signed webhook POSTs over a shared HTTP client.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender. Redirects are never followed.
func NewSender(opts SenderOptions) *Sender {
	base := opts.Transport
	if base == nil {
		base = newTransport(opts.BlockPrivateNetworks)
	}
	return &Sender{
		client: &http.Client{
			Transport: otelhttp.NewTransport(base),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func newTransport(blockPrivate bool) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	t := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if blockPrivate {
		dialer.Control = denyPrivate
	} else {
		t.Proxy = http.ProxyFromEnvironment
	}
	return t
}

func denyPrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !PublicIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// PublicIP reports whether ip is routable on the public internet.
func PublicIP(ip net.IP) bool {
	switch {
	case ip.IsLoopback(), ip.IsPrivate(), ip.IsUnspecified(),
		ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast(),
		ip.IsInterfaceLocalMulticast(), ip.IsMulticast():
		return false
	case cgnat.Contains(ip):
		return false
	}
	return true
}

// Send POSTs body to the webhook URL within timeout. Custom headers are
// applied first so the standard ones cannot be overridden.
func (s *Sender) Send(ctx context.Context, cfg *webhook.Config, evt *event.Event, d *Delivery, body []byte) Result {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(HeaderSignature, d.RequestSignature)
	req.Header.Set(HeaderEvent, evt.Type)
	req.Header.Set(HeaderEventID, evt.ID.String())
	req.Header.Set(HeaderDelivery, d.ID.String())
	req.Header.Set(HeaderAttempt, strconv.Itoa(d.Attempt))

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G107: the URL is a tenant-configured webhook destination.
	latency := int(time.Since(start).Milliseconds())

	if err != nil {
		return Result{Error: describe(ctx, err), LatencyMs: latency}
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseRead))
	text := strings.ReplaceAll(strings.ToValidUTF8(string(raw), "\uFFFD"), "\x00", "")
	res := Result{
		StatusCode: resp.StatusCode,
		Body:       Truncate(&text),
		LatencyMs:  latency,
	}
	if readErr != nil {
		res.Error = fmt.Sprintf("read response: %v", readErr)
	} else if !res.OK() {
		res.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return res
}

func describe(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, ErrBlockedAddress):
		return ErrBlockedAddress.Error()
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "request timed out"
	}
	return err.Error()
}
