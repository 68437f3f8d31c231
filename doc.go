// Package herald is an outbound webhook delivery engine for multi-tenant
// Go services.
//
// Business code emits domain events; herald fans each event out to the
// company's webhook configs subscribed to its type, signs every request
// with HMAC-SHA256, retries failures on a persisted backoff schedule, and
// dead-letters what cannot be delivered. Webhooks that keep dead-lettering
// are suspended until an operator reactivates them.
//
// Herald is a library. The stores under store/ (memory, Postgres, Redis,
// MongoDB), the chi admin API in api/ and the heraldd binary in
// cmd/heraldd are optional building blocks around it.
//
// Key features:
//   - Envelope {id, type, data, timestamp} signed in X-Webhook-Signature
//   - Retry timing persisted in the store, with lease-based claiming
//   - Automatic suspension after consecutive dead letters
//   - Per-webhook custom headers, timeouts and rate limits
//   - Prometheus metrics and OpenTelemetry spans per attempt
//
// Quick start:
//
//	h, err := herald.New(herald.WithStore(memory.New()))
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := h.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer h.Stop(ctx)
//
//	cfg, err := h.CreateWebhook(ctx, "co_1", webhook.Input{
//		Name:   webhook.Ptr("orders"),
//		URL:    webhook.Ptr("https://example.com/hooks"),
//		Events: []string{"order.created"},
//	})
//
//	_, err = h.Emit(ctx, "co_1", "order.created", order,
//		herald.WithEntity("order", order.ID))
//
// Receivers verify requests with signature.Verify(body, secret, header).
package herald
