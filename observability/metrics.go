// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for herald. All Metrics methods are safe on a nil receiver.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcome label values.
const (
	OutcomeSuccess    = "success"
	OutcomeRetry      = "retry"
	OutcomeDeadLetter = "dead_letter"
	OutcomeFailed     = "failed"
)

// Metrics holds herald's metric instruments.
type Metrics struct {
	EventsEmitted     *prometheus.CounterVec
	DeliveriesTotal   *prometheus.CounterVec
	DeliveryLatency   prometheus.Histogram
	WebhooksSuspended prometheus.Counter
	QueueDepth        prometheus.Gauge
	SweepClaimed      prometheus.Counter
}

// NewMetrics creates the instruments and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_events_emitted_total",
			Help: "Events persisted by emit, by event type.",
		}, []string{"type"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_deliveries_total",
			Help: "Delivery attempts by outcome.",
		}, []string{"outcome"}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "herald_delivery_latency_seconds",
			Help:    "HTTP round trip of delivery attempts.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		WebhooksSuspended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herald_webhooks_suspended_total",
			Help: "Webhook configs suspended after consecutive dead letters.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "herald_dispatch_queue_depth",
			Help: "Deliveries waiting in the in-process worker queue.",
		}),
		SweepClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herald_sweep_claimed_total",
			Help: "Due deliveries claimed by the retry scheduler.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EventsEmitted,
			m.DeliveriesTotal,
			m.DeliveryLatency,
			m.WebhooksSuspended,
			m.QueueDepth,
			m.SweepClaimed,
		)
	}
	return m
}

// RecordEmit counts one persisted event.
func (m *Metrics) RecordEmit(eventType string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordDelivery records a delivery attempt with the given outcome and latency.
func (m *Metrics) RecordDelivery(outcome string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(outcome).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// RecordSuspension counts one automatic suspension.
func (m *Metrics) RecordSuspension() {
	if m == nil {
		return
	}
	m.WebhooksSuspended.Inc()
}

// SetQueueDepth reports the worker queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordClaimed counts deliveries claimed by a sweep.
func (m *Metrics) RecordClaimed(n int) {
	if m == nil {
		return
	}
	m.SweepClaimed.Add(float64(n))
}
