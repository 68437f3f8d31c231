package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string][]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string][]float64)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				out[f.GetName()] = append(out[f.GetName()], m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				out[f.GetName()] = append(out[f.GetName()], m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				out[f.GetName()] = append(out[f.GetName()], float64(m.GetHistogram().GetSampleCount()))
			}
		}
	}
	return out
}

func TestRecordDelivery(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordDelivery(OutcomeSuccess, 0.5)
	m.RecordDelivery(OutcomeSuccess, 1.2)
	m.RecordDelivery(OutcomeDeadLetter, 0.3)

	got := gather(t, reg)
	if n := len(got["herald_deliveries_total"]); n != 2 {
		t.Fatalf("expected 2 label combinations, got %d", n)
	}
	if c := got["herald_delivery_latency_seconds"]; len(c) != 1 || c[0] != 3 {
		t.Fatalf("latency samples = %v", c)
	}
}

func TestCountersAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordEmit("order.created")
	m.RecordEmit("order.created")
	m.RecordSuspension()
	m.SetQueueDepth(7)
	m.RecordClaimed(4)

	got := gather(t, reg)
	want := map[string]float64{
		"herald_events_emitted_total":     2,
		"herald_webhooks_suspended_total": 1,
		"herald_dispatch_queue_depth":     7,
		"herald_sweep_claimed_total":      4,
	}
	for name, v := range want {
		vals := got[name]
		if len(vals) != 1 || vals[0] != v {
			t.Errorf("%s = %v, want %v", name, vals, v)
		}
	}
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordEmit("x.y")
	m.RecordDelivery(OutcomeRetry, 1)
	m.RecordSuspension()
	m.SetQueueDepth(1)
	m.RecordClaimed(1)

	var tr *Tracer
	ctx, span := tr.StartDeliverySpan(context.Background(), "d", "e", "w", 1)
	if ctx == nil || span == nil {
		t.Fatal("nil tracer should return usable context and span")
	}
	tr.EndDeliverySpan(span, 200, 10, OutcomeSuccess, "")
}

func TestUnregistered(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordDelivery(OutcomeFailed, 0.1)
}
