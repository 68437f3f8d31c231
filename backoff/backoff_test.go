package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/herald/backoff"
)

func TestNextDelay(t *testing.T) {
	tests := []struct {
		attempt    int
		maxRetries int
		want       time.Duration
		ok         bool
	}{
		{1, 3, 10 * time.Second, true},
		{2, 3, 60 * time.Second, true},
		{3, 4, 300 * time.Second, true},
		{3, 3, 0, false},
		{1, 1, 0, false},
		{1, 0, 0, false},
		{4, 10, 300 * time.Second, true},
		{9, 10, 300 * time.Second, true},
		{0, 3, 10 * time.Second, true},
	}

	for _, tt := range tests {
		got, ok := backoff.NextDelay(tt.attempt, tt.maxRetries)
		if ok != tt.ok || got != tt.want {
			t.Errorf("NextDelay(%d, %d) = (%v, %v), want (%v, %v)",
				tt.attempt, tt.maxRetries, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCustomSchedule(t *testing.T) {
	p := backoff.Policy{Schedule: []time.Duration{time.Millisecond, 5 * time.Millisecond}}

	if d, _ := p.NextDelay(1, 5); d != time.Millisecond {
		t.Errorf("attempt 1 = %v", d)
	}
	if d, _ := p.NextDelay(4, 5); d != 5*time.Millisecond {
		t.Errorf("attempt 4 = %v, want last entry repeated", d)
	}
}

func TestEmptyScheduleFallsBack(t *testing.T) {
	d, ok := backoff.Policy{}.NextDelay(1, 3)
	if !ok || d != 10*time.Second {
		t.Errorf("got (%v, %v)", d, ok)
	}
}
