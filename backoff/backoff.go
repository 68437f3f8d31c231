// Package backoff computes the delay before the next delivery attempt.
package backoff

import "time"

// DefaultSchedule is 10s, 60s, 300s. The last value repeats.
var DefaultSchedule = []time.Duration{
	10 * time.Second,
	60 * time.Second,
	300 * time.Second,
}

// Policy maps a completed attempt number to the wait before the next one.
type Policy struct {
	Schedule []time.Duration
}

// Default returns a Policy using DefaultSchedule.
func Default() Policy {
	return Policy{Schedule: DefaultSchedule}
}

// NextDelay returns the delay after attempt (1-based) and whether another
// attempt is allowed. Once attempt reaches maxRetries no delay is returned.
func (p Policy) NextDelay(attempt, maxRetries int) (time.Duration, bool) {
	if attempt >= maxRetries {
		return 0, false
	}

	schedule := p.Schedule
	if len(schedule) == 0 {
		schedule = DefaultSchedule
	}

	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx], true
}

// NextDelay applies the default policy.
func NextDelay(attempt, maxRetries int) (time.Duration, bool) {
	return Default().NextDelay(attempt, maxRetries)
}
