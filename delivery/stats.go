package delivery

import (
	"time"

	"github.com/xraph/herald/id"
)

// Stats aggregates a webhook's deliveries over a trailing window.
type Stats struct {
	WebhookID  id.ID     `json:"webhook_id"`
	PeriodDays int       `json:"period_days"`
	Since      time.Time `json:"since"`

	Total      int64 `json:"total"`
	Success    int64 `json:"success"`
	Failed     int64 `json:"failed"`
	DeadLetter int64 `json:"dead_letter"`
	Pending    int64 `json:"pending"`

	// Rates are fractions of Total in [0, 1].
	SuccessRate    float64 `json:"success_rate"`
	FailedRate     float64 `json:"failed_rate"`
	DeadLetterRate float64 `json:"dead_letter_rate"`
}

// NewStats builds Stats from per-status counts.
func NewStats(whID id.ID, periodDays int, since time.Time, counts map[Status]int64) *Stats {
	s := &Stats{
		WebhookID:  whID,
		PeriodDays: periodDays,
		Since:      since,
		Success:    counts[StatusSuccess],
		Failed:     counts[StatusFailed],
		DeadLetter: counts[StatusDeadLetter],
		Pending:    counts[StatusPending],
	}
	s.Total = s.Success + s.Failed + s.DeadLetter + s.Pending
	if s.Total > 0 {
		total := float64(s.Total)
		s.SuccessRate = float64(s.Success) / total
		s.FailedRate = float64(s.Failed) / total
		s.DeadLetterRate = float64(s.DeadLetter) / total
	}
	return s
}
