// Package memory provides an in-memory Store implementation for tests and
// single-process deployments.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	heraldstore "github.com/xraph/herald/store"
	"github.com/xraph/herald/webhook"
)

// compile-time interface check.
var _ heraldstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store. Records are copied
// on the way in and out so callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	webhooks   map[string]*webhook.Config    // keyed by ID string
	events     map[string]*event.Event       // keyed by ID string
	deliveries map[string]*delivery.Delivery // keyed by ID string
	pairs      map[string]string             // event|webhook → delivery ID

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		webhooks:   make(map[string]*webhook.Config),
		events:     make(map[string]*event.Event),
		deliveries: make(map[string]*delivery.Delivery),
		pairs:      make(map[string]string),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ErrClosed after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return heraldstore.ErrClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

// CreateWebhook persists a new config.
func (s *Store) CreateWebhook(_ context.Context, cfg *webhook.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.webhooks[cfg.ID.String()] = copyWebhook(cfg)
	return nil
}

// GetWebhook returns a config by ID.
func (s *Store) GetWebhook(_ context.Context, whID id.ID) (*webhook.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.webhooks[whID.String()]
	if !ok {
		return nil, webhook.ErrNotFound
	}
	return copyWebhook(cfg), nil
}

// UpdateWebhook stores the user-editable fields of cfg.
func (s *Store) UpdateWebhook(_ context.Context, cfg *webhook.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.webhooks[cfg.ID.String()]
	if !ok {
		return webhook.ErrNotFound
	}
	next := copyWebhook(cfg)
	next.Status = cur.Status
	next.ConsecutiveDeadLetters = cur.ConsecutiveDeadLetters
	next.CompanyID = cur.CompanyID
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	s.webhooks[cfg.ID.String()] = next
	return nil
}

// DeleteWebhook removes a config and its deliveries.
func (s *Store) DeleteWebhook(_ context.Context, whID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := whID.String()
	if _, ok := s.webhooks[key]; !ok {
		return webhook.ErrNotFound
	}
	delete(s.webhooks, key)

	for delKey, d := range s.deliveries {
		if d.WebhookID == whID {
			delete(s.pairs, pairKey(d.EventID, d.WebhookID))
			delete(s.deliveries, delKey)
		}
	}
	return nil
}

// ListWebhooks returns a company's configs, newest first.
func (s *Store) ListWebhooks(_ context.Context, companyID string, opts webhook.ListOpts) ([]*webhook.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*webhook.Config, 0, len(s.webhooks))
	for _, cfg := range s.webhooks {
		if cfg.CompanyID != companyID {
			continue
		}
		if opts.Status != "" && cfg.Status != opts.Status {
			continue
		}
		result = append(result, copyWebhook(cfg))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// ResolveWebhooks returns active configs subscribed to eventType.
func (s *Store) ResolveWebhooks(_ context.Context, companyID, eventType string) ([]*webhook.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*webhook.Config
	for _, cfg := range s.webhooks {
		if cfg.CompanyID != companyID || cfg.Status != webhook.StatusActive {
			continue
		}
		if cfg.Subscribes(eventType) {
			result = append(result, copyWebhook(cfg))
		}
	}
	return result, nil
}

// SetWebhookStatus changes the status, resetting the counter on activation.
func (s *Store) SetWebhookStatus(_ context.Context, whID id.ID, status webhook.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.webhooks[whID.String()]
	if !ok {
		return webhook.ErrNotFound
	}
	cfg.Status = status
	if status == webhook.StatusActive {
		cfg.ConsecutiveDeadLetters = 0
	}
	cfg.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementDeadLetters adds one to the counter and suspends at threshold,
// all under the write lock.
func (s *Store) IncrementDeadLetters(_ context.Context, whID id.ID, threshold int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.webhooks[whID.String()]
	if !ok {
		return 0, false, webhook.ErrNotFound
	}
	cfg.ConsecutiveDeadLetters++
	suspended := false
	if cfg.ConsecutiveDeadLetters >= threshold && cfg.Status == webhook.StatusActive {
		cfg.Status = webhook.StatusSuspended
		suspended = true
	}
	cfg.UpdatedAt = time.Now().UTC()
	return cfg.ConsecutiveDeadLetters, suspended, nil
}

// ResetDeadLetters sets the counter to zero.
func (s *Store) ResetDeadLetters(_ context.Context, whID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.webhooks[whID.String()]
	if !ok {
		return webhook.ErrNotFound
	}
	cfg.ConsecutiveDeadLetters = 0
	return nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// CreateEvent persists an event.
func (s *Store) CreateEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *evt
	s.events[evt.ID.String()] = &cp
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, event.ErrNotFound
	}
	cp := *evt
	return &cp, nil
}

// ListEvents returns a company's events, newest first.
func (s *Store) ListEvents(_ context.Context, companyID string, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0, len(s.events))
	for _, evt := range s.events {
		if evt.CompanyID != companyID || !matchEventOpts(evt, opts) {
			continue
		}
		cp := *evt
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func matchEventOpts(evt *event.Event, opts event.ListOpts) bool {
	if opts.Type != "" && evt.Type != opts.Type {
		return false
	}
	if opts.From != nil && evt.CreatedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && evt.CreatedAt.After(*opts.To) {
		return false
	}
	return true
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// CreateDeliveries persists a batch. Nothing is stored if any pair exists.
func (s *Store) CreateDeliveries(_ context.Context, ds []*delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(ds))
	for _, d := range ds {
		key := pairKey(d.EventID, d.WebhookID)
		if _, ok := s.pairs[key]; ok || seen[key] {
			return delivery.ErrDuplicate
		}
		seen[key] = true
	}

	for _, d := range ds {
		s.deliveries[d.ID.String()] = copyDelivery(d)
		s.pairs[pairKey(d.EventID, d.WebhookID)] = d.ID.String()
	}
	return nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(_ context.Context, delID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[delID.String()]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return copyDelivery(d), nil
}

// FindDelivery returns the delivery for an (event, webhook) pair.
func (s *Store) FindDelivery(_ context.Context, evtID, whID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	delKey, ok := s.pairs[pairKey(evtID, whID)]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return copyDelivery(s.deliveries[delKey]), nil
}

// UpdateDelivery stores attempt results unless the row is terminal.
func (s *Store) UpdateDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.deliveries[d.ID.String()]
	if !ok {
		return delivery.ErrNotFound
	}
	if cur.Status.Terminal() {
		return delivery.ErrFinalized
	}
	next := copyDelivery(d)
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	s.deliveries[d.ID.String()] = next
	return nil
}

// ClaimDue leases up to limit due pending deliveries, oldest due first.
func (s *Store) ClaimDue(_ context.Context, now, leaseUntil time.Time, limit int) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*delivery.Delivery
	for _, d := range s.deliveries {
		if d.Status != delivery.StatusPending || d.NextAttemptAt == nil || d.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, d)
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(*due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	result := make([]*delivery.Delivery, 0, len(due))
	for _, d := range due {
		lease := leaseUntil
		d.NextAttemptAt = &lease
		d.UpdatedAt = now
		result = append(result, copyDelivery(d))
	}
	return result, nil
}

// ClaimDelivery leases one pending delivery whose NextAttemptAt has not
// moved past expected.
func (s *Store) ClaimDelivery(_ context.Context, delID id.ID, expected, leaseUntil time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[delID.String()]
	if !ok || d.Status != delivery.StatusPending {
		return false, nil
	}
	if d.NextAttemptAt != nil && d.NextAttemptAt.After(expected) {
		return false, nil
	}
	lease := leaseUntil
	d.NextAttemptAt = &lease
	d.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ListDeliveries returns a company's deliveries, newest first.
func (s *Store) ListDeliveries(_ context.Context, companyID string, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0)
	for _, d := range s.deliveries {
		if d.CompanyID != companyID {
			continue
		}
		if !opts.WebhookID.IsNil() && d.WebhookID != opts.WebhookID {
			continue
		}
		if !opts.EventID.IsNil() && d.EventID != opts.EventID {
			continue
		}
		if opts.Status != "" && d.Status != opts.Status {
			continue
		}
		result = append(result, copyDelivery(d))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountByStatus counts a webhook's deliveries created since the given time.
func (s *Store) CountByStatus(_ context.Context, whID id.ID, since time.Time) (map[delivery.Status]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[delivery.Status]int64)
	for _, d := range s.deliveries {
		if d.WebhookID != whID || d.CreatedAt.Before(since) {
			continue
		}
		counts[d.Status]++
	}
	return counts, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func pairKey(evtID, whID id.ID) string {
	return evtID.String() + "|" + whID.String()
}

func copyWebhook(cfg *webhook.Config) *webhook.Config {
	cp := *cfg
	cp.Events = slices.Clone(cfg.Events)
	cp.Headers = maps.Clone(cfg.Headers)
	return &cp
}

// copyDelivery returns a copy that shares no pointers with d.
func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	cp := *d
	cp.NextAttemptAt = clonePtr(d.NextAttemptAt)
	cp.LastAttemptAt = clonePtr(d.LastAttemptAt)
	cp.CompletedAt = clonePtr(d.CompletedAt)
	cp.ResponseBody = clonePtr(d.ResponseBody)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// applyPagination returns the slice window for offset/limit. A zero limit
// returns everything after offset.
func applyPagination[T any](items []*T, offset, limit int) []*T {
	offset = max(offset, 0)
	if offset >= len(items) {
		return []*T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
