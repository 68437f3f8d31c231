package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/webhook"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store on Redis. Records are hashes holding a JSON
// blob plus the fields that scripts mutate atomically; listings go through
// sorted-set indexes.
type Store struct {
	kv  *kv.Store
	rdb goredis.UniversalClient
}

// New creates a new Redis store backed by Grove KV.
func New(store *kv.Store) *Store {
	return &Store{
		kv:  store,
		rdb: redisdriver.UnwrapClient(store),
	}
}

// NewWithClient creates a store on an existing go-redis client.
func NewWithClient(rdb goredis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Migrate is a no-op for Redis (no schema migrations needed).
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.kv != nil {
		return s.kv.Ping(ctx)
	}
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	if s.kv != nil {
		return s.kv.Close()
	}
	return s.rdb.Close()
}

// ==================== Webhook Store ====================

func (s *Store) CreateWebhook(ctx context.Context, cfg *webhook.Config) error {
	raw, err := json.Marshal(toWebhookModel(cfg))
	if err != nil {
		return fmt.Errorf("herald/redis: marshal webhook: %w", err)
	}
	key := entityKey(prefixWebhook, cfg.ID.String())
	_, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, key,
			fieldData, string(raw),
			fieldStatus, string(cfg.Status),
			fieldCounter, cfg.ConsecutiveDeadLetters,
			fieldCompany, cfg.CompanyID,
			fieldCreated, cfg.CreatedAt.UnixNano(),
		)
		p.ZAdd(ctx, zWebhookCompany+cfg.CompanyID, goredis.Z{
			Score:  float64(cfg.CreatedAt.UnixMicro()),
			Member: cfg.ID.String(),
		})
		return nil
	})
	return err
}

func (s *Store) GetWebhook(ctx context.Context, whID id.ID) (*webhook.Config, error) {
	h, err := s.rdb.HGetAll(ctx, entityKey(prefixWebhook, whID.String())).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, webhook.ErrNotFound
	}
	return fromWebhookHash(h)
}

func (s *Store) UpdateWebhook(ctx context.Context, cfg *webhook.Config) error {
	m := toWebhookModel(cfg)
	m.UpdatedAt = now()
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("herald/redis: marshal webhook: %w", err)
	}
	n, err := updateWebhookScript.Run(ctx, s.rdb,
		[]string{entityKey(prefixWebhook, cfg.ID.String())}, string(raw)).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

// DeleteWebhook removes the config and every delivery it owns.
func (s *Store) DeleteWebhook(ctx context.Context, whID id.ID) error {
	cfg, err := s.GetWebhook(ctx, whID)
	if err != nil {
		return err
	}

	whKey := whID.String()
	delIDs, err := s.rdb.ZRange(ctx, zDeliveryWebhook+whKey, 0, -1).Result()
	if err != nil {
		return err
	}
	ds, err := s.loadDeliveries(ctx, delIDs)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		for _, d := range ds {
			delKey := d.ID.String()
			p.Del(ctx, entityKey(prefixDelivery, delKey), pairKey(d.EventID.String(), whKey))
			p.ZRem(ctx, zDeliveryDue, delKey)
			p.ZRem(ctx, zDeliveryCompany+d.CompanyID, delKey)
		}
		p.Del(ctx, zDeliveryWebhook+whKey, entityKey(prefixWebhook, whKey))
		p.ZRem(ctx, zWebhookCompany+cfg.CompanyID, whKey)
		return nil
	})
	return err
}

func (s *Store) ListWebhooks(ctx context.Context, companyID string, opts webhook.ListOpts) ([]*webhook.Config, error) {
	all, err := s.companyWebhooks(ctx, companyID)
	if err != nil {
		return nil, err
	}
	result := make([]*webhook.Config, 0, len(all))
	for _, cfg := range all {
		if opts.Status != "" && cfg.Status != opts.Status {
			continue
		}
		result = append(result, cfg)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ResolveWebhooks(ctx context.Context, companyID, eventType string) ([]*webhook.Config, error) {
	all, err := s.companyWebhooks(ctx, companyID)
	if err != nil {
		return nil, err
	}
	var result []*webhook.Config
	for _, cfg := range all {
		if cfg.Status == webhook.StatusActive && cfg.Subscribes(eventType) {
			result = append(result, cfg)
		}
	}
	return result, nil
}

func (s *Store) SetWebhookStatus(ctx context.Context, whID id.ID, status webhook.Status) error {
	n, err := setStatusScript.Run(ctx, s.rdb,
		[]string{entityKey(prefixWebhook, whID.String())}, string(status)).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementDeadLetters(ctx context.Context, whID id.ID, threshold int) (int, bool, error) {
	res, err := incrementScript.Run(ctx, s.rdb,
		[]string{entityKey(prefixWebhook, whID.String())}, threshold).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("herald/redis: unexpected increment reply %v", res)
	}
	if res[0] < 0 {
		return 0, false, webhook.ErrNotFound
	}
	return int(res[0]), res[1] == 1, nil
}

func (s *Store) ResetDeadLetters(ctx context.Context, whID id.ID) error {
	n, err := resetScript.Run(ctx, s.rdb,
		[]string{entityKey(prefixWebhook, whID.String())}).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

// companyWebhooks returns a company's configs, newest first.
func (s *Store) companyWebhooks(ctx context.Context, companyID string) ([]*webhook.Config, error) {
	ids, err := s.rdb.ZRevRange(ctx, zWebhookCompany+companyID, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	if _, err := s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, whID := range ids {
			cmds[i] = p.HGetAll(ctx, entityKey(prefixWebhook, whID))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	result := make([]*webhook.Config, 0, len(ids))
	for _, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		cfg, err := fromWebhookHash(h)
		if err != nil {
			return nil, err
		}
		result = append(result, cfg)
	}
	return result, nil
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	raw, err := json.Marshal(toEventModel(evt))
	if err != nil {
		return fmt.Errorf("herald/redis: marshal event: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, entityKey(prefixEvent, evt.ID.String()), raw, 0)
		p.ZAdd(ctx, zEventCompany+evt.CompanyID, goredis.Z{
			Score:  float64(evt.CreatedAt.UnixMicro()),
			Member: evt.ID.String(),
		})
		return nil
	})
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	raw, err := s.rdb.Get(ctx, entityKey(prefixEvent, evtID.String())).Bytes()
	if err != nil {
		if isRedisNil(err) {
			return nil, event.ErrNotFound
		}
		return nil, err
	}
	var m eventModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("herald/redis: decode event: %w", err)
	}
	return fromEventModel(&m)
}

func (s *Store) ListEvents(ctx context.Context, companyID string, opts event.ListOpts) ([]*event.Event, error) {
	lo, hi := "-inf", "+inf"
	if opts.From != nil {
		lo = strconv.FormatInt(opts.From.UnixMicro(), 10)
	}
	if opts.To != nil {
		hi = strconv.FormatInt(opts.To.UnixMicro(), 10)
	}
	ids, err := s.rdb.ZRevRangeByScore(ctx, zEventCompany+companyID, &goredis.ZRangeBy{
		Min: lo,
		Max: hi,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*event.Event{}, nil
	}

	keys := make([]string, len(ids))
	for i, evtID := range ids {
		keys[i] = entityKey(prefixEvent, evtID)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*event.Event, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var m eventModel
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("herald/redis: decode event: %w", err)
		}
		if opts.Type != "" && m.Type != opts.Type {
			continue
		}
		evt, err := fromEventModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, evt)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// ==================== Delivery Store ====================

// CreateDeliveries writes the batch in one script, so a duplicate pair
// rejects the whole batch.
func (s *Store) CreateDeliveries(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ds))
	args := make([]any, 0, len(ds)*8)
	seen := make(map[string]bool, len(ds))
	for _, d := range ds {
		pk := pairKey(d.EventID.String(), d.WebhookID.String())
		if seen[pk] {
			return delivery.ErrDuplicate
		}
		seen[pk] = true

		raw, err := json.Marshal(toDeliveryModel(d))
		if err != nil {
			return fmt.Errorf("herald/redis: marshal delivery: %w", err)
		}
		keys = append(keys, pk)
		args = append(args,
			entityKey(prefixDelivery, d.ID.String()),
			d.ID.String(),
			string(raw),
			string(d.Status),
			micros(d.NextAttemptAt),
			zDeliveryCompany+d.CompanyID,
			zDeliveryWebhook+d.WebhookID.String(),
			d.CreatedAt.UnixMicro(),
		)
	}

	n, err := createDeliveriesScript.Run(ctx, s.rdb, keys, args...).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return delivery.ErrDuplicate
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	h, err := s.rdb.HGetAll(ctx, entityKey(prefixDelivery, delID.String())).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, delivery.ErrNotFound
	}
	return fromDeliveryHash(h)
}

func (s *Store) FindDelivery(ctx context.Context, evtID, whID id.ID) (*delivery.Delivery, error) {
	delKey, err := s.rdb.Get(ctx, pairKey(evtID.String(), whID.String())).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, err
	}
	delID, err := id.ParseDeliveryID(delKey)
	if err != nil {
		return nil, err
	}
	return s.GetDelivery(ctx, delID)
}

func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = now()
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("herald/redis: marshal delivery: %w", err)
	}
	n, err := updateDeliveryScript.Run(ctx, s.rdb,
		[]string{entityKey(prefixDelivery, d.ID.String())},
		string(raw), string(d.Status), micros(d.NextAttemptAt), d.ID.String(),
	).Int()
	if err != nil {
		return err
	}
	switch n {
	case -1:
		return delivery.ErrNotFound
	case 0:
		return delivery.ErrFinalized
	}
	return nil
}

// ClaimDue leases due deliveries atomically in a script.
func (s *Store) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*delivery.Delivery, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := claimScript.Run(ctx, s.rdb, nil,
		now.UnixMicro(), leaseUntil.UnixMicro(), limit).StringSlice()
	if err != nil {
		return nil, err
	}
	return s.loadDeliveries(ctx, ids)
}

// ClaimDelivery leases one delivery for an attempt in a script.
func (s *Store) ClaimDelivery(ctx context.Context, delID id.ID, expected, leaseUntil time.Time) (bool, error) {
	n, err := claimOneScript.Run(ctx, s.rdb,
		[]string{entityKey(prefixDelivery, delID.String())},
		expected.UnixMicro(), leaseUntil.UnixMicro(), delID.String(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) ListDeliveries(ctx context.Context, companyID string, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	index := zDeliveryCompany + companyID
	if !opts.WebhookID.IsNil() {
		index = zDeliveryWebhook + opts.WebhookID.String()
	}
	ids, err := s.rdb.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	all, err := s.loadDeliveries(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make([]*delivery.Delivery, 0, len(all))
	for _, d := range all {
		if d.CompanyID != companyID {
			continue
		}
		if !opts.EventID.IsNil() && d.EventID != opts.EventID {
			continue
		}
		if opts.Status != "" && d.Status != opts.Status {
			continue
		}
		result = append(result, d)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) CountByStatus(ctx context.Context, whID id.ID, since time.Time) (map[delivery.Status]int64, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, zDeliveryWebhook+whID.String(), &goredis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMicro(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	cmds := make([]*goredis.StringCmd, len(ids))
	if len(ids) > 0 {
		if _, err := s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
			for i, delID := range ids {
				cmds[i] = p.HGet(ctx, entityKey(prefixDelivery, delID), fieldStatus)
			}
			return nil
		}); err != nil && !isRedisNil(err) {
			return nil, err
		}
	}

	counts := make(map[delivery.Status]int64, 4)
	for _, cmd := range cmds {
		if st, err := cmd.Result(); err == nil {
			counts[delivery.Status(st)]++
		}
	}
	return counts, nil
}

// loadDeliveries fetches deliveries by ID in one round trip, skipping IDs
// whose record is gone.
func (s *Store) loadDeliveries(ctx context.Context, ids []string) ([]*delivery.Delivery, error) {
	if len(ids) == 0 {
		return []*delivery.Delivery{}, nil
	}
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	if _, err := s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, delID := range ids {
			cmds[i] = p.HGetAll(ctx, entityKey(prefixDelivery, delID))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	result := make([]*delivery.Delivery, 0, len(ids))
	for _, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		d, err := fromDeliveryHash(h)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isRedisNil checks if an error is a Redis nil (key not found).
func isRedisNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}

// applyPagination applies offset and limit to a slice.
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
