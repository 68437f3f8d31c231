package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/webhook"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
//
// SQLite serializes writers, so the claim statements below need no row
// locks: each UPDATE ... RETURNING runs against a consistent snapshot and
// two claimers can never both match the same row.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("herald/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("herald/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const (
	claimDueSQL = `
		UPDATE herald_deliveries
		SET next_attempt_at = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM herald_deliveries
			WHERE status = 'pending' AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?
			ORDER BY next_attempt_at ASC
			LIMIT ?
		)
		RETURNING *`

	claimOneSQL = `
		UPDATE herald_deliveries
		SET next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
			AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		RETURNING id`

	incrementDeadLettersSQL = `
		UPDATE herald_webhooks
		SET consecutive_dead_letters = consecutive_dead_letters + 1, updated_at = ?
		WHERE id = ?
		RETURNING consecutive_dead_letters, status`

	suspendAtThresholdSQL = `
		UPDATE herald_webhooks
		SET status = 'suspended', updated_at = ?
		WHERE id = ? AND status = 'active' AND consecutive_dead_letters >= ?
		RETURNING consecutive_dead_letters, status`
)

// ==================== Webhook Store ====================

func (s *Store) CreateWebhook(ctx context.Context, cfg *webhook.Config) error {
	m, err := toWebhookModel(cfg)
	if err != nil {
		return err
	}
	_, err = s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetWebhook(ctx context.Context, whID id.ID) (*webhook.Config, error) {
	m := new(webhookModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", whID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, webhook.ErrNotFound
		}
		return nil, err
	}
	return fromWebhookModel(m)
}

// UpdateWebhook writes the editable fields only. Status, the dead-letter
// counter and ownership are changed through their own operations.
func (s *Store) UpdateWebhook(ctx context.Context, cfg *webhook.Config) error {
	events, headers, err := encodeSubscription(cfg)
	if err != nil {
		return err
	}
	res, err := s.sdb.NewUpdate((*webhookModel)(nil)).
		Set("name = ?", cfg.Name).
		Set("url = ?", cfg.URL).
		Set("description = ?", cfg.Description).
		Set("events = ?", events).
		Set("secret = ?", cfg.Secret).
		Set("headers = ?", headers).
		Set("timeout_ms = ?", cfg.TimeoutMs).
		Set("max_retries = ?", cfg.MaxRetries).
		Set("rate_limit = ?", cfg.RateLimit).
		Set("updated_at = ?", nanos(time.Now())).
		Where("id = ?", cfg.ID.String()).
		Exec(ctx)
	return affected(res, err, webhook.ErrNotFound)
}

// DeleteWebhook removes the config and its deliveries. The cascade is
// explicit because SQLite leaves foreign keys off unless the connection
// enables them.
func (s *Store) DeleteWebhook(ctx context.Context, whID id.ID) error {
	res, err := s.sdb.NewDelete((*webhookModel)(nil)).
		Where("id = ?", whID.String()).
		Exec(ctx)
	if err := affected(res, err, webhook.ErrNotFound); err != nil {
		return err
	}
	_, err = s.sdb.NewDelete((*deliveryModel)(nil)).
		Where("webhook_id = ?", whID.String()).
		Exec(ctx)
	return err
}

func (s *Store) ListWebhooks(ctx context.Context, companyID string, opts webhook.ListOpts) ([]*webhook.Config, error) {
	var models []webhookModel
	q := s.sdb.NewSelect(&models).Where("company_id = ?", companyID)
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromWebhookModels(models)
}

// ResolveWebhooks loads the company's active configs and matches the
// subscription list in Go, since events is a JSON column.
func (s *Store) ResolveWebhooks(ctx context.Context, companyID, eventType string) ([]*webhook.Config, error) {
	var models []webhookModel
	if err := s.sdb.NewSelect(&models).
		Where("company_id = ?", companyID).
		Where("status = ?", string(webhook.StatusActive)).
		OrderExpr("created_at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	var result []*webhook.Config
	for i := range models {
		cfg, err := fromWebhookModel(&models[i])
		if err != nil {
			return nil, err
		}
		if cfg.Subscribes(eventType) {
			result = append(result, cfg)
		}
	}
	return result, nil
}

func (s *Store) SetWebhookStatus(ctx context.Context, whID id.ID, status webhook.Status) error {
	q := s.sdb.NewUpdate((*webhookModel)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", nanos(time.Now()))
	if status == webhook.StatusActive {
		q = q.Set("consecutive_dead_letters = 0")
	}
	res, err := q.Where("id = ?", whID.String()).Exec(ctx)
	return affected(res, err, webhook.ErrNotFound)
}

// IncrementDeadLetters bumps the counter, then suspends with a conditional
// update guarded on status active. Only one caller can win that guard, so
// exactly one of them reports the transition.
func (s *Store) IncrementDeadLetters(ctx context.Context, whID id.ID, threshold int) (int, bool, error) {
	t := nanos(time.Now())
	var rows []counterModel
	if err := s.sdb.NewRaw(incrementDeadLettersSQL, t, whID.String()).Scan(ctx, &rows); err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, webhook.ErrNotFound
	}
	count := rows[0].Count
	if rows[0].Status != string(webhook.StatusActive) || count < threshold {
		return count, false, nil
	}

	var suspended []counterModel
	if err := s.sdb.NewRaw(suspendAtThresholdSQL, t, whID.String(), threshold).Scan(ctx, &suspended); err != nil {
		return count, false, err
	}
	return count, len(suspended) > 0, nil
}

func (s *Store) ResetDeadLetters(ctx context.Context, whID id.ID) error {
	res, err := s.sdb.NewUpdate((*webhookModel)(nil)).
		Set("consecutive_dead_letters = 0").
		Where("id = ?", whID.String()).
		Exec(ctx)
	return affected(res, err, webhook.ErrNotFound)
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.sdb.NewInsert(toEventModel(evt)).Exec(ctx)
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", evtID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, event.ErrNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, companyID string, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.sdb.NewSelect(&models).Where("company_id = ?", companyID)

	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}
	if opts.From != nil {
		q = q.Where("created_at >= ?", nanos(*opts.From))
	}
	if opts.To != nil {
		q = q.Where("created_at <= ?", nanos(*opts.To))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*event.Event, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}
	return result, nil
}

// ==================== Delivery Store ====================

// CreateDeliveries inserts the batch in one statement, so a duplicate pair
// rejects the whole batch.
func (s *Store) CreateDeliveries(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	models := make([]deliveryModel, len(ds))
	for i, d := range ds {
		models[i] = *toDeliveryModel(d)
	}
	if _, err := s.sdb.NewInsert(&models).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return delivery.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", delID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, err
	}
	return fromDeliveryModel(m)
}

func (s *Store) FindDelivery(ctx context.Context, evtID, whID id.ID) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.sdb.NewSelect(m).
		Where("event_id = ?", evtID.String()).
		Where("webhook_id = ?", whID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, err
	}
	return fromDeliveryModel(m)
}

// UpdateDelivery writes attempt results. The status guard makes terminal
// rows immutable.
func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	res, err := s.sdb.NewUpdate((*deliveryModel)(nil)).
		Set("status = ?", string(d.Status)).
		Set("attempt = ?", d.Attempt).
		Set("next_attempt_at = ?", nanosPtr(d.NextAttemptAt)).
		Set("last_attempt_at = ?", nanosPtr(d.LastAttemptAt)).
		Set("completed_at = ?", nanosPtr(d.CompletedAt)).
		Set("request_signature = ?", d.RequestSignature).
		Set("response_status = ?", d.ResponseStatus).
		Set("response_body = ?", d.ResponseBody).
		Set("error_message = ?", d.ErrorMessage).
		Set("latency_ms = ?", d.LatencyMs).
		Set("updated_at = ?", nanos(time.Now())).
		Where("id = ?", d.ID.String()).
		Where("status = ?", string(delivery.StatusPending)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	if _, err := s.GetDelivery(ctx, d.ID); err != nil {
		return err
	}
	return delivery.ErrFinalized
}

// ClaimDue leases the oldest due rows in a single UPDATE ... RETURNING.
func (s *Store) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*delivery.Delivery, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	var models []deliveryModel
	err := s.sdb.NewRaw(claimDueSQL, nanos(leaseUntil), nanos(now), nanos(now), limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	return fromDeliveryModels(models)
}

// ClaimDelivery leases one pending delivery whose next attempt has not
// moved past expected.
func (s *Store) ClaimDelivery(ctx context.Context, delID id.ID, expected, leaseUntil time.Time) (bool, error) {
	var rows []claimModel
	err := s.sdb.NewRaw(claimOneSQL,
		nanos(leaseUntil), nanos(time.Now()), delID.String(), nanos(expected),
	).Scan(ctx, &rows)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *Store) ListDeliveries(ctx context.Context, companyID string, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.sdb.NewSelect(&models).Where("company_id = ?", companyID)

	if !opts.WebhookID.IsNil() {
		q = q.Where("webhook_id = ?", opts.WebhookID.String())
	}
	if !opts.EventID.IsNil() {
		q = q.Where("event_id = ?", opts.EventID.String())
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromDeliveryModels(models)
}

func (s *Store) CountByStatus(ctx context.Context, whID id.ID, since time.Time) (map[delivery.Status]int64, error) {
	counts := make(map[delivery.Status]int64, 4)
	for _, st := range []delivery.Status{
		delivery.StatusPending,
		delivery.StatusSuccess,
		delivery.StatusFailed,
		delivery.StatusDeadLetter,
	} {
		n, err := s.sdb.NewSelect((*deliveryModel)(nil)).
			Where("webhook_id = ?", whID.String()).
			Where("created_at >= ?", nanos(since)).
			Where("status = ?", string(st)).
			Count(ctx)
		if err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, nil
}

// ==================== Helpers ====================

func fromWebhookModels(models []webhookModel) ([]*webhook.Config, error) {
	result := make([]*webhook.Config, len(models))
	for i := range models {
		cfg, err := fromWebhookModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = cfg
	}
	return result, nil
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

// affected maps a zero-row write to notFound.
func affected(res rowsAffecter, err, notFound error) error {
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation reports a UNIQUE or PRIMARY KEY constraint failure.
// Matching on the message keeps the driver package out of the import graph.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
