package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/webhook"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("herald/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("herald/postgres: migration failed: %w", err)
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

// ==================== Webhook Store ====================

func (s *Store) CreateWebhook(ctx context.Context, cfg *webhook.Config) error {
	_, err := s.pg.NewInsert(toWebhookModel(cfg)).Exec(ctx)
	return err
}

func (s *Store) GetWebhook(ctx context.Context, whID id.ID) (*webhook.Config, error) {
	m := new(webhookModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", whID.String()).
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
	headers, err := json.Marshal(orEmpty(cfg.Headers))
	if err != nil {
		return fmt.Errorf("herald/postgres: marshal headers: %w", err)
	}
	res, err := s.pg.NewUpdate((*webhookModel)(nil)).
		Set("name = $1", cfg.Name).
		Set("url = $2", cfg.URL).
		Set("description = $3", cfg.Description).
		Set("events = $4", cfg.Events).
		Set("secret = $5", cfg.Secret).
		Set("headers = $6::jsonb", string(headers)).
		Set("timeout_ms = $7", cfg.TimeoutMs).
		Set("max_retries = $8", cfg.MaxRetries).
		Set("rate_limit = $9", cfg.RateLimit).
		Set("updated_at = $10", time.Now().UTC()).
		Where("id = $11", cfg.ID.String()).
		Exec(ctx)
	return affected(res, err, webhook.ErrNotFound)
}

func (s *Store) DeleteWebhook(ctx context.Context, whID id.ID) error {
	res, err := s.pg.NewDelete((*webhookModel)(nil)).
		Where("id = $1", whID.String()).
		Exec(ctx)
	return affected(res, err, webhook.ErrNotFound)
}

func (s *Store) ListWebhooks(ctx context.Context, companyID string, opts webhook.ListOpts) ([]*webhook.Config, error) {
	var models []webhookModel
	q := s.pg.NewSelect(&models).Where("company_id = $1", companyID)
	if opts.Status != "" {
		q = q.Where("status = $2", string(opts.Status))
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

func (s *Store) ResolveWebhooks(ctx context.Context, companyID, eventType string) ([]*webhook.Config, error) {
	var models []webhookModel
	if err := s.pg.NewSelect(&models).
		Where("company_id = $1", companyID).
		Where("status = $2", string(webhook.StatusActive)).
		Where("$3 = ANY(events)", eventType).
		OrderExpr("created_at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromWebhookModels(models)
}

func (s *Store) SetWebhookStatus(ctx context.Context, whID id.ID, status webhook.Status) error {
	q := s.pg.NewUpdate((*webhookModel)(nil)).
		Set("status = $1", string(status)).
		Set("updated_at = $2", time.Now().UTC())
	if status == webhook.StatusActive {
		q = q.Set("consecutive_dead_letters = 0")
	}
	res, err := q.Where("id = $3", whID.String()).Exec(ctx)
	return affected(res, err, webhook.ErrNotFound)
}

// IncrementDeadLetters bumps the counter and suspends an active config at
// threshold in one statement. The row lock taken by the CTE serializes
// concurrent callers, so exactly one of them observes the transition.
func (s *Store) IncrementDeadLetters(ctx context.Context, whID id.ID, threshold int) (int, bool, error) {
	var rows []counterModel
	err := s.pg.NewRaw(`
		WITH prev AS (
			SELECT id, status FROM herald_webhooks WHERE id = $1 FOR UPDATE
		)
		UPDATE herald_webhooks w
		SET consecutive_dead_letters = w.consecutive_dead_letters + 1,
			status = CASE
				WHEN w.status = 'active' AND w.consecutive_dead_letters + 1 >= $2 THEN 'suspended'
				ELSE w.status
			END,
			updated_at = NOW()
		FROM prev
		WHERE w.id = prev.id
		RETURNING w.consecutive_dead_letters, w.status,
			(prev.status = 'active' AND w.status = 'suspended') AS suspended
	`, whID.String(), threshold).Scan(ctx, &rows)
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, webhook.ErrNotFound
	}
	return rows[0].Count, rows[0].Suspended, nil
}

func (s *Store) ResetDeadLetters(ctx context.Context, whID id.ID) error {
	res, err := s.pg.NewUpdate((*webhookModel)(nil)).
		Set("consecutive_dead_letters = 0").
		Where("id = $1", whID.String()).
		Exec(ctx)
	return affected(res, err, webhook.ErrNotFound)
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.pg.NewInsert(toEventModel(evt)).Exec(ctx)
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", evtID.String()).
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
	q := s.pg.NewSelect(&models).Where("company_id = $1", companyID)

	argIdx := 1
	if opts.Type != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("type = $%d", argIdx), opts.Type)
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at <= $%d", argIdx), *opts.To)
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
	if _, err := s.pg.NewInsert(&models).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return delivery.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", delID.String()).
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
	err := s.pg.NewSelect(m).
		Where("event_id = $1", evtID.String()).
		Where("webhook_id = $2", whID.String()).
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
	res, err := s.pg.NewUpdate((*deliveryModel)(nil)).
		Set("status = $1", string(d.Status)).
		Set("attempt = $2", d.Attempt).
		Set("next_attempt_at = $3", d.NextAttemptAt).
		Set("last_attempt_at = $4", d.LastAttemptAt).
		Set("completed_at = $5", d.CompletedAt).
		Set("request_signature = $6", d.RequestSignature).
		Set("response_status = $7", d.ResponseStatus).
		Set("response_body = $8", d.ResponseBody).
		Set("error_message = $9", d.ErrorMessage).
		Set("latency_ms = $10", d.LatencyMs).
		Set("updated_at = $11", time.Now().UTC()).
		Where("id = $12", d.ID.String()).
		Where("status = $13", string(delivery.StatusPending)).
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

// ClaimDue leases due rows with FOR UPDATE SKIP LOCKED so concurrent
// schedulers never claim the same delivery.
func (s *Store) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	err := s.pg.NewRaw(`
		UPDATE herald_deliveries
		SET next_attempt_at = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM herald_deliveries
			WHERE status = 'pending' AND next_attempt_at <= $2
			ORDER BY next_attempt_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, leaseUntil, now, limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	return fromDeliveryModels(models)
}

// ClaimDelivery leases one pending delivery whose next attempt has not
// moved past expected.
func (s *Store) ClaimDelivery(ctx context.Context, delID id.ID, expected, leaseUntil time.Time) (bool, error) {
	res, err := s.pg.NewUpdate((*deliveryModel)(nil)).
		Set("next_attempt_at = $1", leaseUntil).
		Set("updated_at = $2", time.Now().UTC()).
		Where("id = $3", delID.String()).
		Where("status = $4", string(delivery.StatusPending)).
		Where("(next_attempt_at IS NULL OR next_attempt_at <= $5)", expected).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) ListDeliveries(ctx context.Context, companyID string, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.pg.NewSelect(&models).Where("company_id = $1", companyID)

	argIdx := 1
	if !opts.WebhookID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("webhook_id = $%d", argIdx), opts.WebhookID.String())
	}
	if !opts.EventID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("event_id = $%d", argIdx), opts.EventID.String())
	}
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
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
		n, err := s.pg.NewSelect((*deliveryModel)(nil)).
			Where("webhook_id = $1", whID.String()).
			Where("created_at >= $2", since).
			Where("status = $3", string(st)).
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

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation reports a Postgres unique_violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var se interface{ SQLState() string }
	return errors.As(err, &se) && se.SQLState() == "23505"
}
