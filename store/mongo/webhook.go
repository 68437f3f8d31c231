package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/webhook"
)

// CreateWebhook persists a new config.
func (s *Store) CreateWebhook(ctx context.Context, cfg *webhook.Config) error {
	if _, err := s.mdb.NewInsert(toWebhookModel(cfg)).Exec(ctx); err != nil {
		return fmt.Errorf("herald/mongo: create webhook: %w", err)
	}
	return nil
}

// GetWebhook returns a config by ID.
func (s *Store) GetWebhook(ctx context.Context, whID id.ID) (*webhook.Config, error) {
	var m webhookModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": whID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, webhook.ErrNotFound
		}
		return nil, fmt.Errorf("herald/mongo: get webhook: %w", err)
	}
	return fromWebhookModel(&m)
}

// UpdateWebhook writes the editable fields only.
func (s *Store) UpdateWebhook(ctx context.Context, cfg *webhook.Config) error {
	res, err := s.mdb.NewUpdate((*webhookModel)(nil)).
		Filter(bson.M{"_id": cfg.ID.String()}).
		Set("name", cfg.Name).
		Set("url", cfg.URL).
		Set("description", cfg.Description).
		Set("events", cfg.Events).
		Set("secret", cfg.Secret).
		Set("headers", cfg.Headers).
		Set("timeout_ms", cfg.TimeoutMs).
		Set("max_retries", cfg.MaxRetries).
		Set("rate_limit", cfg.RateLimit).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: update webhook: %w", err)
	}
	if res.MatchedCount() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

// DeleteWebhook removes a config and its deliveries.
func (s *Store) DeleteWebhook(ctx context.Context, whID id.ID) error {
	res, err := s.mdb.NewDelete((*webhookModel)(nil)).
		Filter(bson.M{"_id": whID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: delete webhook: %w", err)
	}
	if res.DeletedCount() == 0 {
		return webhook.ErrNotFound
	}

	if _, err := s.mdb.NewDelete((*deliveryModel)(nil)).
		Filter(bson.M{"webhook_id": whID.String()}).
		Exec(ctx); err != nil {
		return fmt.Errorf("herald/mongo: delete webhook deliveries: %w", err)
	}
	return nil
}

// ListWebhooks returns a company's configs, newest first.
func (s *Store) ListWebhooks(ctx context.Context, companyID string, opts webhook.ListOpts) ([]*webhook.Config, error) {
	var models []webhookModel

	q := s.mdb.NewFind(&models).
		Filter(webhookListFilter(companyID, opts)).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list webhooks: %w", err)
	}
	return fromWebhookModels(models)
}

// ResolveWebhooks returns the company's active configs subscribed to
// eventType. Matching on an array field is exact per element.
func (s *Store) ResolveWebhooks(ctx context.Context, companyID, eventType string) ([]*webhook.Config, error) {
	var models []webhookModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"company_id": companyID,
			"status":     string(webhook.StatusActive),
			"events":     eventType,
		}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: resolve webhooks: %w", err)
	}
	return fromWebhookModels(models)
}

// SetWebhookStatus changes the lifecycle status. Reactivation clears the
// dead-letter counter.
func (s *Store) SetWebhookStatus(ctx context.Context, whID id.ID, status webhook.Status) error {
	q := s.mdb.NewUpdate((*webhookModel)(nil)).
		Filter(bson.M{"_id": whID.String()}).
		Set("status", string(status)).
		Set("updated_at", now())
	if status == webhook.StatusActive {
		q = q.Set("consecutive_dead_letters", 0)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: set webhook status: %w", err)
	}
	if res.MatchedCount() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

// IncrementDeadLetters bumps the counter and suspends an active config at
// threshold with one single-document pipeline update. The pre-image tells
// whether this call made the transition.
func (s *Store) IncrementDeadLetters(ctx context.Context, whID id.ID, threshold int) (int, bool, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var before webhookModel
	err := s.mdb.Collection(colWebhooks).
		FindOneAndUpdate(ctx, bson.M{"_id": whID.String()}, incrementPipeline(threshold), opts).
		Decode(&before)
	if err != nil {
		if isNoDocuments(err) {
			return 0, false, webhook.ErrNotFound
		}
		return 0, false, fmt.Errorf("herald/mongo: increment dead letters: %w", err)
	}

	count := before.ConsecutiveDeadLetters + 1
	suspended := before.Status == string(webhook.StatusActive) && count >= threshold
	return count, suspended, nil
}

// ResetDeadLetters sets the counter to zero.
func (s *Store) ResetDeadLetters(ctx context.Context, whID id.ID) error {
	res, err := s.mdb.NewUpdate((*webhookModel)(nil)).
		Filter(bson.M{"_id": whID.String()}).
		Set("consecutive_dead_letters", 0).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: reset dead letters: %w", err)
	}
	if res.MatchedCount() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func webhookListFilter(companyID string, opts webhook.ListOpts) bson.M {
	filter := bson.M{"company_id": companyID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	return filter
}

// incrementPipeline adds one to the counter, then suspends when the new
// value reaches threshold and the config is still active.
func incrementPipeline(threshold int) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "consecutive_dead_letters", Value: bson.D{
				{Key: "$add", Value: bson.A{"$consecutive_dead_letters", 1}},
			}},
			{Key: "updated_at", Value: "$$NOW"},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "status", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$and", Value: bson.A{
					bson.D{{Key: "$eq", Value: bson.A{"$status", string(webhook.StatusActive)}}},
					bson.D{{Key: "$gte", Value: bson.A{"$consecutive_dead_letters", threshold}}},
				}}},
				string(webhook.StatusSuspended),
				"$status",
			}}}},
		}}},
	}
}

func fromWebhookModels(models []webhookModel) ([]*webhook.Config, error) {
	result := make([]*webhook.Config, 0, len(models))
	for i := range models {
		cfg, err := fromWebhookModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, cfg)
	}
	return result, nil
}
