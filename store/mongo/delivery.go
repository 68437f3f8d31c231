package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/id"
)

// CreateDeliveries inserts the batch. If the unique pair index rejects any
// row, the rows this call did insert are removed again.
func (s *Store) CreateDeliveries(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}

	models := make([]deliveryModel, len(ds))
	ids := make([]string, len(ds))
	for i, d := range ds {
		models[i] = *toDeliveryModel(d)
		ids[i] = models[i].ID
	}

	_, err := s.mdb.NewInsert(&models).Exec(ctx)
	if err == nil {
		return nil
	}
	if !mongod.IsDuplicateKeyError(err) {
		return fmt.Errorf("herald/mongo: create deliveries: %w", err)
	}

	if _, delErr := s.mdb.NewDelete((*deliveryModel)(nil)).
		Filter(bson.M{"_id": bson.M{"$in": ids}}).
		Exec(ctx); delErr != nil {
		return fmt.Errorf("herald/mongo: roll back deliveries: %w", delErr)
	}
	return delivery.ErrDuplicate
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	return s.findDelivery(ctx, bson.M{"_id": delID.String()})
}

// FindDelivery returns the delivery for an (event, webhook) pair.
func (s *Store) FindDelivery(ctx context.Context, evtID, whID id.ID) (*delivery.Delivery, error) {
	return s.findDelivery(ctx, bson.M{
		"event_id":   evtID.String(),
		"webhook_id": whID.String(),
	})
}

func (s *Store) findDelivery(ctx context.Context, filter bson.M) (*delivery.Delivery, error) {
	var m deliveryModel
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("herald/mongo: get delivery: %w", err)
	}
	return fromDeliveryModel(&m)
}

// UpdateDelivery writes attempt results. The status filter makes terminal
// rows immutable.
func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	res, err := s.mdb.NewUpdate((*deliveryModel)(nil)).
		Filter(bson.M{
			"_id":    d.ID.String(),
			"status": string(delivery.StatusPending),
		}).
		Set("status", string(d.Status)).
		Set("attempt", d.Attempt).
		Set("next_attempt_at", d.NextAttemptAt).
		Set("last_attempt_at", d.LastAttemptAt).
		Set("completed_at", d.CompletedAt).
		Set("request_signature", d.RequestSignature).
		Set("response_status", d.ResponseStatus).
		Set("response_body", d.ResponseBody).
		Set("error_message", d.ErrorMessage).
		Set("latency_ms", d.LatencyMs).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: update delivery: %w", err)
	}
	if res.MatchedCount() > 0 {
		return nil
	}
	if _, err := s.GetDelivery(ctx, d.ID); err != nil {
		return err
	}
	return delivery.ErrFinalized
}

// ClaimDue leases due deliveries one at a time with FindOneAndUpdate, so
// concurrent schedulers never claim the same row.
func (s *Store) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*delivery.Delivery, error) {
	if limit <= 0 {
		return nil, nil
	}
	result := make([]*delivery.Delivery, 0, limit)
	col := s.mdb.Collection(colDeliveries)

	filter := bson.M{
		"status":          string(delivery.StatusPending),
		"next_attempt_at": bson.M{"$lte": now},
	}
	update := bson.M{
		"$set": bson.M{
			"next_attempt_at": leaseUntil,
			"updated_at":      now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "next_attempt_at", Value: 1}})

	for range limit {
		var m deliveryModel
		err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if errors.Is(err, mongod.ErrNoDocuments) {
				break
			}
			return nil, fmt.Errorf("herald/mongo: claim due: %w", err)
		}

		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

// ClaimDelivery leases one pending delivery whose next attempt has not
// moved past expected.
func (s *Store) ClaimDelivery(ctx context.Context, delID id.ID, expected, leaseUntil time.Time) (bool, error) {
	res, err := s.mdb.NewUpdate((*deliveryModel)(nil)).
		Filter(claimFilter(delID, expected)).
		Set("next_attempt_at", leaseUntil).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("herald/mongo: claim delivery: %w", err)
	}
	return res.MatchedCount() > 0, nil
}

func claimFilter(delID id.ID, expected time.Time) bson.M {
	return bson.M{
		"_id":    delID.String(),
		"status": string(delivery.StatusPending),
		"$or": bson.A{
			bson.M{"next_attempt_at": nil},
			bson.M{"next_attempt_at": bson.M{"$lte": expected}},
		},
	}
}

// ListDeliveries returns a company's deliveries, newest first.
func (s *Store) ListDeliveries(ctx context.Context, companyID string, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel

	q := s.mdb.NewFind(&models).
		Filter(deliveryListFilter(companyID, opts)).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list deliveries: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

// CountByStatus counts a webhook's deliveries created since the given time.
func (s *Store) CountByStatus(ctx context.Context, whID id.ID, since time.Time) (map[delivery.Status]int64, error) {
	counts := make(map[delivery.Status]int64, 4)
	for _, st := range []delivery.Status{
		delivery.StatusPending,
		delivery.StatusSuccess,
		delivery.StatusFailed,
		delivery.StatusDeadLetter,
	} {
		n, err := s.mdb.NewFind((*deliveryModel)(nil)).
			Filter(bson.M{
				"webhook_id": whID.String(),
				"status":     string(st),
				"created_at": bson.M{"$gte": since},
			}).
			Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("herald/mongo: count deliveries: %w", err)
		}
		counts[st] = n
	}
	return counts, nil
}

func deliveryListFilter(companyID string, opts delivery.ListOpts) bson.M {
	filter := bson.M{"company_id": companyID}
	if !opts.WebhookID.IsNil() {
		filter["webhook_id"] = opts.WebhookID.String()
	}
	if !opts.EventID.IsNil() {
		filter["event_id"] = opts.EventID.String()
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	return filter
}
