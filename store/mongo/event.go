package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
)

// CreateEvent persists an event.
func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	if _, err := s.mdb.NewInsert(toEventModel(evt)).Exec(ctx); err != nil {
		return fmt.Errorf("herald/mongo: create event: %w", err)
	}
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	var m eventModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": evtID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, event.ErrNotFound
		}
		return nil, fmt.Errorf("herald/mongo: get event: %w", err)
	}
	return fromEventModel(&m)
}

// ListEvents returns a company's events, newest first.
func (s *Store) ListEvents(ctx context.Context, companyID string, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel

	q := s.mdb.NewFind(&models).
		Filter(eventListFilter(companyID, opts)).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list events: %w", err)
	}

	result := make([]*event.Event, 0, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, evt)
	}
	return result, nil
}

func eventListFilter(companyID string, opts event.ListOpts) bson.M {
	filter := bson.M{"company_id": companyID}
	if opts.Type != "" {
		filter["type"] = opts.Type
	}
	if opts.From != nil || opts.To != nil {
		window := bson.M{}
		if opts.From != nil {
			window["$gte"] = *opts.From
		}
		if opts.To != nil {
			window["$lte"] = *opts.To
		}
		filter["created_at"] = window
	}
	return filter
}
