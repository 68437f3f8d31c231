// Package event defines the immutable record of something that happened in
// a company, and the JSON envelope sent to webhook endpoints for it.
package event

import (
	"encoding/json"
	"time"

	"github.com/xraph/herald/id"
)

// Event is a domain event raised by business code. It is written once by
// emit and never modified.
type Event struct {
	// ID is the unique TypeID for this event. Consumers dedupe on it.
	ID id.ID `json:"id"`

	// CompanyID is the owning tenant.
	CompanyID string `json:"company_id"`

	// Type is the dot-separated event type name (e.g. "invoice.authorized").
	Type string `json:"type"`

	// EntityType and EntityID optionally reference the business record.
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`

	// Metadata is free-form JSON kept alongside the event but not delivered.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// Payload is the opaque JSON document delivered as "data".
	Payload json.RawMessage `json:"payload"`

	CreatedAt time.Time `json:"created_at"`
}

// Envelope is the body POSTed to webhook endpoints.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// Envelope builds the delivery body. The timestamp is the event creation
// time, so every attempt for the event carries byte-identical content.
func (e *Event) Envelope() ([]byte, error) {
	data := e.Payload
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return json.Marshal(Envelope{
		ID:        e.ID.String(),
		Type:      e.Type,
		Data:      data,
		Timestamp: e.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// ListOpts configures filtering and pagination for event listing.
type ListOpts struct {
	Offset int
	Limit  int
	Type   string
	From   *time.Time
	To     *time.Time
}
