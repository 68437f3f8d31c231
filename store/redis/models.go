package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/webhook"
)

// webhookModel is the JSON stored in a webhook hash's data field. Status,
// counter, company and creation time live in their own hash fields.
type webhookModel struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Description string            `json:"description"`
	Events      []string          `json:"events"`
	Secret      string            `json:"secret"`
	Headers     map[string]string `json:"headers,omitempty"`
	TimeoutMs   int               `json:"timeout_ms"`
	MaxRetries  int               `json:"max_retries"`
	RateLimit   int               `json:"rate_limit"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func toWebhookModel(cfg *webhook.Config) *webhookModel {
	return &webhookModel{
		ID:          cfg.ID.String(),
		Name:        cfg.Name,
		URL:         cfg.URL,
		Description: cfg.Description,
		Events:      cfg.Events,
		Secret:      cfg.Secret,
		Headers:     cfg.Headers,
		TimeoutMs:   cfg.TimeoutMs,
		MaxRetries:  cfg.MaxRetries,
		RateLimit:   cfg.RateLimit,
		UpdatedAt:   cfg.UpdatedAt,
	}
}

// fromWebhookHash decodes a webhook hash as returned by HGETALL.
func fromWebhookHash(h map[string]string) (*webhook.Config, error) {
	var m webhookModel
	if err := json.Unmarshal([]byte(h[fieldData]), &m); err != nil {
		return nil, fmt.Errorf("herald/redis: decode webhook: %w", err)
	}
	whID, err := id.ParseWebhookID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.ID, err)
	}
	counter, err := strconv.Atoi(h[fieldCounter])
	if err != nil {
		return nil, fmt.Errorf("herald/redis: webhook %s counter: %w", m.ID, err)
	}
	created, err := strconv.ParseInt(h[fieldCreated], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("herald/redis: webhook %s created: %w", m.ID, err)
	}
	return &webhook.Config{
		Entity: entity.Entity{
			CreatedAt: time.Unix(0, created).UTC(),
			UpdatedAt: m.UpdatedAt,
		},
		ID:                     whID,
		CompanyID:              h[fieldCompany],
		Name:                   m.Name,
		URL:                    m.URL,
		Description:            m.Description,
		Events:                 m.Events,
		Secret:                 m.Secret,
		Status:                 webhook.Status(h[fieldStatus]),
		Headers:                m.Headers,
		TimeoutMs:              m.TimeoutMs,
		MaxRetries:             m.MaxRetries,
		RateLimit:              m.RateLimit,
		ConsecutiveDeadLetters: counter,
	}, nil
}

// eventModel is the JSON representation stored in Redis.
type eventModel struct {
	ID         string          `json:"id"`
	CompanyID  string          `json:"company_id"`
	Type       string          `json:"type"`
	EntityType string          `json:"entity_type,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:         evt.ID.String(),
		CompanyID:  evt.CompanyID,
		Type:       evt.Type,
		EntityType: evt.EntityType,
		EntityID:   evt.EntityID,
		Metadata:   evt.Metadata,
		Payload:    evt.Payload,
		CreatedAt:  evt.CreatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}
	return &event.Event{
		ID:         evtID,
		CompanyID:  m.CompanyID,
		Type:       m.Type,
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
		Metadata:   m.Metadata,
		Payload:    m.Payload,
		CreatedAt:  m.CreatedAt,
	}, nil
}

// deliveryModel is the JSON stored in a delivery hash's data field. Status
// and next attempt live in their own hash fields.
type deliveryModel struct {
	ID               string     `json:"id"`
	CompanyID        string     `json:"company_id"`
	WebhookID        string     `json:"webhook_id"`
	EventID          string     `json:"event_id"`
	Attempt          int        `json:"attempt"`
	LastAttemptAt    *time.Time `json:"last_attempt_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	RequestSignature string     `json:"request_signature,omitempty"`
	ResponseStatus   int        `json:"response_status,omitempty"`
	ResponseBody     *string    `json:"response_body,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	LatencyMs        int        `json:"latency_ms,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:               d.ID.String(),
		CompanyID:        d.CompanyID,
		WebhookID:        d.WebhookID.String(),
		EventID:          d.EventID.String(),
		Attempt:          d.Attempt,
		LastAttemptAt:    d.LastAttemptAt,
		CompletedAt:      d.CompletedAt,
		RequestSignature: d.RequestSignature,
		ResponseStatus:   d.ResponseStatus,
		ResponseBody:     d.ResponseBody,
		ErrorMessage:     d.ErrorMessage,
		LatencyMs:        d.LatencyMs,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

// fromDeliveryHash decodes a delivery hash as returned by HGETALL.
func fromDeliveryHash(h map[string]string) (*delivery.Delivery, error) {
	var m deliveryModel
	if err := json.Unmarshal([]byte(h[fieldData]), &m); err != nil {
		return nil, fmt.Errorf("herald/redis: decode delivery: %w", err)
	}
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	whID, err := id.ParseWebhookID(m.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.WebhookID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	next, err := parseMicros(h[fieldNext])
	if err != nil {
		return nil, fmt.Errorf("herald/redis: delivery %s next: %w", m.ID, err)
	}
	return &delivery.Delivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               delID,
		CompanyID:        m.CompanyID,
		WebhookID:        whID,
		EventID:          evtID,
		Status:           delivery.Status(h[fieldStatus]),
		Attempt:          m.Attempt,
		NextAttemptAt:    next,
		LastAttemptAt:    m.LastAttemptAt,
		CompletedAt:      m.CompletedAt,
		RequestSignature: m.RequestSignature,
		ResponseStatus:   m.ResponseStatus,
		ResponseBody:     m.ResponseBody,
		ErrorMessage:     m.ErrorMessage,
		LatencyMs:        m.LatencyMs,
	}, nil
}

// micros encodes an optional time as unix microseconds, "" for nil. Scores
// stay below 2^53 so sorted sets keep them exact.
func micros(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func parseMicros(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	t := time.UnixMicro(n).UTC()
	return &t, nil
}
