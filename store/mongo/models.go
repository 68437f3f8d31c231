package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/webhook"
)

// --- Webhook models ---

type webhookModel struct {
	grove.BaseModel `grove:"table:herald_webhooks"`

	ID                     string            `grove:"id,pk"                    bson:"_id"`
	CompanyID              string            `grove:"company_id"               bson:"company_id"`
	Name                   string            `grove:"name"                     bson:"name"`
	URL                    string            `grove:"url"                      bson:"url"`
	Description            string            `grove:"description"              bson:"description"`
	Events                 []string          `grove:"events"                   bson:"events"`
	Secret                 string            `grove:"secret"                   bson:"secret"`
	Status                 string            `grove:"status"                   bson:"status"`
	Headers                map[string]string `grove:"headers"                  bson:"headers,omitempty"`
	TimeoutMs              int               `grove:"timeout_ms"               bson:"timeout_ms"`
	MaxRetries             int               `grove:"max_retries"              bson:"max_retries"`
	RateLimit              int               `grove:"rate_limit"               bson:"rate_limit"`
	ConsecutiveDeadLetters int               `grove:"consecutive_dead_letters" bson:"consecutive_dead_letters"`
	CreatedAt              time.Time         `grove:"created_at"               bson:"created_at"`
	UpdatedAt              time.Time         `grove:"updated_at"               bson:"updated_at"`
}

func toWebhookModel(cfg *webhook.Config) *webhookModel {
	return &webhookModel{
		ID:                     cfg.ID.String(),
		CompanyID:              cfg.CompanyID,
		Name:                   cfg.Name,
		URL:                    cfg.URL,
		Description:            cfg.Description,
		Events:                 cfg.Events,
		Secret:                 cfg.Secret,
		Status:                 string(cfg.Status),
		Headers:                cfg.Headers,
		TimeoutMs:              cfg.TimeoutMs,
		MaxRetries:             cfg.MaxRetries,
		RateLimit:              cfg.RateLimit,
		ConsecutiveDeadLetters: cfg.ConsecutiveDeadLetters,
		CreatedAt:              cfg.CreatedAt,
		UpdatedAt:              cfg.UpdatedAt,
	}
}

func fromWebhookModel(m *webhookModel) (*webhook.Config, error) {
	whID, err := id.ParseWebhookID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.ID, err)
	}
	return &webhook.Config{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                     whID,
		CompanyID:              m.CompanyID,
		Name:                   m.Name,
		URL:                    m.URL,
		Description:            m.Description,
		Events:                 m.Events,
		Secret:                 m.Secret,
		Status:                 webhook.Status(m.Status),
		Headers:                m.Headers,
		TimeoutMs:              m.TimeoutMs,
		MaxRetries:             m.MaxRetries,
		RateLimit:              m.RateLimit,
		ConsecutiveDeadLetters: m.ConsecutiveDeadLetters,
	}, nil
}

// --- Event models ---

type eventModel struct {
	grove.BaseModel `grove:"table:herald_events"`

	ID         string          `grove:"id,pk"       bson:"_id"`
	CompanyID  string          `grove:"company_id"  bson:"company_id"`
	Type       string          `grove:"type"        bson:"type"`
	EntityType string          `grove:"entity_type" bson:"entity_type,omitempty"`
	EntityID   string          `grove:"entity_id"   bson:"entity_id,omitempty"`
	Metadata   json.RawMessage `grove:"metadata"    bson:"metadata,omitempty"`
	Payload    json.RawMessage `grove:"payload"     bson:"payload,omitempty"`
	CreatedAt  time.Time       `grove:"created_at"  bson:"created_at"`
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

// --- Delivery models ---

type deliveryModel struct {
	grove.BaseModel `grove:"table:herald_deliveries"`

	ID               string     `grove:"id,pk"             bson:"_id"`
	CompanyID        string     `grove:"company_id"        bson:"company_id"`
	WebhookID        string     `grove:"webhook_id"        bson:"webhook_id"`
	EventID          string     `grove:"event_id"          bson:"event_id"`
	Status           string     `grove:"status"            bson:"status"`
	Attempt          int        `grove:"attempt"           bson:"attempt"`
	NextAttemptAt    *time.Time `grove:"next_attempt_at"   bson:"next_attempt_at"`
	LastAttemptAt    *time.Time `grove:"last_attempt_at"   bson:"last_attempt_at,omitempty"`
	CompletedAt      *time.Time `grove:"completed_at"      bson:"completed_at,omitempty"`
	RequestSignature string     `grove:"request_signature" bson:"request_signature"`
	ResponseStatus   int        `grove:"response_status"   bson:"response_status"`
	ResponseBody     *string    `grove:"response_body"     bson:"response_body,omitempty"`
	ErrorMessage     string     `grove:"error_message"     bson:"error_message"`
	LatencyMs        int        `grove:"latency_ms"        bson:"latency_ms"`
	CreatedAt        time.Time  `grove:"created_at"        bson:"created_at"`
	UpdatedAt        time.Time  `grove:"updated_at"        bson:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:               d.ID.String(),
		CompanyID:        d.CompanyID,
		WebhookID:        d.WebhookID.String(),
		EventID:          d.EventID.String(),
		Status:           string(d.Status),
		Attempt:          d.Attempt,
		NextAttemptAt:    d.NextAttemptAt,
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

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
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
	return &delivery.Delivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               delID,
		CompanyID:        m.CompanyID,
		WebhookID:        whID,
		EventID:          evtID,
		Status:           delivery.Status(m.Status),
		Attempt:          m.Attempt,
		NextAttemptAt:    m.NextAttemptAt,
		LastAttemptAt:    m.LastAttemptAt,
		CompletedAt:      m.CompletedAt,
		RequestSignature: m.RequestSignature,
		ResponseStatus:   m.ResponseStatus,
		ResponseBody:     m.ResponseBody,
		ErrorMessage:     m.ErrorMessage,
		LatencyMs:        m.LatencyMs,
	}, nil
}
