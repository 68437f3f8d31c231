package postgres

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

	ID                     string            `grove:"id,pk"`
	CompanyID              string            `grove:"company_id"`
	Name                   string            `grove:"name"`
	URL                    string            `grove:"url"`
	Description            string            `grove:"description"`
	Events                 []string          `grove:"events,array"`
	Secret                 string            `grove:"secret"`
	Status                 string            `grove:"status"`
	Headers                map[string]string `grove:"headers,type:jsonb"`
	TimeoutMs              int               `grove:"timeout_ms"`
	MaxRetries             int               `grove:"max_retries"`
	RateLimit              int               `grove:"rate_limit"`
	ConsecutiveDeadLetters int               `grove:"consecutive_dead_letters"`
	CreatedAt              time.Time         `grove:"created_at"`
	UpdatedAt              time.Time         `grove:"updated_at"`
}

func toWebhookModel(cfg *webhook.Config) *webhookModel {
	headers := cfg.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return &webhookModel{
		ID:                     cfg.ID.String(),
		CompanyID:              cfg.CompanyID,
		Name:                   cfg.Name,
		URL:                    cfg.URL,
		Description:            cfg.Description,
		Events:                 cfg.Events,
		Secret:                 cfg.Secret,
		Status:                 string(cfg.Status),
		Headers:                headers,
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

// counterModel is the row returned by the dead-letter increment.
type counterModel struct {
	grove.BaseModel `grove:"table:herald_webhooks"`

	Count     int    `grove:"consecutive_dead_letters"`
	Status    string `grove:"status"`
	Suspended bool   `grove:"suspended"`
}

// --- Event models ---

type eventModel struct {
	grove.BaseModel `grove:"table:herald_events"`

	ID         string          `grove:"id,pk"`
	CompanyID  string          `grove:"company_id"`
	Type       string          `grove:"type"`
	EntityType string          `grove:"entity_type"`
	EntityID   string          `grove:"entity_id"`
	Metadata   json.RawMessage `grove:"metadata,type:jsonb"`
	Payload    json.RawMessage `grove:"payload,type:jsonb"`
	CreatedAt  time.Time       `grove:"created_at"`
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

	ID               string     `grove:"id,pk"`
	CompanyID        string     `grove:"company_id"`
	WebhookID        string     `grove:"webhook_id"`
	EventID          string     `grove:"event_id"`
	Status           string     `grove:"status"`
	Attempt          int        `grove:"attempt"`
	NextAttemptAt    *time.Time `grove:"next_attempt_at"`
	LastAttemptAt    *time.Time `grove:"last_attempt_at"`
	CompletedAt      *time.Time `grove:"completed_at"`
	RequestSignature string     `grove:"request_signature"`
	ResponseStatus   int        `grove:"response_status"`
	ResponseBody     *string    `grove:"response_body"`
	ErrorMessage     string     `grove:"error_message"`
	LatencyMs        int        `grove:"latency_ms"`
	CreatedAt        time.Time  `grove:"created_at"`
	UpdatedAt        time.Time  `grove:"updated_at"`
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

func fromDeliveryModels(models []deliveryModel) ([]*delivery.Delivery, error) {
	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}
