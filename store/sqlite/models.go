package sqlite

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

// Times are stored as INTEGER unix nanoseconds so that due-time comparisons
// in SQL are numeric and keep full precision.

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nanosPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := nanos(*t)
	return &n
}

func fromNanosPtr(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := fromNanos(*n)
	return &t
}

// --- Webhook models ---

type webhookModel struct {
	grove.BaseModel `grove:"table:herald_webhooks"`

	ID                     string `grove:"id,pk"`
	CompanyID              string `grove:"company_id"`
	Name                   string `grove:"name"`
	URL                    string `grove:"url"`
	Description            string `grove:"description"`
	Events                 string `grove:"events"`  // JSON array
	Secret                 string `grove:"secret"`
	Status                 string `grove:"status"`
	Headers                string `grove:"headers"` // JSON object
	TimeoutMs              int    `grove:"timeout_ms"`
	MaxRetries             int    `grove:"max_retries"`
	RateLimit              int    `grove:"rate_limit"`
	ConsecutiveDeadLetters int    `grove:"consecutive_dead_letters"`
	CreatedAt              int64  `grove:"created_at"`
	UpdatedAt              int64  `grove:"updated_at"`
}

func toWebhookModel(cfg *webhook.Config) (*webhookModel, error) {
	events, headers, err := encodeSubscription(cfg)
	if err != nil {
		return nil, err
	}
	return &webhookModel{
		ID:                     cfg.ID.String(),
		CompanyID:              cfg.CompanyID,
		Name:                   cfg.Name,
		URL:                    cfg.URL,
		Description:            cfg.Description,
		Events:                 events,
		Secret:                 cfg.Secret,
		Status:                 string(cfg.Status),
		Headers:                headers,
		TimeoutMs:              cfg.TimeoutMs,
		MaxRetries:             cfg.MaxRetries,
		RateLimit:              cfg.RateLimit,
		ConsecutiveDeadLetters: cfg.ConsecutiveDeadLetters,
		CreatedAt:              nanos(cfg.CreatedAt),
		UpdatedAt:              nanos(cfg.UpdatedAt),
	}, nil
}

// encodeSubscription renders the JSON columns of a config. Nil slices and
// maps are written as empty documents so reads never see NULL.
func encodeSubscription(cfg *webhook.Config) (events, headers string, err error) {
	evs := cfg.Events
	if evs == nil {
		evs = []string{}
	}
	hs := cfg.Headers
	if hs == nil {
		hs = map[string]string{}
	}
	eb, err := json.Marshal(evs)
	if err != nil {
		return "", "", fmt.Errorf("herald/sqlite: marshal events: %w", err)
	}
	hb, err := json.Marshal(hs)
	if err != nil {
		return "", "", fmt.Errorf("herald/sqlite: marshal headers: %w", err)
	}
	return string(eb), string(hb), nil
}

func fromWebhookModel(m *webhookModel) (*webhook.Config, error) {
	whID, err := id.ParseWebhookID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.ID, err)
	}
	var events []string
	if m.Events != "" {
		if err := json.Unmarshal([]byte(m.Events), &events); err != nil {
			return nil, fmt.Errorf("webhook %s: decode events: %w", m.ID, err)
		}
	}
	var headers map[string]string
	if m.Headers != "" {
		if err := json.Unmarshal([]byte(m.Headers), &headers); err != nil {
			return nil, fmt.Errorf("webhook %s: decode headers: %w", m.ID, err)
		}
	}
	return &webhook.Config{
		Entity: entity.Entity{
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		ID:                     whID,
		CompanyID:              m.CompanyID,
		Name:                   m.Name,
		URL:                    m.URL,
		Description:            m.Description,
		Events:                 events,
		Secret:                 m.Secret,
		Status:                 webhook.Status(m.Status),
		Headers:                headers,
		TimeoutMs:              m.TimeoutMs,
		MaxRetries:             m.MaxRetries,
		RateLimit:              m.RateLimit,
		ConsecutiveDeadLetters: m.ConsecutiveDeadLetters,
	}, nil
}

// counterModel is the row returned by the dead-letter increment.
type counterModel struct {
	grove.BaseModel `grove:"table:herald_webhooks"`

	Count  int    `grove:"consecutive_dead_letters"`
	Status string `grove:"status"`
}

// claimModel is the row returned by a single-delivery claim.
type claimModel struct {
	grove.BaseModel `grove:"table:herald_deliveries"`

	ID string `grove:"id"`
}

// --- Event models ---

type eventModel struct {
	grove.BaseModel `grove:"table:herald_events"`

	ID         string  `grove:"id,pk"`
	CompanyID  string  `grove:"company_id"`
	Type       string  `grove:"type"`
	EntityType string  `grove:"entity_type"`
	EntityID   string  `grove:"entity_id"`
	Metadata   *string `grove:"metadata"`
	Payload    *string `grove:"payload"`
	CreatedAt  int64   `grove:"created_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:         evt.ID.String(),
		CompanyID:  evt.CompanyID,
		Type:       evt.Type,
		EntityType: evt.EntityType,
		EntityID:   evt.EntityID,
		Metadata:   rawToText(evt.Metadata),
		Payload:    rawToText(evt.Payload),
		CreatedAt:  nanos(evt.CreatedAt),
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
		Metadata:   textToRaw(m.Metadata),
		Payload:    textToRaw(m.Payload),
		CreatedAt:  fromNanos(m.CreatedAt),
	}, nil
}

func rawToText(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

func textToRaw(s *string) json.RawMessage {
	if s == nil {
		return nil
	}
	return json.RawMessage(*s)
}

// --- Delivery models ---

type deliveryModel struct {
	grove.BaseModel `grove:"table:herald_deliveries"`

	ID               string  `grove:"id,pk"`
	CompanyID        string  `grove:"company_id"`
	WebhookID        string  `grove:"webhook_id"`
	EventID          string  `grove:"event_id"`
	Status           string  `grove:"status"`
	Attempt          int     `grove:"attempt"`
	NextAttemptAt    *int64  `grove:"next_attempt_at"`
	LastAttemptAt    *int64  `grove:"last_attempt_at"`
	CompletedAt      *int64  `grove:"completed_at"`
	RequestSignature string  `grove:"request_signature"`
	ResponseStatus   int     `grove:"response_status"`
	ResponseBody     *string `grove:"response_body"`
	ErrorMessage     string  `grove:"error_message"`
	LatencyMs        int     `grove:"latency_ms"`
	CreatedAt        int64   `grove:"created_at"`
	UpdatedAt        int64   `grove:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:               d.ID.String(),
		CompanyID:        d.CompanyID,
		WebhookID:        d.WebhookID.String(),
		EventID:          d.EventID.String(),
		Status:           string(d.Status),
		Attempt:          d.Attempt,
		NextAttemptAt:    nanosPtr(d.NextAttemptAt),
		LastAttemptAt:    nanosPtr(d.LastAttemptAt),
		CompletedAt:      nanosPtr(d.CompletedAt),
		RequestSignature: d.RequestSignature,
		ResponseStatus:   d.ResponseStatus,
		ResponseBody:     d.ResponseBody,
		ErrorMessage:     d.ErrorMessage,
		LatencyMs:        d.LatencyMs,
		CreatedAt:        nanos(d.CreatedAt),
		UpdatedAt:        nanos(d.UpdatedAt),
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
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		ID:               delID,
		CompanyID:        m.CompanyID,
		WebhookID:        whID,
		EventID:          evtID,
		Status:           delivery.Status(m.Status),
		Attempt:          m.Attempt,
		NextAttemptAt:    fromNanosPtr(m.NextAttemptAt),
		LastAttemptAt:    fromNanosPtr(m.LastAttemptAt),
		CompletedAt:      fromNanosPtr(m.CompletedAt),
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
