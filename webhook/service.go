package webhook

import (
	"context"
	"log/slog"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/signature"
)

// Service provides tenant-scoped webhook config management. Every method
// that takes a company ID reports ErrNotFound for configs owned by another
// company.
type Service struct {
	store     Store
	validator *Validator
	logger    *slog.Logger
}

// NewService creates a new webhook service. A nil catalog uses the default.
func NewService(store Store, cat *catalog.Catalog, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v, err := NewValidator(cat)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:     store,
		validator: v,
		logger:    logger,
	}, nil
}

// Create registers a new webhook config. The returned config carries the
// plaintext secret; this is the only time it is handed out besides rotation.
func (svc *Service) Create(ctx context.Context, companyID string, in Input) (*Config, error) {
	if companyID == "" {
		return nil, &ValidationError{Field: "company_id", Message: "required"}
	}
	if err := svc.validator.ValidateCreate(in); err != nil {
		return nil, err
	}

	cfg := &Config{
		Entity:      entity.New(),
		ID:          id.NewWebhookID(),
		CompanyID:   companyID,
		Name:        deref(in.Name, ""),
		URL:         deref(in.URL, ""),
		Description: deref(in.Description, ""),
		Events:      in.Events,
		Secret:      signature.GenerateSecret(),
		Status:      StatusActive,
		Headers:     in.Headers,
		TimeoutMs:   deref(in.TimeoutMs, DefaultTimeoutMs),
		MaxRetries:  deref(in.MaxRetries, DefaultMaxRetries),
		RateLimit:   deref(in.RateLimit, 0),
	}

	if err := svc.store.CreateWebhook(ctx, cfg); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "webhook created",
		"webhook_id", cfg.ID.String(),
		"company_id", companyID,
		"events", cfg.Events,
	)
	return cfg, nil
}

// Get returns a config owned by companyID.
func (svc *Service) Get(ctx context.Context, companyID string, whID id.ID) (*Config, error) {
	cfg, err := svc.store.GetWebhook(ctx, whID)
	if err != nil {
		return nil, err
	}
	if cfg.CompanyID != companyID {
		return nil, ErrNotFound
	}
	return cfg, nil
}

// Update applies the non-nil fields of in.
func (svc *Service) Update(ctx context.Context, companyID string, whID id.ID, in Input) (*Config, error) {
	cfg, err := svc.Get(ctx, companyID, whID)
	if err != nil {
		return nil, err
	}
	if err := svc.validator.ValidateUpdate(in); err != nil {
		return nil, err
	}

	if in.Name != nil {
		cfg.Name = *in.Name
	}
	if in.URL != nil {
		cfg.URL = *in.URL
	}
	if in.Description != nil {
		cfg.Description = *in.Description
	}
	if in.Events != nil {
		cfg.Events = in.Events
	}
	if in.Headers != nil {
		cfg.Headers = in.Headers
	}
	if in.TimeoutMs != nil {
		cfg.TimeoutMs = *in.TimeoutMs
	}
	if in.MaxRetries != nil {
		cfg.MaxRetries = *in.MaxRetries
	}
	if in.RateLimit != nil {
		cfg.RateLimit = *in.RateLimit
	}
	cfg.Touch()

	if err := svc.store.UpdateWebhook(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Delete removes a config and its deliveries.
func (svc *Service) Delete(ctx context.Context, companyID string, whID id.ID) error {
	if _, err := svc.Get(ctx, companyID, whID); err != nil {
		return err
	}
	if err := svc.store.DeleteWebhook(ctx, whID); err != nil {
		return err
	}
	svc.logger.InfoContext(ctx, "webhook deleted", "webhook_id", whID.String(), "company_id", companyID)
	return nil
}

// List returns a company's configs.
func (svc *Service) List(ctx context.Context, companyID string, opts ListOpts) ([]*Config, error) {
	return svc.store.ListWebhooks(ctx, companyID, opts)
}

// SetStatus switches a config between active and inactive. Suspension is
// reserved to the dispatcher.
func (svc *Service) SetStatus(ctx context.Context, companyID string, whID id.ID, status Status) (*Config, error) {
	if status != StatusActive && status != StatusInactive {
		return nil, &ValidationError{Field: "status", Message: "must be active or inactive"}
	}
	if _, err := svc.Get(ctx, companyID, whID); err != nil {
		return nil, err
	}
	if err := svc.store.SetWebhookStatus(ctx, whID, status); err != nil {
		return nil, err
	}
	svc.logger.InfoContext(ctx, "webhook status changed",
		"webhook_id", whID.String(),
		"status", string(status),
	)
	return svc.Get(ctx, companyID, whID)
}

// RotateSecret replaces the signing secret and returns the new plaintext.
func (svc *Service) RotateSecret(ctx context.Context, companyID string, whID id.ID) (string, error) {
	cfg, err := svc.Get(ctx, companyID, whID)
	if err != nil {
		return "", err
	}

	cfg.Secret = signature.GenerateSecret()
	cfg.Touch()
	if err := svc.store.UpdateWebhook(ctx, cfg); err != nil {
		return "", err
	}

	svc.logger.InfoContext(ctx, "webhook secret rotated", "webhook_id", whID.String())
	return cfg.Secret, nil
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
