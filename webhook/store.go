package webhook

import (
	"context"

	"github.com/xraph/herald/id"
)

// Store defines the persistence contract for webhook configs.
//
// Status and ConsecutiveDeadLetters are only written through SetStatus and
// the dead-letter counter methods, so a concurrent admin update cannot undo
// an automatic suspension.
type Store interface {
	// CreateWebhook persists a new config.
	CreateWebhook(ctx context.Context, cfg *Config) error

	// GetWebhook returns a config by ID regardless of tenant.
	GetWebhook(ctx context.Context, whID id.ID) (*Config, error)

	// UpdateWebhook persists the user-editable fields of cfg.
	UpdateWebhook(ctx context.Context, cfg *Config) error

	// DeleteWebhook removes a config and its deliveries.
	DeleteWebhook(ctx context.Context, whID id.ID) error

	// ListWebhooks returns a company's configs, newest first.
	ListWebhooks(ctx context.Context, companyID string, opts ListOpts) ([]*Config, error)

	// ResolveWebhooks returns the company's active configs subscribed to
	// eventType. This runs on every emit.
	ResolveWebhooks(ctx context.Context, companyID, eventType string) ([]*Config, error)

	// SetWebhookStatus changes the status. Moving to active also resets the
	// dead-letter counter.
	SetWebhookStatus(ctx context.Context, whID id.ID, status Status) error

	// IncrementDeadLetters atomically adds one to the counter and, in the
	// same step, suspends an active config whose new count reached
	// threshold. It returns the new count and whether this call suspended it.
	IncrementDeadLetters(ctx context.Context, whID id.ID, threshold int) (int, bool, error)

	// ResetDeadLetters sets the counter back to zero.
	ResetDeadLetters(ctx context.Context, whID id.ID) error
}
