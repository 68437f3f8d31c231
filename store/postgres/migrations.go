package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the herald store. It can be
// registered with a grove orchestrator shared with other groups.
var Migrations = migrate.NewGroup("herald")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_herald_webhooks",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS herald_webhooks (
    id                       TEXT PRIMARY KEY,
    company_id               TEXT NOT NULL,
    name                     TEXT NOT NULL DEFAULT '',
    url                      TEXT NOT NULL,
    description              TEXT NOT NULL DEFAULT '',
    events                   TEXT[] NOT NULL DEFAULT '{}',
    secret                   TEXT NOT NULL,
    status                   TEXT NOT NULL DEFAULT 'active',
    headers                  JSONB NOT NULL DEFAULT '{}',
    timeout_ms               INT NOT NULL DEFAULT 10000,
    max_retries              INT NOT NULL DEFAULT 3,
    rate_limit               INT NOT NULL DEFAULT 0,
    consecutive_dead_letters INT NOT NULL DEFAULT 0,
    created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_herald_webhooks_company ON herald_webhooks (company_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_herald_webhooks_events ON herald_webhooks USING GIN (events);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS herald_webhooks`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_herald_events",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS herald_events (
    id          TEXT PRIMARY KEY,
    company_id  TEXT NOT NULL,
    type        TEXT NOT NULL,
    entity_type TEXT NOT NULL DEFAULT '',
    entity_id   TEXT NOT NULL DEFAULT '',
    metadata    JSONB,
    payload     JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_herald_events_company ON herald_events (company_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_herald_events_type ON herald_events (company_id, type);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS herald_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_herald_deliveries",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS herald_deliveries (
    id                TEXT PRIMARY KEY,
    company_id        TEXT NOT NULL,
    webhook_id        TEXT NOT NULL REFERENCES herald_webhooks (id) ON DELETE CASCADE,
    event_id          TEXT NOT NULL REFERENCES herald_events (id) ON DELETE CASCADE,
    status            TEXT NOT NULL DEFAULT 'pending',
    attempt           INT NOT NULL DEFAULT 0,
    next_attempt_at   TIMESTAMPTZ,
    last_attempt_at   TIMESTAMPTZ,
    completed_at      TIMESTAMPTZ,
    request_signature TEXT NOT NULL DEFAULT '',
    response_status   INT NOT NULL DEFAULT 0,
    response_body     TEXT,
    error_message     TEXT NOT NULL DEFAULT '',
    latency_ms        INT NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (event_id, webhook_id)
);

CREATE INDEX IF NOT EXISTS idx_herald_deliveries_due ON herald_deliveries (next_attempt_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_herald_deliveries_company ON herald_deliveries (company_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_herald_deliveries_webhook ON herald_deliveries (webhook_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS herald_deliveries`)
				return err
			},
		},
	)
}
