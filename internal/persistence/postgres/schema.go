package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is applied idempotently at startup by Migrate. The observation
// tables carry an archived flag so the archival manager can mark rows
// before the delete pass.
const schema = `
CREATE TABLE IF NOT EXISTS scouter_entity (
    entity_id   BIGSERIAL PRIMARY KEY,
    uid         TEXT NOT NULL UNIQUE,
    space       TEXT NOT NULL,
    name        TEXT NOT NULL,
    version     TEXT NOT NULL,
    drift_type  TEXT NOT NULL,
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    UNIQUE (space, name, version, drift_type)
);

CREATE TABLE IF NOT EXISTS scouter_profile (
    entity_id   BIGINT PRIMARY KEY REFERENCES scouter_entity(entity_id),
    body        JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scouter_spc (
    entity_id   BIGINT NOT NULL REFERENCES scouter_entity(entity_id),
    created_at  TIMESTAMPTZ NOT NULL,
    feature     TEXT NOT NULL,
    value       DOUBLE PRECISION NOT NULL,
    archived    BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_spc_entity_time ON scouter_spc (entity_id, created_at);

CREATE TABLE IF NOT EXISTS scouter_psi (
    entity_id   BIGINT NOT NULL REFERENCES scouter_entity(entity_id),
    created_at  TIMESTAMPTZ NOT NULL,
    feature     TEXT NOT NULL,
    bin_id      BIGINT NOT NULL,
    bin_count   BIGINT NOT NULL,
    archived    BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_psi_entity_time ON scouter_psi (entity_id, created_at);

CREATE TABLE IF NOT EXISTS scouter_custom (
    entity_id   BIGINT NOT NULL REFERENCES scouter_entity(entity_id),
    created_at  TIMESTAMPTZ NOT NULL,
    metric      TEXT NOT NULL,
    value       DOUBLE PRECISION NOT NULL,
    archived    BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_custom_entity_time ON scouter_custom (entity_id, created_at);

CREATE TABLE IF NOT EXISTS scouter_tag (
    entity_id   BIGINT NOT NULL,
    key         TEXT NOT NULL,
    value       TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS scouter_trace (
    entity_id   BIGINT NOT NULL,
    trace_id    TEXT NOT NULL,
    span_id     TEXT NOT NULL,
    baggage     JSONB,
    created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS scouter_drift_task (
    entity_id    BIGINT PRIMARY KEY REFERENCES scouter_entity(entity_id),
    previous_run TIMESTAMPTZ NOT NULL,
    next_run     TIMESTAMPTZ NOT NULL,
    status       TEXT NOT NULL DEFAULT 'Pending',
    lock_owner   TEXT,
    schedule     TEXT NOT NULL,
    locked_at    TIMESTAMPTZ,
    last_error   TEXT
);
CREATE INDEX IF NOT EXISTS idx_task_due ON scouter_drift_task (status, next_run);

CREATE TABLE IF NOT EXISTS scouter_alert (
    id          BIGSERIAL PRIMARY KEY,
    entity_id   BIGINT NOT NULL REFERENCES scouter_entity(entity_id),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    entity_name TEXT NOT NULL,
    alert       JSONB NOT NULL,
    drift_type  TEXT NOT NULL,
    active      BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_alert_entity ON scouter_alert (entity_id, created_at);
`

// Migrate applies the schema. Safe to run on every startup.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
