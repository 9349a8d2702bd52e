package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// migrations create every table the service writes. They are idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS energy_ledger (
	community_id       TEXT PRIMARY KEY,
	export_device      TEXT NOT NULL DEFAULT '',
	community_device   TEXT NOT NULL DEFAULT '',
	battery_price      BIGINT NOT NULL DEFAULT 0,
	battery_capacity   BIGINT NOT NULL DEFAULT 0,
	battery_level      BIGINT NOT NULL DEFAULT 0,
	battery_configured BOOLEAN NOT NULL DEFAULT FALSE,
	import_price       BIGINT NOT NULL DEFAULT 0,
	period             BIGINT NOT NULL DEFAULT 0,
	community_balance  BIGINT NOT NULL DEFAULT 0,
	export_balance     BIGINT NOT NULL DEFAULT 0,
	import_balance     BIGINT NOT NULL DEFAULT 0,
	updated_at         TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS energy_members (
	community_id TEXT NOT NULL,
	member_id    TEXT NOT NULL,
	share_bps    INTEGER NOT NULL CHECK (share_bps > 0 AND share_bps <= 10000),
	position     INTEGER NOT NULL,
	active       BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (community_id, member_id)
)`,
	`CREATE TABLE IF NOT EXISTS energy_member_devices (
	community_id TEXT NOT NULL,
	device_id    TEXT NOT NULL,
	member_id    TEXT NOT NULL,
	position     INTEGER NOT NULL,
	PRIMARY KEY (community_id, device_id)
)`,
	`CREATE TABLE IF NOT EXISTS energy_token_lots (
	community_id TEXT NOT NULL,
	position     INTEGER NOT NULL,
	owner_id     TEXT NOT NULL,
	price        BIGINT NOT NULL CHECK (price >= 0),
	quantity     BIGINT NOT NULL CHECK (quantity >= 0),
	PRIMARY KEY (community_id, position)
)`,
	`CREATE TABLE IF NOT EXISTS energy_member_accounts (
	community_id TEXT NOT NULL,
	member_id    TEXT NOT NULL,
	allocated    BIGINT NOT NULL DEFAULT 0,
	balance      BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (community_id, member_id)
)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
	id             TEXT PRIMARY KEY,
	community_id   TEXT NOT NULL,
	period         BIGINT NOT NULL DEFAULT 0,
	actor          TEXT NOT NULL DEFAULT '',
	role           TEXT NOT NULL DEFAULT '',
	action         TEXT NOT NULL,
	resource_type  TEXT NOT NULL DEFAULT '',
	resource_id    TEXT NOT NULL DEFAULT '',
	metadata       JSONB,
	payload_digest TEXT NOT NULL DEFAULT '',
	ip             TEXT NOT NULL DEFAULT '',
	user_agent     TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS event_outbox (
	id           TEXT PRIMARY KEY,
	event_id     TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	community_id TEXT NOT NULL DEFAULT '',
	payload      JSONB NOT NULL,
	status       TEXT NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL,
	sent_at      TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS processed_events (
	event_id      TEXT NOT NULL,
	consumer_name TEXT NOT NULL,
	processed_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (event_id, consumer_name)
)`,
	`CREATE TABLE IF NOT EXISTS dead_letter_events (
	event_id      TEXT PRIMARY KEY,
	event_type    TEXT NOT NULL,
	payload       JSONB NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	first_seen_at TIMESTAMPTZ NOT NULL,
	last_seen_at  TIMESTAMPTZ NOT NULL,
	attempts      INTEGER NOT NULL DEFAULT 1
)`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("migrate: nil db")
	}
	for i, statement := range migrations {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("migrate: statement %d: %w", i+1, err)
		}
	}
	return nil
}
