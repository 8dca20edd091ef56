package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema creates the tables used by the API. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id           TEXT PRIMARY KEY,
		email        TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_lower_idx ON users (lower(email))`,
	`CREATE TABLE IF NOT EXISTS garage_devices (
		device_id         TEXT PRIMARY KEY,
		owner_id          TEXT,
		name              TEXT NOT NULL DEFAULT '',
		user_access       TEXT[] NOT NULL DEFAULT '{}',
		last_command      TEXT,
		last_command_time TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT garage_devices_last_command_check CHECK (last_command IN ('open', 'close'))
	)`,
	`CREATE INDEX IF NOT EXISTS garage_devices_owner_idx ON garage_devices (owner_id)`,
	`CREATE INDEX IF NOT EXISTS garage_devices_user_access_idx ON garage_devices USING GIN (user_access)`,
}

// Migrate creates any missing tables and indexes.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
