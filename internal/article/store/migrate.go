package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/postgres"
)

// seq breaks created_at ties in insertion order.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS articles (
		id         TEXT PRIMARY KEY,
		seq        BIGSERIAL NOT NULL,
		owner_id   TEXT NOT NULL,
		url        TEXT NOT NULL,
		title      TEXT NOT NULL,
		summary    TEXT,
		topics     TEXT[] NOT NULL DEFAULT '{}',
		status     TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed')),
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_owner_created
		ON articles (owner_id, created_at DESC, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_pending
		ON articles (created_at) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id         BIGSERIAL PRIMARY KEY,
		key_hash   TEXT NOT NULL UNIQUE,
		owner_id   TEXT NOT NULL,
		name       TEXT NOT NULL,
		rate_limit INTEGER NOT NULL DEFAULT 120,
		is_active  BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys (owner_id)`,
}

// Migrate creates the tables the service needs. It is idempotent.
func Migrate(ctx context.Context, db *postgres.Client) error {
	err := db.InTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("applying schema: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Default().With("component", "article-store").Info("schema ready", "statements", len(schema))
	return nil
}
