package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type migration struct {
	version  int
	name     string
	postgres []string
	sqlite   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create research tables",
		postgres: []string{
			`CREATE TABLE IF NOT EXISTS research_jobs (
				id TEXT PRIMARY KEY,
				owner TEXT NOT NULL DEFAULT '',
				title TEXT NOT NULL DEFAULT '',
				query TEXT NOT NULL,
				questions TEXT NOT NULL DEFAULT '[]',
				depth INTEGER NOT NULL,
				breadth INTEGER NOT NULL,
				initial_learnings TEXT NOT NULL DEFAULT '',
				web_search BOOLEAN NOT NULL DEFAULT TRUE,
				index_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				result TEXT NOT NULL DEFAULT '',
				duration_ms BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_research_jobs_owner_created ON research_jobs (owner, created_at DESC)`,
			`CREATE TABLE IF NOT EXISTS research_status_history (
				id BIGSERIAL PRIMARY KEY,
				job_id TEXT NOT NULL REFERENCES research_jobs(id) ON DELETE CASCADE,
				message TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_research_status_history_job ON research_status_history (job_id, id)`,
		},
		sqlite: []string{
			`CREATE TABLE IF NOT EXISTS research_jobs (
				id TEXT PRIMARY KEY,
				owner TEXT NOT NULL DEFAULT '',
				title TEXT NOT NULL DEFAULT '',
				query TEXT NOT NULL,
				questions TEXT NOT NULL DEFAULT '[]',
				depth INTEGER NOT NULL,
				breadth INTEGER NOT NULL,
				initial_learnings TEXT NOT NULL DEFAULT '',
				web_search BOOLEAN NOT NULL DEFAULT 1,
				index_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				result TEXT NOT NULL DEFAULT '',
				duration_ms INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_research_jobs_owner_created ON research_jobs (owner, created_at DESC)`,
			`CREATE TABLE IF NOT EXISTS research_status_history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				job_id TEXT NOT NULL REFERENCES research_jobs(id) ON DELETE CASCADE,
				message TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_research_status_history_job ON research_status_history (job_id, id)`,
		},
	},
}

// Migrate applies pending schema migrations. It is safe to run repeatedly.
func (c *Client) Migrate(ctx context.Context) (applied int, err error) {
	if _, err := c.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := c.db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		stmts := m.postgres
		if c.db.DriverName() == DriverSQLite {
			stmts = m.sqlite
		}
		err := c.WithTransaction(ctx, func(tx *sqlx.Tx) error {
			for _, s := range stmts {
				if _, err := tx.ExecContext(ctx, s); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				tx.Rebind(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`),
				m.version, m.name, time.Now().UTC())
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
		c.logger.Info("Applied migration", zap.Int("version", m.version), zap.String("name", m.name))
		applied++
	}
	return applied, nil
}

// SchemaVersion returns the highest applied migration.
func (c *Client) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := c.guard(ctx, func() error {
		return c.db.GetContext(ctx, &v, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	})
	return v, err
}
