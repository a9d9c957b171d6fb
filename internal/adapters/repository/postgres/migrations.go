package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{version: 1, name: "create_ledger_schema", up: migration001Up},
}

const migration001Up = `
CREATE TABLE IF NOT EXISTS events (
    seq BIGSERIAL UNIQUE,
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    ts TIMESTAMPTZ NOT NULL,
    metadata JSONB,
    processed BOOLEAN NOT NULL DEFAULT FALSE,
    processing_error TEXT NOT NULL DEFAULT '',
    result JSONB
);
CREATE INDEX IF NOT EXISTS idx_events_pending ON events (ts, seq) WHERE NOT processed;

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    team_id TEXT NOT NULL DEFAULT '',
    xp BIGINT NOT NULL DEFAULT 0,
    points BIGINT NOT NULL DEFAULT 0,
    level INTEGER NOT NULL DEFAULT 1,
    unlocked JSONB NOT NULL DEFAULT '[]'::jsonb,
    progress JSONB NOT NULL DEFAULT '{}'::jsonb,
    last_action JSONB NOT NULL DEFAULT '{}'::jsonb,
    version BIGINT NOT NULL DEFAULT 0,
    CONSTRAINT valid_xp CHECK (xp >= 0)
);

CREATE TABLE IF NOT EXISTS teams (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    xp BIGINT NOT NULL DEFAULT 0,
    points BIGINT NOT NULL DEFAULT 0,
    total_points BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ledger (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL,
    type TEXT NOT NULL,
    amount BIGINT NOT NULL,
    from_account TEXT NOT NULL,
    to_account TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    event_id TEXT NOT NULL DEFAULT '',
    ts TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_to ON ledger (to_account, seq);

CREATE TABLE IF NOT EXISTS achievements (
    seq BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    achievement_id TEXT NOT NULL,
    event_id TEXT NOT NULL,
    xp BIGINT NOT NULL DEFAULT 0,
    badge TEXT NOT NULL DEFAULT '',
    earned_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_achievements_user ON achievements (user_id, seq);
`

// migrationLockKey serializes migrations of concurrently starting nodes.
const migrationLockKey = 7_362_118

// Migrate applies pending migrations in version order.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("%w: ensure migration table: %v", ErrMigrationFailed, err)
	}

	for _, m := range migrations {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
				return err
			}
			var applied bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version).Scan(&applied); err != nil {
				return err
			}
			if applied {
				return nil
			}
			if _, err := tx.Exec(ctx, m.up); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, m.version, m.name, err)
		}
	}
	return nil
}
