package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at_ns INTEGER NOT NULL
);
`); err != nil {
		return err
	}

	const latest = 2

	cur, err := currentVersion(ctx, d.DB)
	if err != nil {
		return err
	}
	for v := cur + 1; v <= latest; v++ {
		if err := apply(ctx, d.DB, v); err != nil {
			return err
		}
	}
	return nil
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations;`).Scan(&v); err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

func apply(ctx context.Context, db *sql.DB, version int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	switch version {
	case 1:
		if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS runescape_accounts (
  account_hash INTEGER PRIMARY KEY,
  user_id TEXT NOT NULL,
  display_name TEXT NOT NULL,
  previous_name TEXT NOT NULL DEFAULT '',
  version INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS in_game_friends_lists (
  display_name TEXT PRIMARY KEY,
  account_hash INTEGER NOT NULL,
  friends TEXT NOT NULL,
  version INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS validated_friends_lists (
  account_hash INTEGER PRIMARY KEY,
  friends TEXT NOT NULL,
  version INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL
);
`); err != nil {
			return fmt.Errorf("migration v1 failed: %w", err)
		}
	case 2:
		if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS activity_updates (
  id TEXT PRIMARY KEY,
  account_hash INTEGER NOT NULL,
  kind TEXT NOT NULL,
  payload TEXT NOT NULL,
  occurred_at_ns INTEGER NOT NULL,
  received_at_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_account_time ON activity_updates(account_hash, occurred_at_ns);
`); err != nil {
			return fmt.Errorf("migration v2 failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at_ns) VALUES(?, strftime('%s','now')*1000000000);`, version); err != nil {
		return err
	}
	return tx.Commit()
}
