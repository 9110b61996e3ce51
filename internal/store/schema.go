package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "embed"
)

// schemaSQL is the version 1 layout. Later versions are steps applied on top.
//
//go:embed schema.sql
var schemaSQL string

// migrations[i] upgrades a database at version i to version i+1.
var migrations = []string{
	schemaSQL,
	// SavedPosts lists one source newest first.
	`CREATE INDEX IF NOT EXISTS idx_posts_source_saved ON posts(source, saved_at)`,
}

var schemaVersion = len(migrations)

// migrate brings db up to schemaVersion inside one transaction. A database
// written by a newer boorufind is left untouched.
func migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err := currentVersion(ctx, tx)
	if err != nil {
		return err
	}
	if version > schemaVersion {
		return fmt.Errorf("index schema version %d is newer than supported %d", version, schemaVersion)
	}

	for v := version; v < schemaVersion; v++ {
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			return fmt.Errorf("migrate index to version %d: %w", v+1, err)
		}
	}

	if version != schemaVersion {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO metadata(key, value) VALUES('schema_version', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, strconv.Itoa(schemaVersion)); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}
	return tx.Commit()
}

// currentVersion reads the recorded version; a fresh file is version 0.
func currentVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	var exists int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'metadata'",
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("inspect index: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var raw string
	err := tx.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", raw, err)
	}
	return version, nil
}
