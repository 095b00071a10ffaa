package queue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
// Users will need to reset their queue database after schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// initSchema runs inside an immediate transaction so concurrently starting
// workers do not race to create the tables.
func (s *Store) initSchema(ctx context.Context) error {
	return s.withImmediateTx(ctx, func(tx *txConn) error {
		var tableExists int
		if err := tx.GetContext(ctx, &tableExists,
			"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
		); err != nil {
			return fmt.Errorf("check schema_version table: %w", err)
		}

		if tableExists == 0 {
			if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
				return fmt.Errorf("record schema version: %w", err)
			}
			return nil
		}

		var version int
		if err := tx.GetContext(ctx, &version, "SELECT version FROM schema_version LIMIT 1"); err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		if version != schemaVersion {
			return fmt.Errorf("%w: database has version %d, expected %d (run 'queuectl reset' or delete the database)",
				ErrSchemaMismatch, version, schemaVersion)
		}
		return nil
	})
}
