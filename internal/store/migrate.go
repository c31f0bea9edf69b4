// migrate.go -- embedded SQL migration runner.
package store

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
)

// migrationLockID is the pg_advisory_lock key held while migrating,
// so two processes started together never apply the same file twice.
const migrationLockID int64 = 0x6d75726d7572

// Migrate applies all pending *.sql files from migrationsFS in lexical order.
// Each file runs in its own transaction together with its schema_migrations row;
// a failing file is rolled back entirely. Returns how many files were applied.
func (s *PostgresStore) Migrate(ctx context.Context, migrationsFS fs.FS) (int, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring migration connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return 0, fmt.Errorf("taking migration lock: %w", err)
	}
	defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockID)

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("creating schema_migrations table: %w", err)
	}

	files, err := fs.Glob(migrationsFS, "*.sql")
	if err != nil {
		return 0, fmt.Errorf("reading migration files: %w", err)
	}
	sort.Strings(files)

	applied := 0
	for _, filename := range files {
		var exists bool
		err := conn.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", filename,
		).Scan(&exists)
		if err != nil {
			return applied, fmt.Errorf("checking migration %s: %w", filename, err)
		}
		if exists {
			slog.Debug("migration already applied, skipping", "version", filename)
			continue
		}

		sql, err := fs.ReadFile(migrationsFS, filename)
		if err != nil {
			return applied, fmt.Errorf("reading migration %s: %w", filename, err)
		}

		tx, err := conn.Begin(ctx)
		if err != nil {
			return applied, fmt.Errorf("beginning transaction for %s: %w", filename, err)
		}
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			tx.Rollback(ctx)
			return applied, fmt.Errorf("executing migration %s: %w", filename, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", filename); err != nil {
			tx.Rollback(ctx)
			return applied, fmt.Errorf("recording migration %s: %w", filename, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return applied, fmt.Errorf("committing migration %s: %w", filename, err)
		}

		applied++
		slog.Info("migration applied", "version", filename)
	}

	return applied, nil
}
