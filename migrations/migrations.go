// Package migrations embeds the SQL schema and applies it in file order.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/bizledger/internal/platform/db"
)

//go:embed *.sql
var files embed.FS

// advisoryLockKey serialises concurrent migrators.
const advisoryLockKey = 7_240_001

// Files lists the embedded migrations in apply order.
func Files() ([]string, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Apply runs every migration not yet recorded in schema_migrations and
// returns the names it applied. Each file runs in its own transaction.
func Apply(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrations: acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockKey); err != nil {
		return nil, fmt.Errorf("migrations: lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, advisoryLockKey)
	}()

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
    name        TEXT PRIMARY KEY,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return nil, fmt.Errorf("migrations: bootstrap: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("migrations: list applied: %w", err)
	}
	done, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("migrations: list applied: %w", err)
	}
	seen := make(map[string]struct{}, len(done))
	for _, name := range done {
		seen[name] = struct{}{}
	}

	names, err := Files()
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		body, err := files.ReadFile(name)
		if err != nil {
			return applied, err
		}
		err = db.WithTx(ctx, conn.Conn(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("migrations: apply %s: %w", name, err)
		}
		logger.Info("migration applied", slog.String("name", name))
		applied = append(applied, name)
	}
	return applied, nil
}
