// Package postgres provides the PostgreSQL backend, built on pgx. It is
// the production store: every state transition is a single conditional
// UPDATE, so the optimistic-concurrency protocol holds across processes.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/event"
	"github.com/Papyszoo/Modelibr-sub004/job"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

var (
	_ thumbq.Storer = (*Store)(nil)
	_ job.Store     = (*Store)(nil)
	_ event.Store   = (*Store)(nil)
)

// Store implements all persistence contracts over a pgx connection pool.
type Store struct {
	pool     *pgxpool.Pool
	ownsPool bool
}

// New connects to the given DSN with a fresh pool. The store owns the
// pool and closes it on Close.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("thumbq/postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("thumbq/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("thumbq/postgres: ping: %w", err)
	}
	return &Store{pool: pool, ownsPool: true}, nil
}

// NewFromPool wraps an existing pool. The caller keeps ownership; Close
// will not close it.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for callers that need raw access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies the embedded schema migrations in filename order,
// tracking applied files in thumbq_migrations so reruns are no-ops.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS thumbq_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("%w: create tracking table: %v", thumbq.ErrMigrationFailed, err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("%w: read embedded migrations: %v", thumbq.ErrMigrationFailed, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var applied bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM thumbq_migrations WHERE name = $1)`, name,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("%w: check %s: %v", thumbq.ErrMigrationFailed, name, err)
		}
		if applied {
			continue
		}

		sqlBytes, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", thumbq.ErrMigrationFailed, name, err)
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("%w: begin %s: %v", thumbq.ErrMigrationFailed, name, err)
		}
		if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("%w: apply %s: %v", thumbq.ErrMigrationFailed, name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO thumbq_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("%w: record %s: %v", thumbq.ErrMigrationFailed, name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("%w: commit %s: %v", thumbq.ErrMigrationFailed, name, err)
		}
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool if the store owns it.
func (s *Store) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}
