// Package bun provides a PostgreSQL backend built on the bun ORM and its
// pgdriver. It is interchangeable with the pgx store; deployments that
// already run bun elsewhere can share a single database layer.
package bun

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

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

// Store implements all persistence contracts over a bun.DB.
type Store struct {
	db     *bun.DB
	ownsDB bool
}

// New connects to the given PostgreSQL DSN. The store owns the
// connection and closes it on Close.
func New(ctx context.Context, dsn string) (*Store, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("thumbq/bun: ping: %w", err)
	}
	return &Store{db: db, ownsDB: true}, nil
}

// NewFromDB wraps an existing bun.DB. The caller keeps ownership.
func NewFromDB(db *bun.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate applies the embedded schema migrations in filename order,
// tracking applied files in thumbq_migrations so reruns are no-ops.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
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
		exists, err := s.db.NewSelect().
			Table("thumbq_migrations").
			Where("name = ?", name).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("%w: check %s: %v", thumbq.ErrMigrationFailed, name, err)
		}
		if exists {
			continue
		}

		sqlBytes, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", thumbq.ErrMigrationFailed, name, err)
		}

		err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO thumbq_migrations (name) VALUES (?)`, name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: apply %s: %v", thumbq.ErrMigrationFailed, name, err)
		}
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection if the store owns it.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
