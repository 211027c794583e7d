// Package local bootstraps the ephemeral on-device store: a SQLite database
// holding the records written while neither remote store was reachable.
package local

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/taniko/roadsync/internal/local/migrations"
	"github.com/taniko/roadsync/internal/repositories/records"
)

// Store bundles the local database handle with its record repository.
type Store struct {
	db      *sql.DB
	Records records.Repository
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// Open opens (creating if needed) the SQLite database at path, applies
// migrations, and wires the record repository.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("local db open error: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("local db migration error: %w", err)
	}

	return &Store{
		db:      db,
		Records: records.NewSQLiteRepository(db),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
