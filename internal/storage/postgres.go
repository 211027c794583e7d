// Package storage bootstraps the authoritative relational store and wires
// the account and record repositories onto one connection pool.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/taniko/roadsync/internal/repositories/accounts"
	"github.com/taniko/roadsync/internal/repositories/records"
	"github.com/taniko/roadsync/internal/storage/migrations"
)

type PostgresManager struct {
	db       *sql.DB
	accounts accounts.Repository
	records  records.Repository
}

func (m *PostgresManager) Conn() *sql.DB {
	return m.db
}

func (m *PostgresManager) Accounts() accounts.Repository {
	return m.accounts
}

func (m *PostgresManager) Records() records.Repository {
	return m.records
}

func (m *PostgresManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.UpContext(ctx, m.db, ".")
}

func (m *PostgresManager) Close() error {
	return m.db.Close()
}

// NewPostgresManager opens the relational store, applies migrations, and
// wires the repositories.
func NewPostgresManager(ctx context.Context, dsn string) (*PostgresManager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	m := &PostgresManager{
		db:       db,
		accounts: accounts.NewPostgresRepository(db),
		records:  records.NewPostgresRepository(db),
	}

	if err := m.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return m, nil
}
