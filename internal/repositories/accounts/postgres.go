package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/taniko/roadsync/internal/common"
	"github.com/taniko/roadsync/internal/dbx"
	"github.com/taniko/roadsync/internal/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, COALESCE(cloud_subject_id, ''), email, given_name, family_name, created_from_cloud, created_at`

func scanAccount(row interface{ Scan(dest ...any) error }) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.CloudSubjectID, &a.Email, &a.GivenName, &a.FamilyName, &a.CreatedFromCloud, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *PostgresRepository) GetAll(ctx context.Context) ([]models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) GetBySubjectID(ctx context.Context, subjectID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE cloud_subject_id = $1`

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, subjectID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	query :=
		`INSERT INTO accounts (cloud_subject_id, email, given_name, family_name, created_from_cloud)
         VALUES (NULLIF($1, ''), $2, $3, $4, $5)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		account.CloudSubjectID, account.Email, account.GivenName, account.FamilyName, account.CreatedFromCloud).
		Scan(&account.ID, &account.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

func (r *PostgresRepository) AttachSubjectID(ctx context.Context, accountID, subjectID string) error {
	query :=
		`UPDATE accounts SET cloud_subject_id = $2
		 WHERE id = $1 AND cloud_subject_id IS NULL
		 `

	// Zero rows affected means the link already exists; attaching is
	// idempotent so that is not an error.
	if _, err := r.db.ExecContext(ctx, query, accountID, subjectID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
