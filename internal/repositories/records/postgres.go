package records

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

func (r *PostgresRepository) UpsertByLocalID(ctx context.Context, rec *models.SyncableRecord) error {
	query :=
		`INSERT INTO records (local_id, cloud_id, owner_account_id, kind, payload, synced, source, created_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (local_id) DO UPDATE SET
			cloud_id = COALESCE(EXCLUDED.cloud_id, records.cloud_id),
			payload = EXCLUDED.payload,
			synced = EXCLUDED.synced,
			source = EXCLUDED.source
		 `

	_, err := r.db.ExecContext(ctx, query,
		rec.LocalID, rec.CloudID, rec.OwnerAccountID, string(rec.Kind), []byte(rec.Payload), rec.Synced, string(rec.Source), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByLocalID(ctx context.Context, localID string) (*models.SyncableRecord, error) {
	query :=
		`SELECT local_id, COALESCE(cloud_id, ''), owner_account_id, kind, payload, synced, source, created_at
		 FROM records WHERE local_id = $1
		 `

	rec := &models.SyncableRecord{}
	var kind, source string
	var payload []byte
	err := r.db.QueryRowContext(ctx, query, localID).
		Scan(&rec.LocalID, &rec.CloudID, &rec.OwnerAccountID, &kind, &payload, &rec.Synced, &source, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	rec.Kind = models.RecordKind(kind)
	rec.Source = models.Source(source)
	rec.Payload = payload
	return rec, nil
}

func (r *PostgresRepository) ListUnsynced(ctx context.Context, kind models.RecordKind) ([]models.SyncableRecord, error) {
	query :=
		`SELECT local_id, COALESCE(cloud_id, ''), owner_account_id, kind, payload, synced, source, created_at
		 FROM records WHERE kind = $1 AND NOT synced
		 ORDER BY created_at
		 `

	rows, err := r.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to select unsynced records: %w", err)
	}
	defer rows.Close()

	var result []models.SyncableRecord
	for rows.Next() {
		var rec models.SyncableRecord
		var k, source string
		var payload []byte
		if err := rows.Scan(&rec.LocalID, &rec.CloudID, &rec.OwnerAccountID, &k, &payload, &rec.Synced, &source, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Kind = models.RecordKind(k)
		rec.Source = models.Source(source)
		rec.Payload = payload
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PostgresRepository) MarkSynced(ctx context.Context, ids []string) ([]string, error) {
	query := `UPDATE records SET synced = true WHERE local_id = $1 AND NOT synced`

	// One statement per id keeps the call idempotent and lets the caller
	// learn exactly which ids were flipped.
	updated := make([]string, 0, len(ids))
	for _, id := range ids {
		res, err := r.db.ExecContext(ctx, query, id)
		if err != nil {
			return updated, fmt.Errorf("failed to mark record %s synced: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			updated = append(updated, id)
		}
	}
	return updated, nil
}

func (r *PostgresRepository) AttachCloudID(ctx context.Context, localID, cloudID string) error {
	query := `UPDATE records SET cloud_id = $2 WHERE local_id = $1`

	if _, err := r.db.ExecContext(ctx, query, localID, cloudID); err != nil {
		return fmt.Errorf("failed to attach cloud id: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Stats(ctx context.Context, kind models.RecordKind) (models.RecordStats, error) {
	query :=
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE synced)
		 FROM records WHERE kind = $1
		 `

	var stats models.RecordStats
	if err := r.db.QueryRowContext(ctx, query, string(kind)).Scan(&stats.Total, &stats.Synced); err != nil {
		return stats, fmt.Errorf("db error: %w", err)
	}
	stats.Unsynced = stats.Total - stats.Synced
	return stats, nil
}
