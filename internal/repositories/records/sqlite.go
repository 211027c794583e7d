package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taniko/roadsync/internal/common"
	"github.com/taniko/roadsync/internal/dbx"
	"github.com/taniko/roadsync/internal/models"
)

// SQLiteRepository implements Repository for the local ephemeral store.
// Timestamps are kept as unix seconds, which sorts correctly and avoids
// driver-specific time handling.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) UpsertByLocalID(ctx context.Context, rec *models.SyncableRecord) error {
	query := ` INSERT INTO records (local_id, cloud_id, owner_account_id, kind, payload, synced, source, created_at)
			values (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(local_id) DO UPDATE SET
				cloud_id = CASE WHEN excluded.cloud_id != '' THEN excluded.cloud_id ELSE records.cloud_id END,
				payload = excluded.payload,
				synced = excluded.synced,
				source = excluded.source
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.LocalID, rec.CloudID, rec.OwnerAccountID, string(rec.Kind), []byte(rec.Payload), rec.Synced, string(rec.Source), rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByLocalID(ctx context.Context, localID string) (*models.SyncableRecord, error) {
	query := `select local_id, cloud_id, owner_account_id, kind, payload, synced, source, created_at
			from records where local_id = ?`

	rec := &models.SyncableRecord{}
	var kind, source string
	var payload []byte
	var createdAt int64
	err := r.db.QueryRowContext(ctx, query, localID).
		Scan(&rec.LocalID, &rec.CloudID, &rec.OwnerAccountID, &kind, &payload, &rec.Synced, &source, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select record: %w", err)
	}
	rec.Kind = models.RecordKind(kind)
	rec.Source = models.Source(source)
	rec.Payload = payload
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return rec, nil
}

func (r *SQLiteRepository) ListUnsynced(ctx context.Context, kind models.RecordKind) ([]models.SyncableRecord, error) {
	query := `select local_id, cloud_id, owner_account_id, kind, payload, synced, source, created_at
			from records where kind = ? and synced = 0
			order by created_at, local_id`

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
		var createdAt int64
		if err := rows.Scan(&rec.LocalID, &rec.CloudID, &rec.OwnerAccountID, &k, &payload, &rec.Synced, &source, &createdAt); err != nil {
			return nil, err
		}
		rec.Kind = models.RecordKind(k)
		rec.Source = models.Source(source)
		rec.Payload = payload
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, ids []string) ([]string, error) {
	query := `update records set synced = 1 where local_id = ? and synced = 0`

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

func (r *SQLiteRepository) AttachCloudID(ctx context.Context, localID, cloudID string) error {
	query := `update records set cloud_id = ? where local_id = ?`

	if _, err := r.db.ExecContext(ctx, query, cloudID, localID); err != nil {
		return fmt.Errorf("failed to attach cloud id: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Stats(ctx context.Context, kind models.RecordKind) (models.RecordStats, error) {
	query := `select count(*), coalesce(sum(synced), 0) from records where kind = ?`

	var stats models.RecordStats
	if err := r.db.QueryRowContext(ctx, query, string(kind)).Scan(&stats.Total, &stats.Synced); err != nil {
		return stats, fmt.Errorf("failed to count records: %w", err)
	}
	stats.Unsynced = stats.Total - stats.Synced
	return stats, nil
}
