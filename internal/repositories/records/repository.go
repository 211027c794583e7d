// Package records persists SyncableRecord rows. The same contract is
// implemented for the authoritative relational store (Postgres) and for the
// local ephemeral store (SQLite), so the tracker and coordinator do not care
// which one they are handed.
package records

import (
	"context"

	"github.com/taniko/roadsync/internal/models"
)

// Repository is the SyncableRecord persistence contract.
type Repository interface {
	// UpsertByLocalID inserts the record or, when its LocalID already
	// exists, updates the mutable columns. This is what makes re-applying
	// a record during sync safe.
	UpsertByLocalID(ctx context.Context, rec *models.SyncableRecord) error

	GetByLocalID(ctx context.Context, localID string) (*models.SyncableRecord, error)

	// ListUnsynced returns records with synced=false, oldest first.
	ListUnsynced(ctx context.Context, kind models.RecordKind) ([]models.SyncableRecord, error)

	// MarkSynced flips synced=true for the given ids and returns the
	// subset actually updated. Missing or already-synced ids drop out of
	// the result; they are not errors.
	MarkSynced(ctx context.Context, ids []string) ([]string, error)

	// AttachCloudID records the cloud document id assigned to a record.
	AttachCloudID(ctx context.Context, localID, cloudID string) error

	Stats(ctx context.Context, kind models.RecordKind) (models.RecordStats, error)
}
