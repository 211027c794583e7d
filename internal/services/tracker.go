package services

import (
	"context"
	"fmt"

	"github.com/taniko/roadsync/internal/logging"
	"github.com/taniko/roadsync/internal/metrics"
	"github.com/taniko/roadsync/internal/models"
	"github.com/taniko/roadsync/internal/repositories/records"
)

// Tracker exposes the unsynced-record backlog of the local store. It is a
// thin layer over the record repository that adds logging and keeps the
// backlog gauge current.
type Tracker struct {
	repo   records.Repository
	logger logging.Logger
}

func NewTracker(repo records.Repository, logger logging.Logger) *Tracker {
	return &Tracker{repo: repo, logger: logger.With("service", "tracker")}
}

// ListUnsynced returns the backlog for one kind, oldest first.
func (t *Tracker) ListUnsynced(ctx context.Context, kind models.RecordKind) ([]models.SyncableRecord, error) {
	recs, err := t.repo.ListUnsynced(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("listing unsynced %s records: %w", kind, err)
	}
	return recs, nil
}

// MarkSynced flips synced=true for ids and returns the subset actually
// flipped. Ids that are unknown or already synced simply drop out of the
// result.
func (t *Tracker) MarkSynced(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	flipped, err := t.repo.MarkSynced(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("marking records synced: %w", err)
	}
	if len(flipped) < len(ids) {
		t.logger.Debug(ctx, "some ids were already synced or unknown",
			"requested", len(ids), "flipped", len(flipped))
	}
	return flipped, nil
}

// GetStats reports the sync state of one kind and refreshes the backlog
// gauge as a side effect.
func (t *Tracker) GetStats(ctx context.Context, kind models.RecordKind) (models.RecordStats, error) {
	stats, err := t.repo.Stats(ctx, kind)
	if err != nil {
		return models.RecordStats{}, fmt.Errorf("fetching %s stats: %w", kind, err)
	}
	metrics.UnsyncedBacklog.WithLabelValues(string(kind)).Set(float64(stats.Unsynced))
	return stats, nil
}
