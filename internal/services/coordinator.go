package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taniko/roadsync/internal/availability"
	"github.com/taniko/roadsync/internal/backend"
	"github.com/taniko/roadsync/internal/blob"
	"github.com/taniko/roadsync/internal/cloud"
	"github.com/taniko/roadsync/internal/common"
	"github.com/taniko/roadsync/internal/logging"
	"github.com/taniko/roadsync/internal/metrics"
	"github.com/taniko/roadsync/internal/models"
	"github.com/taniko/roadsync/internal/repositories/records"
)

// WriteResult tells the caller where a write actually landed.
type WriteResult struct {
	Origin models.Origin
	Record *models.SyncableRecord
}

// Coordinator routes every record write through the fallback chain:
// authoritative backend first, cloud document store second, local store last.
// A write only fails when all three stores refuse it.
type Coordinator struct {
	avail   Availability
	backend backend.API
	docs    cloud.DocumentStore
	local   records.Repository
	mirror  records.Repository
	blobs   blob.Store
	session TokenSource
	logger  logging.Logger
	now     func() time.Time
}

// NewCoordinator wires the chain. mirror is the authoritative record
// repository used for bookkeeping after a successful backend write; it may be
// nil when the relational store is not directly reachable from this process.
func NewCoordinator(avail Availability, api backend.API, docs cloud.DocumentStore,
	local, mirror records.Repository, blobs blob.Store, session TokenSource,
	logger logging.Logger) *Coordinator {
	return &Coordinator{
		avail:   avail,
		backend: api,
		docs:    docs,
		local:   local,
		mirror:  mirror,
		blobs:   blobs,
		session: session,
		logger:  logger.With("service", "coordinator"),
		now:     time.Now,
	}
}

// WithNow replaces the clock, for deterministic tests.
func (c *Coordinator) WithNow(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Write stores one record in the first store of the chain that accepts it.
// The record keeps the same LocalID no matter which store takes it, so a
// later sync pass can never duplicate it.
func (c *Coordinator) Write(ctx context.Context, kind models.RecordKind,
	payload json.RawMessage, ownerAccountID string) (*WriteResult, error) {

	rec := &models.SyncableRecord{
		LocalID:        uuid.NewString(),
		OwnerAccountID: ownerAccountID,
		Kind:           kind,
		Payload:        payload,
		CreatedAt:      c.now().UTC(),
	}

	attempts := []struct {
		origin models.Origin
		fn     func(context.Context, *models.SyncableRecord) error
	}{
		{models.OriginBackend, c.tryBackend},
		{models.OriginCloud, c.tryCloud},
		{models.OriginLocal, c.tryLocal},
	}

	var lastErr error
	for _, a := range attempts {
		if err := a.fn(ctx, rec); err != nil {
			lastErr = err
			c.logger.Warn(ctx, "store skipped, trying next in chain",
				"origin", a.origin, "local_id", rec.LocalID, "error", err)
			continue
		}
		metrics.WritesTotal.WithLabelValues(string(kind), string(a.origin)).Inc()
		c.logger.Info(ctx, "record written",
			"kind", kind, "origin", a.origin, "local_id", rec.LocalID)
		return &WriteResult{Origin: a.origin, Record: rec}, nil
	}

	return nil, fmt.Errorf("writing %s record: %v: %w", kind, lastErr, common.ErrWriteFailed)
}

func (c *Coordinator) tryBackend(ctx context.Context, rec *models.SyncableRecord) error {
	if !c.avail.IsReachable(ctx, availability.TargetBackend) {
		return fmt.Errorf("backend: %w", common.ErrUnreachable)
	}

	payload := rec.Payload
	if rec.Kind == models.KindPhoto {
		staged, err := stagePhotoPayload(ctx, c.blobs, payload)
		if err != nil {
			return fmt.Errorf("staging photo: %w", err)
		}
		payload = staged
	}

	id, err := c.backend.CreateRecord(ctx, &backend.Record{
		ClientRef: rec.LocalID,
		OwnerID:   rec.OwnerAccountID,
		Kind:      string(rec.Kind),
		Payload:   payload,
		CreatedAt: rec.CreatedAt,
	})
	if err != nil {
		return err
	}

	rec.Payload = payload
	rec.Synced = true
	rec.Source = models.SourceLocal

	// Bookkeeping only: the write itself has already succeeded.
	if c.mirror != nil {
		if err := c.mirror.UpsertByLocalID(ctx, rec); err != nil {
			c.logger.Warn(ctx, "mirroring record after backend write failed",
				"local_id", rec.LocalID, "backend_id", id, "error", err)
		}
	}
	return nil
}

func (c *Coordinator) tryCloud(ctx context.Context, rec *models.SyncableRecord) error {
	if _, err := c.session(ctx); err != nil {
		return fmt.Errorf("no cloud session: %w", err)
	}
	if !c.avail.IsReachable(ctx, availability.TargetCloud) {
		return fmt.Errorf("cloud: %w", common.ErrUnreachable)
	}

	rec.Source = models.SourceCloud
	rec.Synced = false

	id, err := c.docs.AddDocument(ctx, collectionFor(rec.Kind), documentFields(rec))
	if err != nil {
		return err
	}
	rec.CloudID = id

	// Local bookkeeping keeps the record visible to the backlog tracker.
	// Its failure is surfaced loudly but does not undo the cloud write.
	if err := c.local.UpsertByLocalID(ctx, rec); err != nil {
		c.logger.Error(ctx, "local bookkeeping after cloud write failed",
			"local_id", rec.LocalID, "cloud_id", id, "error", err)
	}
	return nil
}

func (c *Coordinator) tryLocal(ctx context.Context, rec *models.SyncableRecord) error {
	rec.Source = models.SourceLocal
	rec.Synced = false
	rec.CloudID = ""
	return c.local.UpsertByLocalID(ctx, rec)
}
