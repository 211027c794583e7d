package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/taniko/roadsync/internal/availability"
	"github.com/taniko/roadsync/internal/backend"
	"github.com/taniko/roadsync/internal/blob"
	"github.com/taniko/roadsync/internal/cloud"
	"github.com/taniko/roadsync/internal/common"
	"github.com/taniko/roadsync/internal/logging"
	"github.com/taniko/roadsync/internal/metrics"
	"github.com/taniko/roadsync/internal/models"
)

// FullSync runs a complete reconciliation pass: identity reconciliation for
// the selected direction plus a drain of the unsynced-record backlogs. Every
// push is an upsert keyed by the record's own identifier, so the pass is safe
// to run concurrently with ordinary writes and safe to repeat.
type FullSync struct {
	reconciler *Reconciler
	tracker    *Tracker
	docs       cloud.DocumentStore
	backend    backend.API
	blobs      blob.Store
	avail      Availability
	session    TokenSource
	logger     logging.Logger
	now        func() time.Time
}

func NewFullSync(reconciler *Reconciler, tracker *Tracker, docs cloud.DocumentStore,
	api backend.API, blobs blob.Store, avail Availability, session TokenSource,
	logger logging.Logger) *FullSync {
	return &FullSync{
		reconciler: reconciler,
		tracker:    tracker,
		docs:       docs,
		backend:    api,
		blobs:      blobs,
		avail:      avail,
		session:    session,
		logger:     logger.With("service", "fullsync"),
		now:        time.Now,
	}
}

// Run executes the pass and returns the aggregated report. Per-record
// failures are counted, not raised; only a totally unavailable identity
// listing aborts the call. Cancelling ctx stops the drain between records,
// leaving already-committed progress in place.
func (s *FullSync) Run(ctx context.Context, direction models.Direction) (*models.SyncReport, error) {
	report, err := s.reconciler.Reconcile(ctx, direction)
	if err != nil {
		return nil, err
	}

	if direction == models.DirectionCloudToLocal || direction == models.DirectionBoth {
		s.drainCloudPending(ctx, report)
	}
	if direction == models.DirectionLocalToCloud || direction == models.DirectionBoth {
		s.drainLocalBacklog(ctx, report)
	}

	report.FinishedAt = s.now().UTC()
	s.logger.Info(ctx, "full sync finished",
		"direction", direction,
		"cloud_to_local", report.CloudToLocal, "local_to_cloud", report.LocalToCloud,
		"cloud_error", report.CloudError, "backend_error", report.BackendError)
	return report, nil
}

// drainCloudPending pushes records created directly in the document store
// while the backend was down into the backend, then flips their synced flag
// cloud-side.
func (s *FullSync) drainCloudPending(ctx context.Context, report *models.SyncReport) {
	if !s.avail.IsReachable(ctx, availability.TargetBackend) {
		report.BackendError = "backend unreachable, cloud backlog left in place"
		return
	}

	direction := string(models.DirectionCloudToLocal)
	var ingested []string
	defer func() {
		// Cloud-created records may have a local bookkeeping row; flip it
		// too once the backend holds the record. Unknown ids are fine.
		if len(ingested) == 0 {
			return
		}
		if _, err := s.tracker.MarkSynced(ctx, ingested); err != nil {
			s.logger.Debug(ctx, "flipping local bookkeeping rows failed", "error", err)
		}
	}()

	for _, kind := range models.Kinds() {
		docs, err := s.docs.Query(ctx, collectionFor(kind), map[string]any{"synced": false})
		if err != nil {
			report.CloudError = err.Error()
			return
		}

		for _, doc := range docs {
			if ctx.Err() != nil {
				return
			}

			rec, err := recordFromDocument(kind, doc)
			if err != nil {
				s.logger.Warn(ctx, "skipping malformed cloud document",
					"collection", collectionFor(kind), "doc_id", doc.ID, "error", err)
				report.CloudToLocal.Errors++
				metrics.SyncPushesTotal.WithLabelValues(direction, "error").Inc()
				continue
			}

			if kind == models.KindPhoto {
				staged, err := stagePhotoPayload(ctx, s.blobs, rec.Payload)
				if err != nil {
					s.logger.Error(ctx, "staging photo for backend push failed",
						"doc_id", doc.ID, "error", err)
					report.CloudToLocal.Errors++
					metrics.SyncPushesTotal.WithLabelValues(direction, "error").Inc()
					continue
				}
				rec.Payload = staged
			}

			pushErr := s.pushToBackend(ctx, rec)
			if pushErr != nil && !errors.Is(pushErr, common.ErrConflictSkipped) {
				s.logger.Error(ctx, "pushing cloud record to backend failed",
					"doc_id", doc.ID, "client_ref", rec.ClientRef, "error", pushErr)
				report.CloudToLocal.Errors++
				metrics.SyncPushesTotal.WithLabelValues(direction, "error").Inc()
				continue
			}

			if err := s.docs.UpdateDocument(ctx, collectionFor(kind), doc.ID,
				map[string]any{"synced": true}); err != nil {
				s.logger.Error(ctx, "flipping synced flag cloud-side failed",
					"doc_id", doc.ID, "error", err)
				report.CloudToLocal.Errors++
				metrics.SyncPushesTotal.WithLabelValues(direction, "error").Inc()
				continue
			}

			ingested = append(ingested, rec.ClientRef)
			if errors.Is(pushErr, common.ErrConflictSkipped) {
				report.CloudToLocal.Skipped++
				metrics.SyncPushesTotal.WithLabelValues(direction, "skipped").Inc()
				continue
			}
			report.CloudToLocal.Added++
			metrics.SyncPushesTotal.WithLabelValues(direction, "pushed").Inc()
		}
	}
}

// drainLocalBacklog pushes unsynced local records out: to the backend when it
// is up, otherwise into the cloud document store when a session is available.
// Records that reached a store are marked synced afterwards.
func (s *FullSync) drainLocalBacklog(ctx context.Context, report *models.SyncReport) {
	backendUp := s.avail.IsReachable(ctx, availability.TargetBackend)

	cloudUp := false
	if !backendUp {
		if _, err := s.session(ctx); err == nil {
			cloudUp = s.avail.IsReachable(ctx, availability.TargetCloud)
		}
		if !cloudUp {
			report.BackendError = "no store reachable, local backlog left in place"
			return
		}
	}

	direction := string(models.DirectionLocalToCloud)
	var pushed []string

	for _, kind := range models.Kinds() {
		recs, err := s.tracker.ListUnsynced(ctx, kind)
		if err != nil {
			report.BackendError = err.Error()
			break
		}

		for i := range recs {
			if ctx.Err() != nil {
				break
			}
			rec := &recs[i]

			var pushErr error
			if backendUp {
				pushErr = s.pushRecordToBackend(ctx, rec)
			} else {
				// Already in the document store; it drains to the backend
				// through the cloud-to-local half instead.
				if rec.CloudID != "" {
					report.LocalToCloud.Skipped++
					metrics.SyncPushesTotal.WithLabelValues(direction, "skipped").Inc()
					continue
				}
				pushErr = s.pushRecordToCloud(ctx, rec)
			}
			if pushErr != nil && !errors.Is(pushErr, common.ErrConflictSkipped) {
				s.logger.Error(ctx, "pushing local record failed",
					"local_id", rec.LocalID, "kind", kind, "error", pushErr)
				report.LocalToCloud.Errors++
				metrics.SyncPushesTotal.WithLabelValues(direction, "error").Inc()
				continue
			}

			pushed = append(pushed, rec.LocalID)
			if errors.Is(pushErr, common.ErrConflictSkipped) {
				report.LocalToCloud.Skipped++
				metrics.SyncPushesTotal.WithLabelValues(direction, "skipped").Inc()
				continue
			}
			report.LocalToCloud.Added++
			metrics.SyncPushesTotal.WithLabelValues(direction, "pushed").Inc()
		}
	}

	if len(pushed) > 0 {
		if _, err := s.tracker.MarkSynced(ctx, pushed); err != nil {
			s.logger.Error(ctx, "marking pushed records synced failed", "error", err)
			report.LocalToCloud.Errors++
		}
	}

	for _, kind := range models.Kinds() {
		if _, err := s.tracker.GetStats(ctx, kind); err != nil {
			s.logger.Debug(ctx, "refreshing backlog stats failed", "kind", kind, "error", err)
		}
	}
}

func (s *FullSync) pushRecordToBackend(ctx context.Context, rec *models.SyncableRecord) error {
	payload := rec.Payload
	if rec.Kind == models.KindPhoto {
		staged, err := stagePhotoPayload(ctx, s.blobs, payload)
		if err != nil {
			return err
		}
		payload = staged
	}
	return s.pushToBackend(ctx, &backend.Record{
		ClientRef: rec.LocalID,
		OwnerID:   rec.OwnerAccountID,
		Kind:      string(rec.Kind),
		Payload:   payload,
		CreatedAt: rec.CreatedAt,
	})
}

func (s *FullSync) pushRecordToCloud(ctx context.Context, rec *models.SyncableRecord) error {
	id, err := s.docs.AddDocument(ctx, collectionFor(rec.Kind), documentFields(rec))
	if err != nil {
		return err
	}
	if err := s.tracker.repo.AttachCloudID(ctx, rec.LocalID, id); err != nil {
		s.logger.Warn(ctx, "attaching cloud id failed",
			"local_id", rec.LocalID, "cloud_id", id, "error", err)
	}
	return nil
}

// pushToBackend upserts one record on the backend, retrying transient 5xx
// responses with exponential backoff. A conflict means the backend already
// holds the record and comes back as ErrConflictSkipped; other rejections
// are returned as-is.
func (s *FullSync) pushToBackend(ctx context.Context, rec *backend.Record) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := s.backend.CreateRecord(ctx, rec)
		var se *backend.StatusError
		if errors.As(err, &se) && se.Transient() {
			return retry.RetryableError(err)
		}
		return err
	})

	var se *backend.StatusError
	if errors.As(err, &se) && se.Code == http.StatusConflict {
		return common.ErrConflictSkipped
	}
	return err
}
