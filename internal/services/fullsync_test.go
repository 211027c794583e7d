package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taniko/roadsync/internal/backend"
	"github.com/taniko/roadsync/internal/cloud"
	"github.com/taniko/roadsync/internal/models"
)

func newTestFullSync(avail *fakeAvail, api *fakeBackend, docs *fakeDocs,
	local *memRecords, session TokenSource) *FullSync {
	reconciler := newTestReconciler(&memAccounts{}, &fakeIdentity{})
	tracker := NewTracker(local, discardLogger())
	s := NewFullSync(reconciler, tracker, docs, api, &fakeBlob{}, avail, session, discardLogger())
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func seedLocalRecord(t *testing.T, local *memRecords, id string, kind models.RecordKind, synced bool) {
	t.Helper()
	err := local.UpsertByLocalID(context.Background(), &models.SyncableRecord{
		LocalID:        id,
		OwnerAccountID: "acct-1",
		Kind:           kind,
		Payload:        json.RawMessage(`{"n":1}`),
		Synced:         synced,
		Source:         models.SourceLocal,
		CreatedAt:      time.Unix(1699990000, 0).UTC(),
	})
	require.NoError(t, err)
}

func TestRun_LocalToCloudDrainsBacklog(t *testing.T) {
	api := newFakeBackend()
	docs := newFakeDocs()
	local := newMemRecords()
	seedLocalRecord(t, local, "r1", models.KindReport, false)
	seedLocalRecord(t, local, "r2", models.KindReport, false)
	seedLocalRecord(t, local, "r3", models.KindReport, true)
	seedLocalRecord(t, local, "n1", models.KindNotification, false)

	s := newTestFullSync(&fakeAvail{backend: true}, api, docs, local, sessionOK)

	before, err := local.ListUnsynced(context.Background(), models.KindReport)
	require.NoError(t, err)
	require.Len(t, before, 2)

	report, err := s.Run(context.Background(), models.DirectionLocalToCloud)
	require.NoError(t, err)

	assert.Equal(t, 3, report.LocalToCloud.Added)
	assert.Equal(t, 0, report.LocalToCloud.Errors)
	assert.Contains(t, api.records, "r1")
	assert.Contains(t, api.records, "r2")
	assert.Contains(t, api.records, "n1")
	assert.NotContains(t, api.records, "r3")

	// the backlog drains; it never grows as a side effect of the call
	after, err := local.ListUnsynced(context.Background(), models.KindReport)
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestRun_CloudToLocalIngestsPendingDocuments(t *testing.T) {
	api := newFakeBackend()
	docs := newFakeDocs()
	local := newMemRecords()
	seedLocalRecord(t, local, "c1", models.KindReport, false)

	for _, ref := range []string{"c1", "c2"} {
		_, err := docs.AddDocument(context.Background(), "reports", map[string]any{
			"client_ref":       ref,
			"owner_account_id": "acct-1",
			"kind":             "report",
			"payload":          map[string]any{"title": "pothole"},
			"synced":           false,
			"source":           "CLOUD",
			"created_at":       "2024-11-01T10:00:00Z",
		})
		require.NoError(t, err)
	}

	s := newTestFullSync(&fakeAvail{backend: true, cloud: true}, api, docs, local, sessionOK)

	report, err := s.Run(context.Background(), models.DirectionCloudToLocal)
	require.NoError(t, err)

	assert.Equal(t, 2, report.CloudToLocal.Added)
	assert.Contains(t, api.records, "c1")
	assert.Contains(t, api.records, "c2")

	for _, doc := range docs.docs["reports"] {
		assert.Equal(t, true, doc.Fields["synced"], "doc %s", doc.ID)
	}

	// the local bookkeeping row for c1 is flipped as well
	kept, err := local.GetByLocalID(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, kept.Synced)
}

func TestRun_TransientBackendFailureIsRetried(t *testing.T) {
	api := newFakeBackend()
	api.failures = 1
	api.failWith = &backend.StatusError{Code: 503, Body: "overloaded"}
	docs := newFakeDocs()
	local := newMemRecords()
	seedLocalRecord(t, local, "r1", models.KindReport, false)

	s := newTestFullSync(&fakeAvail{backend: true}, api, docs, local, sessionOK)

	report, err := s.Run(context.Background(), models.DirectionLocalToCloud)
	require.NoError(t, err)

	assert.Equal(t, 1, report.LocalToCloud.Added)
	assert.Equal(t, 2, api.createCalls)
	assert.Contains(t, api.records, "r1")
}

func TestRun_RejectionIsNotRetried(t *testing.T) {
	api := newFakeBackend()
	api.failures = -1
	api.failWith = &backend.StatusError{Code: 422, Body: "bad payload"}
	docs := newFakeDocs()
	local := newMemRecords()
	seedLocalRecord(t, local, "r1", models.KindReport, false)

	s := newTestFullSync(&fakeAvail{backend: true}, api, docs, local, sessionOK)

	report, err := s.Run(context.Background(), models.DirectionLocalToCloud)
	require.NoError(t, err)

	assert.Equal(t, 1, report.LocalToCloud.Errors)
	assert.Equal(t, 1, api.createCalls)

	// the record stays in the backlog for the next pass
	left, err := local.ListUnsynced(context.Background(), models.KindReport)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestRun_ConflictCountsAsSkippedAndMarksSynced(t *testing.T) {
	api := newFakeBackend()
	api.failures = -1
	api.failWith = &backend.StatusError{Code: 409, Body: "duplicate client_ref"}
	docs := newFakeDocs()
	local := newMemRecords()
	seedLocalRecord(t, local, "r1", models.KindReport, false)

	s := newTestFullSync(&fakeAvail{backend: true}, api, docs, local, sessionOK)

	report, err := s.Run(context.Background(), models.DirectionLocalToCloud)
	require.NoError(t, err)

	assert.Equal(t, 1, report.LocalToCloud.Skipped)
	assert.Equal(t, 0, report.LocalToCloud.Errors)

	kept, err := local.GetByLocalID(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, kept.Synced)
}

func TestRun_BackendDownPushesIntoCloud(t *testing.T) {
	api := newFakeBackend()
	docs := newFakeDocs()
	local := newMemRecords()
	seedLocalRecord(t, local, "r1", models.KindReport, false)

	s := newTestFullSync(&fakeAvail{backend: false, cloud: true}, api, docs, local, sessionOK)

	report, err := s.Run(context.Background(), models.DirectionLocalToCloud)
	require.NoError(t, err)

	assert.Equal(t, 1, report.LocalToCloud.Added)
	assert.Equal(t, 1, docs.addCalls)
	assert.Equal(t, 0, api.createCalls)

	kept, err := local.GetByLocalID(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, kept.Synced)
	assert.NotEmpty(t, kept.CloudID)
}

func TestRun_RecordAlreadyInCloudIsNotReAdded(t *testing.T) {
	api := newFakeBackend()
	docs := newFakeDocs()
	local := newMemRecords()
	seedLocalRecord(t, local, "r1", models.KindReport, false)
	require.NoError(t, local.AttachCloudID(context.Background(), "r1", "reports:existing"))

	s := newTestFullSync(&fakeAvail{backend: false, cloud: true}, api, docs, local, sessionOK)

	report, err := s.Run(context.Background(), models.DirectionLocalToCloud)
	require.NoError(t, err)

	assert.Equal(t, 0, report.LocalToCloud.Added)
	assert.Equal(t, 1, report.LocalToCloud.Skipped)
	assert.Equal(t, 0, docs.addCalls)
}

func TestRun_CancelMidDrainKeepsProgressAndResumes(t *testing.T) {
	api := newFakeBackend()
	api.conflictOnDuplicate = true
	docs := newFakeDocs()
	local := newMemRecords()
	seedLocalRecord(t, local, "r1", models.KindReport, false)
	seedLocalRecord(t, local, "r2", models.KindReport, false)
	seedLocalRecord(t, local, "r3", models.KindReport, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api.onCreate = cancel

	s := newTestFullSync(&fakeAvail{backend: true}, api, docs, local, sessionOK)

	_, err := s.Run(ctx, models.DirectionLocalToCloud)
	require.NoError(t, err)

	// the cancel landed after the first push, so exactly one record reached
	// the backend and it stays there
	assert.Equal(t, 1, api.createCalls)
	assert.Contains(t, api.records, "r1")

	// marking ran on the dead context and failed, so the pushed record is
	// still listed as unsynced
	left, err := local.ListUnsynced(context.Background(), models.KindReport)
	require.NoError(t, err)
	assert.Len(t, left, 3)

	// the next pass converges: the already-pushed record conflicts and is
	// skipped, the rest drain, nothing is duplicated
	api.onCreate = nil
	report, err := s.Run(context.Background(), models.DirectionLocalToCloud)
	require.NoError(t, err)

	assert.Equal(t, 2, report.LocalToCloud.Added)
	assert.Equal(t, 1, report.LocalToCloud.Skipped)
	assert.Equal(t, 0, report.LocalToCloud.Errors)
	assert.Len(t, api.records, 3)

	left, err = local.ListUnsynced(context.Background(), models.KindReport)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRun_NothingReachableLeavesBacklogInPlace(t *testing.T) {
	api := newFakeBackend()
	docs := newFakeDocs()
	local := newMemRecords()
	seedLocalRecord(t, local, "r1", models.KindReport, false)

	s := newTestFullSync(&fakeAvail{}, api, docs, local, sessionNone)

	report, err := s.Run(context.Background(), models.DirectionLocalToCloud)
	require.NoError(t, err)

	assert.NotEmpty(t, report.BackendError)
	left, err := local.ListUnsynced(context.Background(), models.KindReport)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestRun_MalformedDocumentIsCountedAndSkipped(t *testing.T) {
	api := newFakeBackend()
	docs := newFakeDocs()
	docs.docs["reports"] = []cloud.Document{
		{ID: "reports:bad", Fields: map[string]any{"synced": false}},
	}
	local := newMemRecords()

	s := newTestFullSync(&fakeAvail{backend: true, cloud: true}, api, docs, local, sessionOK)

	report, err := s.Run(context.Background(), models.DirectionCloudToLocal)
	require.NoError(t, err)

	assert.Equal(t, 1, report.CloudToLocal.Errors)
	assert.Equal(t, 0, api.createCalls)
}
