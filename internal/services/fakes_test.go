package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/taniko/roadsync/internal/availability"
	"github.com/taniko/roadsync/internal/backend"
	"github.com/taniko/roadsync/internal/cloud"
	"github.com/taniko/roadsync/internal/common"
	"github.com/taniko/roadsync/internal/logging"
	"github.com/taniko/roadsync/internal/models"
)

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.DiscardHandler))
}

func sessionOK(context.Context) (string, error)   { return "token", nil }
func sessionNone(context.Context) (string, error) { return "", errors.New("no session") }

type fakeAvail struct {
	backend bool
	cloud   bool
}

func (f *fakeAvail) IsReachable(_ context.Context, target availability.Target) bool {
	if target == availability.TargetBackend {
		return f.backend
	}
	return f.cloud
}

func (f *fakeAvail) Invalidate(availability.Target) {}

// fakeBackend records writes by client_ref. failures>0 makes the next that
// many CreateRecord calls return failWith before succeeding;
// conflictOnDuplicate makes a re-send of a known client_ref answer 409;
// onCreate runs after each successful write.
type fakeBackend struct {
	createCalls         int
	failures            int
	failWith            error
	conflictOnDuplicate bool
	onCreate            func()
	records             map[string]backend.Record
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{records: map[string]backend.Record{}}
}

func (f *fakeBackend) CreateRecord(_ context.Context, rec *backend.Record) (string, error) {
	f.createCalls++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return "", f.failWith
	}
	if _, ok := f.records[rec.ClientRef]; ok && f.conflictOnDuplicate {
		return "", &backend.StatusError{Code: 409, Body: "duplicate client_ref"}
	}
	f.records[rec.ClientRef] = *rec
	if f.onCreate != nil {
		f.onCreate()
	}
	return "backend-" + rec.ClientRef, nil
}

func (f *fakeBackend) ListRecords(context.Context, map[string]string) ([]backend.Record, error) {
	out := make([]backend.Record, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeBackend) UpdateRecord(context.Context, string, map[string]any) error { return nil }

func (f *fakeBackend) Status(context.Context) error { return nil }

// fakeDocs is an in-memory DocumentStore keyed by collection.
type fakeDocs struct {
	addCalls int
	failAdd  error
	docs     map[string][]cloud.Document
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: map[string][]cloud.Document{}}
}

func (f *fakeDocs) AddDocument(_ context.Context, collection string, payload map[string]any) (string, error) {
	f.addCalls++
	if f.failAdd != nil {
		return "", f.failAdd
	}
	id := fmt.Sprintf("%s:%d", collection, len(f.docs[collection])+1)
	fields := make(map[string]any, len(payload))
	for k, v := range payload {
		fields[k] = v
	}
	f.docs[collection] = append(f.docs[collection], cloud.Document{ID: id, Fields: fields})
	return id, nil
}

func (f *fakeDocs) Query(_ context.Context, collection string, filters map[string]any) ([]cloud.Document, error) {
	var out []cloud.Document
	for _, doc := range f.docs[collection] {
		match := true
		for k, v := range filters {
			if doc.Fields[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeDocs) UpdateDocument(_ context.Context, collection, id string, patch map[string]any) error {
	for i := range f.docs[collection] {
		if f.docs[collection][i].ID == id {
			for k, v := range patch {
				f.docs[collection][i].Fields[k] = v
			}
			return nil
		}
	}
	return common.ErrNotFound
}

func (f *fakeDocs) Ping(context.Context) bool { return true }

// memRecords is an in-memory record repository preserving insertion order.
type memRecords struct {
	upsertErr error
	order     []string
	recs      map[string]*models.SyncableRecord
}

func newMemRecords() *memRecords {
	return &memRecords{recs: map[string]*models.SyncableRecord{}}
}

func (m *memRecords) UpsertByLocalID(_ context.Context, rec *models.SyncableRecord) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	cp := *rec
	if existing, ok := m.recs[rec.LocalID]; ok {
		if cp.CloudID == "" {
			cp.CloudID = existing.CloudID
		}
	} else {
		m.order = append(m.order, rec.LocalID)
	}
	m.recs[rec.LocalID] = &cp
	return nil
}

func (m *memRecords) GetByLocalID(_ context.Context, localID string) (*models.SyncableRecord, error) {
	rec, ok := m.recs[localID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memRecords) ListUnsynced(_ context.Context, kind models.RecordKind) ([]models.SyncableRecord, error) {
	var out []models.SyncableRecord
	for _, id := range m.order {
		rec := m.recs[id]
		if rec.Kind == kind && !rec.Synced {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memRecords) MarkSynced(ctx context.Context, ids []string) ([]string, error) {
	// A real store rejects work on a dead context.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var flipped []string
	for _, id := range ids {
		rec, ok := m.recs[id]
		if !ok || rec.Synced {
			continue
		}
		rec.Synced = true
		flipped = append(flipped, id)
	}
	return flipped, nil
}

func (m *memRecords) AttachCloudID(_ context.Context, localID, cloudID string) error {
	rec, ok := m.recs[localID]
	if !ok {
		return common.ErrNotFound
	}
	rec.CloudID = cloudID
	return nil
}

func (m *memRecords) Stats(_ context.Context, kind models.RecordKind) (models.RecordStats, error) {
	var stats models.RecordStats
	for _, rec := range m.recs {
		if rec.Kind != kind {
			continue
		}
		stats.Total++
		if rec.Synced {
			stats.Synced++
		} else {
			stats.Unsynced++
		}
	}
	return stats, nil
}

// memAccounts is an in-memory account repository.
type memAccounts struct {
	createErr error
	nextID    int
	accts     []*models.Account
}

func (m *memAccounts) GetAll(context.Context) ([]models.Account, error) {
	out := make([]models.Account, 0, len(m.accts))
	for _, a := range m.accts {
		out = append(out, *a)
	}
	return out, nil
}

func (m *memAccounts) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	for _, a := range m.accts {
		if strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memAccounts) GetBySubjectID(_ context.Context, subjectID string) (*models.Account, error) {
	for _, a := range m.accts {
		if a.CloudSubjectID == subjectID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memAccounts) Create(_ context.Context, account *models.Account) (*models.Account, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.nextID++
	cp := *account
	cp.ID = "acct-" + strconv.Itoa(m.nextID)
	m.accts = append(m.accts, &cp)
	out := cp
	return &out, nil
}

func (m *memAccounts) AttachSubjectID(_ context.Context, accountID, subjectID string) error {
	for _, a := range m.accts {
		if a.ID == accountID {
			if a.CloudSubjectID == "" {
				a.CloudSubjectID = subjectID
			}
			return nil
		}
	}
	return nil
}

// fakeIdentity serves identities out of a slice, two per page, to exercise
// the pagination loop.
type fakeIdentity struct {
	listErr     error
	createCalls int
	nextSubject int
	users       []models.CloudIdentity
}

func (f *fakeIdentity) ListUsers(_ context.Context, pageSize int, pageToken string) (*cloud.UserPage, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	start := 0
	if pageToken != "" {
		start, _ = strconv.Atoi(pageToken)
	}
	if pageSize <= 0 {
		pageSize = 2
	}
	end := start + pageSize
	if end > len(f.users) {
		end = len(f.users)
	}
	page := &cloud.UserPage{Users: f.users[start:end]}
	if end < len(f.users) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeIdentity) CreateUser(_ context.Context, user cloud.NewUser) (string, error) {
	f.createCalls++
	f.nextSubject++
	subject := "subj-" + strconv.Itoa(f.nextSubject)
	f.users = append(f.users, models.CloudIdentity{
		SubjectID:   subject,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	})
	return subject, nil
}

func (f *fakeIdentity) GetUserByEmail(_ context.Context, email string) (*models.CloudIdentity, error) {
	for i := range f.users {
		if strings.EqualFold(f.users[i].Email, email) {
			cp := f.users[i]
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

// fakeBlob pretends to presign and upload photo bytes.
type fakeBlob struct {
	presigns int
	uploads  int
}

func (f *fakeBlob) PresignPut(context.Context) (string, string, error) {
	f.presigns++
	key := "photos/test/" + strconv.Itoa(f.presigns)
	return key, "http://blob.local/" + key, nil
}

func (f *fakeBlob) Upload(context.Context, string, []byte) error {
	f.uploads++
	return nil
}
