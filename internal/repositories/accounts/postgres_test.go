package accounts

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/taniko/roadsync/internal/common"
	"github.com/taniko/roadsync/internal/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func accountRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "coalesce", "email", "given_name", "family_name", "created_from_cloud", "created_at"})
}

func TestGetAll_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := accountRows().
		AddRow("a-1", "s-1", "a@x.com", "Jean", "Rakoto", true, now).
		AddRow("a-2", "", "b@x.com", "Naina", "", false, now)
	mock.ExpectQuery(`(?s)^SELECT\s+.*\s+FROM\s+accounts\s+ORDER\s+BY\s+created_at$`).
		WillReturnRows(rows)

	got, err := repo.GetAll(context.Background())
	if err != nil {
		t.Fatalf("GetAll error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(got))
	}
	if got[0].CloudSubjectID != "s-1" || got[1].CloudSubjectID != "" {
		t.Fatalf("unexpected subject ids: %+v", got)
	}
}

func TestGetByEmail_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+.*\s+FROM\s+accounts\s+WHERE\s+email\s*=\s*\$1$`).
		WithArgs("ghost@x.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByEmail(context.Background(), "ghost@x.com")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+accounts\s*\(cloud_subject_id,\s*email,\s*given_name,\s*family_name,\s*created_from_cloud\)`).
		WithArgs("s-1", "a@x.com", "Jean", "Rakoto", true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("a-42", now))

	a := &models.Account{CloudSubjectID: "s-1", Email: "a@x.com", GivenName: "Jean", FamilyName: "Rakoto", CreatedFromCloud: true}
	got, err := repo.Create(context.Background(), a)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.ID != "a-42" {
		t.Fatalf("unexpected account: %+v", got)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+accounts`).
		WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), &models.Account{Email: "a@x.com"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestAttachSubjectID_AlreadyLinkedIsNoop(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^UPDATE\s+accounts\s+SET\s+cloud_subject_id\s*=\s*\$2`).
		WithArgs("a-1", "s-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.AttachSubjectID(context.Background(), "a-1", "s-1"); err != nil {
		t.Fatalf("AttachSubjectID error: %v", err)
	}
}
