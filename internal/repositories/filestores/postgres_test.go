package filestores

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/fsmirror/internal/common"
	"github.com/dmitrijs2005/fsmirror/internal/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var fsCols = []string{
	"id", "user", "created_at", "updated_at", "name", "display_name",
	"create_time", "update_time", "active_documents_count", "pending_documents_count",
	"failed_documents_count", "size_bytes", "metadata", "error", "ref",
}

func filestoreRow(id int64, displayName string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(fsCols).AddRow(
		id, nil, now, now, "fileSearchStores/s1", displayName,
		"", "", int64(0), int64(0), int64(0), int64(0), nil, nil, nil,
	)
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`(?s)INSERT INTO filestores .* ON CONFLICT \("user", display_name\) DO NOTHING\s+RETURNING id, created_at, updated_at`)

	now := time.Now()
	mock.ExpectQuery(q.String()).
		WithArgs(nil, "fileSearchStores/s1", "docs", "", "", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(7), now, now))

	fs := &models.Filestore{Name: "fileSearchStores/s1", DisplayName: "docs"}
	if err := repo.Create(context.Background(), fs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs.ID != 7 {
		t.Fatalf("want id 7, got %d", fs.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_DuplicateDisplayName(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`(?s)INSERT INTO filestores .* ON CONFLICT \("user", display_name\) DO NOTHING`)
	mock.ExpectQuery(q.String()).
		WithArgs(nil, "", "docs", "", "", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}))

	err := repo.Create(context.Background(), &models.Filestore{DisplayName: "docs"})
	if !errors.Is(err, common.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`SELECT .* FROM filestores WHERE id = \$1 AND "user" IS NOT DISTINCT FROM \$2`)
	mock.ExpectQuery(q.String()).WithArgs(int64(99), nil).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 99, nil)
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestList_ScopedToUser(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`SELECT .* FROM filestores WHERE "user" IS NOT DISTINCT FROM \$1 ORDER BY id DESC`)

	rows := filestoreRow(2, "notes")
	rows.AddRow(
		int64(1), "alice", time.Now(), time.Now(), "", "docs",
		"", "", int64(3), int64(1), int64(0), int64(4567), nil, nil, nil,
	)
	mock.ExpectQuery(q.String()).WithArgs("alice").WillReturnRows(rows)

	user := "alice"
	got, err := repo.List(context.Background(), &user)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 filestores, got %d", len(got))
	}
	if got[1].DisplayName != "docs" || got[1].ActiveDocumentsCount != 3 {
		t.Fatalf("unexpected filestore: %+v", got[1])
	}
}

func TestUpdateRemoteInfo_KeepsStoredValuesWhenEmpty(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`(?s)UPDATE filestores\s+SET name = COALESCE\(NULLIF\(\$2, ''\), name\),\s+create_time = COALESCE\(NULLIF\(\$3, ''\), create_time\)`)
	mock.ExpectExec(q.String()).
		WithArgs(int64(7), "fileSearchStores/s1", "2026-01-02T03:04:05Z", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateRemoteInfo(context.Background(), 7, "fileSearchStores/s1", "2026-01-02T03:04:05Z", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecomputeStats_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`(?s)UPDATE filestores f\s+SET active_documents_count = s\.active,.*COUNT\(\*\) FILTER \(WHERE state = 'STATE_ACTIVE'\) AS active,\s*COUNT\(\*\) FILTER \(WHERE state = 'STATE_PENDING' AND error IS NULL\) AS pending,\s*COUNT\(\*\) FILTER \(WHERE state = 'STATE_FAILED' OR error IS NOT NULL\) AS failed,\s*COALESCE\(SUM\(size\), 0\) AS size`)
	mock.ExpectExec(q.String()).WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.RecomputeStats(context.Background(), 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecomputeStats_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`(?s)UPDATE filestores f\s+SET active_documents_count`)
	mock.ExpectExec(q.String()).WithArgs(int64(99)).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RecomputeStats(context.Background(), 99)
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDelete_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`DELETE FROM filestores WHERE id = \$1 AND "user" IS NOT DISTINCT FROM \$2`)
	mock.ExpectExec(q.String()).WithArgs(int64(7), nil).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Delete(context.Background(), 7, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
