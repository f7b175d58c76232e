package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ironclaw/ironclaw/pkg/models"
)

func mockStore(t *testing.T) (*CockroachStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &CockroachStore{db: db}, mock
}

func TestCockroachCreateInsertsRow(t *testing.T) {
	store, mock := mockStore(t)
	mock.ExpectExec(`INSERT INTO tool_jobs`).
		WithArgs("j1", "fetch", "call_1", "running", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Create(context.Background(), &Job{
		ID:         "j1",
		ToolName:   "fetch",
		ToolCallID: "call_1",
		Status:     StatusRunning,
		CreatedAt:  time.Now(),
		StartedAt:  time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCockroachGetScansResultJSON(t *testing.T) {
	store, mock := mockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "tool_name", "tool_call_id", "status", "created_at", "started_at", "finished_at", "result", "error_message",
	}).AddRow("j1", "fetch", "call_1", "succeeded", now, now, now, []byte(`{"tool_call_id":"call_1","content":"ok"}`), nil)
	mock.ExpectQuery(`SELECT .* FROM tool_jobs WHERE id = \$1`).WithArgs("j1").WillReturnRows(rows)

	job, err := store.Get(context.Background(), "j1")
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.Status != StatusSucceeded {
		t.Fatalf("job = %+v", job)
	}
	if job.Result == nil || job.Result.Content != "ok" {
		t.Fatalf("result = %+v", job.Result)
	}
}

func TestCockroachGetMissingReturnsNil(t *testing.T) {
	store, mock := mockStore(t)
	mock.ExpectQuery(`SELECT .* FROM tool_jobs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tool_name", "tool_call_id", "status", "created_at", "started_at", "finished_at", "result", "error_message",
		}))

	job, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if job != nil {
		t.Fatalf("expected nil for missing job, got %+v", job)
	}
}

func TestCockroachUpdateWritesResult(t *testing.T) {
	store, mock := mockStore(t)
	mock.ExpectExec(`UPDATE tool_jobs`).
		WithArgs("j1", "fetch", "call_1", "failed", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Update(context.Background(), &Job{
		ID:         "j1",
		ToolName:   "fetch",
		ToolCallID: "call_1",
		Status:     StatusFailed,
		CreatedAt:  time.Now(),
		Error:      "boom",
		Result:     &models.ToolResult{ToolCallID: "call_1", Content: "partial", IsError: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCockroachPruneReturnsDeletedCount(t *testing.T) {
	store, mock := mockStore(t)
	mock.ExpectExec(`DELETE FROM tool_jobs WHERE created_at < \$1`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := store.Prune(context.Background(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Fatalf("pruned = %d", n)
	}
}

func TestCockroachCancelOnlyTouchesActiveJobs(t *testing.T) {
	store, mock := mockStore(t)
	mock.ExpectExec(`UPDATE tool_jobs`).
		WithArgs("j1", "failed", "job cancelled", sqlmock.AnyArg(), "running", "queued").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Cancel(context.Background(), "j1"); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
