package jobqueue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hkdb/aerion-core/internal/database"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewQueue(db.DB)
}

func TestDispatchDueRunsOnlyDueJobs(t *testing.T) {
	q := newTestQueue(t)

	var ran []int64
	q.RegisterHandler("ping", HandlerFunc(func(ctx context.Context, j *Job) Result {
		ran = append(ran, j.ID)
		return ResultSuccess
	}))

	dueID, err := q.Add("ping", 1, "", ThreadSMTP, 0)
	if err != nil {
		t.Fatalf("add due job: %v", err)
	}
	if _, err := q.Add("ping", 2, "", ThreadSMTP, time.Hour); err != nil {
		t.Fatalf("add future job: %v", err)
	}

	n, err := q.DispatchDue(context.Background(), ThreadSMTP)
	if err != nil {
		t.Fatalf("dispatch due: %v", err)
	}
	if n != 1 {
		t.Fatalf("dispatched %d jobs, want 1 (the future job must not run yet)", n)
	}
	if len(ran) != 1 || ran[0] != dueID {
		t.Fatalf("ran = %v, want [%d]", ran, dueID)
	}

	var count int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE thread = ?`, ThreadSMTP).Scan(&count); err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if count != 1 {
		t.Fatalf("jobs remaining = %d, want 1 (successful job deleted, future job kept)", count)
	}
}

func TestRetryLaterReschedulesWithBackoff(t *testing.T) {
	q := newTestQueue(t)

	attempts := 0
	q.RegisterHandler("flaky", HandlerFunc(func(ctx context.Context, j *Job) Result {
		attempts++
		return ResultRetryLater
	}))

	id, err := q.Add("flaky", 1, "", ThreadSMTP, 0)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	if _, err := q.DispatchDue(context.Background(), ThreadSMTP); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}

	var tries int
	var desired int64
	if err := q.db.QueryRow(`SELECT tries, desired_timestamp FROM jobs WHERE id = ?`, id).Scan(&tries, &desired); err != nil {
		t.Fatalf("query job: %v", err)
	}
	if tries != 1 {
		t.Fatalf("tries = %d, want 1", tries)
	}
	if desired <= q.now() {
		t.Fatalf("desired_timestamp %d should be pushed into the future after retry-later", desired)
	}

	n, err := q.DispatchDue(context.Background(), ThreadSMTP)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if n != 0 {
		t.Fatalf("dispatched %d jobs immediately after retry-later, want 0 (not due yet)", n)
	}
}

func TestFailedJobIsRemoved(t *testing.T) {
	q := newTestQueue(t)

	q.RegisterHandler("doomed", HandlerFunc(func(ctx context.Context, j *Job) Result {
		return ResultFailed
	}))

	if _, err := q.Add("doomed", 1, "", ThreadSMTP, 0); err != nil {
		t.Fatalf("add job: %v", err)
	}
	if _, err := q.DispatchDue(context.Background(), ThreadSMTP); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	var count int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM jobs`).Scan(&count); err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if count != 0 {
		t.Fatalf("jobs remaining = %d, want 0 (failed job removed per §4.8)", count)
	}
}
