// Package jobqueue implements the persistent job queue of §4.8: a
// table of pending actions dispatched per network "thread" (IMAP
// inbox/mvbox/sentbox, or SMTP), each handled by an idempotent handler
// that reports success, retry-later, retry-now, or failed.
package jobqueue

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/hkdb/aerion-core/internal/logging"
	"github.com/rs/zerolog"
)

// Thread selects which worker a job is routed to (§5's one-worker-per-
// network-thread model).
const (
	ThreadImapInbox   = "imap.inbox"
	ThreadImapMvbox   = "imap.mvbox"
	ThreadImapSentbox = "imap.sentbox"
	ThreadSMTP        = "smtp"
)

// Action names recognized by the built-in handlers; callers may
// register their own.
const (
	ActionSendMsg           = "send-msg"
	ActionDeleteMsgOnImap   = "delete-msg-on-imap"
	ActionMarkseenMsgOnImap = "markseen-msg-on-imap"
	ActionMoveMsg           = "move-msg"
	ActionEmptyFolder       = "empty-folder"
	ActionResyncFolder      = "resync-folder"
)

// Result is what a Handler reports after attempting a job.
type Result int

const (
	ResultSuccess Result = iota
	ResultRetryLater
	ResultRetryNow
	ResultFailed
)

// Job is a row of the jobs table.
type Job struct {
	ID               int64
	Action           string
	ForeignID        int64
	Param            string
	AddedTimestamp   int64
	DesiredTimestamp int64
	Tries            int
	Thread           string
}

// Handler performs one job action. Handlers must be idempotent: a job
// may be retried after a crash between "action performed" and "row
// deleted".
type Handler interface {
	Handle(ctx context.Context, job *Job) Result
}

// HandlerFunc adapts a plain function to a Handler.
type HandlerFunc func(ctx context.Context, job *Job) Result

func (f HandlerFunc) Handle(ctx context.Context, job *Job) Result { return f(ctx, job) }

// Retry backoff parameters: desired_timestamp on retry-later is pushed
// out by baseBackoff*2^tries, capped at maxBackoff.
const (
	baseBackoff = 1 * time.Minute
	maxBackoff  = 24 * time.Hour
	maxTries    = 17 // backoff already reaches maxBackoff from tries=11 (2^11 min > 24h); this only bounds the shift
)

// Queue dispatches due jobs per thread against registered handlers.
type Queue struct {
	db  *sql.DB
	log zerolog.Logger
	now func() int64

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewQueue creates a job queue over an already-migrated database handle.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		db:       db,
		log:      logging.WithComponent("jobqueue"),
		now:      func() int64 { return time.Now().Unix() },
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler binds a handler to an action name. A later call for
// the same action replaces the previous handler.
func (q *Queue) RegisterHandler(action string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[action] = h
}

// Add enqueues a new job, due either immediately (delay<=0) or after
// delay.
func (q *Queue) Add(action string, foreignID int64, param, thread string, delay time.Duration) (int64, error) {
	now := q.now()
	desired := now
	if delay > 0 {
		desired = now + int64(delay/time.Second)
	}
	res, err := q.db.Exec(`
		INSERT INTO jobs (action, foreign_id, param, added_timestamp, desired_timestamp, tries, thread)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		action, foreignID, param, now, desired, thread)
	if err != nil {
		return 0, fmt.Errorf("jobqueue: add job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("jobqueue: add job id: %w", err)
	}
	return id, nil
}

// DispatchDue runs every due job on thread once, in ascending
// desired_timestamp order, and reports how many jobs it attempted.
func (q *Queue) DispatchDue(ctx context.Context, thread string) (int, error) {
	now := q.now()
	rows, err := q.db.Query(`
		SELECT id, action, foreign_id, param, added_timestamp, desired_timestamp, tries, thread
		FROM jobs WHERE thread = ? AND desired_timestamp <= ?
		ORDER BY desired_timestamp, id`, thread, now)
	if err != nil {
		return 0, fmt.Errorf("jobqueue: query due jobs: %w", err)
	}

	var due []*Job
	for rows.Next() {
		j := &Job{}
		if err := rows.Scan(&j.ID, &j.Action, &j.ForeignID, &j.Param, &j.AddedTimestamp, &j.DesiredTimestamp, &j.Tries, &j.Thread); err != nil {
			rows.Close()
			return 0, fmt.Errorf("jobqueue: scan job: %w", err)
		}
		due = append(due, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("jobqueue: iterate due jobs: %w", err)
	}

	for _, j := range due {
		select {
		case <-ctx.Done():
			return len(due), ctx.Err()
		default:
		}
		q.runOne(ctx, j)
	}
	return len(due), nil
}

func (q *Queue) runOne(ctx context.Context, j *Job) {
	q.mu.RLock()
	h, ok := q.handlers[j.Action]
	q.mu.RUnlock()
	if !ok {
		q.log.Error().Str("action", j.Action).Int64("job", j.ID).Msg("no handler registered for job action")
		return
	}

	result := h.Handle(ctx, j)
	switch result {
	case ResultSuccess, ResultFailed:
		if _, err := q.db.Exec(`DELETE FROM jobs WHERE id = ?`, j.ID); err != nil {
			q.log.Error().Err(err).Int64("job", j.ID).Msg("failed to remove completed job")
		}
	case ResultRetryNow:
		if _, err := q.db.Exec(`UPDATE jobs SET tries = tries + 1 WHERE id = ?`, j.ID); err != nil {
			q.log.Error().Err(err).Int64("job", j.ID).Msg("failed to bump retry count")
		}
	case ResultRetryLater:
		tries := j.Tries + 1
		if tries > maxTries {
			tries = maxTries
		}
		desired := q.now() + int64(backoff(tries)/time.Second)
		if _, err := q.db.Exec(`UPDATE jobs SET tries = ?, desired_timestamp = ? WHERE id = ?`, tries, desired, j.ID); err != nil {
			q.log.Error().Err(err).Int64("job", j.ID).Msg("failed to reschedule retry-later job")
		}
	}
}

func backoff(tries int) time.Duration {
	d := baseBackoff << uint(tries)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}
