package imapengine

import (
	"context"
	"fmt"
	"strings"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/hkdb/aerion-core/internal/imap"
	"github.com/hkdb/aerion-core/internal/jobqueue"
)

// jobParam is the "folder\nuid\nmessageId" triple §4.8 jobs carry in
// their opaque param column.
type jobParam struct {
	Folder    string
	UID       uint32
	MessageID string
}

func encodeJobParam(p jobParam) string {
	return fmt.Sprintf("%s\n%d\n%s", p.Folder, p.UID, p.MessageID)
}

func decodeJobParam(s string) (jobParam, error) {
	parts := strings.SplitN(s, "\n", 3)
	if len(parts) < 2 {
		return jobParam{}, fmt.Errorf("imapengine: malformed job param %q", s)
	}
	var p jobParam
	p.Folder = parts[0]
	if _, err := fmt.Sscanf(parts[1], "%d", &p.UID); err != nil {
		return jobParam{}, fmt.Errorf("imapengine: malformed uid in job param %q: %w", s, err)
	}
	if len(parts) == 3 {
		p.MessageID = parts[2]
	}
	return p, nil
}

// registerJobHandlers wires the move/seen/delete jobs of §4.8 against
// the job queue. Called once from NewEngine.
func (e *Engine) registerJobHandlers() {
	e.jobs.RegisterHandler(jobqueue.ActionMarkseenMsgOnImap, jobqueue.HandlerFunc(e.handleMarkseen))
	e.jobs.RegisterHandler(jobqueue.ActionMoveMsg, jobqueue.HandlerFunc(e.handleMove))
	e.jobs.RegisterHandler(jobqueue.ActionDeleteMsgOnImap, jobqueue.HandlerFunc(e.handleDelete))
	e.jobs.RegisterHandler(jobqueue.ActionEmptyFolder, jobqueue.HandlerFunc(e.handleEmptyFolder))
	e.jobs.RegisterHandler(jobqueue.ActionResyncFolder, jobqueue.HandlerFunc(e.handleResync))
}

// EnqueueMarkseen schedules a \Seen flag job for one message.
func (e *Engine) EnqueueMarkseen(folder string, uid uint32, thread string) error {
	_, err := e.jobs.Add(jobqueue.ActionMarkseenMsgOnImap, int64(uid), encodeJobParam(jobParam{Folder: folder, UID: uid}), thread, 0)
	return err
}

// EnqueueMove schedules a move of one message into the movebox.
func (e *Engine) EnqueueMove(folder string, uid uint32, thread string) error {
	_, err := e.jobs.Add(jobqueue.ActionMoveMsg, int64(uid), encodeJobParam(jobParam{Folder: folder, UID: uid}), thread, 0)
	return err
}

// EnqueueDelete schedules a double-checked delete (§4.7): expectedMID
// is the Message-Id the job must still see on the server before it is
// allowed to issue the delete.
func (e *Engine) EnqueueDelete(folder string, uid uint32, expectedMID, thread string) error {
	_, err := e.jobs.Add(jobqueue.ActionDeleteMsgOnImap, int64(uid), encodeJobParam(jobParam{Folder: folder, UID: uid, MessageID: expectedMID}), thread, 0)
	return err
}

func (e *Engine) handleMarkseen(ctx context.Context, job *jobqueue.Job) jobqueue.Result {
	p, err := decodeJobParam(job.Param)
	if err != nil {
		e.log.Error().Err(err).Msg("markseen job: bad param")
		return jobqueue.ResultFailed
	}
	if p.UID == 0 {
		return jobqueue.ResultSuccess // §8: UID 0 is never legal, nothing to do.
	}

	conn, err := e.connect(ctx)
	if err != nil {
		return jobqueue.ResultRetryLater
	}
	defer e.pool.Release(conn)

	if _, err := conn.Client().SelectMailbox(ctx, p.Folder); err != nil {
		e.pool.Discard(conn)
		return jobqueue.ResultRetryLater
	}

	if err := conn.Client().AddMessageFlags([]goimap.UID{goimap.UID(p.UID)}, []goimap.Flag{goimap.FlagSeen}); err != nil {
		if imap.IsConnectionError(err) {
			e.pool.Discard(conn)
			return jobqueue.ResultRetryLater
		}
		e.log.Warn().Err(err).Msg("markseen failed")
		return jobqueue.ResultFailed
	}
	return jobqueue.ResultSuccess
}

func (e *Engine) handleMove(ctx context.Context, job *jobqueue.Job) jobqueue.Result {
	p, err := decodeJobParam(job.Param)
	if err != nil {
		e.log.Error().Err(err).Msg("move job: bad param")
		return jobqueue.ResultFailed
	}
	if p.UID == 0 {
		return jobqueue.ResultSuccess
	}

	dest, ok := e.FolderPath(KindMvbox)
	if !ok {
		return jobqueue.ResultRetryLater // movebox not yet discovered by SyncFolders
	}

	conn, err := e.connect(ctx)
	if err != nil {
		return jobqueue.ResultRetryLater
	}
	defer e.pool.Release(conn)

	if _, err := conn.Client().SelectMailbox(ctx, p.Folder); err != nil {
		e.pool.Discard(conn)
		return jobqueue.ResultRetryLater
	}

	raw := conn.Client().RawClient()
	uidSet := goimap.UIDSet{}
	uidSet.AddNum(goimap.UID(p.UID))

	// Prefer MOVE; fall back to COPY + STORE \Deleted + EXPUNGE (§4.7).
	if conn.Client().HasCap(goimap.CapMove) {
		if err := raw.Move(uidSet, dest).Close(); err != nil {
			if imap.IsConnectionError(err) {
				e.pool.Discard(conn)
				return jobqueue.ResultRetryLater
			}
			e.log.Warn().Err(err).Msg("MOVE failed")
			return jobqueue.ResultFailed
		}
		return jobqueue.ResultSuccess
	}

	if _, err := conn.Client().CopyMessages([]goimap.UID{goimap.UID(p.UID)}, dest); err != nil {
		if imap.IsConnectionError(err) {
			e.pool.Discard(conn)
			return jobqueue.ResultRetryLater
		}
		e.log.Warn().Err(err).Msg("COPY (move fallback) failed")
		return jobqueue.ResultFailed
	}
	if err := conn.Client().DeleteMessageByUID(goimap.UID(p.UID)); err != nil {
		if imap.IsConnectionError(err) {
			e.pool.Discard(conn)
			return jobqueue.ResultRetryLater
		}
		e.log.Warn().Err(err).Msg("delete (move fallback) failed")
		return jobqueue.ResultFailed
	}
	return jobqueue.ResultSuccess
}

// handleDelete implements §4.7's double-checked delete: refetch the
// target UID's Message-Id and abort without deleting if it no longer
// matches (the message moved or was replaced).
func (e *Engine) handleDelete(ctx context.Context, job *jobqueue.Job) jobqueue.Result {
	p, err := decodeJobParam(job.Param)
	if err != nil {
		e.log.Error().Err(err).Msg("delete job: bad param")
		return jobqueue.ResultFailed
	}
	if p.UID == 0 {
		return jobqueue.ResultSuccess
	}

	conn, err := e.connect(ctx)
	if err != nil {
		return jobqueue.ResultRetryLater
	}
	defer e.pool.Release(conn)

	if _, err := conn.Client().SelectMailbox(ctx, p.Folder); err != nil {
		e.pool.Discard(conn)
		return jobqueue.ResultRetryLater
	}

	candidates, err := e.prefetch(ctx, conn.Client().RawClient(), p.UID)
	if err != nil {
		if imap.IsConnectionError(err) {
			e.pool.Discard(conn)
			return jobqueue.ResultRetryLater
		}
		return jobqueue.ResultRetryLater
	}

	var found *prefetchCandidate
	for i := range candidates {
		if candidates[i].UID == p.UID {
			found = &candidates[i]
			break
		}
	}
	if found == nil {
		e.log.Debug().Uint32("uid", p.UID).Msg("delete target already gone")
		return jobqueue.ResultSuccess // "already done / gone"
	}
	if p.MessageID != "" && found.MessageID != p.MessageID {
		e.log.Info().Uint32("uid", p.UID).Str("expected", p.MessageID).Str("got", found.MessageID).
			Msg("delete aborted: message-id no longer matches (moved or replaced)")
		return jobqueue.ResultSuccess
	}

	if err := conn.Client().DeleteMessageByUID(goimap.UID(p.UID)); err != nil {
		if imap.IsConnectionError(err) {
			e.pool.Discard(conn)
			return jobqueue.ResultRetryLater
		}
		e.log.Warn().Err(err).Msg("delete failed")
		return jobqueue.ResultFailed
	}
	return jobqueue.ResultSuccess
}

// handleEmptyFolder SELECTs the folder named in job.Param and EXPUNGEs
// it. No per-folder pending-expunge flag is tracked: the non-UIDPLUS
// delete fallback in internal/imap EXPUNGEs right away, and no code
// path in this repository enqueues this job.
func (e *Engine) handleEmptyFolder(ctx context.Context, job *jobqueue.Job) jobqueue.Result {
	folder := job.Param
	if folder == "" {
		return jobqueue.ResultFailed
	}

	conn, err := e.connect(ctx)
	if err != nil {
		return jobqueue.ResultRetryLater
	}
	defer e.pool.Release(conn)

	if _, err := conn.Client().SelectMailbox(ctx, folder); err != nil {
		e.pool.Discard(conn)
		return jobqueue.ResultRetryLater
	}
	if err := conn.Client().RawClient().Expunge().Close(); err != nil {
		if imap.IsConnectionError(err) {
			e.pool.Discard(conn)
			return jobqueue.ResultRetryLater
		}
		e.log.Warn().Err(err).Msg("expunge failed")
		return jobqueue.ResultFailed
	}
	return jobqueue.ResultSuccess
}

// handleResync performs the full backfill scheduled when UIDVALIDITY
// changed: it prefetches and fetches every UID from 1, relying on
// KnownMessageID precheck in fetchAndReceive's caller to skip anything
// already stored.
func (e *Engine) handleResync(ctx context.Context, job *jobqueue.Job) jobqueue.Result {
	folder := job.Param
	if folder == "" {
		return jobqueue.ResultFailed
	}

	conn, err := e.connect(ctx)
	if err != nil {
		return jobqueue.ResultRetryLater
	}
	defer e.pool.Release(conn)

	if _, err := conn.Client().SelectMailbox(ctx, folder); err != nil {
		e.pool.Discard(conn)
		return jobqueue.ResultRetryLater
	}

	candidates, err := e.prefetch(ctx, conn.Client().RawClient(), 1)
	if err != nil {
		if imap.IsConnectionError(err) {
			e.pool.Discard(conn)
		}
		return jobqueue.ResultRetryLater
	}

	var toFetch []uint32
	for _, c := range candidates {
		if c.UID == 0 {
			continue
		}
		if c.MessageID != "" {
			if known, err := e.receiver.KnownMessageID(c.MessageID); err == nil && known {
				continue
			}
		}
		toFetch = append(toFetch, c.UID)
	}
	if len(toFetch) == 0 {
		return jobqueue.ResultSuccess
	}

	if _, err := e.fetchAndReceive(ctx, conn.Client().RawClient(), folder, toFetch); err != nil {
		if imap.IsConnectionError(err) {
			e.pool.Discard(conn)
			return jobqueue.ResultRetryLater
		}
		return jobqueue.ResultRetryLater
	}
	return jobqueue.ResultSuccess
}
