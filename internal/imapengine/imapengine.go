// Package imapengine implements the IMAP engine (C9) of §4.7: folder
// classification, UIDVALIDITY/uid_next resync, two-phase
// prefetch-then-fetch, IDLE with an interrupt primitive, and the
// move/seen/delete jobs of §4.8. It is the IMAP-side collaborator the
// receive pipeline (C7) depends on; this package owns the connection
// pool and folder bookkeeping, the pipeline owns message semantics.
//
// Grounded on internal/imap/{client,pool,idle}.go for the connection
// and IDLE machinery, and internal/sync/{fetch,folders}.go for the
// prefetch-then-fetch and folder-listing shape.
package imapengine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hkdb/aerion-core/internal/imap"
	"github.com/hkdb/aerion-core/internal/jobqueue"
	"github.com/hkdb/aerion-core/internal/logging"
	"github.com/hkdb/aerion-core/internal/pipeline"
	"github.com/rs/zerolog"
)

// Receiver is the capability the IMAP engine needs from the receive
// pipeline (C7) to turn a fetched body into chat state. Modeling it as
// an interface keeps the engine ignorant of chat/peer-state semantics,
// per §9's note on the callback-based `cb_receive_imf` boundary.
type Receiver interface {
	Receive(raw []byte, serverFolder string, serverUID uint32) (*pipeline.ReceiveResult, error)
	KnownMessageID(mid string) (bool, error)
}

// Config carries the per-account settings that shape engine behavior
// (§6's config-key table, the subset the IMAP engine reads directly).
type Config struct {
	AccountID    string
	MoveboxName  string // imap_folder; default "DeltaChat" if empty
	MvboxMove    bool   // whether chat messages get moved server-side into the movebox
	InboxWatch   bool
	MvboxWatch   bool
	SentboxWatch bool
}

func (c Config) moveboxName() string {
	if c.MoveboxName != "" {
		return c.MoveboxName
	}
	return "DeltaChat"
}

// Engine drives one account's IMAP connections: folder sync, fetch,
// IDLE, and the move/seen/delete jobs registered against a job queue.
type Engine struct {
	cfg      Config
	pool     *imap.Pool
	jobs     *jobqueue.Queue
	receiver Receiver
	sync     *SyncLog
	log      zerolog.Logger

	folders *folderCache
}

// NewEngine builds an IMAP engine over an already-open pool and a
// migrated database handle (for the imap_sync table).
func NewEngine(cfg Config, pool *imap.Pool, jobs *jobqueue.Queue, receiver Receiver, db *sql.DB) *Engine {
	e := &Engine{
		cfg:      cfg,
		pool:     pool,
		jobs:     jobs,
		receiver: receiver,
		sync:     NewSyncLog(db),
		log:      logging.WithComponent("imapengine").With().Str("account", cfg.AccountID).Logger(),
		folders:  newFolderCache(),
	}
	e.registerJobHandlers()
	return e
}

// Connect acquires a pooled connection for this engine's account.
func (e *Engine) connect(ctx context.Context) (*imap.PooledConnection, error) {
	conn, err := e.pool.GetConnection(ctx, e.cfg.AccountID)
	if err != nil {
		return nil, fmt.Errorf("imapengine: get connection: %w", err)
	}
	return conn, nil
}
