package imapengine

import (
	"context"
	"sync"
	"time"

	"github.com/hkdb/aerion-core/internal/imap"
)

// pollInterval is the fallback cadence when IDLE is unavailable or
// between IDLE cycles, mirroring jobqueue.Worker's poll+interrupt shape.
const pollInterval = 5 * time.Minute

// Worker drives one folder kind's connect->poll->idle loop (§5's
// one-worker-per-thread model applied to the IMAP side). InterruptIdle
// lets an IDLE notification or an externally triggered sync collapse
// the current wait instead of sitting out the rest of pollInterval.
type Worker struct {
	engine *Engine
	kind   Kind

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	interrupt chan struct{}

	runningMu sync.Mutex
	running   bool
}

// NewWorker creates a poll/IDLE-driven worker for one folder kind.
func NewWorker(e *Engine, k Kind) *Worker {
	return &Worker{
		engine:    e,
		kind:      k,
		interrupt: make(chan struct{}, 1),
	}
}

// Start begins the worker's connect->fetch->idle loop.
func (w *Worker) Start(ctx context.Context) {
	w.runningMu.Lock()
	defer w.runningMu.Unlock()
	if w.running {
		return
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.running = true

	w.wg.Add(1)
	go w.run()
}

// Stop cancels the loop and waits for it to exit.
func (w *Worker) Stop() {
	w.runningMu.Lock()
	defer w.runningMu.Unlock()
	if !w.running {
		return
	}
	w.cancel()
	w.wg.Wait()
	w.running = false
}

// InterruptIdle wakes the worker immediately, e.g. on an IDLE EXISTS
// notification or a user-triggered manual sync.
func (w *Worker) InterruptIdle() {
	select {
	case w.interrupt <- struct{}{}:
	default:
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		if _, err := w.engine.Poll(w.ctx, w.kind); err != nil {
			if w.ctx.Err() != nil {
				return
			}
			w.engine.log.Warn().Err(err).Str("kind", string(w.kind)).Msg("poll failed")
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-w.ctx.Done():
			timer.Stop()
			return
		case <-w.interrupt:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// WorkerSet owns one Worker per watched folder kind plus the IDLE
// connection that wakes them on unilateral server notifications.
type WorkerSet struct {
	engine  *Engine
	workers map[Kind]*Worker
	idle    *imap.IdleManager
}

// NewWorkerSet builds workers for the folder kinds the account config
// says to watch, and an IDLE manager that interrupts the inbox worker
// on new-mail notifications.
func NewWorkerSet(e *Engine, getCredentials func(accountID string) (*imap.ClientConfig, error)) *WorkerSet {
	ws := &WorkerSet{
		engine:  e,
		workers: make(map[Kind]*Worker),
	}

	if e.cfg.InboxWatch {
		ws.workers[KindInbox] = NewWorker(e, KindInbox)
	}
	if e.cfg.MvboxWatch {
		ws.workers[KindMvbox] = NewWorker(e, KindMvbox)
	}
	if e.cfg.SentboxWatch {
		ws.workers[KindSentbox] = NewWorker(e, KindSentbox)
	}

	if getCredentials != nil {
		ws.idle = imap.NewIdleManager(imap.DefaultIdleConfig(), getCredentials)
	}
	return ws
}

// Start launches every configured worker and, if IDLE is wired, starts
// watching the inbox for unilateral EXISTS/EXPUNGE notifications.
func (ws *WorkerSet) Start(ctx context.Context) {
	for _, w := range ws.workers {
		w.Start(ctx)
	}
	if ws.idle == nil {
		return
	}
	ws.idle.Start(ctx)
	ws.idle.StartAccount(ws.engine.cfg.AccountID, ws.engine.cfg.AccountID)
	go ws.watchIdleEvents(ctx)
}

// Stop tears down every worker and the IDLE manager.
func (ws *WorkerSet) Stop() {
	for _, w := range ws.workers {
		w.Stop()
	}
	if ws.idle != nil {
		ws.idle.Stop()
	}
}

// TriggerSync wakes the worker for k immediately, e.g. after a manual
// "check for new mail" request.
func (ws *WorkerSet) TriggerSync(k Kind) {
	if w, ok := ws.workers[k]; ok {
		w.InterruptIdle()
	}
}

func (ws *WorkerSet) watchIdleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ws.idle.Events():
			if !ok {
				return
			}
			if ev.Type != imap.EventNewMail {
				continue
			}
			if w, ok := ws.workers[KindInbox]; ok {
				w.InterruptIdle()
			}
		}
	}
}
