package jobqueue

import (
	"context"
	"sync"
	"time"
)

// Worker runs DispatchDue for a single thread on a poll interval,
// honoring an external interrupt primitive the same way the IMAP
// engine's IDLE loop does (§4.7/§5): InterruptNow collapses the
// current sleep so a freshly enqueued job runs without waiting out the
// rest of the poll interval.
type Worker struct {
	queue    *Queue
	thread   string
	interval time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	interrupt chan struct{}

	runningMu sync.Mutex
	running   bool
}

// NewWorker creates a poll-driven dispatcher for one job thread.
func NewWorker(queue *Queue, thread string, interval time.Duration) *Worker {
	return &Worker{
		queue:     queue,
		thread:    thread,
		interval:  interval,
		interrupt: make(chan struct{}, 1),
	}
}

// Start begins the worker's connect->drain-jobs->idle loop.
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

// InterruptNow wakes the worker immediately instead of waiting for the
// rest of its poll interval to elapse.
func (w *Worker) InterruptNow() {
	select {
	case w.interrupt <- struct{}{}:
	default:
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		if _, err := w.queue.DispatchDue(w.ctx, w.thread); err != nil {
			if w.ctx.Err() != nil {
				return
			}
			w.queue.log.Error().Err(err).Str("thread", w.thread).Msg("dispatch failed")
		}

		timer := time.NewTimer(w.interval)
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
