package contactsync

import (
	"context"
	"sync"
	"time"

	"github.com/hkdb/aerion-core/internal/logging"
	"github.com/rs/zerolog"
)

// defaultInterval is how often sources are checked for staleness; the
// teacher's carddav scheduler used the same one-minute poll against a
// per-source interval, which this package doesn't model as a column
// (every source syncs on the same cadence).
const defaultInterval = 1 * time.Minute

// staleAfter is how long since a source's last sync before it's due
// again.
const staleAfter = 30 * time.Minute

// Scheduler runs periodic background syncs of every configured address
// book, adapted from the teacher's internal/carddav/scheduler.go loop
// shape (ticker + cooperative-cancel context + WaitGroup).
type Scheduler struct {
	syncer *Syncer
	store  *Store
	log    zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

func NewScheduler(syncer *Syncer, store *Store) *Scheduler {
	return &Scheduler{
		syncer: syncer,
		store:  store,
		log:    logging.WithComponent("contactsync-scheduler"),
	}
}

// Start begins the background sync loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.wg.Add(1)
	go s.run()
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.running = false
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(defaultInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.syncDueSources()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) syncDueSources() {
	sources, err := s.store.ListSources()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list address books for sync check")
		return
	}
	now := time.Now().Unix()
	for _, src := range sources {
		if src.LastSyncAt != 0 && now-src.LastSyncAt < int64(staleAfter.Seconds()) {
			continue
		}
		go func(id string) {
			n, err := s.syncer.SyncSource(s.ctx, id)
			if err != nil {
				s.log.Warn().Err(err).Str("source", id).Msg("background address book sync failed")
				return
			}
			if err := s.store.MarkSynced(id, time.Now().Unix()); err != nil {
				s.log.Warn().Err(err).Str("source", id).Msg("failed to record sync timestamp")
			}
			s.log.Debug().Str("source", id).Int("enriched", n).Msg("address book sync complete")
		}(src.ID)
	}
}
