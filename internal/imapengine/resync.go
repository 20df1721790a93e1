package imapengine

import "github.com/hkdb/aerion-core/internal/imap"

// resyncDecision is the outcome of reconciling a SELECT response
// against the stored (uidvalidity, uid_next) pair (§4.7).
type resyncDecision struct {
	// NewState is what must be written back to the sync log.
	NewState UIDState
	// NeedsFullResync is true when uidvalidity changed: the caller
	// must schedule a backfill and report zero new messages this cycle.
	NeedsFullResync bool
	// CandidateStart is the first UID to prefetch (inclusive), valid
	// only when NeedsFullResync is false.
	CandidateStart uint32
	// HasCandidates is false when there is nothing to fetch this cycle
	// (empty mailbox, or uid_next unchanged since the last sync).
	HasCandidates bool
}

// resolveResync implements §4.7's three SELECT cases plus the boundary
// rule that an empty mailbox always sets uid_next := 1 with nothing to
// fetch (§8).
func resolveResync(stored UIDState, selected *imap.Mailbox) resyncDecision {
	if selected.Messages == 0 {
		return resyncDecision{
			NewState: UIDState{UIDValidity: selected.UIDValidity, UIDNext: 1},
		}
	}

	switch {
	case stored.UIDValidity == 0 && stored.UIDNext == 0:
		// First time: adopt the current pair and fetch everything present
		// (UID 1..uid_next-1) as the account's initial baseline. "Without
		// resync" means no resync-folder job is scheduled, not that the
		// initial SELECT skips downloading the mailbox's current contents.
		d := resyncDecision{
			NewState:      UIDState{UIDValidity: selected.UIDValidity, UIDNext: selected.UIDNext},
			CandidateStart: 1,
		}
		if maxPossibleUID(selected) >= 1 {
			d.HasCandidates = true
		}
		return d

	case stored.UIDValidity == selected.UIDValidity:
		// Unchanged: only UIDs >= stored uid_next are new candidates.
		d := resyncDecision{
			NewState:      UIDState{UIDValidity: selected.UIDValidity, UIDNext: selected.UIDNext},
			CandidateStart: stored.UIDNext,
		}
		if stored.UIDNext <= maxPossibleUID(selected) {
			d.HasCandidates = true
		}
		return d

	default:
		// Changed: replace stored pair, schedule a full resync, and
		// report no new messages for this cycle (the resync backfills).
		return resyncDecision{
			NewState:        UIDState{UIDValidity: selected.UIDValidity, UIDNext: selected.UIDNext},
			NeedsFullResync: true,
		}
	}
}

// maxPossibleUID is a defensive upper bound so CandidateStart > the
// server's current uid_next never reports bogus candidates (§8: a
// prefetch with uid_next = U against a mailbox whose max UID < U must
// return zero candidates).
func maxPossibleUID(selected *imap.Mailbox) uint32 {
	if selected.UIDNext == 0 {
		return 0
	}
	return selected.UIDNext - 1
}
