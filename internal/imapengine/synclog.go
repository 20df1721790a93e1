package imapengine

import (
	"database/sql"
	"fmt"
)

// SyncLog persists the per-folder (uidvalidity, uid_next) pair of
// §4.7's UIDVALIDITY handling, over the `imap_sync` table.
type SyncLog struct {
	db *sql.DB
}

// NewSyncLog wraps an already-migrated database handle.
func NewSyncLog(db *sql.DB) *SyncLog {
	return &SyncLog{db: db}
}

// UIDState is the stored (uidvalidity, uid_next) pair for one folder.
type UIDState struct {
	UIDValidity uint32
	UIDNext     uint32
}

// Get loads the stored state for folder, or the zero state if the
// folder has never been synced (§4.7: "(0,0) — first time").
func (l *SyncLog) Get(folder string) (UIDState, error) {
	var st UIDState
	row := l.db.QueryRow(`SELECT uidvalidity, uid_next FROM imap_sync WHERE folder = ?`, folder)
	err := row.Scan(&st.UIDValidity, &st.UIDNext)
	if err == sql.ErrNoRows {
		return UIDState{}, nil
	}
	if err != nil {
		return UIDState{}, fmt.Errorf("imapengine: load sync state for %q: %w", folder, err)
	}
	return st, nil
}

// Set replaces the stored state for folder.
func (l *SyncLog) Set(folder string, st UIDState) error {
	_, err := l.db.Exec(`
		INSERT INTO imap_sync (folder, uidvalidity, uid_next) VALUES (?, ?, ?)
		ON CONFLICT(folder) DO UPDATE SET uidvalidity = excluded.uidvalidity, uid_next = excluded.uid_next`,
		folder, st.UIDValidity, st.UIDNext)
	if err != nil {
		return fmt.Errorf("imapengine: save sync state for %q: %w", folder, err)
	}
	return nil
}
