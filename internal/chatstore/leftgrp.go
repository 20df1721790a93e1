package chatstore

import (
	"database/sql"
	"fmt"
)

// MarkLeft records grpid as explicitly left, so a later re-add by a
// peer produces no membership change (§8 scenario: leftgrps guard).
func (s *Store) MarkLeft(grpid string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO leftgrps (grpid) VALUES (?)`, grpid)
	if err != nil {
		return fmt.Errorf("chatstore: mark left: %w", err)
	}
	return nil
}

// HasLeft reports whether grpid is in the leftgrps table.
func (s *Store) HasLeft(grpid string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM leftgrps WHERE grpid = ?`, grpid).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("chatstore: has left: %w", err)
	}
	return true, nil
}
