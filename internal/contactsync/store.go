package contactsync

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Store persists contact_sources rows.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// AddSource registers a new address book, generating its id.
func (s *Store) AddSource(url, username string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO contact_sources (id, url, username) VALUES (?, ?, ?)`, id, url, username)
	if err != nil {
		return "", fmt.Errorf("contactsync: add source: %w", err)
	}
	return id, nil
}

// RemoveSource deletes a source by id.
func (s *Store) RemoveSource(id string) error {
	_, err := s.db.Exec(`DELETE FROM contact_sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("contactsync: remove source: %w", err)
	}
	return nil
}

// ListSources returns every configured address book.
func (s *Store) ListSources() ([]*Source, error) {
	rows, err := s.db.Query(`SELECT id, url, username, last_sync_at FROM contact_sources`)
	if err != nil {
		return nil, fmt.Errorf("contactsync: list sources: %w", err)
	}
	defer rows.Close()

	var out []*Source
	for rows.Next() {
		src := &Source{}
		if err := rows.Scan(&src.ID, &src.URL, &src.Username, &src.LastSyncAt); err != nil {
			return nil, fmt.Errorf("contactsync: scan source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// GetSource loads one address book by id.
func (s *Store) GetSource(id string) (*Source, error) {
	src := &Source{}
	err := s.db.QueryRow(`SELECT id, url, username, last_sync_at FROM contact_sources WHERE id = ?`, id).
		Scan(&src.ID, &src.URL, &src.Username, &src.LastSyncAt)
	if err != nil {
		return nil, fmt.Errorf("contactsync: get source %s: %w", id, err)
	}
	return src, nil
}

// MarkSynced stamps a source with the time of its last completed sync.
func (s *Store) MarkSynced(id string, at int64) error {
	_, err := s.db.Exec(`UPDATE contact_sources SET last_sync_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("contactsync: mark synced: %w", err)
	}
	return nil
}
