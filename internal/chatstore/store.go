package chatstore

import (
	"database/sql"

	"github.com/hkdb/aerion-core/internal/logging"
	"github.com/rs/zerolog"
)

// Store wraps the shared SQLite connection with every chat/contact/
// message/token/location persistence operation. It mirrors the
// teacher's per-concern Store-wrapping-the-pool convention but, unlike
// the teacher's per-feature stores, groups every C6 table under one
// Store since they're transactionally entangled (a single inbound
// message touches contacts, chats, chats_contacts and msgs together).
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a chat/contact/message store over an already-opened
// and migrated database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		log: logging.WithComponent("chatstore"),
	}
}
