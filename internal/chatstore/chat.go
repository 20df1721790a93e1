package chatstore

import (
	"database/sql"
	"fmt"
)

// Chat type values (§3).
const (
	ChatTypeSingle        = 100
	ChatTypeGroup         = 120
	ChatTypeVerifiedGroup = 130
)

// Reserved chat ids (§3: "ids < 10 reserved").
const (
	ChatDeaddrop int64 = 1
	ChatStarred  int64 = 5
	ChatArchived int64 = 6
)

// Chat blocked-state values. 0 means accepted; the deaddrop pseudo-chat
// itself uses type, not this flag, to collect unaccepted senders, but
// an individual 1:1 chat can still be parked in the "request" state
// while its contact is unaccepted.
const (
	BlockedNot     = 0
	BlockedManual  = 1
	BlockedRequest = 2
)

// Chat is a row of the chats table.
type Chat struct {
	ID                 int64
	Type               int
	Name               string
	GrpID              string
	Archived           bool
	Blocked            int
	CreatedAt          int64
	Param              Params
	GossipedTimestamp  int64
	EphemeralTimer     int64
	LocationsSendUntil int64
	MutedUntil         int64
	Unpromoted         bool
}

// FindOrCreateGroupChat resolves a group-id to a chat, creating it
// (unpromoted, named per the caller's best-known name) if absent.
func (s *Store) FindOrCreateGroupChat(grpid, name string, verified bool, now int64) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM chats WHERE grpid = ?`, grpid).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("chatstore: lookup group chat: %w", err)
	}

	chatType := ChatTypeGroup
	if verified {
		chatType = ChatTypeVerifiedGroup
	}
	res, err := s.db.Exec(`
		INSERT INTO chats (type, name, grpid, created_at, unpromoted)
		VALUES (?, ?, ?, ?, 1)`, chatType, name, grpid, now)
	if err != nil {
		return 0, false, fmt.Errorf("chatstore: create group chat: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("chatstore: create group chat id: %w", err)
	}
	if _, err := s.db.Exec(`INSERT INTO chats_contacts (chat_id, contact_id) VALUES (?, ?)`, id, ContactSelf); err != nil {
		return 0, false, fmt.Errorf("chatstore: add self to group chat: %w", err)
	}
	return id, true, nil
}

// FindOrCreateSingleChat resolves a 1:1 chat keyed by the other
// contact's id, creating one if absent.
func (s *Store) FindOrCreateSingleChat(contactID int64, now int64) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(`
		SELECT c.id FROM chats c
		INNER JOIN chats_contacts cc ON cc.chat_id = c.id
		WHERE c.type = ? AND c.grpid = '' AND cc.contact_id = ?`, ChatTypeSingle, contactID).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("chatstore: lookup single chat: %w", err)
	}

	res, err := s.db.Exec(`INSERT INTO chats (type, created_at) VALUES (?, ?)`, ChatTypeSingle, now)
	if err != nil {
		return 0, false, fmt.Errorf("chatstore: create single chat: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("chatstore: create single chat id: %w", err)
	}
	if _, err := s.db.Exec(`INSERT INTO chats_contacts (chat_id, contact_id) VALUES (?, ?)`, id, contactID); err != nil {
		return 0, false, fmt.Errorf("chatstore: add contact to single chat: %w", err)
	}
	return id, true, nil
}

// GetChat loads a chat by id.
func (s *Store) GetChat(id int64) (*Chat, error) {
	c := &Chat{}
	var archived, unpromoted int
	var paramRaw string
	err := s.db.QueryRow(`
		SELECT id, type, name, grpid, archived, blocked, created_at, param,
		       gossiped_timestamp, ephemeral_timer, locations_send_until, muted_until, unpromoted
		FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.Type, &c.Name, &c.GrpID, &archived, &c.Blocked, &c.CreatedAt, &paramRaw,
			&c.GossipedTimestamp, &c.EphemeralTimer, &c.LocationsSendUntil, &c.MutedUntil, &unpromoted)
	if err != nil {
		return nil, fmt.Errorf("chatstore: get chat %d: %w", id, err)
	}
	c.Archived = archived != 0
	c.Unpromoted = unpromoted != 0
	c.Param = ParseParams(paramRaw)
	return c, nil
}

// IsMember reports whether contactID belongs to chatID.
func (s *Store) IsMember(chatID, contactID int64) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM chats_contacts WHERE chat_id = ? AND contact_id = ?`, chatID, contactID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("chatstore: is member: %w", err)
	}
	return true, nil
}

// AddMember adds contactID to chatID, a no-op if already present.
func (s *Store) AddMember(chatID, contactID int64) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO chats_contacts (chat_id, contact_id) VALUES (?, ?)`, chatID, contactID)
	if err != nil {
		return fmt.Errorf("chatstore: add member: %w", err)
	}
	return nil
}

// RemoveMember removes contactID from chatID.
func (s *Store) RemoveMember(chatID, contactID int64) error {
	_, err := s.db.Exec(`DELETE FROM chats_contacts WHERE chat_id = ? AND contact_id = ?`, chatID, contactID)
	if err != nil {
		return fmt.Errorf("chatstore: remove member: %w", err)
	}
	return nil
}

// Rename updates a chat's display name.
func (s *Store) Rename(chatID int64, name string) error {
	_, err := s.db.Exec(`UPDATE chats SET name = ? WHERE id = ?`, name, chatID)
	if err != nil {
		return fmt.Errorf("chatstore: rename chat: %w", err)
	}
	return nil
}

// ClearUnpromoted clears the unpromoted flag, per §4.5 send step 2:
// the first send to a group promotes it.
func (s *Store) ClearUnpromoted(chatID int64) error {
	_, err := s.db.Exec(`UPDATE chats SET unpromoted = 0 WHERE id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("chatstore: clear unpromoted: %w", err)
	}
	return nil
}

// SetBlockedState moves a chat between accepted/manual-blocked/
// deaddrop-request.
func (s *Store) SetBlockedState(chatID int64, blocked int) error {
	_, err := s.db.Exec(`UPDATE chats SET blocked = ? WHERE id = ?`, blocked, chatID)
	if err != nil {
		return fmt.Errorf("chatstore: set blocked state: %w", err)
	}
	return nil
}

// SetEphemeralTimer updates a chat's ephemeral-timer setting. Per §9's
// Open Question resolution, this only affects messages sent after the
// change; pre-existing messages keep whatever timer they were stamped
// with at insert time.
func (s *Store) SetEphemeralTimer(chatID int64, seconds int64) error {
	_, err := s.db.Exec(`UPDATE chats SET ephemeral_timer = ? WHERE id = ?`, seconds, chatID)
	if err != nil {
		return fmt.Errorf("chatstore: set ephemeral timer: %w", err)
	}
	return nil
}

// MembersOf returns every contact id belonging to chatID.
func (s *Store) MembersOf(chatID int64) ([]int64, error) {
	rows, err := s.db.Query(`SELECT contact_id FROM chats_contacts WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, fmt.Errorf("chatstore: members of: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatstore: scan member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
