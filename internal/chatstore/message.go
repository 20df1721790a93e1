package chatstore

import (
	"database/sql"
	"fmt"

	"github.com/hkdb/aerion-core/internal/threadmodel"
)

// Message state values (§4.6).
const (
	StateInFresh      = 10
	StateInNoticed    = 13
	StateInSeen       = 16
	StateOutPreparing = 18
	StateOutDraft     = 19
	StateOutPending   = 20
	StateOutFailed    = 24
	StateOutDelivered = 26
	StateOutMDNRcvd   = 28
)

// Message type values (§3).
const (
	TypeText  = 10
	TypeImage = 20
	TypeGif   = 21
	TypeAudio = 40
	TypeVoice = 41
	TypeVideo = 50
	TypeFile  = 60
)

// Message is a row of the msgs table.
type Message struct {
	ID                 int64
	ChatID             int64
	FromID             int64
	ToID               int64
	Timestamp          int64
	TimestampSent      int64
	TimestampRcvd      int64
	Type               int
	State              int
	RFC724MID          string
	MimeInReplyTo      string
	MimeReferences     string
	ServerFolder       string
	ServerUID          uint32
	Hidden             bool
	Starred            bool
	Subject            string
	Param              Params
	EphemeralTimer     int64
	EphemeralTimestamp int64
	Error              string
	LocationID         int64
	MimeHeaders        []byte
}

// InsertMessage persists a new message row. The caller is responsible
// for having already checked rfc724_mid uniqueness (precheck path in
// §4.5 receive step 3, or a freshly generated id for sends); a
// UNIQUE-constraint violation on rfc724_mid surfaces as a store error.
func (s *Store) InsertMessage(m *Message) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO msgs (
			chat_id, from_id, to_id, timestamp, timestamp_sent, timestamp_rcvd,
			type, state, rfc724_mid, mime_in_reply_to, mime_references,
			server_folder, server_uid, hidden, starred, subject, param,
			ephemeral_timer, ephemeral_timestamp, error, location_id, mime_headers
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.FromID, m.ToID, m.Timestamp, m.TimestampSent, m.TimestampRcvd,
		m.Type, m.State, m.RFC724MID, m.MimeInReplyTo, m.MimeReferences,
		m.ServerFolder, m.ServerUID, m.Hidden, m.Starred, m.Subject, m.Param.Encode(),
		m.EphemeralTimer, m.EphemeralTimestamp, m.Error, m.LocationID, m.MimeHeaders,
	)
	if err != nil {
		return 0, fmt.Errorf("chatstore: insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("chatstore: insert message id: %w", err)
	}
	return id, nil
}

// GetMessageByRFC724MID looks up a message by its globally unique
// Message-ID, for the receive-pipeline precheck (§4.5 step 3).
func (s *Store) GetMessageByRFC724MID(mid string) (*Message, bool, error) {
	m, err := s.scanOneMessage(`rfc724_mid = ?`, mid)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// GetMessage loads a message by id.
func (s *Store) GetMessage(id int64) (*Message, error) {
	m, err := s.scanOneMessage(`id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chatstore: message %d not found", id)
	}
	return m, err
}

func (s *Store) scanOneMessage(where string, arg interface{}) (*Message, error) {
	m := &Message{}
	var hidden, starred int
	var paramRaw string
	err := s.db.QueryRow(`
		SELECT id, chat_id, from_id, to_id, timestamp, timestamp_sent, timestamp_rcvd,
		       type, state, rfc724_mid, mime_in_reply_to, mime_references,
		       server_folder, server_uid, hidden, starred, subject, param,
		       ephemeral_timer, ephemeral_timestamp, error, location_id, mime_headers
		FROM msgs WHERE `+where, arg).
		Scan(&m.ID, &m.ChatID, &m.FromID, &m.ToID, &m.Timestamp, &m.TimestampSent, &m.TimestampRcvd,
			&m.Type, &m.State, &m.RFC724MID, &m.MimeInReplyTo, &m.MimeReferences,
			&m.ServerFolder, &m.ServerUID, &hidden, &starred, &m.Subject, &paramRaw,
			&m.EphemeralTimer, &m.EphemeralTimestamp, &m.Error, &m.LocationID, &m.MimeHeaders)
	if err != nil {
		return nil, err
	}
	m.Hidden = hidden != 0
	m.Starred = starred != 0
	m.Param = ParseParams(paramRaw)
	return m, nil
}

// ReconcileServerLocation updates only server_folder/server_uid for an
// already-known message, the precheck reconciliation of §4.5 step 3.
func (s *Store) ReconcileServerLocation(msgID int64, folder string, uid uint32) error {
	_, err := s.db.Exec(`UPDATE msgs SET server_folder = ?, server_uid = ? WHERE id = ?`, folder, uid, msgID)
	if err != nil {
		return fmt.Errorf("chatstore: reconcile server location: %w", err)
	}
	return nil
}

// SetState transitions a message's state. Per §4.6, transitions are
// monotonic within each lane; callers are expected to only call this
// with a state further along its own lane than the current one, but
// the store does not itself enforce that (the pipeline layer owns the
// state machine's transition table).
func (s *Store) SetState(msgID int64, state int) error {
	_, err := s.db.Exec(`UPDATE msgs SET state = ? WHERE id = ?`, state, msgID)
	if err != nil {
		return fmt.Errorf("chatstore: set message state: %w", err)
	}
	return nil
}

// SetError transitions a message to OUT_FAILED with the given error text.
func (s *Store) SetError(msgID int64, errText string) error {
	_, err := s.db.Exec(`UPDATE msgs SET state = ?, error = ? WHERE id = ?`, StateOutFailed, errText, msgID)
	if err != nil {
		return fmt.Errorf("chatstore: set message error: %w", err)
	}
	return nil
}

// SetParam overwrites a message's param bag.
func (s *Store) SetParam(msgID int64, p Params) error {
	_, err := s.db.Exec(`UPDATE msgs SET param = ? WHERE id = ?`, p.Encode(), msgID)
	if err != nil {
		return fmt.Errorf("chatstore: set message param: %w", err)
	}
	return nil
}

// UpsertDraft replaces the chat's single draft (hidden=1, OUT_DRAFT),
// deleting any prior draft for the chat first, per §4.6.
func (s *Store) UpsertDraft(m *Message) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("chatstore: begin draft tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM msgs WHERE chat_id = ? AND state = ?`, m.ChatID, StateOutDraft); err != nil {
		return 0, fmt.Errorf("chatstore: delete old draft: %w", err)
	}

	m.State = StateOutDraft
	m.Hidden = true
	res, err := tx.Exec(`
		INSERT INTO msgs (
			chat_id, from_id, to_id, timestamp, timestamp_sent, timestamp_rcvd,
			type, state, rfc724_mid, mime_in_reply_to, mime_references,
			server_folder, server_uid, hidden, starred, subject, param,
			ephemeral_timer, ephemeral_timestamp, error, location_id, mime_headers
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.FromID, m.ToID, m.Timestamp, m.TimestampSent, m.TimestampRcvd,
		m.Type, m.State, m.RFC724MID, m.MimeInReplyTo, m.MimeReferences,
		m.ServerFolder, m.ServerUID, m.Hidden, m.Starred, m.Subject, m.Param.Encode(),
		m.EphemeralTimer, m.EphemeralTimestamp, m.Error, m.LocationID, m.MimeHeaders,
	)
	if err != nil {
		return 0, fmt.Errorf("chatstore: insert draft: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("chatstore: insert draft id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("chatstore: commit draft: %w", err)
	}
	return id, nil
}

// ParentForReply finds the parent message to thread an outgoing reply
// from, per §4.4: the newest non-self message in the chat, or (if none)
// the oldest self message.
func (s *Store) ParentForReply(chatID int64) (*threadmodel.Parent, bool, error) {
	row := s.db.QueryRow(`
		SELECT rfc724_mid, mime_in_reply_to, mime_references
		FROM msgs
		WHERE chat_id = ? AND from_id != ? AND hidden = 0
		ORDER BY timestamp DESC, id DESC LIMIT 1`, chatID, ContactSelf)
	p := &threadmodel.Parent{}
	err := row.Scan(&p.RFC724MID, &p.MimeInReplyTo, &p.MimeReferences)
	if err == nil {
		return p, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("chatstore: parent lookup (newest non-self): %w", err)
	}

	row = s.db.QueryRow(`
		SELECT rfc724_mid, mime_in_reply_to, mime_references
		FROM msgs
		WHERE chat_id = ? AND from_id = ? AND hidden = 0
		ORDER BY timestamp ASC, id ASC LIMIT 1`, chatID, ContactSelf)
	err = row.Scan(&p.RFC724MID, &p.MimeInReplyTo, &p.MimeReferences)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("chatstore: parent lookup (oldest self): %w", err)
	}
	return p, true, nil
}

// LastOutgoingWasGuaranteeE2ee reports whether the most recently sent
// message in chatID had GuaranteeE2ee=1, for the "encryption sticks
// once established" rule of §4.5 send step 3.
func (s *Store) LastOutgoingWasGuaranteeE2ee(chatID int64) (bool, error) {
	var paramRaw string
	err := s.db.QueryRow(`
		SELECT param FROM msgs
		WHERE chat_id = ? AND from_id = ? AND hidden = 0 AND state != ?
		ORDER BY timestamp DESC, id DESC LIMIT 1`, chatID, ContactSelf, StateOutDraft).Scan(&paramRaw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("chatstore: last outgoing lookup: %w", err)
	}
	return ParseParams(paramRaw).GetInt(ParamGuaranteeE2ee) == 1, nil
}

// InsertMDN records that a recipient has acknowledged receipt of a
// delivered outbound message (supplemented, §0/§4.6: MDN reconciliation
// is not detailed by the source beyond the OUT_MDN_RCVD transition).
func (s *Store) InsertMDN(msgID, contactID, timestampSent int64) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO msgs_mdns (msg_id, contact_id, timestamp_sent) VALUES (?, ?, ?)`,
		msgID, contactID, timestampSent)
	if err != nil {
		return fmt.Errorf("chatstore: insert mdn: %w", err)
	}
	return nil
}
