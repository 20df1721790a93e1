package chatstore

import (
	"database/sql"
	"fmt"
	"strings"
)

// Reserved contact ids (§3: "ids < 10 reserved").
const (
	ContactSelf   int64 = 1
	ContactDevice int64 = 2
)

// Origin is a monotonic ranking of how a contact became known. A
// contact's origin only ever scales up (replaced by a higher-ranked
// origin), never down.
type Origin int

const (
	OriginUnknown             Origin = 0
	OriginIncomingUnknownFrom Origin = 0x10
	OriginIncomingUnknownCc   Origin = 0x20
	OriginIncomingUnknownTo   Origin = 0x40
	OriginIncomingReplyTo     Origin = 0x100
	OriginIncomingCc          Origin = 0x200
	OriginIncomingTo          Origin = 0x400
	OriginCreateChat          Origin = 0x800
	OriginOutgoingBcc         Origin = 0x1000
	OriginOutgoingCc          Origin = 0x2000
	OriginOutgoingTo          Origin = 0x4000
	OriginInternal            Origin = 0x40000
	OriginAddressBook         Origin = 0x80000
	OriginSecurejoinInvited   Origin = 0x1000000
	OriginSecurejoinJoined    Origin = 0x2000000
	OriginManuallyCreated     Origin = 0x4000000
)

// IsVerified reports whether an origin is trusted enough to accept
// messages from outside the deaddrop without further confirmation.
func (o Origin) IsVerified() bool {
	return o >= OriginIncomingReplyTo
}

// Contact is a row of the contacts table.
type Contact struct {
	ID               int64
	Addr             string
	Name             string
	AuthName         string
	Origin           Origin
	Blocked          bool
	Status           string
	SelfavatarSentAt int64
	CreatedAt        int64
}

// CreateOrUpdateContact resolves addr to a contact id, creating the row
// on first sighting and scaling up its origin/authname otherwise, per
// §4.5 step 2 and §3's "scale-up" rule.
func (s *Store) CreateOrUpdateContact(addr, authname string, origin Origin, now int64) (int64, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return 0, fmt.Errorf("chatstore: empty contact address")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("chatstore: begin: %w", err)
	}
	defer tx.Rollback()

	var id int64
	var existingOrigin Origin
	var existingAuthname string
	err = tx.QueryRow(`SELECT id, origin, authname FROM contacts WHERE addr = ? COLLATE NOCASE`, addr).
		Scan(&id, &existingOrigin, &existingAuthname)

	switch {
	case err == sql.ErrNoRows:
		res, err := tx.Exec(`INSERT INTO contacts (addr, authname, origin, created_at) VALUES (?, ?, ?, ?)`,
			addr, authname, origin, now)
		if err != nil {
			return 0, fmt.Errorf("chatstore: insert contact: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("chatstore: insert contact id: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("chatstore: lookup contact: %w", err)
	default:
		newOrigin := existingOrigin
		if origin > existingOrigin {
			newOrigin = origin
		}
		newAuthname := existingAuthname
		if authname != "" {
			newAuthname = authname
		}
		if _, err := tx.Exec(`UPDATE contacts SET origin = ?, authname = ? WHERE id = ?`, newOrigin, newAuthname, id); err != nil {
			return 0, fmt.Errorf("chatstore: update contact: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("chatstore: commit: %w", err)
	}
	return id, nil
}

// GetContact loads a contact by id.
func (s *Store) GetContact(id int64) (*Contact, error) {
	c := &Contact{}
	var origin int64
	var blocked int
	err := s.db.QueryRow(`
		SELECT id, addr, name, authname, origin, blocked, status, selfavatar_sent_at, created_at
		FROM contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.Addr, &c.Name, &c.AuthName, &origin, &blocked, &c.Status, &c.SelfavatarSentAt, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("chatstore: get contact %d: %w", id, err)
	}
	c.Origin = Origin(origin)
	c.Blocked = blocked != 0
	return c, nil
}

// LookupContactByAddr returns the contact id for addr, if any.
func (s *Store) LookupContactByAddr(addr string) (int64, bool, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	var id int64
	err := s.db.QueryRow(`SELECT id FROM contacts WHERE addr = ? COLLATE NOCASE`, addr).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("chatstore: lookup contact by addr: %w", err)
	}
	return id, true, nil
}

// SetBlocked sets a contact's blocked flag (0=accepted, distinct
// non-zero values used by chat blocked state; see chat.go).
func (s *Store) SetBlocked(contactID int64, blocked bool) error {
	_, err := s.db.Exec(`UPDATE contacts SET blocked = ? WHERE id = ?`, blocked, contactID)
	if err != nil {
		return fmt.Errorf("chatstore: set blocked: %w", err)
	}
	return nil
}

// SetDisplayName updates a contact's user-facing display name (the
// `name` column, distinct from `authname`, which tracks the name the
// correspondent claims for itself in its own messages). Unlike
// CreateOrUpdateContact this never touches origin or authname, for
// callers such as address-book enrichment that must not affect
// trust/acceptance state.
func (s *Store) SetDisplayName(contactID int64, name string) error {
	_, err := s.db.Exec(`UPDATE contacts SET name = ? WHERE id = ?`, name, contactID)
	if err != nil {
		return fmt.Errorf("chatstore: set display name: %w", err)
	}
	return nil
}
