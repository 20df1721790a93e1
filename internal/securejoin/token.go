// Package securejoin mints and validates the invitenumber/auth token
// pair of §3's Token type over the tokens table. Secure-Join itself
// (the `Secure-Join*` header handshake) is opaque to the rest of the
// pipeline per §6; this package only owns the token persistence a
// verifier needs, grounded on original_source's dc_token.rs
// (dc_token_save/dc_token_lookup/dc_token_exists) and built on the
// chatstore token primitives that already implement that shape.
package securejoin

import (
	"github.com/hkdb/aerion-core/internal/chatstore"
)

// Store mints and checks secure-join tokens, scoped to a chat (or 0 for
// an account-wide "setup contact" join).
type Store struct {
	contacts *chatstore.Store
}

func NewStore(contacts *chatstore.Store) *Store {
	return &Store{contacts: contacts}
}

// Invite is the (invitenumber, auth) pair a QR/link-based join encodes.
type Invite struct {
	InviteNumber string
	Auth         string
}

// MintInvite generates a fresh invitenumber/auth pair scoped to chatID
// (0 for an account-wide setup-contact invite), the pair a QR code or
// join link carries.
func (s *Store) MintInvite(chatID int64, now int64) (Invite, error) {
	invitenumber, err := s.contacts.MintToken(chatstore.TokenNamespaceInvitenumber, chatID, now)
	if err != nil {
		return Invite{}, err
	}
	auth, err := s.contacts.MintToken(chatstore.TokenNamespaceAuth, chatID, now)
	if err != nil {
		return Invite{}, err
	}
	return Invite{InviteNumber: invitenumber, Auth: auth}, nil
}

// CheckInviteNumber reports whether invitenumber is currently valid for
// chatID, the check a vc-request frame's invitenumber must pass before
// the protocol state machine continues.
func (s *Store) CheckInviteNumber(chatID int64, invitenumber string) (bool, error) {
	return s.contacts.LookupToken(chatstore.TokenNamespaceInvitenumber, chatID, invitenumber)
}

// CheckAuth reports whether auth is currently valid for chatID, the
// check a vc-request-with-auth/vc-contact-confirm frame's auth token
// must pass.
func (s *Store) CheckAuth(chatID int64, auth string) (bool, error) {
	return s.contacts.LookupToken(chatstore.TokenNamespaceAuth, chatID, auth)
}

// CurrentInvite returns the most recently minted pair for chatID, for
// redisplaying an already-generated QR code/link without minting a new
// one.
func (s *Store) CurrentInvite(chatID int64) (Invite, bool, error) {
	invitenumber, ok, err := s.contacts.TokenForNamespace(chatstore.TokenNamespaceInvitenumber, chatID)
	if err != nil || !ok {
		return Invite{}, false, err
	}
	auth, ok, err := s.contacts.TokenForNamespace(chatstore.TokenNamespaceAuth, chatID)
	if err != nil || !ok {
		return Invite{}, false, err
	}
	return Invite{InviteNumber: invitenumber, Auth: auth}, true, nil
}
