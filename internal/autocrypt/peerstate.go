package autocrypt

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hkdb/aerion-core/internal/logging"
	"github.com/rs/zerolog"
)

// VerifiedWhich names which key a peer-state's verified_key was copied
// from at the moment verification was granted.
type VerifiedWhich int

const (
	VerifiedNone VerifiedWhich = iota
	VerifiedPublic
	VerifiedGossip
)

// MinVerified gates PeekKey's preference order (§4.2).
type MinVerified bool

const (
	AnyKey      MinVerified = false
	VerifiedKey MinVerified = true
)

// ToSave records which columns Save must persist.
type ToSave int

const (
	SaveNothing ToSave = iota
	SaveTimestamps
	SaveFull
)

// DegradeEvent is set by Apply when a previously-mutual peer loses its
// autocrypt guarantee, so the receive pipeline can surface a one-shot
// warning.
type DegradeEvent bool

// PeerState is one row of acpeerstates, keyed by lowercased address.
type PeerState struct {
	ID                     int64
	Addr                   string
	LastSeen               int64
	LastSeenAutocrypt      int64
	PreferEncrypt          PreferEncrypt
	PublicKey              []byte
	PublicKeyFingerprint   string
	GossipKey              []byte
	GossipKeyFingerprint   string
	GossipTimestamp        int64
	VerifiedKey            []byte
	VerifiedKeyFingerprint string
	VerifiedWhich          VerifiedWhich

	toSave ToSave
}

// ApplyResult is returned by Apply/ApplyGossip so callers can react to a
// degrade without the caller inspecting internal bit-sets (§9 redesign note).
type ApplyResult struct {
	Degraded         DegradeEvent
	Changed          bool
	PublicKeyChanged bool
}

// FingerprintFunc computes the hex fingerprint of raw OpenPGP public key
// material; injected so this package never imports the crypto primitives
// directly (those live in internal/keyring).
type FingerprintFunc func(keyData []byte) (string, error)

// Store persists PeerState rows.
type Store struct {
	db          *sql.DB
	fingerprint FingerprintFunc
	log         zerolog.Logger
}

// NewStore builds a peer-state store.
func NewStore(db *sql.DB, fingerprint FingerprintFunc) *Store {
	return &Store{db: db, fingerprint: fingerprint, log: logging.WithComponent("autocrypt")}
}

// LookupByAddress loads the peer state for addr (case-insensitively), or
// (nil, false, nil) if none exists yet.
func (s *Store) LookupByAddress(addr string) (*PeerState, bool, error) {
	return s.scanOne("WHERE addr = ?", strings.ToLower(addr))
}

// LookupByFingerprint finds a peer state whose public or gossip
// fingerprint matches fp, preferring a public-fingerprint match.
func (s *Store) LookupByFingerprint(fp string) (*PeerState, bool, error) {
	if ps, ok, err := s.scanOne("WHERE public_key_fingerprint = ? COLLATE NOCASE", fp); ok || err != nil {
		return ps, ok, err
	}
	return s.scanOne("WHERE gossip_key_fingerprint = ? COLLATE NOCASE", fp)
}

func (s *Store) scanOne(where string, args ...any) (*PeerState, bool, error) {
	row := s.db.QueryRow(`
		SELECT id, addr, last_seen, last_seen_autocrypt, prefer_encrypt,
			public_key, public_key_fingerprint, gossip_key, gossip_key_fingerprint,
			gossip_timestamp, verified_key, verified_key_fingerprint, verified_which
		FROM acpeerstates `+where, args...)

	ps := &PeerState{}
	var pub, gossip, verified []byte
	err := row.Scan(&ps.ID, &ps.Addr, &ps.LastSeen, &ps.LastSeenAutocrypt, &ps.PreferEncrypt,
		&pub, &ps.PublicKeyFingerprint, &gossip, &ps.GossipKeyFingerprint,
		&ps.GossipTimestamp, &verified, &ps.VerifiedKeyFingerprint, &ps.VerifiedWhich)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load peer state: %w", err)
	}
	ps.PublicKey, ps.GossipKey, ps.VerifiedKey = pub, gossip, verified
	return ps, true, nil
}

// Apply runs the inbound-Autocrypt-header state machine of §4.2 steps 1-5.
// h is nil when the message carried no Autocrypt header at all.
// isReport marks the carrying message as multipart/report (a delivery
// report never triggers degrade-on-silence, step 5).
func Apply(ps *PeerState, messageTime int64, h *Header, isReport bool) ApplyResult {
	if h != nil && messageTime <= ps.LastSeenAutocrypt {
		return ApplyResult{}
	}

	result := ApplyResult{}

	if h == nil {
		if !isReport && messageTime > ps.LastSeenAutocrypt {
			if ps.PreferEncrypt == PreferMutual {
				result.Degraded = true
				ps.PreferEncrypt = PreferReset
				result.Changed = true
			}
			ps.LastSeen = messageTime
			ps.toSave = maxSave(ps.toSave, SaveFull)
		}
		return result
	}

	ps.LastSeen = messageTime
	ps.LastSeenAutocrypt = messageTime
	ps.toSave = maxSave(ps.toSave, SaveTimestamps)

	if (h.PreferEncrypt == PreferMutual || h.PreferEncrypt == PreferNoPreference) && h.PreferEncrypt != ps.PreferEncrypt {
		if ps.PreferEncrypt == PreferMutual && h.PreferEncrypt != PreferMutual {
			result.Degraded = true
		}
		ps.PreferEncrypt = h.PreferEncrypt
		ps.toSave = maxSave(ps.toSave, SaveFull)
		result.Changed = true
	}

	if !bytesEqual(h.KeyData, ps.PublicKey) {
		ps.PublicKey = h.KeyData
		ps.toSave = maxSave(ps.toSave, SaveFull)
		result.Changed = true
		result.PublicKeyChanged = true
		// Fingerprint recomputation needs the crypto primitive this
		// package doesn't import; callers must follow up with
		// Store.RecomputeFingerprints and OR its Degraded into theirs.
	}

	return result
}

// bytesEqual is a tiny helper so this file doesn't need bytes.Equal
// imported just for one call site sprinkled through the state machine.
func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func maxSave(a, b ToSave) ToSave {
	if b > a {
		return b
	}
	return a
}

// RecomputeFingerprints recomputes and updates public/gossip fingerprints
// after Apply/ApplyGossip replaced the corresponding key material,
// raising degrade if the public key's fingerprint actually changed from
// a non-empty value (step 4 of §4.2).
func (s *Store) RecomputeFingerprints(ps *PeerState, publicKeyChanged bool) (ApplyResult, error) {
	result := ApplyResult{}

	if publicKeyChanged {
		prevFP := ps.PublicKeyFingerprint
		if len(ps.PublicKey) > 0 {
			fp, err := s.fingerprint(ps.PublicKey)
			if err != nil {
				return result, fmt.Errorf("failed to fingerprint public key: %w", err)
			}
			ps.PublicKeyFingerprint = fp
		} else {
			ps.PublicKeyFingerprint = ""
		}
		if prevFP != "" && prevFP != ps.PublicKeyFingerprint {
			result.Degraded = true
		}
	}

	if ps.GossipKey != nil {
		fp, err := s.fingerprint(ps.GossipKey)
		if err != nil {
			return result, fmt.Errorf("failed to fingerprint gossip key: %w", err)
		}
		ps.GossipKeyFingerprint = fp
	}

	return result, nil
}

// ApplyGossip runs the apply-gossip rules of §4.2: gossip only raises
// trust, never lowers it, and never touches prefer_encrypt or public_key.
// recipients is the carrying message's To+Cc address set (lowercased);
// gossip from an address not present there must be ignored entirely
// (scenario 3, §8).
func ApplyGossip(ps *PeerState, messageTime int64, gossipAddr string, keyData []byte, recipients map[string]bool) (bool, error) {
	if !recipients[strings.ToLower(gossipAddr)] {
		return false, nil
	}
	if messageTime <= ps.GossipTimestamp {
		return false, nil
	}

	ps.GossipTimestamp = messageTime
	if !bytesEqual(keyData, ps.GossipKey) {
		ps.GossipKey = keyData
	}
	ps.toSave = maxSave(ps.toSave, SaveFull)
	return true, nil
}

// SetVerified implements §4.2's verification rule: it succeeds only if
// fingerprint matches the current fingerprint of the named key.
func SetVerified(ps *PeerState, which VerifiedWhich, fingerprint string) error {
	var candidateKey []byte
	var candidateFP string
	switch which {
	case VerifiedPublic:
		candidateKey, candidateFP = ps.PublicKey, ps.PublicKeyFingerprint
	case VerifiedGossip:
		candidateKey, candidateFP = ps.GossipKey, ps.GossipKeyFingerprint
	default:
		return fmt.Errorf("unsupported verification target %v", which)
	}

	if candidateFP == "" || !strings.EqualFold(candidateFP, fingerprint) {
		return fmt.Errorf("fingerprint %q does not match current %v key", fingerprint, which)
	}

	ps.VerifiedKey = candidateKey
	ps.VerifiedKeyFingerprint = candidateFP
	ps.VerifiedWhich = which
	ps.toSave = maxSave(ps.toSave, SaveFull)
	return nil
}

// PeekKey implements the peek-key policy of §4.2: verified (if
// minVerified), else public, else gossip, else none. A stored key whose
// binary is empty is treated as absent.
func PeekKey(ps *PeerState, minVerified MinVerified) []byte {
	if minVerified {
		if len(ps.VerifiedKey) > 0 {
			return ps.VerifiedKey
		}
		return nil
	}
	if len(ps.PublicKey) > 0 {
		return ps.PublicKey
	}
	if len(ps.GossipKey) > 0 {
		return ps.GossipKey
	}
	return nil
}

// Save persists ps. create inserts a new row; otherwise an existing row
// is updated according to ps's accumulated toSave level: SaveFull updates
// every material column, SaveTimestamps updates only last_seen /
// last_seen_autocrypt, SaveNothing is a no-op (Apply/ApplyGossip were
// never called, or made no observable change).
func (s *Store) Save(ps *PeerState, create bool) error {
	if create {
		_, err := s.db.Exec(`
			INSERT INTO acpeerstates (addr, last_seen, last_seen_autocrypt, prefer_encrypt,
				public_key, public_key_fingerprint, gossip_key, gossip_key_fingerprint,
				gossip_timestamp, verified_key, verified_key_fingerprint, verified_which)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			strings.ToLower(ps.Addr), ps.LastSeen, ps.LastSeenAutocrypt, ps.PreferEncrypt,
			ps.PublicKey, ps.PublicKeyFingerprint, ps.GossipKey, ps.GossipKeyFingerprint,
			ps.GossipTimestamp, ps.VerifiedKey, ps.VerifiedKeyFingerprint, ps.VerifiedWhich,
		)
		if err != nil {
			return fmt.Errorf("failed to insert peer state: %w", err)
		}
		return s.resetChatGossipTimestamps(ps.Addr)
	}

	switch ps.toSave {
	case SaveFull:
		_, err := s.db.Exec(`
			UPDATE acpeerstates SET last_seen = ?, last_seen_autocrypt = ?, prefer_encrypt = ?,
				public_key = ?, public_key_fingerprint = ?, gossip_key = ?, gossip_key_fingerprint = ?,
				gossip_timestamp = ?, verified_key = ?, verified_key_fingerprint = ?, verified_which = ?
			WHERE id = ?`,
			ps.LastSeen, ps.LastSeenAutocrypt, ps.PreferEncrypt,
			ps.PublicKey, ps.PublicKeyFingerprint, ps.GossipKey, ps.GossipKeyFingerprint,
			ps.GossipTimestamp, ps.VerifiedKey, ps.VerifiedKeyFingerprint, ps.VerifiedWhich,
			ps.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update peer state: %w", err)
		}
		return s.resetChatGossipTimestamps(ps.Addr)
	case SaveTimestamps:
		_, err := s.db.Exec(
			`UPDATE acpeerstates SET last_seen = ?, last_seen_autocrypt = ? WHERE id = ?`,
			ps.LastSeen, ps.LastSeenAutocrypt, ps.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update peer state timestamps: %w", err)
		}
		return nil
	default:
		return nil
	}
}

// resetChatGossipTimestamps forces re-gossip on the next outbound
// message to any chat containing this peer, per §4.2's "after any
// material update" rule.
func (s *Store) resetChatGossipTimestamps(addr string) error {
	_, err := s.db.Exec(`
		UPDATE chats SET gossiped_timestamp = 0 WHERE id IN (
			SELECT cc.chat_id FROM chats_contacts cc
			JOIN contacts c ON c.id = cc.contact_id
			WHERE c.addr = ? COLLATE NOCASE
		)`, strings.ToLower(addr))
	if err != nil {
		return fmt.Errorf("failed to reset chat gossip timestamps: %w", err)
	}
	return nil
}

// Now returns the current unix timestamp; a package-level var so tests
// can substitute a deterministic clock, per §9's clock-injection note.
var Now = func() int64 { return time.Now().Unix() }
