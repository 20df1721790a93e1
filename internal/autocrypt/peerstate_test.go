package autocrypt

import (
	"path/filepath"
	"testing"

	"github.com/hkdb/aerion-core/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	fingerprint := func(keyData []byte) (string, error) {
		return string(keyData) + "-fp", nil
	}
	return NewStore(db.DB, fingerprint)
}

func TestApplyFirstHeaderSetsKeyAndTimestamps(t *testing.T) {
	ps := &PeerState{Addr: "alice@example.org"}
	h := &Header{Addr: "alice@example.org", PreferEncrypt: PreferMutual, KeyData: []byte("key1")}

	result := Apply(ps, 1000, h, false)
	if !result.Changed || !result.PublicKeyChanged {
		t.Fatalf("expected changed+public key changed, got %+v", result)
	}
	if ps.LastSeenAutocrypt != 1000 || ps.LastSeen != 1000 {
		t.Fatalf("expected timestamps set to 1000, got last_seen=%d last_seen_autocrypt=%d", ps.LastSeen, ps.LastSeenAutocrypt)
	}
	if ps.PreferEncrypt != PreferMutual {
		t.Fatalf("expected prefer_encrypt mutual, got %v", ps.PreferEncrypt)
	}
}

func TestApplyIgnoresStaleMessage(t *testing.T) {
	ps := &PeerState{Addr: "alice@example.org", LastSeenAutocrypt: 5000}
	h := &Header{Addr: "alice@example.org", KeyData: []byte("key1")}

	result := Apply(ps, 1000, h, false)
	if result.Changed {
		t.Fatal("expected stale message to be ignored")
	}
	if ps.PublicKey != nil {
		t.Fatal("expected no key update from stale message")
	}
}

func TestApplyNoHeaderDegradesMutualToReset(t *testing.T) {
	ps := &PeerState{Addr: "alice@example.org", PreferEncrypt: PreferMutual, LastSeenAutocrypt: 1000}

	result := Apply(ps, 2000, nil, false)
	if !result.Degraded {
		t.Fatal("expected degrade when a mutual peer sends a message with no Autocrypt header")
	}
	if ps.PreferEncrypt != PreferReset {
		t.Fatalf("expected prefer_encrypt reset, got %v", ps.PreferEncrypt)
	}
}

func TestApplyNoHeaderOnReportDoesNotDegrade(t *testing.T) {
	ps := &PeerState{Addr: "alice@example.org", PreferEncrypt: PreferMutual, LastSeenAutocrypt: 1000}

	result := Apply(ps, 2000, nil, true)
	if result.Degraded {
		t.Fatal("a multipart/report message must never trigger degrade-on-silence")
	}
	if ps.PreferEncrypt != PreferMutual {
		t.Fatal("expected prefer_encrypt to remain mutual for a report message")
	}
}

func TestRecomputeFingerprintsDegradesOnChange(t *testing.T) {
	s := newTestStore(t)
	ps := &PeerState{PublicKey: []byte("key2"), PublicKeyFingerprint: "key1-fp"}

	result, err := s.RecomputeFingerprints(ps, true)
	if err != nil {
		t.Fatalf("recompute fingerprints: %v", err)
	}
	if !result.Degraded {
		t.Fatal("expected degrade when public key fingerprint actually changes")
	}
	if ps.PublicKeyFingerprint != "key2-fp" {
		t.Fatalf("fingerprint = %q, want key2-fp", ps.PublicKeyFingerprint)
	}
}

func TestApplyGossipIgnoresAddressOutsideRecipients(t *testing.T) {
	ps := &PeerState{Addr: "bob@example.org"}
	recipients := map[string]bool{"alice@example.org": true}

	changed, err := ApplyGossip(ps, 1000, "bob@example.org", []byte("gkey"), recipients)
	if err != nil {
		t.Fatalf("apply gossip: %v", err)
	}
	if changed {
		t.Fatal("expected gossip from a non-recipient address to be ignored")
	}
	if ps.GossipKey != nil {
		t.Fatal("expected no gossip key update")
	}
}

func TestApplyGossipAcceptsFromRecipient(t *testing.T) {
	ps := &PeerState{Addr: "bob@example.org"}
	recipients := map[string]bool{"bob@example.org": true}

	changed, err := ApplyGossip(ps, 1000, "bob@example.org", []byte("gkey"), recipients)
	if err != nil {
		t.Fatalf("apply gossip: %v", err)
	}
	if !changed {
		t.Fatal("expected gossip from a recipient address to be applied")
	}
	if string(ps.GossipKey) != "gkey" {
		t.Fatalf("gossip key = %q, want gkey", ps.GossipKey)
	}
}

func TestApplyGossipIgnoresOlderTimestamp(t *testing.T) {
	ps := &PeerState{Addr: "bob@example.org", GossipTimestamp: 5000, GossipKey: []byte("gkey")}
	recipients := map[string]bool{"bob@example.org": true}

	changed, err := ApplyGossip(ps, 1000, "bob@example.org", []byte("newer"), recipients)
	if err != nil {
		t.Fatalf("apply gossip: %v", err)
	}
	if changed {
		t.Fatal("expected older gossip timestamp to be ignored")
	}
	if string(ps.GossipKey) != "gkey" {
		t.Fatal("expected gossip key to remain unchanged")
	}
}

func TestSetVerifiedRejectsMismatchedFingerprint(t *testing.T) {
	ps := &PeerState{PublicKey: []byte("key1"), PublicKeyFingerprint: "key1-fp"}
	if err := SetVerified(ps, VerifiedPublic, "wrong-fp"); err == nil {
		t.Fatal("expected error for mismatched fingerprint")
	}
}

func TestSetVerifiedAcceptsMatchingFingerprint(t *testing.T) {
	ps := &PeerState{PublicKey: []byte("key1"), PublicKeyFingerprint: "key1-fp"}
	if err := SetVerified(ps, VerifiedPublic, "key1-fp"); err != nil {
		t.Fatalf("set verified: %v", err)
	}
	if ps.VerifiedWhich != VerifiedPublic {
		t.Fatalf("verified_which = %v, want VerifiedPublic", ps.VerifiedWhich)
	}
	if string(ps.VerifiedKey) != "key1" {
		t.Fatal("expected verified_key copied from public key")
	}
}

func TestPeekKeyPrefersVerifiedWhenRequired(t *testing.T) {
	ps := &PeerState{PublicKey: []byte("pub"), GossipKey: []byte("gossip"), VerifiedKey: []byte("verified")}
	if got := PeekKey(ps, VerifiedKey); string(got) != "verified" {
		t.Fatalf("PeekKey(VerifiedKey) = %q, want verified", got)
	}
}

func TestPeekKeyRequiresVerifiedReturnsNilWithoutOne(t *testing.T) {
	ps := &PeerState{PublicKey: []byte("pub")}
	if got := PeekKey(ps, VerifiedKey); got != nil {
		t.Fatalf("PeekKey(VerifiedKey) = %q, want nil", got)
	}
}

func TestPeekKeyFallsBackPublicThenGossip(t *testing.T) {
	ps := &PeerState{GossipKey: []byte("gossip")}
	if got := PeekKey(ps, AnyKey); string(got) != "gossip" {
		t.Fatalf("PeekKey(AnyKey) = %q, want gossip", got)
	}
	ps.PublicKey = []byte("pub")
	if got := PeekKey(ps, AnyKey); string(got) != "pub" {
		t.Fatalf("PeekKey(AnyKey) = %q, want pub (public key preferred over gossip)", got)
	}
}

func TestStoreSaveCreateThenLookupByAddress(t *testing.T) {
	s := newTestStore(t)
	ps := &PeerState{
		Addr:                 "Alice@Example.org",
		LastSeen:             1000,
		LastSeenAutocrypt:    1000,
		PreferEncrypt:        PreferMutual,
		PublicKey:            []byte("pub"),
		PublicKeyFingerprint: "pub-fp",
	}
	if err := s.Save(ps, true); err != nil {
		t.Fatalf("save (create): %v", err)
	}

	loaded, ok, err := s.LookupByAddress("alice@example.org")
	if err != nil {
		t.Fatalf("lookup by address: %v", err)
	}
	if !ok {
		t.Fatal("expected peer state to be found by lowercased address")
	}
	if loaded.PublicKeyFingerprint != "pub-fp" {
		t.Fatalf("fingerprint = %q, want pub-fp", loaded.PublicKeyFingerprint)
	}
}

func TestStoreSaveUpdateFullPersistsChanges(t *testing.T) {
	s := newTestStore(t)
	ps := &PeerState{Addr: "bob@example.org", PublicKey: []byte("pub"), PublicKeyFingerprint: "pub-fp"}
	if err := s.Save(ps, true); err != nil {
		t.Fatalf("save (create): %v", err)
	}

	loaded, _, err := s.LookupByAddress("bob@example.org")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}

	loaded.PublicKey = []byte("newpub")
	loaded.PublicKeyFingerprint = "newpub-fp"
	loaded.toSave = SaveFull
	if err := s.Save(loaded, false); err != nil {
		t.Fatalf("save (update): %v", err)
	}

	reloaded, _, err := s.LookupByAddress("bob@example.org")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.PublicKeyFingerprint != "newpub-fp" {
		t.Fatalf("fingerprint after update = %q, want newpub-fp", reloaded.PublicKeyFingerprint)
	}
}

func TestStoreLookupByFingerprintPrefersPublic(t *testing.T) {
	s := newTestStore(t)
	// Saved first, so a lookup without the public-first preference
	// would find this gossip-only match.
	gossipOnly := &PeerState{
		Addr:                 "dave@example.org",
		GossipKey:            []byte("gossip"),
		GossipKeyFingerprint: "shared-fp",
	}
	if err := s.Save(gossipOnly, true); err != nil {
		t.Fatalf("save gossip-only peer: %v", err)
	}
	ps := &PeerState{
		Addr:                   "carol@example.org",
		PublicKey:              []byte("pub"),
		PublicKeyFingerprint:   "shared-fp",
		VerifiedKeyFingerprint: "",
	}
	if err := s.Save(ps, true); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, ok, err := s.LookupByFingerprint("shared-fp")
	if err != nil {
		t.Fatalf("lookup by fingerprint: %v", err)
	}
	if !ok {
		t.Fatal("expected a match")
	}
	if loaded.Addr != "carol@example.org" {
		t.Fatalf("addr = %q, want carol@example.org", loaded.Addr)
	}
}

func TestStoreLookupByAddressNotFound(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.LookupByAddress("nobody@example.org")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Fatal("expected no match for an address never saved")
	}
}
