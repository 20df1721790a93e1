package keyring

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/hkdb/aerion-core/internal/credentials"
	"github.com/hkdb/aerion-core/internal/database"
)

func newGeneratedEntity(t *testing.T, addr string) (*openpgp.Entity, error) {
	t.Helper()
	cfg := &packet.Config{RSABits: 1024}
	entity, err := openpgp.NewEntity(addr, "", addr, cfg)
	if err != nil {
		return nil, err
	}
	for _, ident := range entity.Identities {
		if err := ident.SelfSignature.SignUserId(ident.UserId.Id, entity.PrimaryKey, entity.PrivateKey, cfg); err != nil {
			return nil, err
		}
	}
	return entity, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cred, err := credentials.NewStore(db.DB, dir)
	if err != nil {
		t.Fatalf("open credential store: %v", err)
	}
	return NewStore(db.DB, cred)
}

func TestEnsureSecretKeyExistsGeneratesAndPersists(t *testing.T) {
	s := newTestStore(t)
	entity, err := s.EnsureSecretKeyExists("alice@example.org", 1024)
	if err != nil {
		t.Fatalf("ensure secret key: %v", err)
	}
	if entity == nil || entity.PrivateKey == nil {
		t.Fatal("expected a private-key-bearing entity")
	}

	pub, err := s.LoadSelfPublic("alice@example.org")
	if err != nil {
		t.Fatalf("load self public: %v", err)
	}
	if Fingerprint(pub) != Fingerprint(entity) {
		t.Fatalf("fingerprint mismatch: loaded %q, generated %q", Fingerprint(pub), Fingerprint(entity))
	}
}

func TestEnsureSecretKeyExistsIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	first, err := s.EnsureSecretKeyExists("alice@example.org", 1024)
	if err != nil {
		t.Fatalf("ensure secret key (1st): %v", err)
	}
	second, err := s.EnsureSecretKeyExists("alice@example.org", 1024)
	if err != nil {
		t.Fatalf("ensure secret key (2nd): %v", err)
	}
	if Fingerprint(first) != Fingerprint(second) {
		t.Fatal("expected repeated calls to return the same key, not regenerate")
	}
}

func TestLoadSelfPrivateRoundTrips(t *testing.T) {
	s := newTestStore(t)
	generated, err := s.EnsureSecretKeyExists("alice@example.org", 1024)
	if err != nil {
		t.Fatalf("ensure secret key: %v", err)
	}

	priv, err := s.LoadSelfPrivate("alice@example.org")
	if err != nil {
		t.Fatalf("load self private: %v", err)
	}
	if priv.PrivateKey == nil {
		t.Fatal("expected a private key to load back")
	}
	if Fingerprint(priv) != Fingerprint(generated) {
		t.Fatalf("fingerprint mismatch after round trip: %q vs %q", Fingerprint(priv), Fingerprint(generated))
	}
}

func TestArmorPublicKeyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	entity, err := s.EnsureSecretKeyExists("bob@example.org", 1024)
	if err != nil {
		t.Fatalf("ensure secret key: %v", err)
	}

	armored, err := ArmorPublicKey(entity)
	if err != nil {
		t.Fatalf("armor public key: %v", err)
	}
	if !strings.Contains(armored, "BEGIN PGP PUBLIC KEY BLOCK") {
		t.Fatalf("expected PGP armor header, got: %q", armored)
	}

	parsed, err := ParseArmoredKey(armored)
	if err != nil {
		t.Fatalf("parse armored key: %v", err)
	}
	if Fingerprint(parsed[0]) != Fingerprint(entity) {
		t.Fatal("fingerprint changed across armor round trip")
	}
}

func TestSameFingerprintIsCaseInsensitive(t *testing.T) {
	if !SameFingerprint("ABCD1234", "abcd1234") {
		t.Fatal("expected case-insensitive fingerprint match")
	}
	if SameFingerprint("ABCD1234", "ABCD5678") {
		t.Fatal("expected distinct fingerprints to not match")
	}
}

func TestExtractEmailFromKey(t *testing.T) {
	s := newTestStore(t)
	entity, err := s.EnsureSecretKeyExists("carol@example.org", 1024)
	if err != nil {
		t.Fatalf("ensure secret key: %v", err)
	}
	if got := ExtractEmailFromKey(entity); got != "carol@example.org" {
		t.Fatalf("ExtractEmailFromKey = %q, want %q", got, "carol@example.org")
	}
}

func TestSaveSelfKeypairClearsPreviousDefault(t *testing.T) {
	s := newTestStore(t)
	first, err := s.EnsureSecretKeyExists("dave@example.org", 1024)
	if err != nil {
		t.Fatalf("ensure secret key: %v", err)
	}

	second, err := newGeneratedEntity(t, "dave@example.org")
	if err != nil {
		t.Fatalf("generate second entity: %v", err)
	}
	if _, err := s.SaveSelfKeypair(second, second, "dave@example.org", true); err != nil {
		t.Fatalf("save second keypair as default: %v", err)
	}

	loaded, err := s.LoadSelfPublic("dave@example.org")
	if err != nil {
		t.Fatalf("load self public: %v", err)
	}
	if Fingerprint(loaded) != Fingerprint(second) {
		t.Fatal("expected the newly saved default to be the loaded keypair")
	}
	if Fingerprint(loaded) == Fingerprint(first) {
		t.Fatal("expected the old default to no longer be active")
	}
}
