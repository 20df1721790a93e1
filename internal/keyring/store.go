// Package keyring implements the key store (C1): it persists the local
// user's self key pair and arbitrary peer public keys, and provides
// fingerprinting for the rest of the engine.
package keyring

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/hkdb/aerion-core/internal/credentials"
	"github.com/hkdb/aerion-core/internal/logging"
	"github.com/rs/zerolog"
)

// Keypair is a stored row of the keypairs table.
type Keypair struct {
	ID        int64
	Addr      string
	IsDefault bool
	PublicKey openpgp.EntityList
	CreatedAt time.Time
}

// Store is the key store described in §4.1.
type Store struct {
	db   *sql.DB
	cred *credentials.Store
	log  zerolog.Logger
}

// NewStore builds a key store over the keypairs table, delegating the
// private key bytes at rest to the credentials store (OS keyring first,
// AES-encrypted DB column as fallback).
func NewStore(db *sql.DB, cred *credentials.Store) *Store {
	return &Store{db: db, cred: cred, log: logging.WithComponent("keyring")}
}

// LoadSelfPublic returns the default self public key for addr, generating
// one via EnsureSecretKeyExists if none exists yet.
func (s *Store) LoadSelfPublic(addr string) (*openpgp.Entity, error) {
	kp, err := s.defaultKeypair(addr)
	if err != nil {
		return s.EnsureSecretKeyExists(addr, 0)
	}
	if len(kp.PublicKey) == 0 {
		return nil, fmt.Errorf("keypair %d has no public key material", kp.ID)
	}
	return kp.PublicKey[0], nil
}

// LoadSelfPrivate returns the default self private key for addr.
func (s *Store) LoadSelfPrivate(addr string) (*openpgp.Entity, error) {
	kp, err := s.defaultKeypair(addr)
	if err != nil {
		return nil, err
	}
	armored, err := s.cred.GetPGPPrivateKey(kp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key for keypair %d: %w", kp.ID, err)
	}
	entities, err := ParseArmoredKey(string(armored))
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored private key: %w", err)
	}
	return entities[0], nil
}

func (s *Store) defaultKeypair(addr string) (*Keypair, error) {
	var id int64
	var publicArmored string
	var isDefault bool
	var createdAt int64
	err := s.db.QueryRow(
		`SELECT id, public_key, is_default, created_at FROM keypairs
		 WHERE addr = ? AND is_default = 1`, addr,
	).Scan(&id, &publicArmored, &isDefault, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("no default keypair for %s: %w", addr, err)
	}
	entities, err := ParseArmoredKey(publicArmored)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored public key: %w", err)
	}
	return &Keypair{ID: id, Addr: addr, IsDefault: isDefault, PublicKey: entities, CreatedAt: time.Unix(createdAt, 0)}, nil
}

// SaveSelfKeypair inserts a new keypair row for addr. If isDefault is
// true, any previous default for this address is cleared first. The
// private key is byte-identical round-trip: it is stored exactly as
// ArmorPrivateKey/ArmorPublicKey rendered it.
func (s *Store) SaveSelfKeypair(pub *openpgp.Entity, priv *openpgp.Entity, addr string, isDefault bool) (int64, error) {
	pubArmored, err := ArmorPublicKey(pub)
	if err != nil {
		return 0, fmt.Errorf("failed to armor public key: %w", err)
	}
	privArmored, err := ArmorPrivateKey(priv)
	if err != nil {
		return 0, fmt.Errorf("failed to armor private key: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if isDefault {
		if _, err := tx.Exec("UPDATE keypairs SET is_default = 0 WHERE addr = ?", addr); err != nil {
			return 0, fmt.Errorf("failed to clear previous default: %w", err)
		}
	}

	res, err := tx.Exec(
		`INSERT INTO keypairs (addr, is_default, public_key, created_at) VALUES (?, ?, ?, ?)`,
		addr, isDefault, pubArmored, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert keypair: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	if err := s.cred.SetPGPPrivateKey(id, []byte(privArmored)); err != nil {
		return 0, fmt.Errorf("failed to store private key: %w", err)
	}

	s.log.Info().Int64("keypair_id", id).Str("addr", addr).Bool("default", isDefault).Msg("saved self keypair")
	return id, nil
}

// Fingerprint returns the hex, case-insensitively-comparable fingerprint
// of an entity's primary key.
func (s *Store) Fingerprint(entity *openpgp.Entity) string {
	return Fingerprint(entity)
}

// EnsureSecretKeyExists generates and persists a default self key pair
// for addr if none exists. RSA-2048/e=65537 matches the historical
// Autocrypt default; callers may request a stronger default via bits.
func (s *Store) EnsureSecretKeyExists(addr string, bits int) (*openpgp.Entity, error) {
	if bits <= 0 {
		bits = 2048
	}

	if _, err := s.defaultKeypair(addr); err == nil {
		entity, loadErr := s.LoadSelfPrivate(addr)
		if loadErr == nil {
			return entity, nil
		}
	}

	cfg := &packet.Config{RSABits: bits}
	entity, err := openpgp.NewEntity(addr, "", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	for _, ident := range entity.Identities {
		if err := ident.SelfSignature.SignUserId(ident.UserId.Id, entity.PrimaryKey, entity.PrivateKey, cfg); err != nil {
			return nil, fmt.Errorf("failed to self-sign identity: %w", err)
		}
	}

	if _, err := s.SaveSelfKeypair(entity, entity, addr, true); err != nil {
		return nil, fmt.Errorf("failed to persist generated key pair: %w", err)
	}

	return entity, nil
}
