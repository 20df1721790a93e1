// Package credentials provides secure credential storage with fallback support.
package credentials

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/hkdb/aerion-core/internal/crypto"
	"github.com/hkdb/aerion-core/internal/logging"
	"github.com/rs/zerolog"
	gokeyring "github.com/zalando/go-keyring"
)

const serviceName = "aerion-core"

// ErrCredentialNotFound is returned when no credential exists for the key.
var ErrCredentialNotFound = errors.New("credential not found")

// Store provides credential storage with OS keyring and encrypted DB fallback.
type Store struct {
	db             *sql.DB
	encryptor      *crypto.Encryptor
	keyringEnabled bool
	log            zerolog.Logger
}

// NewStore creates a new credential store, preferring the OS keyring and
// falling back to an AES-encrypted database column.
func NewStore(db *sql.DB, dataDir string) (*Store, error) {
	log := logging.WithComponent("credentials")

	encryptor, err := crypto.NewEncryptor(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	keyringEnabled := testKeyring()
	if keyringEnabled {
		log.Info().Msg("OS keyring available, using as primary credential storage")
	} else {
		log.Warn().Msg("OS keyring not available, using encrypted database storage")
	}

	return &Store{db: db, encryptor: encryptor, keyringEnabled: keyringEnabled, log: log}, nil
}

func testKeyring() bool {
	const testKey = "aerion-core-test-keyring-check"
	if err := gokeyring.Set(serviceName, testKey, "test"); err != nil {
		return false
	}
	gokeyring.Delete(serviceName, testKey)
	return true
}

func (s *Store) setSecret(keyringKey, table, column, idColumn, id, value string) error {
	if value == "" {
		return nil
	}

	if s.keyringEnabled {
		if err := gokeyring.Set(serviceName, keyringKey, value); err == nil {
			s.log.Debug().Str("key", keyringKey).Msg("secret stored in OS keyring")
			s.clearDBSecret(table, column, idColumn, id)
			return nil
		} else {
			s.log.Warn().Err(err).Msg("failed to store in OS keyring, using fallback")
		}
	}

	encrypted, err := s.encryptor.Encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}
	_, err = s.db.Exec(fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", table, column, idColumn), encrypted, id)
	if err != nil {
		return fmt.Errorf("failed to store encrypted secret: %w", err)
	}
	return nil
}

func (s *Store) getSecret(keyringKey, table, column, idColumn, id string) (string, error) {
	if s.keyringEnabled {
		value, err := gokeyring.Get(serviceName, keyringKey)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, gokeyring.ErrNotFound) {
			s.log.Warn().Err(err).Msg("error reading from OS keyring, trying fallback")
		}
	}

	var encrypted sql.NullString
	err := s.db.QueryRow(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", column, table, idColumn), id).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrCredentialNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query secret: %w", err)
	}
	if !encrypted.Valid || encrypted.String == "" {
		return "", ErrCredentialNotFound
	}

	value, err := s.encryptor.Decrypt(encrypted.String)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return value, nil
}

func (s *Store) clearDBSecret(table, column, idColumn, id string) {
	s.db.Exec(fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = ?", table, column, idColumn), id)
}

// SetMailPassword stores the IMAP password. The `config` table never
// holds plaintext passwords; mail_pw/send_pw rows are a sentinel the
// caller resolves through this store.
func (s *Store) SetMailPassword(password string) error {
	return s.setSecret("mail_pw", "config", "value", "keyname", "mail_pw", password)
}

// GetMailPassword retrieves the IMAP password.
func (s *Store) GetMailPassword() (string, error) {
	return s.getSecret("mail_pw", "config", "value", "keyname", "mail_pw")
}

// SetSendPassword stores the SMTP submission password.
func (s *Store) SetSendPassword(password string) error {
	return s.setSecret("send_pw", "config", "value", "keyname", "send_pw", password)
}

// GetSendPassword retrieves the SMTP submission password.
func (s *Store) GetSendPassword() (string, error) {
	return s.getSecret("send_pw", "config", "value", "keyname", "send_pw")
}

// SetPGPPrivateKey stores the armored private key material for a keypair row.
func (s *Store) SetPGPPrivateKey(keypairID int64, armoredKey []byte) error {
	if len(armoredKey) == 0 {
		return nil
	}
	keyringKey := fmt.Sprintf("keypair:%d:private", keypairID)
	return s.setSecret(keyringKey, "keypairs", "encrypted_private_key", "id", fmt.Sprintf("%d", keypairID), string(armoredKey))
}

// GetPGPPrivateKey retrieves the armored private key material for a keypair row.
func (s *Store) GetPGPPrivateKey(keypairID int64) ([]byte, error) {
	keyringKey := fmt.Sprintf("keypair:%d:private", keypairID)
	value, err := s.getSecret(keyringKey, "keypairs", "encrypted_private_key", "id", fmt.Sprintf("%d", keypairID))
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

// DeletePGPPrivateKey removes the armored private key material for a keypair row.
func (s *Store) DeletePGPPrivateKey(keypairID int64) error {
	keyringKey := fmt.Sprintf("keypair:%d:private", keypairID)
	if s.keyringEnabled {
		gokeyring.Delete(serviceName, keyringKey)
	}
	s.clearDBSecret("keypairs", "encrypted_private_key", "id", fmt.Sprintf("%d", keypairID))
	return nil
}

// SetCardDAVPassword stores a password for a CardDAV contact enrichment source.
func (s *Store) SetCardDAVPassword(sourceID string, password string) error {
	return s.setSecret("carddav:"+sourceID, "contact_sources", "encrypted_password", "id", sourceID, password)
}

// GetCardDAVPassword retrieves a password for a CardDAV contact enrichment source.
func (s *Store) GetCardDAVPassword(sourceID string) (string, error) {
	return s.getSecret("carddav:"+sourceID, "contact_sources", "encrypted_password", "id", sourceID)
}

// DeleteCardDAVPassword removes a password for a CardDAV contact enrichment source.
func (s *Store) DeleteCardDAVPassword(sourceID string) error {
	if s.keyringEnabled {
		gokeyring.Delete(serviceName, "carddav:"+sourceID)
	}
	s.clearDBSecret("contact_sources", "encrypted_password", "id", sourceID)
	return nil
}

// IsKeyringEnabled returns whether the OS keyring is being used.
func (s *Store) IsKeyringEnabled() bool {
	return s.keyringEnabled
}
