// Package crypto implements the encrypted-database fallback used by
// internal/credentials when the OS keyring is unavailable.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hkdb/aerion-core/internal/logging"
	"github.com/rs/zerolog"
)

const keyFileName = ".credkey"

// Encryptor encrypts small secrets (passwords, private key armor) at
// rest using AES-256-GCM with a key generated once per data directory
// and stored with owner-only permissions alongside the database.
type Encryptor struct {
	key []byte
	log zerolog.Logger
}

// NewEncryptor loads or generates the local encryption key under dataDir.
func NewEncryptor(dataDir string) (*Encryptor, error) {
	log := logging.WithComponent("crypto")

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	keyPath := filepath.Join(dataDir, keyFileName)
	key, err := os.ReadFile(keyPath)
	if err == nil && len(key) == 32 {
		return &Encryptor{key: key, log: log}, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return nil, fmt.Errorf("failed to persist key file: %w", err)
	}
	log.Info().Str("path", keyPath).Msg("generated new local credential encryption key")

	return &Encryptor{key: key, log: log}, nil
}

// Encrypt returns a base64 string holding a random nonce followed by the
// AES-GCM sealed plaintext.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
