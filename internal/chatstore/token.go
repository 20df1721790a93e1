package chatstore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Token namespaces used by secure-join (§3).
const (
	TokenNamespaceInvitenumber = "invitenumber"
	TokenNamespaceAuth         = "auth"
)

// MintToken generates and persists a fresh random token in namespace,
// scoped to foreignID (0 for account-wide tokens).
func (s *Store) MintToken(namespace string, foreignID int64, now int64) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("chatstore: mint token: %w", err)
	}
	token := hex.EncodeToString(buf)

	_, err := s.db.Exec(`
		INSERT INTO tokens (namespace, foreign_id, token, timestamp) VALUES (?, ?, ?, ?)`,
		namespace, foreignID, token, now)
	if err != nil {
		return "", fmt.Errorf("chatstore: insert token: %w", err)
	}
	return token, nil
}

// LookupToken reports whether token is a currently-valid token in
// namespace scoped to foreignID.
func (s *Store) LookupToken(namespace string, foreignID int64, token string) (bool, error) {
	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM tokens WHERE namespace = ? AND foreign_id = ? AND token = ?`,
		namespace, foreignID, token).Scan(&one)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// TokenForNamespace returns the most recently minted token for
// namespace/foreignID, if any.
func (s *Store) TokenForNamespace(namespace string, foreignID int64) (string, bool, error) {
	var token string
	err := s.db.QueryRow(`
		SELECT token FROM tokens WHERE namespace = ? AND foreign_id = ?
		ORDER BY timestamp DESC LIMIT 1`, namespace, foreignID).Scan(&token)
	if err != nil {
		return "", false, nil
	}
	return token, true, nil
}
