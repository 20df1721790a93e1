package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// writeBlob persists content under the blob directory with a random
// name, returning the path stored in a message's param bag (relative
// to BlobDir, so the blob directory itself can move between devices
// without rewriting every message).
func (p *Pipeline) writeBlob(content []byte, ext string) (string, error) {
	if p.cfg.BlobDir == "" {
		return "", fmt.Errorf("pipeline: no blob directory configured")
	}
	if err := os.MkdirAll(p.cfg.BlobDir, 0o700); err != nil {
		return "", fmt.Errorf("pipeline: create blob dir: %w", err)
	}
	name := randomBlobName() + ext
	if err := os.WriteFile(filepath.Join(p.cfg.BlobDir, name), content, 0o600); err != nil {
		return "", fmt.Errorf("pipeline: write blob: %w", err)
	}
	return name, nil
}

func (p *Pipeline) readBlob(relPath string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(p.cfg.BlobDir, relPath))
	if err != nil {
		return nil, fmt.Errorf("pipeline: read blob %q: %w", relPath, err)
	}
	return data, nil
}

func randomBlobName() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
