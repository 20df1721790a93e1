package accountcfg

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
	return NewStore(db.DB)
}

func TestGetUnsetKeyReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	v, err := s.Get(KeyAddr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "" {
		t.Fatalf("value = %q, want empty for an unset key", v)
	}
}

func TestSetThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set(KeyMailServer, "imap.example.org"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := s.Get(KeyMailServer)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "imap.example.org" {
		t.Fatalf("value = %q, want imap.example.org", v)
	}
}

func TestSetOverwritesPriorValue(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set(KeyDisplayname, "Alice"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(KeyDisplayname, "Alice Smith"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, err := s.Get(KeyDisplayname)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "Alice Smith" {
		t.Fatalf("value = %q, want the overwritten value", v)
	}
}

func TestGetBoolDefaultsWhenUnset(t *testing.T) {
	s := newTestStore(t)
	v, err := s.GetBool(KeyE2eeEnabled, true)
	if err != nil {
		t.Fatalf("get bool: %v", err)
	}
	if !v {
		t.Fatal("expected default true for an unset bool key")
	}
}

func TestSetBoolRoundTrips(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetBool(KeyMvboxWatch, false); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	v, err := s.GetBool(KeyMvboxWatch, true)
	if err != nil {
		t.Fatalf("get bool: %v", err)
	}
	if v {
		t.Fatal("expected false after SetBool(false)")
	}
}

func TestMarkConfiguredCopiesRawValue(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set(KeyAddr, "alice@example.org"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if configured, _ := s.IsConfigured(); configured {
		t.Fatal("must not be configured before a probe marks it")
	}

	if err := s.MarkConfigured(KeyAddr); err != nil {
		t.Fatalf("mark configured: %v", err)
	}

	v, err := s.GetConfigured(KeyAddr)
	if err != nil {
		t.Fatalf("get configured: %v", err)
	}
	if v != "alice@example.org" {
		t.Fatalf("configured_addr = %q, want alice@example.org", v)
	}

	configured, err := s.IsConfigured()
	if err != nil {
		t.Fatalf("is configured: %v", err)
	}
	if !configured {
		t.Fatal("expected IsConfigured true after MarkConfigured(addr)")
	}
}
