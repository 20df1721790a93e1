package contactsync

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

func TestAddAndListSource(t *testing.T) {
	s := newTestStore(t)
	id, err := s.AddSource("https://carddav.example.org/addressbooks/alice/", "alice")
	if err != nil {
		t.Fatalf("add source: %v", err)
	}

	sources, err := s.ListSources()
	if err != nil {
		t.Fatalf("list sources: %v", err)
	}
	if len(sources) != 1 || sources[0].ID != id {
		t.Fatalf("sources = %+v, want one row with id %s", sources, id)
	}
}

func TestMarkSyncedUpdatesTimestamp(t *testing.T) {
	s := newTestStore(t)
	id, err := s.AddSource("https://carddav.example.org/", "bob")
	if err != nil {
		t.Fatalf("add source: %v", err)
	}
	if err := s.MarkSynced(id, 1700000000); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	src, err := s.GetSource(id)
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if src.LastSyncAt != 1700000000 {
		t.Fatalf("LastSyncAt = %d, want 1700000000", src.LastSyncAt)
	}
}

func TestRemoveSource(t *testing.T) {
	s := newTestStore(t)
	id, err := s.AddSource("https://carddav.example.org/", "carol")
	if err != nil {
		t.Fatalf("add source: %v", err)
	}
	if err := s.RemoveSource(id); err != nil {
		t.Fatalf("remove source: %v", err)
	}
	sources, err := s.ListSources()
	if err != nil {
		t.Fatalf("list sources: %v", err)
	}
	if len(sources) != 0 {
		t.Fatalf("sources = %+v, want empty after remove", sources)
	}
}
