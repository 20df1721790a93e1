package securejoin

import (
	"path/filepath"
	"testing"

	"github.com/hkdb/aerion-core/internal/chatstore"
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
	return NewStore(chatstore.NewStore(db.DB))
}

func TestMintInviteThenCheckSucceeds(t *testing.T) {
	s := newTestStore(t)
	invite, err := s.MintInvite(42, 1700000000)
	if err != nil {
		t.Fatalf("mint invite: %v", err)
	}

	ok, err := s.CheckInviteNumber(42, invite.InviteNumber)
	if err != nil {
		t.Fatalf("check invitenumber: %v", err)
	}
	if !ok {
		t.Fatal("expected invitenumber to validate")
	}

	ok, err = s.CheckAuth(42, invite.Auth)
	if err != nil {
		t.Fatalf("check auth: %v", err)
	}
	if !ok {
		t.Fatal("expected auth to validate")
	}
}

func TestCheckRejectsWrongChat(t *testing.T) {
	s := newTestStore(t)
	invite, err := s.MintInvite(1, 1700000000)
	if err != nil {
		t.Fatalf("mint invite: %v", err)
	}

	ok, err := s.CheckInviteNumber(2, invite.InviteNumber)
	if err != nil {
		t.Fatalf("check invitenumber: %v", err)
	}
	if ok {
		t.Fatal("invitenumber minted for chat 1 must not validate for chat 2")
	}
}

func TestCurrentInviteReturnsMostRecent(t *testing.T) {
	s := newTestStore(t)
	if _, ok, err := s.CurrentInvite(7); err != nil || ok {
		t.Fatalf("expected no invite yet, got ok=%v err=%v", ok, err)
	}
	first, err := s.MintInvite(7, 1700000000)
	if err != nil {
		t.Fatalf("mint invite: %v", err)
	}
	second, err := s.MintInvite(7, 1700000100)
	if err != nil {
		t.Fatalf("mint second invite: %v", err)
	}

	current, ok, err := s.CurrentInvite(7)
	if err != nil {
		t.Fatalf("current invite: %v", err)
	}
	if !ok {
		t.Fatal("expected a current invite")
	}
	if current != second {
		t.Fatalf("current = %+v, want most recently minted %+v (first was %+v)", current, second, first)
	}
}
