package chatstore

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

func TestCreateOrUpdateContactScalesUpOrigin(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.CreateOrUpdateContact("bob@example.org", "Bob", OriginIncomingUnknownFrom, 1000)
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}

	id2, err := s.CreateOrUpdateContact("bob@example.org", "", OriginIncomingTo, 2000)
	if err != nil {
		t.Fatalf("update contact: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same contact id, got %d and %d", id1, id2)
	}

	c, err := s.GetContact(id1)
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if c.Origin != OriginIncomingTo {
		t.Errorf("origin = %v, want %v (should scale up, never down)", c.Origin, OriginIncomingTo)
	}
	if c.AuthName != "Bob" {
		t.Errorf("authname = %q, want %q (empty update must not clobber)", c.AuthName, "Bob")
	}

	// A lower-ranked sighting must not scale the origin back down.
	if _, err := s.CreateOrUpdateContact("bob@example.org", "", OriginIncomingUnknownCc, 3000); err != nil {
		t.Fatalf("third update: %v", err)
	}
	c, err = s.GetContact(id1)
	if err != nil {
		t.Fatalf("get contact again: %v", err)
	}
	if c.Origin != OriginIncomingTo {
		t.Errorf("origin regressed to %v after lower-ranked sighting", c.Origin)
	}
}

func TestFindOrCreateSingleChatIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	contactID, err := s.CreateOrUpdateContact("bob@example.org", "Bob", OriginIncomingTo, 1000)
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}

	chatID1, created1, err := s.FindOrCreateSingleChat(contactID, 1000)
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if !created1 {
		t.Fatal("expected first call to create a chat")
	}

	chatID2, created2, err := s.FindOrCreateSingleChat(contactID, 2000)
	if err != nil {
		t.Fatalf("find or create again: %v", err)
	}
	if created2 {
		t.Fatal("expected second call to find the existing chat")
	}
	if chatID1 != chatID2 {
		t.Fatalf("chat ids differ: %d vs %d", chatID1, chatID2)
	}
}

func TestFindOrCreateGroupChatAddsSelf(t *testing.T) {
	s := newTestStore(t)

	chatID, created, err := s.FindOrCreateGroupChat("abcdefghijk", "Friends", false, 1000)
	if err != nil {
		t.Fatalf("create group chat: %v", err)
	}
	if !created {
		t.Fatal("expected group chat to be newly created")
	}

	isMember, err := s.IsMember(chatID, ContactSelf)
	if err != nil {
		t.Fatalf("is member: %v", err)
	}
	if !isMember {
		t.Error("self must be a member of every group chat it participates in (§3 invariant)")
	}

	chat, err := s.GetChat(chatID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if !chat.Unpromoted {
		t.Error("a freshly created group chat must start unpromoted")
	}
}

func TestParentForReplyPrefersNewestNonSelf(t *testing.T) {
	s := newTestStore(t)

	contactID, err := s.CreateOrUpdateContact("bob@example.org", "Bob", OriginIncomingTo, 1000)
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	chatID, _, err := s.FindOrCreateSingleChat(contactID, 1000)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	self := &Message{ChatID: chatID, FromID: ContactSelf, Timestamp: 1000, Type: TypeText, State: StateOutDelivered, RFC724MID: "a@host"}
	if _, err := s.InsertMessage(self); err != nil {
		t.Fatalf("insert self msg: %v", err)
	}

	peer := &Message{ChatID: chatID, FromID: contactID, Timestamp: 2000, Type: TypeText, State: StateInFresh, RFC724MID: "b@host", MimeInReplyTo: "a@host"}
	if _, err := s.InsertMessage(peer); err != nil {
		t.Fatalf("insert peer msg: %v", err)
	}

	parent, ok, err := s.ParentForReply(chatID)
	if err != nil {
		t.Fatalf("parent for reply: %v", err)
	}
	if !ok {
		t.Fatal("expected a parent to be found")
	}
	if parent.RFC724MID != "b@host" {
		t.Errorf("parent = %q, want newest non-self message %q", parent.RFC724MID, "b@host")
	}
}

func TestParentForReplyFallsBackToOldestSelf(t *testing.T) {
	s := newTestStore(t)

	chatID, _, err := s.FindOrCreateGroupChat("abcdefghijk", "Solo", false, 1000)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	first := &Message{ChatID: chatID, FromID: ContactSelf, Timestamp: 1000, Type: TypeText, State: StateOutDelivered, RFC724MID: "a@host"}
	if _, err := s.InsertMessage(first); err != nil {
		t.Fatalf("insert first msg: %v", err)
	}
	second := &Message{ChatID: chatID, FromID: ContactSelf, Timestamp: 2000, Type: TypeText, State: StateOutDelivered, RFC724MID: "b@host"}
	if _, err := s.InsertMessage(second); err != nil {
		t.Fatalf("insert second msg: %v", err)
	}

	parent, ok, err := s.ParentForReply(chatID)
	if err != nil {
		t.Fatalf("parent for reply: %v", err)
	}
	if !ok {
		t.Fatal("expected a parent to be found")
	}
	if parent.RFC724MID != "a@host" {
		t.Errorf("parent = %q, want oldest self message %q", parent.RFC724MID, "a@host")
	}
}

func TestUpsertDraftReplacesPriorDraft(t *testing.T) {
	s := newTestStore(t)

	chatID, _, err := s.FindOrCreateGroupChat("abcdefghijk", "Drafts", false, 1000)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	first := &Message{ChatID: chatID, FromID: ContactSelf, Timestamp: 1000, Type: TypeText, RFC724MID: "draft1@host", Subject: "first"}
	id1, err := s.UpsertDraft(first)
	if err != nil {
		t.Fatalf("upsert draft 1: %v", err)
	}

	second := &Message{ChatID: chatID, FromID: ContactSelf, Timestamp: 2000, Type: TypeText, RFC724MID: "draft2@host", Subject: "second"}
	id2, err := s.UpsertDraft(second)
	if err != nil {
		t.Fatalf("upsert draft 2: %v", err)
	}

	if _, err := s.GetMessage(id1); err == nil {
		t.Error("expected the first draft to have been deleted")
	}
	m, err := s.GetMessage(id2)
	if err != nil {
		t.Fatalf("get second draft: %v", err)
	}
	if m.State != StateOutDraft || !m.Hidden {
		t.Errorf("draft state = %d hidden = %v, want OUT_DRAFT and hidden", m.State, m.Hidden)
	}
}

func TestParamsRoundTrip(t *testing.T) {
	p := Params{}
	p.Set(ParamFile, "$BLOBDIR/photo.jpg")
	p.SetInt(ParamGuaranteeE2ee, 1)

	decoded := ParseParams(p.Encode())
	if decoded.Get(ParamFile) != "$BLOBDIR/photo.jpg" {
		t.Errorf("file = %q", decoded.Get(ParamFile))
	}
	if decoded.GetInt(ParamGuaranteeE2ee) != 1 {
		t.Errorf("guarantee_e2ee = %d, want 1", decoded.GetInt(ParamGuaranteeE2ee))
	}
	if decoded.Exists(ParamForwarded) {
		t.Error("unset key must not exist")
	}
}

func TestMarkLeftPreventsSilentReadd(t *testing.T) {
	s := newTestStore(t)

	if err := s.MarkLeft("abcdefghijk"); err != nil {
		t.Fatalf("mark left: %v", err)
	}
	left, err := s.HasLeft("abcdefghijk")
	if err != nil {
		t.Fatalf("has left: %v", err)
	}
	if !left {
		t.Error("expected grpid to be recorded as left")
	}
}
