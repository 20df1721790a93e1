package imapengine

import (
	"testing"

	"github.com/hkdb/aerion-core/internal/imap"
)

func TestResolveResyncUnchangedOnlyCandidatesAboveStored(t *testing.T) {
	stored := UIDState{UIDValidity: 100, UIDNext: 50}
	selected := &imap.Mailbox{UIDValidity: 100, UIDNext: 60, Messages: 10}

	d := resolveResync(stored, selected)
	if d.NeedsFullResync {
		t.Fatal("unchanged uidvalidity must not trigger a full resync")
	}
	if !d.HasCandidates || d.CandidateStart != 50 {
		t.Fatalf("candidate start = %d, hasCandidates = %v, want 50, true", d.CandidateStart, d.HasCandidates)
	}
	if d.NewState.UIDNext != 60 {
		t.Fatalf("new uid_next = %d, want 60", d.NewState.UIDNext)
	}
}

func TestResolveResyncChangedSchedulesFullResyncAndReportsZero(t *testing.T) {
	stored := UIDState{UIDValidity: 100, UIDNext: 50}
	selected := &imap.Mailbox{UIDValidity: 200, UIDNext: 5, Messages: 3}

	d := resolveResync(stored, selected)
	if !d.NeedsFullResync {
		t.Fatal("changed uidvalidity must trigger a full resync")
	}
	if d.HasCandidates {
		t.Fatal("a uidvalidity change must report zero new messages this cycle")
	}
	if d.NewState.UIDValidity != 200 || d.NewState.UIDNext != 5 {
		t.Fatalf("new state = %+v, want replaced pair (200, 5)", d.NewState)
	}
}

func TestResolveResyncFirstTimeAdoptsWithoutResync(t *testing.T) {
	stored := UIDState{UIDValidity: 0, UIDNext: 0}
	selected := &imap.Mailbox{UIDValidity: 42, UIDNext: 7, Messages: 6}

	d := resolveResync(stored, selected)
	if d.NeedsFullResync {
		t.Fatal("first-time discovery must not trigger a full resync")
	}
	if !d.HasCandidates || d.CandidateStart != 1 {
		t.Fatalf("candidate start = %d, hasCandidates = %v, want 1, true", d.CandidateStart, d.HasCandidates)
	}
}

func TestResolveResyncEmptyMailboxSetsUIDNextOne(t *testing.T) {
	stored := UIDState{UIDValidity: 100, UIDNext: 50}
	selected := &imap.Mailbox{UIDValidity: 100, UIDNext: 0, Messages: 0}

	d := resolveResync(stored, selected)
	if d.HasCandidates {
		t.Fatal("an empty mailbox has no candidates")
	}
	if d.NewState.UIDNext != 1 {
		t.Fatalf("uid_next = %d, want 1 for an empty mailbox", d.NewState.UIDNext)
	}
}

func TestClassifyPrefersServerAttributeOverName(t *testing.T) {
	mb := &imap.Mailbox{Name: "Some Folder", Type: imap.FolderTypeSent}
	if k := classify(mb, "DeltaChat"); k != KindSentbox {
		t.Fatalf("classify = %v, want KindSentbox (server attribute wins)", k)
	}
}

func TestClassifyFallsBackToLocalizedName(t *testing.T) {
	mb := &imap.Mailbox{Name: "Gesendet", Type: imap.FolderTypeFolder}
	if k := classify(mb, "DeltaChat"); k != KindSentbox {
		t.Fatalf("classify = %v, want KindSentbox via localized name table", k)
	}
}

func TestClassifyMoveboxNameWins(t *testing.T) {
	mb := &imap.Mailbox{Name: "DeltaChat", Type: imap.FolderTypeFolder}
	if k := classify(mb, "DeltaChat"); k != KindMvbox {
		t.Fatalf("classify = %v, want KindMvbox", k)
	}
}

func TestJobParamRoundTrip(t *testing.T) {
	p := jobParam{Folder: "INBOX", UID: 42, MessageID: "abc@example.com"}
	decoded, err := decodeJobParam(encodeJobParam(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != p {
		t.Fatalf("round trip = %+v, want %+v", decoded, p)
	}
}

func TestJobParamRoundTripNoMessageID(t *testing.T) {
	p := jobParam{Folder: "INBOX", UID: 7}
	decoded, err := decodeJobParam(encodeJobParam(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != p {
		t.Fatalf("round trip = %+v, want %+v", decoded, p)
	}
}
