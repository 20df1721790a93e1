package threadmodel

import "testing"

func TestNewDirectMessageIDShape(t *testing.T) {
	mid := NewDirectMessageID("example.org")
	if !hasPrefix(mid, "Mr.") {
		t.Fatalf("expected Mr. prefix, got %q", mid)
	}
	if !hasSuffix(mid, "@example.org") {
		t.Fatalf("expected @example.org suffix, got %q", mid)
	}
}

func TestNewGroupMessageIDRoundTripsGroupID(t *testing.T) {
	grpid := NewGrpID()
	if len(grpid) != 11 {
		t.Fatalf("expected 11-char grpid, got %q (%d)", grpid, len(grpid))
	}
	mid := NewGroupMessageID(grpid, "example.org")

	got, ok := ExtractGroupID(mid)
	if !ok {
		t.Fatalf("ExtractGroupID(%q) failed to extract", mid)
	}
	if got != grpid {
		t.Fatalf("ExtractGroupID = %q, want %q", got, grpid)
	}
}

func TestExtractGroupIDRejectsNonGroupForms(t *testing.T) {
	cases := []string{
		"",
		"Mr.abc.def@example.org",
		"<Gr.@example.org>",
		"Gr.short@example.org",
		"plain-message-id@example.org",
	}
	for _, c := range cases {
		if _, ok := ExtractGroupID(c); ok {
			t.Errorf("ExtractGroupID(%q) unexpectedly succeeded", c)
		}
	}
}

func TestExtractGroupIDAccepts16CharVariant(t *testing.T) {
	grpid := "abcdefghij0123ab" // 16 chars
	mid := "Gr." + grpid + ".randtoken@example.org"
	got, ok := ExtractGroupID(mid)
	if !ok || got != grpid {
		t.Fatalf("ExtractGroupID(%q) = (%q, %v), want (%q, true)", mid, got, ok, grpid)
	}
}

func TestExtractGroupIDStripsAngleBrackets(t *testing.T) {
	grpid := NewGrpID()
	mid := "<" + NewGroupMessageID(grpid, "example.org") + ">"
	got, ok := ExtractGroupID(mid)
	if !ok || got != grpid {
		t.Fatalf("ExtractGroupID(%q) = (%q, %v), want (%q, true)", mid, got, ok, grpid)
	}
}

func TestComputeReferencesPrefersExistingReferences(t *testing.T) {
	parent := Parent{
		RFC724MID:      "child@example.org",
		MimeInReplyTo:  "inreplyto@example.org",
		MimeReferences: "first@example.org second@example.org",
	}
	got := ComputeReferences(parent)
	want := "first@example.org child@example.org"
	if got != want {
		t.Fatalf("ComputeReferences = %q, want %q", got, want)
	}
}

func TestComputeReferencesFallsBackToInReplyTo(t *testing.T) {
	parent := Parent{
		RFC724MID:     "child@example.org",
		MimeInReplyTo: "inreplyto@example.org",
	}
	got := ComputeReferences(parent)
	want := "inreplyto@example.org child@example.org"
	if got != want {
		t.Fatalf("ComputeReferences = %q, want %q", got, want)
	}
}

func TestComputeReferencesFallsBackToRFC724MID(t *testing.T) {
	parent := Parent{RFC724MID: "child@example.org"}
	got := ComputeReferences(parent)
	if got != "child@example.org" {
		t.Fatalf("ComputeReferences = %q, want %q", got, "child@example.org")
	}
}

func TestComputeInReplyTo(t *testing.T) {
	parent := Parent{RFC724MID: "child@example.org"}
	if got := ComputeInReplyTo(parent); got != "child@example.org" {
		t.Fatalf("ComputeInReplyTo = %q, want %q", got, "child@example.org")
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
