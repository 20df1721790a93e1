package mimepkg

import (
	"strings"
	"testing"
)

func TestParsePlainMessage(t *testing.T) {
	raw := []byte("From: alice@example.org\r\nTo: bob@example.org\r\nSubject: hi\r\nContent-Type: text/plain\r\n\r\nhello world")
	tree, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tree.Root.ContentType != "text/plain" {
		t.Fatalf("content type = %q, want text/plain", tree.Root.ContentType)
	}
	if string(tree.Root.Body) != "hello world" {
		t.Fatalf("body = %q", tree.Root.Body)
	}
}

func TestParseMultipartMixed(t *testing.T) {
	raw := []byte("Content-Type: multipart/mixed; boundary=\"b1\"\r\n\r\n" +
		"--b1\r\nContent-Type: text/plain\r\n\r\npart one\r\n" +
		"--b1\r\nContent-Type: text/plain\r\n\r\npart two\r\n" +
		"--b1--\r\n")
	tree, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !tree.Root.IsMultipart() {
		t.Fatal("expected root to be multipart")
	}
	if len(tree.Root.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(tree.Root.Children))
	}
}

func TestFindMultipartEncryptedLocatesSubtree(t *testing.T) {
	raw := []byte("Content-Type: multipart/encrypted; protocol=\"application/pgp-encrypted\"; boundary=\"b1\"\r\n\r\n" +
		"--b1\r\nContent-Type: application/pgp-encrypted\r\n\r\nVersion: 1\r\n\r\n" +
		"--b1\r\nContent-Type: application/octet-stream\r\n\r\nencrypted-bytes\r\n" +
		"--b1--\r\n")
	tree, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	found := FindMultipartEncrypted(tree.Root)
	if found == nil {
		t.Fatal("expected to find multipart/encrypted subtree")
	}
	if len(found.Children) != 2 {
		t.Fatalf("expected 2 children under encrypted part, got %d", len(found.Children))
	}
}

func TestFindMultipartEncryptedIgnoresWrongProtocol(t *testing.T) {
	raw := []byte("Content-Type: multipart/encrypted; protocol=\"application/x-other\"; boundary=\"b1\"\r\n\r\n" +
		"--b1\r\nContent-Type: text/plain\r\n\r\nhi\r\n" +
		"--b1--\r\n")
	tree, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if found := FindMultipartEncrypted(tree.Root); found != nil {
		t.Fatal("expected no match for a non-Autocrypt protocol parameter")
	}
}

func TestHasSiblingParts(t *testing.T) {
	p := &Part{Children: []*Part{{}, {}}}
	if !HasSiblingParts(p) {
		t.Fatal("expected true for 2 children")
	}
	single := &Part{Children: []*Part{{}}}
	if HasSiblingParts(single) {
		t.Fatal("expected false for 1 child")
	}
}

func TestSanitizeForPreviewStripsMarkup(t *testing.T) {
	got := SanitizeForPreview("<b>hello</b> <script>evil()</script>world")
	if strings.Contains(got, "<") || strings.Contains(got, "script") {
		t.Fatalf("expected markup stripped, got %q", got)
	}
	if !strings.Contains(got, "hello") || !strings.Contains(got, "world") {
		t.Fatalf("expected text content preserved, got %q", got)
	}
}
