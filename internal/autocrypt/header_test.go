package autocrypt

import (
	"bytes"
	"strings"
	"testing"
)

func TestRenderParseHeaderRoundTrip(t *testing.T) {
	h := Header{Addr: "alice@example.org", PreferEncrypt: PreferMutual, KeyData: bytes.Repeat([]byte{0xAB}, 200)}
	rendered := RenderHeader(h)

	got, err := ParseHeader(rendered)
	if err != nil {
		t.Fatalf("parse rendered header: %v", err)
	}
	if got.Addr != h.Addr {
		t.Fatalf("addr = %q, want %q", got.Addr, h.Addr)
	}
	if got.PreferEncrypt != PreferMutual {
		t.Fatalf("prefer-encrypt = %v, want mutual", got.PreferEncrypt)
	}
	if !bytes.Equal(got.KeyData, h.KeyData) {
		t.Fatal("keydata changed across render/parse round trip")
	}
}

func TestRenderHeaderOmitsPreferEncryptWhenNotMutual(t *testing.T) {
	h := Header{Addr: "alice@example.org", PreferEncrypt: PreferNoPreference, KeyData: []byte{1, 2, 3}}
	rendered := RenderHeader(h)
	if strings.Contains(rendered, "prefer-encrypt") {
		t.Fatalf("expected no prefer-encrypt attribute, got %q", rendered)
	}
}

func TestRenderHeaderFoldsLongKeydata(t *testing.T) {
	h := Header{Addr: "alice@example.org", KeyData: bytes.Repeat([]byte{0x01}, 500)}
	rendered := RenderHeader(h)
	for _, line := range strings.Split(rendered, "\n") {
		if len(line) > 77 { // 76 chars plus leading continuation space
			t.Fatalf("line exceeds fold width: %d chars", len(line))
		}
	}
}

func TestRenderGossipHeaderNeverCarriesPreferEncrypt(t *testing.T) {
	rendered := RenderGossipHeader("bob@example.org", []byte{1, 2, 3})
	if strings.Contains(rendered, "prefer-encrypt") {
		t.Fatalf("gossip header must never carry prefer-encrypt, got %q", rendered)
	}

	got, err := ParseHeader(rendered)
	if err != nil {
		t.Fatalf("parse gossip header: %v", err)
	}
	if got.Addr != "bob@example.org" {
		t.Fatalf("addr = %q, want bob@example.org", got.Addr)
	}
}

func TestParseHeaderRejectsMissingAddr(t *testing.T) {
	_, err := ParseHeader("keydata=AAAA")
	if err == nil {
		t.Fatal("expected error for missing addr attribute")
	}
}

func TestParseHeaderRejectsMissingKeydata(t *testing.T) {
	_, err := ParseHeader("addr=alice@example.org")
	if err == nil {
		t.Fatal("expected error for missing keydata attribute")
	}
}

func TestParseHeaderRejectsUnknownCriticalAttribute(t *testing.T) {
	_, err := ParseHeader("addr=alice@example.org; Critical=yes; keydata=AAAA")
	if err == nil {
		t.Fatal("expected error for unsupported critical attribute")
	}
}

func TestParseHeaderIgnoresUnknownLowercaseAttribute(t *testing.T) {
	_, err := ParseHeader("addr=alice@example.org; type=1; keydata=AAAA")
	if err != nil {
		t.Fatalf("unexpected error for forward-compatible attribute: %v", err)
	}
}

func TestParseHeaderToleratesFoldedWhitespace(t *testing.T) {
	h, err := ParseHeader("addr=alice@example.org;\n keydata=AA\n AA")
	if err != nil {
		t.Fatalf("parse folded header: %v", err)
	}
	if h.Addr != "alice@example.org" {
		t.Fatalf("addr = %q", h.Addr)
	}
}
