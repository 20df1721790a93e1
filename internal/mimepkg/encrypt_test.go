package mimepkg

import (
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

func generateTestEntity(t *testing.T, addr string) *openpgp.Entity {
	t.Helper()
	cfg := &packet.Config{RSABits: 1024}
	entity, err := openpgp.NewEntity(addr, "", addr, cfg)
	if err != nil {
		t.Fatalf("generate entity: %v", err)
	}
	for _, ident := range entity.Identities {
		if err := ident.SelfSignature.SignUserId(ident.UserId.Id, entity.PrimaryKey, entity.PrivateKey, cfg); err != nil {
			t.Fatalf("self-sign identity: %v", err)
		}
	}
	return entity
}

func TestShouldMemoryHole(t *testing.T) {
	cases := map[string]bool{
		"Subject":        true,
		"Chat-Version":   false,
		"Chat-Group-ID":  true,
		"Secure-Join":    true,
		"Secure-Join-Fp": true,
		"From":           false,
		"To":             false,
		"Date":           false,
	}
	for name, want := range cases {
		if got := shouldMemoryHole(name); got != want {
			t.Errorf("shouldMemoryHole(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestPartitionHeadersReplacesOuterSubject(t *testing.T) {
	headers := [][2]string{
		{"From", "alice@example.org"},
		{"Subject", "secret subject"},
		{"Chat-Group-ID", "abc"},
	}
	outer, inner := partitionHeaders(headers)

	foundPlaceholder := false
	for _, h := range outer {
		if h[0] == "Subject" {
			if h[1] != "..." {
				t.Fatalf("outer subject = %q, want ...", h[1])
			}
			foundPlaceholder = true
		}
	}
	if !foundPlaceholder {
		t.Fatal("expected outer headers to carry a placeholder Subject")
	}

	foundRealSubject := false
	for _, h := range inner {
		if h[0] == "Subject" && h[1] == "secret subject" {
			foundRealSubject = true
		}
	}
	if !foundRealSubject {
		t.Fatal("expected inner headers to carry the real Subject")
	}
}

func TestRenderInnerWrapperAddsProtectedHeadersWithNoContentType(t *testing.T) {
	wrapper := renderInnerWrapper([][2]string{{"Subject", "hi"}}, []byte("body"), nil)
	if !strings.Contains(string(wrapper), `Content-Type: text/plain; charset=utf-8; protected-headers="v1"`) {
		t.Fatalf("expected a default protected-headers Content-Type, got:\n%s", wrapper)
	}
}

func TestRenderInnerWrapperTagsExistingContentType(t *testing.T) {
	wrapper := renderInnerWrapper([][2]string{{"Content-Type", "text/html; charset=utf-8"}}, []byte("<b>hi</b>"), nil)
	if !strings.Contains(string(wrapper), `Content-Type: text/html; charset=utf-8; protected-headers="v1"`) {
		t.Fatalf("expected the existing Content-Type to be tagged, got:\n%s", wrapper)
	}
}

func TestBuildPlainMessageWithoutRecipients(t *testing.T) {
	result, err := Build(BuildInput{
		OuterHeaders: [][2]string{{"From", "alice@example.org"}, {"Subject", "hi"}},
		Body:         []byte("hello"),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if result.Encrypted {
		t.Fatal("expected plain (unencrypted) result")
	}
	if !strings.Contains(string(result.Raw), "hello") {
		t.Fatal("expected plain body to survive unchanged")
	}
	if !strings.Contains(string(result.Raw), "Subject: hi") {
		t.Fatal("expected the real subject to remain on outer headers when unencrypted")
	}
}

func TestBuildEncryptedThenDecryptRoundTrips(t *testing.T) {
	alice := generateTestEntity(t, "alice@example.org")
	bob := generateTestEntity(t, "bob@example.org")

	result, err := Build(BuildInput{
		OuterHeaders: [][2]string{
			{"From", "alice@example.org"},
			{"To", "bob@example.org"},
			{"Subject", "secret subject"},
		},
		Body:          []byte("top secret body"),
		RecipientKeys: openpgp.EntityList{bob},
		SelfPublicKey: alice,
		SignWith:      alice,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !result.Encrypted {
		t.Fatal("expected an encrypted result")
	}
	if strings.Contains(string(result.Raw), "secret subject") {
		t.Fatal("real subject must never appear on the outer, unencrypted headers")
	}

	tree, err := Parse(result.Raw)
	if err != nil {
		t.Fatalf("parse built message: %v", err)
	}

	decryptResult := Decrypt(tree, openpgp.EntityList{bob}, openpgp.EntityList{alice})
	if !decryptResult.AnyDecrypted {
		t.Fatal("expected the recipient to successfully decrypt")
	}
	if !decryptResult.IsFullyEncrypted() {
		t.Fatal("expected a fully-encrypted result with no unencrypted sibling parts")
	}
	if len(decryptResult.SignedFingerprints) == 0 {
		t.Fatal("expected the sender's signature to verify against alice's key")
	}
	if got := tree.Root.Params["protected-headers"]; got != "v1" {
		t.Fatalf("inner wrapper protected-headers param = %q, want v1", got)
	}
}

func TestExtractGossipAddr(t *testing.T) {
	got := ExtractGossipAddr("addr=bob@example.org; keydata=AAAA")
	if got != "bob@example.org" {
		t.Fatalf("ExtractGossipAddr = %q, want bob@example.org", got)
	}
}

func TestExtractGossipAddrMissing(t *testing.T) {
	got := ExtractGossipAddr("keydata=AAAA")
	if got != "" {
		t.Fatalf("ExtractGossipAddr = %q, want empty", got)
	}
}
