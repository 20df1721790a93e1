package crypto

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor(t.TempDir())
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}

	ciphertext, err := enc.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if ciphertext == "hunter2" {
		t.Fatal("expected ciphertext to differ from plaintext")
	}

	plaintext, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plaintext != "hunter2" {
		t.Fatalf("plaintext = %q, want hunter2", plaintext)
	}
}

func TestNewEncryptorReusesPersistedKey(t *testing.T) {
	dir := t.TempDir()
	first, err := NewEncryptor(dir)
	if err != nil {
		t.Fatalf("new encryptor (1st): %v", err)
	}
	ciphertext, err := first.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	second, err := NewEncryptor(dir)
	if err != nil {
		t.Fatalf("new encryptor (2nd): %v", err)
	}
	plaintext, err := second.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt with reloaded key: %v", err)
	}
	if plaintext != "secret" {
		t.Fatalf("plaintext = %q, want secret", plaintext)
	}
}

func TestDecryptRejectsTooShortCiphertext(t *testing.T) {
	enc, err := NewEncryptor(t.TempDir())
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}
	if _, err := enc.Decrypt("AAAA"); err == nil {
		t.Fatal("expected an error for undersized ciphertext")
	}
}
