package secure

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
)

func newTestKey(t *testing.T) string {
	t.Helper()
	key, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate age identity: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.txt")
	if err := os.WriteFile(path, []byte(key.String()), 0600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	return path
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	ctx := context.Background()
	c := NewAgeCrypter(newTestKey(t))

	want := []byte("super secret private key bytes")
	ciphertext, err := c.Encrypt(ctx, want)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if string(ciphertext) == string(want) {
		t.Fatalf("Encrypt() returned plaintext unchanged")
	}

	got, err := c.Decrypt(ctx, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("Decrypt() = %q, want %q", got, want)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	ctx := context.Background()
	c1 := NewAgeCrypter(newTestKey(t))
	c2 := NewAgeCrypter(newTestKey(t))

	ciphertext, err := c1.Encrypt(ctx, []byte("data"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := c2.Decrypt(ctx, ciphertext); err == nil {
		t.Fatalf("Decrypt() with wrong key = nil error, want error")
	}
}

func TestMissingKeyFileErrors(t *testing.T) {
	c := NewAgeCrypter(filepath.Join(t.TempDir(), "missing.txt"))
	if _, err := c.Encrypt(context.Background(), []byte("data")); err == nil {
		t.Fatalf("Encrypt() with missing key file = nil error, want error")
	}
}
