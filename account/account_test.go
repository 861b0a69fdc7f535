package account

import (
	"context"
	"testing"

	"github.com/caasmo/certrenew/certutil"
	"github.com/caasmo/certrenew/kv/kvtest"
	"github.com/caasmo/certrenew/settings"
	"github.com/go-acme/lego/v4/registration"
)

func TestGetAccountLoadsExistingRecord(t *testing.T) {
	ctx := context.Background()
	client := kvtest.New()
	store := settings.New(client, "ns:certs:settings")

	key, err := certutil.GenerateKey(certutil.DefaultKeyBits)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	rec := record{
		EncryptedPrivateKey: certutil.EncodePrivateKeyPEM(key),
		Registration:        &registration.Resource{URI: "https://acme.example/acct/1"},
		Email:               "ops@example.com",
	}
	if _, err := store.Set(ctx, map[string]any{"account:production": rec}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	m := New(store, "production", "https://acme.example/directory", "ops@example.com")

	acc, err := m.GetAccount(ctx)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.Email != "ops@example.com" {
		t.Fatalf("GetAccount().Email = %q, want ops@example.com", acc.Email)
	}
	if acc.Registration.URI != "https://acme.example/acct/1" {
		t.Fatalf("GetAccount().Registration.URI = %q, want seeded URI", acc.Registration.URI)
	}
	if acc.PrivateKey.N.Cmp(key.N) != 0 {
		t.Fatalf("GetAccount().PrivateKey modulus mismatch")
	}
}

func TestGetAccountIsStableAcrossCalls(t *testing.T) {
	ctx := context.Background()
	client := kvtest.New()
	store := settings.New(client, "ns:certs:settings")

	key, err := certutil.GenerateKey(certutil.DefaultKeyBits)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	rec := record{
		EncryptedPrivateKey: certutil.EncodePrivateKeyPEM(key),
		Registration:        &registration.Resource{URI: "https://acme.example/acct/1"},
		Email:               "ops@example.com",
	}
	if _, err := store.Set(ctx, map[string]any{"account:production": rec}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	m := New(store, "production", "https://acme.example/directory", "ops@example.com")

	acc1, err := m.GetAccount(ctx)
	if err != nil {
		t.Fatalf("GetAccount (1st): %v", err)
	}
	acc2, err := m.GetAccount(ctx)
	if err != nil {
		t.Fatalf("GetAccount (2nd): %v", err)
	}
	if acc1.Registration.URI != acc2.Registration.URI {
		t.Fatalf("account identity not stable: %q vs %q", acc1.Registration.URI, acc2.Registration.URI)
	}
}

// The encrypt transform only runs while provisioning a new account, which
// needs a reachable CA; this test covers the load path, where decrypt runs.
func TestDecryptTransformAppliedOnLoad(t *testing.T) {
	ctx := context.Background()
	client := kvtest.New()
	store := settings.New(client, "ns:certs:settings")

	var encryptCalls, decryptCalls int
	xorByte := func(b []byte) []byte {
		out := make([]byte, len(b))
		for i, c := range b {
			out[i] = c ^ 0x42
		}
		return out
	}

	m := New(store, "production", "https://acme.example/directory", "ops@example.com",
		WithEncrypt(func(_ context.Context, data []byte) ([]byte, error) {
			encryptCalls++
			return xorByte(data), nil
		}),
		WithDecrypt(func(_ context.Context, data []byte) ([]byte, error) {
			decryptCalls++
			return xorByte(data), nil
		}),
	)

	key, err := certutil.GenerateKey(certutil.DefaultKeyBits)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	plaintext := certutil.EncodePrivateKeyPEM(key)
	rec := record{
		EncryptedPrivateKey: xorByte(plaintext),
		Registration:        &registration.Resource{URI: "https://acme.example/acct/1"},
		Email:               "ops@example.com",
	}
	if _, err := store.Set(ctx, map[string]any{"account:production": rec}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	acc, err := m.GetAccount(ctx)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if decryptCalls != 1 {
		t.Fatalf("decrypt calls = %d, want 1", decryptCalls)
	}
	if acc.PrivateKey.N.Cmp(key.N) != 0 {
		t.Fatalf("GetAccount().PrivateKey modulus mismatch after decrypt transform")
	}
}
