// Package secure provides the default (non-identity) implementation of the
// encrypt/decrypt transforms injected into account.Manager and Coordinator
// (spec §4, §6.1), backed by filippo.io/age. Adapted from the teacher's
// config/secure.go: X25519 identities, streamed encrypt/decrypt, and the
// discipline of re-reading and zeroing the key file on every call rather
// than holding it decrypted in memory.
package secure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
)

// AgeCrypter holds the path to an age identity file and produces matched
// encrypt/decrypt transforms from it.
type AgeCrypter struct {
	keyPath string
}

// NewAgeCrypter returns an AgeCrypter reading identities from keyPath on
// every Encrypt/Decrypt call. Key file validation happens on first use.
func NewAgeCrypter(keyPath string) *AgeCrypter {
	return &AgeCrypter{keyPath: keyPath}
}

func (a *AgeCrypter) loadIdentities(operation string) ([]age.Identity, error) {
	keyContent, err := os.ReadFile(a.keyPath)
	if err != nil {
		return nil, fmt.Errorf("secure: read age key file %q for %s: %w", a.keyPath, operation, err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(keyContent))
	for i := range keyContent {
		keyContent[i] = 0
	}
	if err != nil {
		return nil, fmt.Errorf("secure: parse age identities from %q for %s: %w", a.keyPath, operation, err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("secure: no age identities found in %q for %s", a.keyPath, operation)
	}
	if _, ok := identities[0].(*age.X25519Identity); !ok {
		return nil, fmt.Errorf("secure: unsupported age identity type %T in %q, must be X25519", identities[0], a.keyPath)
	}
	return identities, nil
}

// Decrypt implements account.Transform / Coordinator's decryptKey: it
// decrypts ciphertext produced by Encrypt.
func (a *AgeCrypter) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	identities, err := a.loadIdentities("decryption")
	if err != nil {
		return nil, err
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return nil, fmt.Errorf("secure: decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("secure: read decrypted stream: %w", err)
	}
	return plaintext, nil
}

// Encrypt implements account.Transform / Coordinator's encryptKey: it
// encrypts plaintext to the recipient derived from the same identity file
// Decrypt reads from.
func (a *AgeCrypter) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	identities, err := a.loadIdentities("encryption")
	if err != nil {
		return nil, err
	}
	recipient := identities[0].(*age.X25519Identity).Recipient()

	out := &bytes.Buffer{}
	w, err := age.Encrypt(out, recipient)
	if err != nil {
		return nil, fmt.Errorf("secure: create age encryption writer: %w", err)
	}
	if _, err := io.Copy(w, bytes.NewReader(plaintext)); err != nil {
		return nil, fmt.Errorf("secure: write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("secure: close age encryption writer: %w", err)
	}
	return out.Bytes(), nil
}
