// Package account implements the ACME account manager of spec §4.4:
// idempotently provisions and caches a CA account keypair per environment,
// coalescing concurrent cold-start initialization through a lazy
// initializer rather than a background goroutine (spec §9 design note:
// "first caller runs, subsequent callers await completion; on failure the
// slot is cleared so the next caller retries" — exactly singleflight's
// contract).
package account

import (
	"context"
	"crypto"
	"crypto/rsa"
	"fmt"

	"github.com/caasmo/certrenew/certutil"
	"github.com/caasmo/certrenew/settings"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"golang.org/x/sync/singleflight"
)

// Transform is an injected async-capable encrypt or decrypt function (spec
// §9: "represent as function values that may suspend; keep the default as
// identity so tests need not wire crypto").
type Transform func(ctx context.Context, data []byte) ([]byte, error)

// Identity is the default Transform, used when no encryption is wired.
func Identity(_ context.Context, data []byte) ([]byte, error) { return data, nil }

// record is the persisted shape of settings field "account:<env>" (spec
// §3). EncryptedPrivateKey holds the ciphertext produced by the Manager's
// encrypt transform, never the plaintext key.
type record struct {
	EncryptedPrivateKey []byte                 `cbor:"encryptedPrivateKey"`
	Registration        *registration.Resource `cbor:"registration"`
	Email               string                 `cbor:"email"`
}

// Account is the decrypted, ready-to-use account state GetAccount returns.
type Account struct {
	PrivateKey   *rsa.PrivateKey
	Registration *registration.Resource
	Email        string
}

// User adapts an Account to lego's registration.User interface, the sole
// consumer of this shape (spec §9: "the CA library is the sole consumer").
// Exported so callers building their own lego.Client for certificate orders
// (see coordinator.LegoIssuer) can reuse the same adapter this package uses
// internally for registration.
type User struct {
	email        string
	registration *registration.Resource
	privateKey   crypto.PrivateKey
}

// NewUser adapts acc as a lego registration.User.
func NewUser(acc *Account) *User {
	return &User{email: acc.Email, registration: acc.Registration, privateKey: acc.PrivateKey}
}

func (u *User) GetEmail() string                        { return u.email }
func (u *User) GetRegistration() *registration.Resource { return u.registration }
func (u *User) GetPrivateKey() crypto.PrivateKey        { return u.privateKey }

// Manager provisions and caches one ACME account per environment label.
type Manager struct {
	settings     *settings.Store
	env          string
	directoryURL string
	email        string
	keyBits      int
	encrypt      Transform
	decrypt      Transform

	init singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithKeyBits overrides the default RSA account key size (spec §4.4:
// "default 2048 bits").
func WithKeyBits(bits int) Option {
	return func(m *Manager) { m.keyBits = bits }
}

// WithEncrypt sets the at-rest encryption transform for the account private
// key. Defaults to Identity.
func WithEncrypt(t Transform) Option {
	return func(m *Manager) { m.encrypt = t }
}

// WithDecrypt sets the at-rest decryption transform. Defaults to Identity.
func WithDecrypt(t Transform) Option {
	return func(m *Manager) { m.decrypt = t }
}

// New returns a Manager for one (directoryURL, env, email) combination.
func New(store *settings.Store, env, directoryURL, email string, opts ...Option) *Manager {
	m := &Manager{
		settings:     store,
		env:          env,
		directoryURL: directoryURL,
		email:        email,
		keyBits:      certutil.DefaultKeyBits,
		encrypt:      Identity,
		decrypt:      Identity,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) settingsKey() string { return "account:" + m.env }

// GetAccount returns the cached or freshly-provisioned account (spec §4.4).
// Concurrent callers during a cold start share one provisioning attempt; a
// failed attempt is not cached, so the next call retries cleanly —
// singleflight.Group.Do removes its in-flight entry as soon as the shared
// call returns, whether it succeeded or failed.
func (m *Manager) GetAccount(ctx context.Context) (*Account, error) {
	v, err, _ := m.init.Do(m.env, func() (any, error) {
		return m.loadOrCreate(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Account), nil
}

func (m *Manager) loadOrCreate(ctx context.Context) (*Account, error) {
	var rec record
	ok, err := m.settings.GetOneInto(ctx, m.settingsKey(), &rec)
	if err != nil {
		return nil, fmt.Errorf("account: read %q: %w", m.settingsKey(), err)
	}
	if ok {
		return m.decodeRecord(ctx, rec)
	}
	return m.provision(ctx)
}

func (m *Manager) decodeRecord(ctx context.Context, rec record) (*Account, error) {
	plaintext, err := m.decrypt(ctx, rec.EncryptedPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("account: decrypt private key: %w", err)
	}
	key, err := certutil.DecodePrivateKeyPEM(plaintext)
	if err != nil {
		return nil, fmt.Errorf("account: parse private key: %w", err)
	}
	return &Account{PrivateKey: key, Registration: rec.Registration, Email: rec.Email}, nil
}

// provision generates a new RSA account key, registers it against the CA's
// directory, persists the result, and only then returns — awaiting the
// settings write, unlike the bug spec §9 flags ("getAcmeAccount does not
// await the settings write after provisioning"), so no racing reader can
// observe an absent account immediately afterward.
func (m *Manager) provision(ctx context.Context) (*Account, error) {
	key, err := certutil.GenerateKey(m.keyBits)
	if err != nil {
		return nil, fmt.Errorf("account: generate key: %w", err)
	}

	u := NewUser(&Account{Email: m.email, PrivateKey: key})
	legoCfg := lego.NewConfig(u)
	legoCfg.CADirURL = m.directoryURL
	legoCfg.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return nil, fmt.Errorf("account: init acme client: %w", err)
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, fmt.Errorf("account: register: %w", err)
	}

	encrypted, err := m.encrypt(ctx, certutil.EncodePrivateKeyPEM(key))
	if err != nil {
		return nil, fmt.Errorf("account: encrypt private key: %w", err)
	}

	rec := record{EncryptedPrivateKey: encrypted, Registration: reg, Email: m.email}
	if _, err := m.settings.Set(ctx, map[string]any{m.settingsKey(): rec}); err != nil {
		return nil, fmt.Errorf("account: persist: %w", err)
	}

	return &Account{PrivateKey: key, Registration: reg, Email: m.email}, nil
}
