package certrenew

import (
	"log/slog"
	"strings"
	"time"

	"github.com/caasmo/certrenew/account"
	"github.com/caasmo/certrenew/config"
	"github.com/caasmo/certrenew/domain"
	"github.com/caasmo/certrenew/kv"
)

// Option configures a Certs instance, mirroring the teacher's core.Option
// functional-options pattern (core/app_options.go).
type Option func(*settingsBag)

// settingsBag collects option values before New assembles the collaborator
// packages (account.Manager, coordinator.Coordinator, ...) from them.
type settingsBag struct {
	kv           kv.Client
	namespace    string
	encrypt      account.Transform
	decrypt      account.Transform
	keyBits      int
	environment  string
	directoryURL string
	email        string
	caaDomains   []string
	logger       *slog.Logger

	blockRenewAfterErrorTTL time.Duration
	opLockLease             time.Duration
	opLockWaitBudget        time.Duration
}

// WithKV sets the required KV client handle (spec §6.1: "kv: KV client
// handle (required)").
func WithKV(client kv.Client) Option {
	return func(s *settingsBag) { s.kv = client }
}

// WithNamespace sets the installation-wide key prefix (spec §6.1:
// "namespace: string prefix (optional)").
func WithNamespace(ns string) Option {
	return func(s *settingsBag) { s.namespace = ns }
}

// WithTransforms sets the private-key encrypt/decrypt transforms (spec
// §6.1: "encrypt(bytes) -> bytes, decrypt(bytes) -> bytes... default
// identity").
func WithTransforms(encrypt, decrypt account.Transform) Option {
	return func(s *settingsBag) {
		s.encrypt = encrypt
		s.decrypt = decrypt
	}
}

// WithKeyBits overrides the RSA key size for account and domain keys (spec
// §6.1: "keyBits (default 2048)").
func WithKeyBits(bits int) Option {
	return func(s *settingsBag) { s.keyBits = bits }
}

// WithAcme sets the ACME-side settings (spec §6.1: "acme.environment...
// acme.directoryUrl, acme.email, acme.caaDomains").
func WithAcme(environment, directoryURL, email string, caaDomains []string) Option {
	return func(s *settingsBag) {
		s.environment = environment
		s.directoryURL = directoryURL
		s.email = email
		s.caaDomains = caaDomains
	}
}

// WithLogger sets the structured event sink (spec §6.1: "logger: structured
// event sink with info/trace/error").
func WithLogger(l *slog.Logger) Option {
	return func(s *settingsBag) { s.logger = l }
}

// WithConfig applies every facade-relevant field of a loaded config.Config
// (spec §9's configuration knobs), letting a caller build a Certs instance
// straight from config.Load without naming each option individually. It does
// not construct the KV client itself (WithKV still must be called
// separately with an already-connected kv.Client, per spec §6.1's "kv:
// client handle (required)").
func WithConfig(cfg *config.Config) Option {
	return func(s *settingsBag) {
		s.namespace = cfg.Namespace
		s.environment = cfg.Acme.Environment
		s.directoryURL = cfg.Acme.DirectoryURL
		s.email = cfg.Acme.Email
		s.caaDomains = cfg.Acme.CAADomains
		if cfg.Account.KeyBits > 0 {
			s.keyBits = cfg.Account.KeyBits
		}
		s.blockRenewAfterErrorTTL = cfg.Renew.BlockRenewAfterErrorTTL
		s.opLockLease = cfg.Renew.OpLockLease
		s.opLockWaitBudget = cfg.Renew.OpLockWaitBudget
	}
}

func newDefaultSettings() *settingsBag {
	return &settingsBag{
		namespace:   "",
		encrypt:     account.Identity,
		decrypt:     account.Identity,
		keyBits:     0, // resolved against certutil.DefaultKeyBits downstream
		environment: "development",
		logger:      slog.Default(),
	}
}

// normalizedCAADomains lower-cases and trims configured CAA issuer domains
// so they compare cleanly against parsed CAA record values (domain.Validate
// already does the same normalization for the domains being issued for).
func normalizedCAADomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		n, err := domain.Validate(strings.TrimSpace(d))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
