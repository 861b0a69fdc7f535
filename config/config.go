package config

import (
	"sync/atomic"
	"time"
)

// Provider holds the current configuration snapshot and allows lock-free
// atomic updates, mirroring the teacher's config.Provider.
type Provider struct {
	value atomic.Value // holds the current *Config
}

// NewProvider creates a Provider holding the given initial config. It
// panics if c is nil.
func NewProvider(c *Config) *Provider {
	if c == nil {
		panic("config: initial config cannot be nil")
	}
	p := &Provider{}
	p.value.Store(c)
	return p
}

// Get returns the current configuration snapshot. Safe for concurrent use.
func (p *Provider) Get() *Config {
	return p.value.Load().(*Config)
}

// Update atomically swaps in a new configuration snapshot. The caller is
// responsible for validating newConfig before calling Update.
func (p *Provider) Update(newConfig *Config) {
	p.value.Store(newConfig)
}

// KV describes how to reach the backing key-value store (spec §1, §6.4).
type KV struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Acme holds the ACME-side settings named in spec §9: "environment" label,
// directory URL, contact email, and the CAA policy's allowed issuer domains.
type Acme struct {
	Environment  string   `toml:"environment"`
	DirectoryURL string   `toml:"directory_url"`
	Email        string   `toml:"email"`
	CAADomains   []string `toml:"caa_domains"`
}

// Account controls key generation for both ACME account keys and per-domain
// certificate keys (spec §9: "keyBits (default 2048), keyExponent (default
// 65537)"). Only KeyBits is applied; KeyExponent is checked by Validate but
// not passed on, and keys are always generated with exponent 65537.
type Account struct {
	KeyBits     int `toml:"key_bits"`
	KeyExponent int `toml:"key_exponent"`
}

// Renew holds the renewal-timing tunables spec §9 calls out explicitly:
// "BLOCK_RENEW_AFTER_ERROR_TTL... production configuration should expose
// this as a tunable."
type Renew struct {
	BlockRenewAfterErrorTTL time.Duration `toml:"block_renew_after_error_ttl"`
	OpLockLease             time.Duration `toml:"op_lock_lease"`
	OpLockWaitBudget        time.Duration `toml:"op_lock_wait_budget"`
}

// Sweeper controls the periodic renewal sweep (SPEC_FULL §C.2). Domains is
// the static membership predicate cmd/certd reads (spec §1: "persistence
// format of application-level 'which domains are configured' data... the
// core only reads a membership predicate") — a real deployment would back
// this with its own application database instead.
type Sweeper struct {
	Enabled     bool          `toml:"enabled"`
	Interval    time.Duration `toml:"interval"`
	Concurrency int           `toml:"concurrency"`
	Domains     []string      `toml:"domains"`
}

// Secure names the age identity file used for the default encrypt/decrypt
// transform (spec §4, §6.1; SPEC_FULL's ambient "Secrets-at-rest" section).
type Secure struct {
	AgeKeyPath string `toml:"age_key_path"`
}

// Log controls the ambient logger (SPEC_FULL §A "Logging").
type Log struct {
	Level  string `toml:"level"`  // trace, debug, info, warn, error
	Format string `toml:"format"` // "text" (dev) or "json" (prod)
}

// Server configures the demonstration HTTP surface built in cmd/certd
// (SPEC_FULL §C.3); the library itself has no HTTP server.
type Server struct {
	Addr string `toml:"addr"`
}

// Config is the full on-disk shape for the certificate coordinator,
// TOML-decoded exactly the way the teacher's config.Config is (spec §9
// "Configuration knobs").
type Config struct {
	Namespace string  `toml:"namespace"`
	KV        KV      `toml:"kv"`
	Acme      Acme    `toml:"acme"`
	Account   Account `toml:"account"`
	Renew     Renew   `toml:"renew"`
	Sweeper   Sweeper `toml:"sweeper"`
	Secure    Secure  `toml:"secure"`
	Log       Log     `toml:"log"`
	Server    Server  `toml:"server"`
}
