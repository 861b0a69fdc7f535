package config

import (
	"time"

	"github.com/caasmo/certrenew/certutil"
)

// NewDefaultConfig returns a Config with the defaults named throughout
// spec §9: 2048-bit/65537 account and domain keys, a "development" ACME
// environment label, a 10-minute op-lock lease with a 3-minute wait budget,
// and a debug-scale fail-safe TTL the operator is expected to raise in
// production (spec §9: "10 s in current config... production
// configuration should expose this as a tunable").
func NewDefaultConfig() *Config {
	return &Config{
		Namespace: "",
		KV: KV{
			Addr: "localhost:6379",
			DB:   0,
		},
		Acme: Acme{
			Environment:  "development",
			DirectoryURL: "https://acme-staging-v02.api.letsencrypt.org/directory",
			CAADomains:   nil,
		},
		Account: Account{
			KeyBits:     certutil.DefaultKeyBits,
			KeyExponent: certutil.DefaultExponent,
		},
		Renew: Renew{
			BlockRenewAfterErrorTTL: 10 * time.Second,
			OpLockLease:             10 * time.Minute,
			OpLockWaitBudget:        3 * time.Minute,
		},
		Sweeper: Sweeper{
			Enabled:     true,
			Interval:    1 * time.Hour,
			Concurrency: 4,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Server: Server{
			Addr: ":8080",
		},
	}
}
