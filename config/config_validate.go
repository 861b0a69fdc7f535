package config

import (
	"fmt"
	"net"
)

// Validate checks the entire configuration for correctness, aggregating
// per-section checks the way the teacher's Validate does.
func Validate(cfg *Config) error {
	if err := validateKV(&cfg.KV); err != nil {
		return fmt.Errorf("config: kv validation failed: %w", err)
	}
	if err := validateAcme(&cfg.Acme); err != nil {
		return fmt.Errorf("config: acme validation failed: %w", err)
	}
	if err := validateAccount(&cfg.Account); err != nil {
		return fmt.Errorf("config: account validation failed: %w", err)
	}
	if err := validateRenew(&cfg.Renew); err != nil {
		return fmt.Errorf("config: renew validation failed: %w", err)
	}
	if err := validateSweeper(&cfg.Sweeper); err != nil {
		return fmt.Errorf("config: sweeper validation failed: %w", err)
	}
	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("config: log validation failed: %w", err)
	}
	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("config: server validation failed: %w", err)
	}
	return nil
}

func validateKV(kv *KV) error {
	if kv.Addr == "" {
		return fmt.Errorf("kv.addr cannot be empty")
	}
	if _, _, err := net.SplitHostPort(kv.Addr); err != nil {
		return fmt.Errorf("invalid kv.addr %q: %w", kv.Addr, err)
	}
	if kv.DB < 0 {
		return fmt.Errorf("kv.db cannot be negative")
	}
	return nil
}

// validateAcme checks the ACME settings spec §9 names: "acme.environment
// (string label, default development), acme.directoryUrl, acme.email,
// acme.caaDomains (list or single)".
func validateAcme(a *Acme) error {
	if a.Environment == "" {
		return fmt.Errorf("acme.environment cannot be empty")
	}
	if a.DirectoryURL == "" {
		return fmt.Errorf("acme.directory_url cannot be empty")
	}
	if a.Email == "" {
		return fmt.Errorf("acme.email cannot be empty")
	}
	return nil
}

func validateAccount(a *Account) error {
	if a.KeyBits < 2048 {
		return fmt.Errorf("account.key_bits must be >= 2048, got %d", a.KeyBits)
	}
	if a.KeyExponent <= 0 {
		return fmt.Errorf("account.key_exponent must be positive")
	}
	return nil
}

// validateRenew checks the renewal-timing tunables (spec §9: "should
// expose this as a tunable").
func validateRenew(r *Renew) error {
	if r.BlockRenewAfterErrorTTL <= 0 {
		return fmt.Errorf("renew.block_renew_after_error_ttl must be positive")
	}
	if r.OpLockLease <= 0 {
		return fmt.Errorf("renew.op_lock_lease must be positive")
	}
	if r.OpLockWaitBudget <= 0 {
		return fmt.Errorf("renew.op_lock_wait_budget must be positive")
	}
	return nil
}

func validateSweeper(s *Sweeper) error {
	if !s.Enabled {
		return nil
	}
	if s.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be positive when enabled")
	}
	if s.Concurrency <= 0 {
		return fmt.Errorf("sweeper.concurrency must be positive when enabled")
	}
	return nil
}

func validateLog(l *Log) error {
	switch l.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of trace, debug, info, warn, error, got %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", l.Format)
	}
	return nil
}

func validateServer(s *Server) error {
	if s.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}
	if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		return fmt.Errorf("invalid server.addr %q: %w", s.Addr, err)
	}
	return nil
}
