package config

import (
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	// The defaults carry no contact email, which validateAcme requires, so
	// the one field every deployment must supply is set here.
	cfg := NewDefaultConfig()
	cfg.Acme.Email = "ops@example.com"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate(NewDefaultConfig() + email) = %v, want nil", err)
	}
}

func TestValidateKV(t *testing.T) {
	t.Parallel()
	validCases := []KV{
		{Addr: "localhost:6379"},
		{Addr: "127.0.0.1:6379", DB: 2},
	}
	for _, kv := range validCases {
		if err := validateKV(&kv); err != nil {
			t.Errorf("validateKV(%+v) failed: %v", kv, err)
		}
	}

	invalidCases := []KV{
		{},
		{Addr: "localhost"},
		{Addr: "localhost:6379", DB: -1},
	}
	for _, kv := range invalidCases {
		if err := validateKV(&kv); err == nil {
			t.Errorf("validateKV(%+v) expected error, got nil", kv)
		}
	}
}

func TestValidateAcme(t *testing.T) {
	t.Parallel()
	valid := Acme{Environment: "production", DirectoryURL: "https://acme.example/directory", Email: "ops@example.com"}
	if err := validateAcme(&valid); err != nil {
		t.Errorf("validateAcme(%+v) failed: %v", valid, err)
	}

	invalidCases := []Acme{
		{},
		{Environment: "production"},
		{Environment: "production", DirectoryURL: "https://acme.example/directory"},
	}
	for _, a := range invalidCases {
		if err := validateAcme(&a); err == nil {
			t.Errorf("validateAcme(%+v) expected error, got nil", a)
		}
	}
}

func TestValidateAccount(t *testing.T) {
	t.Parallel()
	if err := validateAccount(&Account{KeyBits: 2048, KeyExponent: 65537}); err != nil {
		t.Errorf("validateAccount() failed: %v", err)
	}
	invalidCases := []Account{
		{KeyBits: 1024, KeyExponent: 65537},
		{KeyBits: 2048, KeyExponent: 0},
	}
	for _, a := range invalidCases {
		if err := validateAccount(&a); err == nil {
			t.Errorf("validateAccount(%+v) expected error, got nil", a)
		}
	}
}

func TestValidateRenew(t *testing.T) {
	t.Parallel()
	valid := Renew{BlockRenewAfterErrorTTL: time.Second, OpLockLease: time.Minute, OpLockWaitBudget: time.Minute}
	if err := validateRenew(&valid); err != nil {
		t.Errorf("validateRenew(%+v) failed: %v", valid, err)
	}

	invalidCases := []Renew{
		{},
		{BlockRenewAfterErrorTTL: time.Second},
		{BlockRenewAfterErrorTTL: time.Second, OpLockLease: time.Minute},
	}
	for _, r := range invalidCases {
		if err := validateRenew(&r); err == nil {
			t.Errorf("validateRenew(%+v) expected error, got nil", r)
		}
	}
}

func TestValidateSweeperDisabledSkipsChecks(t *testing.T) {
	t.Parallel()
	if err := validateSweeper(&Sweeper{Enabled: false}); err != nil {
		t.Errorf("validateSweeper(disabled) = %v, want nil", err)
	}
}

func TestValidateSweeperEnabled(t *testing.T) {
	t.Parallel()
	if err := validateSweeper(&Sweeper{Enabled: true, Interval: time.Hour, Concurrency: 4}); err != nil {
		t.Errorf("validateSweeper() failed: %v", err)
	}
	invalidCases := []Sweeper{
		{Enabled: true},
		{Enabled: true, Interval: time.Hour},
	}
	for _, s := range invalidCases {
		if err := validateSweeper(&s); err == nil {
			t.Errorf("validateSweeper(%+v) expected error, got nil", s)
		}
	}
}

func TestValidateLog(t *testing.T) {
	t.Parallel()
	validCases := []Log{
		{Level: "trace", Format: "text"},
		{Level: "info", Format: "json"},
	}
	for _, l := range validCases {
		if err := validateLog(&l); err != nil {
			t.Errorf("validateLog(%+v) failed: %v", l, err)
		}
	}
	invalidCases := []Log{
		{Level: "verbose", Format: "text"},
		{Level: "info", Format: "xml"},
	}
	for _, l := range invalidCases {
		if err := validateLog(&l); err == nil {
			t.Errorf("validateLog(%+v) expected error, got nil", l)
		}
	}
}

func TestValidateServer(t *testing.T) {
	t.Parallel()
	validCases := []Server{
		{Addr: ":8080"},
		{Addr: "localhost:8080"},
	}
	for _, s := range validCases {
		if err := validateServer(&s); err != nil {
			t.Errorf("validateServer(%+v) failed: %v", s, err)
		}
	}
	invalidCases := []Server{
		{},
		{Addr: "localhost"},
	}
	for _, s := range invalidCases {
		if err := validateServer(&s); err == nil {
			t.Errorf("validateServer(%+v) expected error, got nil", s)
		}
	}
}
