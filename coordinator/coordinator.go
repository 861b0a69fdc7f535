package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caasmo/certrenew/account"
	"github.com/caasmo/certrenew/certutil"
	"github.com/caasmo/certrenew/domain"
	"github.com/caasmo/certrenew/kv"
	"github.com/caasmo/certrenew/lock"
	"github.com/caasmo/certrenew/settings"
	"github.com/dgraph-io/ristretto/v2"
)

// readCacheTTL bounds how long GetCertificate trusts a cached CertRecord
// before re-reading settings. Short enough that a renewal landing elsewhere
// (another process, the sweeper) is picked up quickly; long enough to take
// the read load off the KV store for a busy domain.
const readCacheTTL = 5 * time.Second

// RenewWindow is the trigger threshold of spec §4.6: a certificate is
// renewed once validTo - now < RenewWindow (spec §8: "30 days + 10 s").
const RenewWindow = 30*24*time.Hour + 10*time.Second

const (
	opLeaseDuration = 10 * time.Minute
	opWaitBudget    = 3 * time.Minute
)

func lockOpKey(ns, domain string) string   { return ns + "lock:op:" + domain }
func lockSafeKey(ns, domain string) string { return ns + "lock:safe:" + domain }

// ErrAccountUnavailable is returned by AcquireCert when ACME account
// provisioning failed (spec §4.6 step 8, spec §7: "account_unavailable:
// return false rather than raising"). It deliberately does not go through
// the general failure path (no lock:safe, no lastError write) since account
// unavailability is expected to be transient and retried soon, not damped
// by BlockRenewAfterErrorTTL.
var ErrAccountUnavailable = errors.New("coordinator: acme account unavailable")

const (
	codeCAAMismatch   = "caa_mismatch"
	codeIssuanceError = "acme_error"
)

// AccountProvider is the subset of *account.Manager the coordinator needs;
// an interface so tests can substitute a fake instead of provisioning a
// real ACME account over the network.
type AccountProvider interface {
	GetAccount(ctx context.Context) (*account.Account, error)
}

// Coordinator implements the certificate lifecycle state machine of spec
// §4.6, serializing renewals per domain via lock:op:<D> and dampening
// repeated failures via lock:safe:<D>.
type Coordinator struct {
	namespace               string
	kv                      kv.Client
	settings                *settings.Store
	locker                  *lock.Locker
	accounts                AccountProvider
	issuer                  Issuer
	caa                     *domain.CAAChecker
	caaDomains              []string
	keyBits                 int
	blockRenewAfterErrorTTL time.Duration
	opLeaseDuration         time.Duration
	opWaitBudget            time.Duration
	encryptKey              account.Transform
	decryptKey              account.Transform
	logger                  *slog.Logger
	readCache               *ristretto.Cache[string, *CertRecord]
}

// Config collects the dependencies and tunables Coordinator needs.
type Config struct {
	Namespace               string
	KV                      kv.Client
	Settings                *settings.Store
	Locker                  *lock.Locker
	Accounts                AccountProvider
	Issuer                  Issuer
	CAAChecker              *domain.CAAChecker
	CAADomains              []string
	KeyBits                 int
	BlockRenewAfterErrorTTL time.Duration // spec §9: "should expose this as a tunable"
	OpLockLease             time.Duration // lock:op:<D> lease, defaults to 10m
	OpLockWaitBudget        time.Duration // lock:op:<D> wait budget, defaults to 3m
	EncryptKey              account.Transform
	DecryptKey              account.Transform
	Logger                  *slog.Logger
}

// New returns a Coordinator. KeyBits defaults to certutil.DefaultKeyBits,
// BlockRenewAfterErrorTTL to 10s (spec §9: "10 s in current config").
func New(cfg Config) *Coordinator {
	keyBits := cfg.KeyBits
	if keyBits <= 0 {
		keyBits = certutil.DefaultKeyBits
	}
	ttl := cfg.BlockRenewAfterErrorTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	lease := cfg.OpLockLease
	if lease <= 0 {
		lease = opLeaseDuration
	}
	waitBudget := cfg.OpLockWaitBudget
	if waitBudget <= 0 {
		waitBudget = opWaitBudget
	}
	encrypt, decrypt := cfg.EncryptKey, cfg.DecryptKey
	if encrypt == nil {
		encrypt = account.Identity
	}
	if decrypt == nil {
		decrypt = account.Identity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	readCache, err := ristretto.NewCache(&ristretto.Config[string, *CertRecord]{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		logger.Warn("coordinator: read cache disabled", "error", err)
		readCache = nil
	}
	return &Coordinator{
		namespace:               cfg.Namespace,
		kv:                      cfg.KV,
		settings:                cfg.Settings,
		locker:                  cfg.Locker,
		accounts:                cfg.Accounts,
		issuer:                  cfg.Issuer,
		caa:                     cfg.CAAChecker,
		caaDomains:              cfg.CAADomains,
		keyBits:                 keyBits,
		blockRenewAfterErrorTTL: ttl,
		opLeaseDuration:         lease,
		opWaitBudget:            waitBudget,
		encryptKey:              encrypt,
		decryptKey:              decrypt,
		logger:                  logger,
		readCache:               readCache,
	}
}

// GetCertificate returns a currently-valid certificate for domain,
// transparently provisioning or renewing it as needed (spec §4.6:
// "getCertificate(D)"). A nil record with a nil error means the domain has
// never been provisioned and could not be obtained; ErrAccountUnavailable
// means ACME account provisioning failed.
//
// A repeated call for a VALID domain within readCacheTTL is answered from
// readCache instead of round-tripping the KV store (spec §5: "readers of
// CertRecord do not lock; they tolerate racing writers"); the cache itself
// enforces the TTL, and AcquireCert evicts the entry as soon as it persists
// a new certVersion, so a cache hit is never older than either bound.
func (c *Coordinator) GetCertificate(ctx context.Context, input string) (*CertRecord, error) {
	normalized, err := domain.Validate(input)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	if c.readCache != nil {
		if cached, ok := c.readCache.Get(normalized); ok && cached.IsValid(now) {
			return cached, nil
		}
	}

	rec, err := loadRecord(ctx, c.settings, normalized)
	if err != nil {
		return nil, err
	}
	if rec.IsValid(now) {
		c.cacheValid(normalized, rec)
		return rec, nil
	}

	return c.AcquireCert(ctx, normalized)
}

// cacheValid stores rec in readCache for readCacheTTL, a no-op if the cache
// failed to construct.
func (c *Coordinator) cacheValid(domain string, rec *CertRecord) {
	if c.readCache == nil {
		return
	}
	c.readCache.SetWithTTL(domain, rec, 1, readCacheTTL)
}

// AcquireCert runs the renewal procedure of spec §4.6 for domain, which
// must already be a normalized FQDN (spec §4.6: "acquireCert(D) (the
// renewal procedure)").
func (c *Coordinator) AcquireCert(ctx context.Context, inputDomain string) (*CertRecord, error) {
	normalized, verr := domain.Validate(inputDomain)
	if verr != nil {
		c.logger.Warn("acquireCert: invalid domain", "domain", inputDomain, "error", verr)
		return nil, nil
	}
	d := normalized

	// Step 1: load existing record.
	existing, err := loadRecord(ctx, c.settings, d)
	if err != nil {
		return nil, err
	}

	// Step 2: fail-safe lock check.
	safeKey := lockSafeKey(c.namespace, d)
	blocked, err := c.kv.Exists(ctx, safeKey)
	if err == nil && blocked {
		c.logger.Info("acquireCert: fail-safe lock present, skipping renewal", "domain", d)
		return existing, nil
	}

	// Step 3: validate domain (CAA policy; syntax already checked above).
	if c.caa != nil {
		if err := c.caa.CheckCAA(ctx, d, c.caaDomains); err != nil {
			c.logger.Warn("acquireCert: caa check failed", "domain", d, "error", err, "code", codeCAAMismatch)
			return existing, nil
		}
	}

	// Step 4: acquire lock:op:<D>.
	opKey := lockOpKey(c.namespace, d)
	ok, handle, err := c.locker.Acquire(ctx, opKey, c.opLeaseDuration, c.opWaitBudget)
	if err != nil {
		return nil, fmt.Errorf("coordinator: acquire lock for %q: %w", d, err)
	}
	if !ok {
		c.logger.Info("acquireCert: lock contended, returning existing record", "domain", d)
		return existing, nil
	}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if err := c.locker.Release(ctx, handle); err != nil {
			c.logger.Error("acquireCert: failed to release lock", "domain", d, "error", err)
		}
	}
	defer release()

	now := time.Now().UTC()

	// Step 5: reload, re-check validTo against a racing renewal.
	current, err := loadRecord(ctx, c.settings, d)
	if err != nil {
		return nil, err
	}
	if current != nil && current.ValidTo.After(now.Add(RenewWindow)) {
		release()
		return current, nil
	}
	if current != nil {
		existing = current
	}

	hasRecord := existing != nil

	fail := func(code string, cause error) (*CertRecord, error) {
		if err := c.kv.Set(ctx, safeKey, []byte("1"), c.blockRenewAfterErrorTTL); err != nil {
			c.logger.Error("acquireCert: failed to set fail-safe lock", "domain", d, "error", err)
		}
		if err := recordFailure(ctx, c.settings, d, code, cause, now, hasRecord); err != nil {
			c.logger.Error("acquireCert: failed to persist lastError", "domain", d, "error", err)
		}
		if hasRecord && len(existing.Cert) > 0 {
			c.logger.Error("acquireCert: issuance failed, returning prior certificate", "domain", d, "error", cause)
			return existing, nil
		}
		c.logger.Error("acquireCert: fresh-install issuance failed", "domain", d, "error", cause)
		return nil, fmt.Errorf("coordinator: acquire cert for %q: %w", d, cause)
	}

	// Step 6: ensure a domain private key exists.
	var privateKeyPlain []byte
	if hasRecord && len(existing.PrivateKey) > 0 {
		plain, err := c.decryptKey(ctx, existing.PrivateKey)
		if err != nil {
			return fail(codeIssuanceError, fmt.Errorf("decrypt private key: %w", err))
		}
		privateKeyPlain = plain
	} else {
		key, err := certutil.GenerateKey(c.keyBits)
		if err != nil {
			return fail(codeIssuanceError, fmt.Errorf("generate private key: %w", err))
		}
		privateKeyPlain = certutil.EncodePrivateKeyPEM(key)
		ciphertext, err := c.encryptKey(ctx, privateKeyPlain)
		if err != nil {
			return fail(codeIssuanceError, fmt.Errorf("encrypt private key: %w", err))
		}
		if err := persistPending(ctx, c.settings, d, ciphertext); err != nil {
			return fail(codeIssuanceError, err)
		}
		hasRecord = true
	}

	domainKey, err := certutil.DecodePrivateKeyPEM(privateKeyPlain)
	if err != nil {
		return fail(codeIssuanceError, fmt.Errorf("parse private key: %w", err))
	}

	// Step 7: build the CSR.
	csr, err := certutil.BuildCSR(d, domainKey)
	if err != nil {
		return fail(codeIssuanceError, err)
	}

	// Step 8: get ACME account.
	acc, err := c.accounts.GetAccount(ctx)
	if err != nil {
		c.logger.Error("acquireCert: acme account unavailable", "domain", d, "error", err)
		return nil, ErrAccountUnavailable
	}

	// Step 9: run the order.
	leaf, err := c.issuer.Obtain(ctx, acc, d, csr)
	if err != nil {
		return fail(codeIssuanceError, err)
	}

	// Step 10: empty response.
	if leaf == nil {
		c.logger.Warn("acquireCert: empty issuance response, returning existing record", "domain", d)
		return existing, nil
	}

	// Step 11: persist the issued certificate and bump certVersion.
	if err := persistIssued(ctx, c.settings, d, *leaf, now); err != nil {
		return nil, fmt.Errorf("coordinator: persist issued cert for %q: %w", d, err)
	}
	if c.readCache != nil {
		c.readCache.Del(d)
	}

	// Step 12: release the lock, reload, and return the fresh record.
	release()
	fresh, err := loadRecord(ctx, c.settings, d)
	if err != nil {
		return nil, err
	}
	c.cacheValid(d, fresh)
	return fresh, nil
}
