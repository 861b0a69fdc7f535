// Package certrenew is the library surface of spec §6.1: it wires the kv,
// settings, challenge, lock, domain, account, and coordinator packages into
// a single Certs instance offering getCertificate/acquireCert/routeHandler/
// getAcmeAccount.
package certrenew

import (
	"context"
	"fmt"
	"time"

	"github.com/caasmo/certrenew/account"
	"github.com/caasmo/certrenew/challenge"
	"github.com/caasmo/certrenew/coordinator"
	"github.com/caasmo/certrenew/dispatcher"
	"github.com/caasmo/certrenew/domain"
	"github.com/caasmo/certrenew/lock"
	"github.com/caasmo/certrenew/settings"
)

// Certs is the top-level handle spec §6.1 calls Certs.create(...)'s return
// value ("instance").
type Certs struct {
	coordinator *coordinator.Coordinator
	dispatcher  *dispatcher.Dispatcher
	accounts    *account.Manager
	challenges  *challenge.Store
}

const settingsHashKey = "settings"

// defaultCAAResolverAddr is the recursive DNS server domain.NewCAAChecker
// queries when the caller configures caaDomains but no explicit resolver.
const defaultCAAResolverAddr = "8.8.8.8:53"

// New assembles a Certs instance from the given options. WithKV is
// required, and so are a directory URL and a contact email (set through
// WithAcme or WithConfig); every other option has the default named in spec
// §6.1.
func New(opts ...Option) (*Certs, error) {
	s := newDefaultSettings()
	for _, opt := range opts {
		opt(s)
	}
	if s.kv == nil {
		return nil, fmt.Errorf("certrenew: WithKV is required")
	}
	if s.directoryURL == "" {
		return nil, fmt.Errorf("certrenew: WithAcme directoryURL is required")
	}
	if s.email == "" {
		return nil, fmt.Errorf("certrenew: WithAcme email is required")
	}

	ns := s.namespace + "certs:"
	store := settings.New(s.kv, ns+settingsHashKey)
	locker := lock.New(s.kv)

	challengeStore := challenge.New(s.kv, store, ns, challenge.DefaultTTL)
	provider := challenge.NewProvider(challengeStore)
	issuer := coordinator.NewLegoIssuer(s.directoryURL, provider)

	accountOpts := []account.Option{account.WithEncrypt(s.encrypt), account.WithDecrypt(s.decrypt)}
	if s.keyBits > 0 {
		accountOpts = append(accountOpts, account.WithKeyBits(s.keyBits))
	}
	accounts := account.New(store, s.environment, s.directoryURL, s.email, accountOpts...)

	var caaChecker *domain.CAAChecker
	caaDomains := normalizedCAADomains(s.caaDomains)
	if len(caaDomains) > 0 {
		caaChecker = domain.NewCAAChecker(defaultCAAResolverAddr)
	}

	c := coordinator.New(coordinator.Config{
		Namespace:               ns,
		KV:                      s.kv,
		Settings:                store,
		Locker:                  locker,
		Accounts:                accounts,
		Issuer:                  issuer,
		CAAChecker:              caaChecker,
		CAADomains:              caaDomains,
		KeyBits:                 s.keyBits,
		BlockRenewAfterErrorTTL: s.blockRenewAfterErrorTTL,
		OpLockLease:             s.opLockLease,
		OpLockWaitBudget:        s.opLockWaitBudget,
		EncryptKey:              s.encrypt,
		DecryptKey:              s.decrypt,
		Logger:                  s.logger,
	})

	return &Certs{
		coordinator: c,
		dispatcher:  dispatcher.New(challengeStore),
		accounts:    accounts,
		challenges:  challengeStore,
	}, nil
}

// GetCertificate returns a currently-valid certificate for domain,
// transparently provisioning or renewing as needed (spec §6.1:
// "getCertificate(domain) -> CertRecord | null | false").
func (c *Certs) GetCertificate(ctx context.Context, domainName string) (*coordinator.CertRecord, error) {
	return c.coordinator.GetCertificate(ctx, domainName)
}

// AcquireCert runs the renewal procedure directly, bypassing the
// valid-certificate cache check GetCertificate performs first (spec §6.1:
// "acquireCert(domain) -> CertRecord | false").
func (c *Certs) AcquireCert(ctx context.Context, domainName string) (*coordinator.CertRecord, error) {
	return c.coordinator.AcquireCert(ctx, domainName)
}

// RouteHandler answers an HTTP-01 validation request (spec §6.1:
// "routeHandler(host, token) -> string").
func (c *Certs) RouteHandler(ctx context.Context, host, token string) (string, error) {
	return c.dispatcher.RouteHandler(ctx, host, token)
}

// GetAcmeAccount returns the ACME account material, provisioning it on
// first call (spec §6.1: "getAcmeAccount() -> {privateKey, account}").
func (c *Certs) GetAcmeAccount(ctx context.Context) (*account.Account, error) {
	return c.accounts.GetAccount(ctx)
}

// Sweeper returns a coordinator.Sweeper driving renewal from source on
// interval, ready for Start (SPEC_FULL §C.2).
func (c *Certs) Sweeper(source coordinator.DomainSource, interval time.Duration, concurrency int) *coordinator.Sweeper {
	return coordinator.NewSweeper(c.coordinator, source, interval, concurrency, nil)
}
