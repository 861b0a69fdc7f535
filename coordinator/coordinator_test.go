package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/caasmo/certrenew/account"
	"github.com/caasmo/certrenew/certutil"
	"github.com/caasmo/certrenew/domain"
	"github.com/caasmo/certrenew/kv/kvtest"
	"github.com/caasmo/certrenew/lock"
	"github.com/caasmo/certrenew/settings"
	"github.com/go-acme/lego/v4/registration"
	"github.com/miekg/dns"
)

// fakeIssuer lets tests script an ACME order's outcome without a real CA.
type fakeIssuer struct {
	calls int
	leaf  *LeafResult
	err   error
}

func (f *fakeIssuer) Obtain(_ context.Context, _ *account.Account, domainName string, _ []byte) (*LeafResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.leaf != nil {
		return f.leaf, nil
	}
	return selfSignedLeaf(domainName, time.Now().UTC(), time.Now().UTC().Add(90*24*time.Hour)), nil
}

func selfSignedLeaf(domainName string, from, to time.Time) *LeafResult {
	return &LeafResult{
		CertPEM:      []byte("cert-pem-for-" + domainName),
		ChainPEM:     [][]byte{[]byte("chain-pem")},
		SerialNumber: "1",
		Fingerprint:  "deadbeef",
		AltNames:     []string{domainName},
		ValidFrom:    from,
		ValidTo:      to,
	}
}

// fakeAccounts always returns the same account, or an error if set.
type fakeAccounts struct {
	err error
}

func (f *fakeAccounts) GetAccount(_ context.Context) (*account.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	key, err := certutil.GenerateKey(certutil.DefaultKeyBits)
	if err != nil {
		return nil, err
	}
	return &account.Account{PrivateKey: key, Registration: &registration.Resource{URI: "https://acme.example/acct/1"}, Email: "ops@example.com"}, nil
}

type fakeCAAResolver struct {
	answers map[string][]*dns.CAA
}

func (f *fakeCAAResolver) LookupCAA(_ context.Context, name string) ([]*dns.CAA, error) {
	return f.answers[name], nil
}

func newHarness(t *testing.T, issuer *fakeIssuer, accounts AccountProvider, caaDomains []string, caaAnswers map[string][]*dns.CAA) (*Coordinator, *kvtest.Client, *settings.Store) {
	t.Helper()
	client := kvtest.New()
	store := settings.New(client, "ns:certs:settings")
	locker := lock.New(client)

	var caaChecker *domain.CAAChecker
	if caaAnswers != nil {
		caaChecker = domain.NewCAACheckerWithResolver(&fakeCAAResolver{answers: caaAnswers})
	}

	c := New(Config{
		Namespace:               "ns:certs:",
		KV:                      client,
		Settings:                store,
		Locker:                  locker,
		Accounts:                accounts,
		Issuer:                  issuer,
		CAAChecker:              caaChecker,
		CAADomains:              caaDomains,
		BlockRenewAfterErrorTTL: 50 * time.Millisecond,
	})
	return c, client, store
}

func markDomainKnown(t *testing.T, ctx context.Context, store *settings.Store, domainName string) {
	t.Helper()
	if _, err := store.Set(ctx, map[string]any{"domain:" + domainName + ":data": map[string]any{"domain": domainName}}); err != nil {
		t.Fatalf("mark domain known: %v", err)
	}
}

func TestColdIssuance(t *testing.T) {
	ctx := context.Background()
	issuer := &fakeIssuer{}
	c, _, store := newHarness(t, issuer, &fakeAccounts{}, nil, nil)
	markDomainKnown(t, ctx, store, "example.com")

	rec, err := c.GetCertificate(ctx, "EXAMPLE.com")
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if rec == nil || rec.Status != StatusValid {
		t.Fatalf("GetCertificate() = %#v, want valid record", rec)
	}
	if len(rec.AltNames) != 1 || rec.AltNames[0] != "example.com" {
		t.Fatalf("AltNames = %v, want [example.com]", rec.AltNames)
	}
	if rec.CertVersion != 1 {
		t.Fatalf("CertVersion = %d, want 1", rec.CertVersion)
	}
	if issuer.calls != 1 {
		t.Fatalf("issuer calls = %d, want 1", issuer.calls)
	}
}

func TestFreshValidCacheHitSkipsIssuance(t *testing.T) {
	ctx := context.Background()
	issuer := &fakeIssuer{}
	c, _, store := newHarness(t, issuer, &fakeAccounts{}, nil, nil)
	markDomainKnown(t, ctx, store, "example.com")

	now := time.Now().UTC()
	if err := persistIssued(ctx, store, "example.com", *selfSignedLeaf("example.com", now, now.Add(60*24*time.Hour)), now); err != nil {
		t.Fatalf("seed issued record: %v", err)
	}

	rec, err := c.GetCertificate(ctx, "example.com")
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if rec == nil || rec.CertVersion != 1 {
		t.Fatalf("GetCertificate() = %#v, want cached record at version 1", rec)
	}
	if issuer.calls != 0 {
		t.Fatalf("issuer calls = %d, want 0 (cache hit)", issuer.calls)
	}
}

func TestReadCacheServesWithoutKVRoundTrip(t *testing.T) {
	ctx := context.Background()
	issuer := &fakeIssuer{}
	c, _, store := newHarness(t, issuer, &fakeAccounts{}, nil, nil)
	markDomainKnown(t, ctx, store, "example.com")

	now := time.Now().UTC()
	if err := persistIssued(ctx, store, "example.com", *selfSignedLeaf("example.com", now, now.Add(60*24*time.Hour)), now); err != nil {
		t.Fatalf("seed issued record: %v", err)
	}

	if _, err := c.GetCertificate(ctx, "example.com"); err != nil {
		t.Fatalf("GetCertificate (populate cache): %v", err)
	}
	// ristretto buffers writes asynchronously; give it a moment to land,
	// matching the teacher's own cache/ristretto tests.
	time.Sleep(10 * time.Millisecond)

	// Remove the underlying record entirely: a subsequent cache hit must
	// still serve the cached value instead of falling through to
	// loadRecord (which would now see an absent record).
	if _, err := store.Delete(ctx, "domain:example.com:data"); err != nil {
		t.Fatalf("delete underlying record: %v", err)
	}

	rec, err := c.GetCertificate(ctx, "example.com")
	if err != nil {
		t.Fatalf("GetCertificate (cache hit): %v", err)
	}
	if rec == nil || rec.CertVersion != 1 {
		t.Fatalf("GetCertificate() = %#v, want cached record at version 1", rec)
	}
	if issuer.calls != 0 {
		t.Fatalf("issuer calls = %d, want 0 (served from readCache)", issuer.calls)
	}
}

func TestReadCacheInvalidatedOnRenewal(t *testing.T) {
	ctx := context.Background()
	issuer := &fakeIssuer{}
	c, _, store := newHarness(t, issuer, &fakeAccounts{}, nil, nil)
	markDomainKnown(t, ctx, store, "example.com")

	now := time.Now().UTC()
	if err := persistIssued(ctx, store, "example.com", *selfSignedLeaf("example.com", now, now.Add(5*24*time.Hour)), now); err != nil {
		t.Fatalf("seed near-expiry record: %v", err)
	}

	if _, err := c.GetCertificate(ctx, "example.com"); err != nil {
		t.Fatalf("GetCertificate (populate cache): %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	// Force a renewal directly; AcquireCert must evict the stale readCache
	// entry it just invalidated by writing a new certVersion.
	if _, err := c.AcquireCert(ctx, "example.com"); err != nil {
		t.Fatalf("AcquireCert: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	rec, err := c.GetCertificate(ctx, "example.com")
	if err != nil {
		t.Fatalf("GetCertificate (post-renewal): %v", err)
	}
	if rec == nil || rec.CertVersion != 2 {
		t.Fatalf("GetCertificate() = %#v, want cached record refreshed to version 2", rec)
	}
}

func TestConcurrentRenewalSecondCallerSkipsAfterReload(t *testing.T) {
	ctx := context.Background()
	issuer := &fakeIssuer{}
	c, _, store := newHarness(t, issuer, &fakeAccounts{}, nil, nil)
	markDomainKnown(t, ctx, store, "example.com")

	now := time.Now().UTC()
	if err := persistIssued(ctx, store, "example.com", *selfSignedLeaf("example.com", now, now.Add(5*24*time.Hour)), now); err != nil {
		t.Fatalf("seed near-expiry record: %v", err)
	}

	rec1, err := c.AcquireCert(ctx, "example.com")
	if err != nil {
		t.Fatalf("first AcquireCert: %v", err)
	}
	if rec1.CertVersion != 2 {
		t.Fatalf("first AcquireCert certVersion = %d, want 2", rec1.CertVersion)
	}

	rec2, err := c.AcquireCert(ctx, "example.com")
	if err != nil {
		t.Fatalf("second AcquireCert: %v", err)
	}
	if rec2.CertVersion != 2 {
		t.Fatalf("second AcquireCert certVersion = %d, want still 2 (no duplicate issuance)", rec2.CertVersion)
	}
	if issuer.calls != 1 {
		t.Fatalf("issuer calls = %d, want 1", issuer.calls)
	}
}

func TestCAARejectionReturnsExistingRecordWithoutIssuing(t *testing.T) {
	ctx := context.Background()
	issuer := &fakeIssuer{}
	c, _, store := newHarness(t, issuer, &fakeAccounts{}, []string{"letsencrypt.org"}, map[string][]*dns.CAA{
		"example.com": {{Tag: "issue", Value: "digicert.com"}},
	})
	markDomainKnown(t, ctx, store, "example.com")

	rec, err := c.GetCertificate(ctx, "example.com")
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if rec == nil || rec.Status == StatusValid {
		t.Fatalf("GetCertificate() = %#v, want existing pending record, no cert issued", rec)
	}
	if issuer.calls != 0 {
		t.Fatalf("issuer calls = %d, want 0", issuer.calls)
	}
}

func TestFailureBackoffSetsFailSafeLock(t *testing.T) {
	ctx := context.Background()
	issuer := &fakeIssuer{err: errors.New("order failed")}
	c, client, store := newHarness(t, issuer, &fakeAccounts{}, nil, nil)
	markDomainKnown(t, ctx, store, "example.com")

	_, err := c.GetCertificate(ctx, "example.com")
	if err == nil {
		t.Fatalf("GetCertificate() error = nil, want propagated fresh-install failure")
	}

	exists, err := client.Exists(ctx, "ns:certs:lock:safe:example.com")
	if err != nil || !exists {
		t.Fatalf("fail-safe lock present = %v, %v, want true", exists, err)
	}

	rec, err := c.GetCertificate(ctx, "example.com")
	if err != nil {
		t.Fatalf("GetCertificate within backoff window: %v", err)
	}
	if rec == nil || rec.Status == StatusValid {
		t.Fatalf("GetCertificate() within backoff = %#v, want still-pending record (blocked)", rec)
	}
	if issuer.calls != 1 {
		t.Fatalf("issuer calls = %d, want 1 (second call short-circuited by fail-safe lock)", issuer.calls)
	}
}

func TestAccountUnavailableReturnsSentinelError(t *testing.T) {
	ctx := context.Background()
	issuer := &fakeIssuer{}
	c, _, store := newHarness(t, issuer, &fakeAccounts{err: errors.New("directory unreachable")}, nil, nil)
	markDomainKnown(t, ctx, store, "example.com")

	_, err := c.GetCertificate(ctx, "example.com")
	if !errors.Is(err, ErrAccountUnavailable) {
		t.Fatalf("GetCertificate() error = %v, want ErrAccountUnavailable", err)
	}
	if issuer.calls != 0 {
		t.Fatalf("issuer calls = %d, want 0", issuer.calls)
	}
}

func TestValidToEqualToNowIsExpired(t *testing.T) {
	rec := &CertRecord{Status: StatusValid}
	now := time.Now().UTC()
	rec.ValidTo = now
	if rec.IsValid(now) {
		t.Fatalf("IsValid() = true for validTo == now, want false (boundary case)")
	}
}
