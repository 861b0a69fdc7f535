package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// CAAMismatchError reports that a CAA record forbids the configured issuer
// (spec §4.5: "caa_mismatch (403)").
type CAAMismatchError struct {
	Domain string
	Found  []string
}

func (e *CAAMismatchError) Error() string {
	return fmt.Sprintf("domain: caa_mismatch for %q: found issuers %v", e.Domain, e.Found)
}

// Resolver queries CAA records for a name. It is satisfied by *CAAChecker's
// default miekg/dns-backed implementation, and can be substituted in tests.
type Resolver interface {
	LookupCAA(ctx context.Context, name string) ([]*dns.CAA, error)
}

// CAAChecker walks the suffixes of a domain looking for a CAA record that
// authorizes one of caaDomains (spec §4.5).
type CAAChecker struct {
	resolver Resolver
}

// NewCAAChecker returns a checker querying server (e.g. "8.8.8.8:53") over
// UDP with miekg/dns. A nil or empty server disables resolution; CheckCAA
// then always skips the check (spec §4.5: "if the runtime cannot resolve
// CAA... checking is skipped").
func NewCAAChecker(server string) *CAAChecker {
	if server == "" {
		return &CAAChecker{}
	}
	return &CAAChecker{resolver: &dnsResolver{server: server}}
}

// NewCAACheckerWithResolver lets callers supply a custom Resolver, e.g. for
// tests or to point at a specific recursive server.
func NewCAACheckerWithResolver(r Resolver) *CAAChecker {
	return &CAAChecker{resolver: r}
}

// CheckCAA walks suffixes of domain from most specific to least, stopping at
// the first suffix with any CAA answer (spec §8 boundary case). If that
// record's issue tags don't include one of caaDomains, it fails with
// CAAMismatchError. DNS errors at a given suffix are treated as "no record
// at this level" and the walk continues upward. If the resolver is
// unavailable or caaDomains is empty, the check is skipped entirely.
func (c *CAAChecker) CheckCAA(ctx context.Context, domain string, caaDomains []string) error {
	if c.resolver == nil || len(caaDomains) == 0 {
		return nil
	}

	labels := strings.Split(domain, ".")
	for i := 0; i < len(labels)-1; i++ {
		suffix := strings.Join(labels[i:], ".")
		records, err := c.resolver.LookupCAA(ctx, suffix)
		if err != nil || len(records) == 0 {
			continue
		}

		found := make([]string, 0, len(records))
		for _, rec := range records {
			if rec.Tag != "issue" {
				continue
			}
			value := strings.TrimSpace(rec.Value)
			found = append(found, value)
			for _, allowed := range caaDomains {
				if value == allowed {
					return nil
				}
			}
		}
		return &CAAMismatchError{Domain: domain, Found: found}
	}

	return nil
}

// dnsResolver is the default Resolver, a thin miekg/dns query against one
// recursive server.
type dnsResolver struct {
	server string
}

func (r *dnsResolver) LookupCAA(ctx context.Context, name string) ([]*dns.CAA, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeCAA)
	m.RecursionDesired = true

	client := &dns.Client{Timeout: 5 * time.Second}
	resp, _, err := client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, fmt.Errorf("domain: caa lookup %q: %w", name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, nil
	}

	var out []*dns.CAA
	for _, rr := range resp.Answer {
		if caa, ok := rr.(*dns.CAA); ok {
			out = append(out, caa)
		}
	}
	return out, nil
}
