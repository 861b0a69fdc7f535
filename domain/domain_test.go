package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/miekg/dns"
)

func TestValidateLowercasesAndAcceptsPunycode(t *testing.T) {
	got, err := Validate("xn--mller-kva.example.com")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	want := "müller.example.com"
	if got != want {
		t.Fatalf("Validate() = %q, want %q", got, want)
	}
}

func TestValidateUppercaseNormalized(t *testing.T) {
	got, err := Validate("EXAMPLE.com")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != "example.com" {
		t.Fatalf("Validate() = %q, want example.com", got)
	}
}

func TestValidateRejectsSingleLabel(t *testing.T) {
	_, err := Validate("localhost")
	var invalid *InvalidDomainError
	if !errors.As(err, &invalid) {
		t.Fatalf("Validate() error = %v, want *InvalidDomainError", err)
	}
	if invalid.Domain != "localhost" {
		t.Fatalf("InvalidDomainError.Domain = %q, want %q (interpolated)", invalid.Domain, "localhost")
	}
}

func TestValidateRejectsLeadingHyphenLabel(t *testing.T) {
	_, err := Validate("-bad.example.com")
	if err == nil {
		t.Fatalf("Validate() = nil, want error")
	}
}

// fakeResolver lets tests script a CAA answer (or error) per suffix without
// touching the network.
type fakeResolver struct {
	answers map[string][]*dns.CAA
	errs    map[string]error
}

func (f *fakeResolver) LookupCAA(_ context.Context, name string) ([]*dns.CAA, error) {
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	return f.answers[name], nil
}

func TestCheckCAAPassesWhenIssuerMatches(t *testing.T) {
	r := &fakeResolver{answers: map[string][]*dns.CAA{
		"example.com": {{Tag: "issue", Value: "letsencrypt.org"}},
	}}
	c := NewCAACheckerWithResolver(r)
	if err := c.CheckCAA(context.Background(), "example.com", []string{"letsencrypt.org"}); err != nil {
		t.Fatalf("CheckCAA: %v", err)
	}
}

func TestCheckCAAFailsWhenIssuerMismatched(t *testing.T) {
	r := &fakeResolver{answers: map[string][]*dns.CAA{
		"example.com": {{Tag: "issue", Value: "digicert.com"}},
	}}
	c := NewCAACheckerWithResolver(r)
	err := c.CheckCAA(context.Background(), "example.com", []string{"letsencrypt.org"})
	var mismatch *CAAMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("CheckCAA() error = %v, want *CAAMismatchError", err)
	}
}

func TestCheckCAAWalksToParentOnNoRecord(t *testing.T) {
	r := &fakeResolver{answers: map[string][]*dns.CAA{
		"example.com": {{Tag: "issue", Value: "letsencrypt.org"}},
	}}
	c := NewCAACheckerWithResolver(r)
	if err := c.CheckCAA(context.Background(), "www.app.example.com", []string{"letsencrypt.org"}); err != nil {
		t.Fatalf("CheckCAA: %v", err)
	}
}

func TestCheckCAAStopsAtFirstAnswerEvenIfMismatched(t *testing.T) {
	r := &fakeResolver{answers: map[string][]*dns.CAA{
		"app.example.com": {{Tag: "issue", Value: "digicert.com"}},
		"example.com":     {{Tag: "issue", Value: "letsencrypt.org"}},
	}}
	c := NewCAACheckerWithResolver(r)
	err := c.CheckCAA(context.Background(), "www.app.example.com", []string{"letsencrypt.org"})
	var mismatch *CAAMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("CheckCAA() error = %v, want *CAAMismatchError (stopped at app.example.com)", err)
	}
}

func TestCheckCAADNSErrorTreatedAsNoRecord(t *testing.T) {
	r := &fakeResolver{
		errs: map[string]error{
			"www.example.com": errors.New("timeout"),
		},
		answers: map[string][]*dns.CAA{
			"example.com": {{Tag: "issue", Value: "letsencrypt.org"}},
		},
	}
	c := NewCAACheckerWithResolver(r)
	if err := c.CheckCAA(context.Background(), "www.example.com", []string{"letsencrypt.org"}); err != nil {
		t.Fatalf("CheckCAA: %v", err)
	}
}

func TestCheckCAASkippedWithoutResolverOrCAADomains(t *testing.T) {
	c := NewCAAChecker("")
	if err := c.CheckCAA(context.Background(), "example.com", []string{"letsencrypt.org"}); err != nil {
		t.Fatalf("CheckCAA without resolver: %v", err)
	}

	r := &fakeResolver{answers: map[string][]*dns.CAA{
		"example.com": {{Tag: "issue", Value: "digicert.com"}},
	}}
	c2 := NewCAACheckerWithResolver(r)
	if err := c2.CheckCAA(context.Background(), "example.com", nil); err != nil {
		t.Fatalf("CheckCAA without caaDomains: %v", err)
	}
}
