package challenge

import (
	"context"
	"fmt"
)

// Provider adapts Store to lego's challenge.Provider interface so the ACME
// library can drive HTTP-01 challenges entirely through this package's
// KV-backed storage (spec §6.3, §9 design note 1): lego calls Present when
// it needs an answer published and CleanUp once the authorization is
// decided, exactly the set/get/remove shape the spec describes, with get
// performed by the HTTP dispatcher (package dispatcher) rather than by lego
// itself — lego only needs Present/CleanUp to satisfy its own Provider
// contract.
type Provider struct {
	store *Store
}

// NewProvider wraps store as a lego challenge.Provider.
func NewProvider(store *Store) *Provider {
	return &Provider{store: store}
}

// Present stores the key authorization so the HTTP dispatcher can serve it
// at /.well-known/acme-challenge/<token> for domain.
func (p *Provider) Present(domain, token, keyAuth string) error {
	if err := p.store.Set(context.Background(), SetOptions{
		Domain:           domain,
		Token:            token,
		KeyAuthorization: keyAuth,
	}); err != nil {
		return fmt.Errorf("challenge provider: present %s: %w", domain, err)
	}
	return nil
}

// CleanUp removes the challenge record once lego has finished with this
// authorization, successful or not (spec §3 invariant: "a challenge record
// either expires via TTL or is explicitly deleted").
func (p *Provider) CleanUp(domain, token, _ string) error {
	if err := p.store.Remove(context.Background(), RemoveOptions{Domain: domain, Token: token}); err != nil {
		return fmt.Errorf("challenge provider: cleanup %s: %w", domain, err)
	}
	return nil
}
