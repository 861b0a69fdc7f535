// Package challenge implements the short-lived per-(domain, token) HTTP-01
// challenge record store described in spec §4.2, plus (in provider.go) the
// lego challenge.Provider adapter the ACME library drives during an order.
package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/caasmo/certrenew/kv"
	"github.com/caasmo/certrenew/settings"
)

// DefaultTTL is the default challenge record lifetime (spec §3: "default 2h").
const DefaultTTL = 2 * time.Hour

// Secret is the stored key authorization plus its validity window.
type Secret struct {
	Value   string    `cbor:"value"`
	Created time.Time `cbor:"created"`
	Expires time.Time `cbor:"expires"`
}

// Record is the full shape stored at NS+"challenge:<D>:<token>" (spec §3).
type Record struct {
	ACME struct {
		Token  string `cbor:"token"`
		Secret Secret `cbor:"secret"`
	} `cbor:"acme"`
}

// Store holds in-flight HTTP-01 challenge answers in the shared KV store so
// any front-end process can serve them (spec §1, §4.2).
type Store struct {
	kv        kv.Client
	settings  *settings.Store
	namespace string // e.g. "myapp:certs:"
	ttl       time.Duration
}

// New returns a Store. settingsStore is consulted by Set to verify the
// domain is known before a challenge record is created (spec §4.2: "Requires
// that Settings.has('domain:<D>:data') is true").
func New(client kv.Client, settingsStore *settings.Store, namespace string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: client, settings: settingsStore, namespace: namespace, ttl: ttl}
}

func (s *Store) key(domain, token string) string {
	return fmt.Sprintf("%schallenge:%s:%s", s.namespace, domain, token)
}

// put encodes data and writes it to the challenge key, setting the TTL in
// the same atomic pipeline (spec §4.2: "Either failure is fatal").
func (s *Store) put(ctx context.Context, domain, token string, rec Record) error {
	b, err := settings.Encode(rec)
	if err != nil {
		return fmt.Errorf("challenge: encode record: %w", err)
	}
	key := s.key(domain, token)
	return s.kv.Pipeline(ctx, func(p kv.Pipeliner) error {
		p.Set(key, b, s.ttl)
		return nil
	})
}

// fetch returns the decoded record, or ok=false if the key is missing or
// empty.
func (s *Store) fetch(ctx context.Context, domain, token string) (Record, bool, error) {
	b, err := s.kv.Get(ctx, s.key(domain, token))
	if err != nil {
		return Record{}, false, fmt.Errorf("challenge: fetch: %w", err)
	}
	if len(b) == 0 {
		return Record{}, false, nil
	}
	var rec Record
	if err := settings.DecodeInto(b, &rec); err != nil {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// drop deletes the challenge key unconditionally.
func (s *Store) drop(ctx context.Context, domain, token string) error {
	_, err := s.kv.Del(ctx, s.key(domain, token))
	return err
}

// ErrNotFound is returned by Set when the domain has no settings record yet
// (spec §7: "not_found (404): challenge set for an unknown domain").
var ErrNotFound = fmt.Errorf("challenge: domain has no settings record")

// SetOptions carries the caller-facing arguments to Set, mirroring the ACME
// library's challenge-plugin callback shape (spec §6.3).
type SetOptions struct {
	Domain           string
	Token            string
	KeyAuthorization string
}

// Set composes and stores a challenge record for (Domain, Token), after
// verifying the domain is known (spec §4.2).
func (s *Store) Set(ctx context.Context, opts SetOptions) error {
	known, err := s.settings.Has(ctx, "domain:"+opts.Domain+":data")
	if err != nil {
		return fmt.Errorf("challenge: check domain: %w", err)
	}
	if !known {
		return ErrNotFound
	}

	now := time.Now().UTC()
	var rec Record
	rec.ACME.Token = opts.Token
	rec.ACME.Secret = Secret{
		Value:   opts.KeyAuthorization,
		Created: now,
		Expires: now.Add(s.ttl),
	}
	return s.put(ctx, opts.Domain, opts.Token, rec)
}

// GetQuery carries the caller-facing lookup arguments, mirroring lego's
// challenge identifier/token shape (spec §6.3).
type GetQuery struct {
	Domain string
	Token  string
}

// GetResult is returned by Get on a hit.
type GetResult struct {
	KeyAuthorization string
}

// Get looks up a challenge answer. A missing record, an empty inner secret,
// or an expired secret all return (nil, nil) — and in the expired/absent
// case the stale key is proactively deleted so it never satisfies a later
// lookup (spec §3 invariant, spec §4.2).
func (s *Store) Get(ctx context.Context, q GetQuery) (*GetResult, error) {
	rec, ok, err := s.fetch(ctx, q.Domain, q.Token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if rec.ACME.Secret.Value == "" || time.Now().UTC().After(rec.ACME.Secret.Expires) {
		_ = s.drop(ctx, q.Domain, q.Token)
		return nil, nil
	}
	return &GetResult{KeyAuthorization: rec.ACME.Secret.Value}, nil
}

// RemoveOptions carries the caller-facing removal arguments.
type RemoveOptions struct {
	Domain string
	Token  string
}

// Remove deletes the challenge record for (Domain, Token).
func (s *Store) Remove(ctx context.Context, opts RemoveOptions) error {
	return s.drop(ctx, opts.Domain, opts.Token)
}
