// Package settings implements the typed binary key/value facade over a
// single KV hash described in spec §4.1: arbitrary structured Go values are
// encoded with a self-describing binary codec (CBOR, see codec.go) and
// stored as fields of one hash, so readers never need a schema to decode a
// field written by a different version of this code.
package settings

import (
	"context"
	"fmt"
	"strconv"

	"github.com/caasmo/certrenew/kv"
)

// Store is the settings hash facade described in spec §4.1, bound to one
// namespaced hash key (NS+"settings", per spec §3).
type Store struct {
	kv  kv.Client
	key string // e.g. "myapp:certs:settings"
}

// New returns a Store backed by the hash at key.
func New(client kv.Client, key string) *Store {
	return &Store{kv: client, key: key}
}

// Set encodes each value in fields with the binary codec and writes them as
// one hash-field-set in a single round-trip (spec §4.1: "Overwrites
// atomically per call"). Returns true once the write is acknowledged.
func (s *Store) Set(ctx context.Context, fields map[string]any) (bool, error) {
	if len(fields) == 0 {
		return true, nil
	}
	encoded := make(map[string][]byte, len(fields))
	for name, v := range fields {
		b, err := Encode(v)
		if err != nil {
			return false, fmt.Errorf("settings: encode field %q: %w", name, err)
		}
		encoded[name] = b
	}
	if err := s.kv.HSet(ctx, s.key, encoded); err != nil {
		return false, fmt.Errorf("settings: write hash %q: %w", s.key, err)
	}
	return true, nil
}

// absent is the sentinel decoded value returned for a key that is missing,
// or whose stored bytes failed to decode (spec §4.1 error policy: "decode
// errors on a single field yield 'absent' for that field").
type absentType struct{}

// Absent is the zero-value placeholder for a key that was not present, or
// whose encoding could not be decoded. Callers type-assert away from it.
var Absent = absentType{}

// IsAbsent reports whether a value returned by Get/GetOne is the Absent
// sentinel.
func IsAbsent(v any) bool {
	_, ok := v.(absentType)
	return ok
}

// Get performs a multi-field read, decoding each present field and
// returning a map keyed by the requested field names.
// Keys with no stored value, or whose value failed to decode, map to
// Absent; transport errors propagate.
func (s *Store) Get(ctx context.Context, keys ...string) (map[string]any, error) {
	raw, err := s.kv.HMGet(ctx, s.key, keys...)
	if err != nil {
		return nil, fmt.Errorf("settings: read hash %q: %w", s.key, err)
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		b, ok := raw[k]
		if !ok {
			out[k] = Absent
			continue
		}
		v, decErr := Decode(b)
		if decErr != nil {
			out[k] = Absent
			continue
		}
		out[k] = v
	}
	return out, nil
}

// GetOne is the single-key form of Get: it returns the decoded value, or
// Absent if the field is missing or undecodable.
func (s *Store) GetOne(ctx context.Context, key string) (any, error) {
	b, ok, err := s.kv.HGet(ctx, s.key, key)
	if err != nil {
		return nil, fmt.Errorf("settings: read field %q: %w", key, err)
	}
	if !ok {
		return Absent, nil
	}
	v, decErr := Decode(b)
	if decErr != nil {
		return Absent, nil
	}
	return v, nil
}

// GetOneInto reads a single field and decodes it directly into dst, a
// pointer to a concrete type, for callers (account manager, coordinator)
// that know the stored shape rather than wanting the generic any Decode
// returns. Reports ok=false if the field is absent.
func (s *Store) GetOneInto(ctx context.Context, key string, dst any) (bool, error) {
	b, ok, err := s.kv.HGet(ctx, s.key, key)
	if err != nil {
		return false, fmt.Errorf("settings: read field %q: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := DecodeInto(b, dst); err != nil {
		return false, nil
	}
	return true, nil
}

// Has reports whether key is present in the settings hash.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	ok, err := s.kv.HExists(ctx, s.key, key)
	if err != nil {
		return false, fmt.Errorf("settings: check field %q: %w", key, err)
	}
	return ok, nil
}

// Delete removes the listed fields and returns the count actually removed.
func (s *Store) Delete(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.kv.HDel(ctx, s.key, keys...)
	if err != nil {
		return 0, fmt.Errorf("settings: delete fields: %w", err)
	}
	return n, nil
}

// IncrBy atomically increments an integer field and returns the new value.
// Used by the coordinator for domain:<D>:certVersion (spec §3).
func (s *Store) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := s.kv.HIncrBy(ctx, s.key, key, delta)
	if err != nil {
		return 0, fmt.Errorf("settings: incrby field %q: %w", key, err)
	}
	return n, nil
}

// GetCounter reads a field written by IncrBy. HINCRBY stores plain decimal
// digits rather than a codec-encoded value, so this bypasses Decode; a
// field never incremented reads as zero.
func (s *Store) GetCounter(ctx context.Context, key string) (int64, error) {
	b, ok, err := s.kv.HGet(ctx, s.key, key)
	if err != nil {
		return 0, fmt.Errorf("settings: read counter %q: %w", key, err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("settings: parse counter %q: %w", key, err)
	}
	return n, nil
}
