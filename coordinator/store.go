package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/caasmo/certrenew/settings"
)

func dataKey(domain string) string       { return "domain:" + domain + ":data" }
func privateKeyKey(domain string) string { return "domain:" + domain + ":privateKey" }
func lastCheckKey(domain string) string  { return "domain:" + domain + ":lastCheck" }
func lastErrorKey(domain string) string  { return "domain:" + domain + ":lastError" }
func certVersionKey(domain string) string { return "domain:" + domain + ":certVersion" }

// loadRecord reads every settings field for domain and merges them into one
// CertRecord (spec §3: "CertRecord (logical merge of the fields above)").
// Returns nil, nil if domain:<D>:data has never been written — the ABSENT
// state.
func loadRecord(ctx context.Context, store *settings.Store, domain string) (*CertRecord, error) {
	var df dataFields
	ok, err := store.GetOneInto(ctx, dataKey(domain), &df)
	if err != nil {
		return nil, fmt.Errorf("coordinator: load %q: %w", dataKey(domain), err)
	}
	if !ok {
		return nil, nil
	}

	rec := &CertRecord{
		Domain:       df.Domain,
		Status:       df.Status,
		Cert:         df.Cert,
		CA:           df.CA,
		SerialNumber: df.SerialNumber,
		Fingerprint:  df.Fingerprint,
		AltNames:     df.AltNames,
		ValidFrom:    df.ValidFrom,
		ValidTo:      df.ValidTo,
	}

	var pk []byte
	if ok, err := store.GetOneInto(ctx, privateKeyKey(domain), &pk); err == nil && ok {
		rec.PrivateKey = pk
	}

	var lastCheck time.Time
	if ok, err := store.GetOneInto(ctx, lastCheckKey(domain), &lastCheck); err == nil && ok {
		rec.LastCheck = lastCheck
	}

	var lastErr ErrorInfo
	if ok, err := store.GetOneInto(ctx, lastErrorKey(domain), &lastErr); err == nil && ok {
		rec.LastError = &lastErr
	}

	version, err := store.GetCounter(ctx, certVersionKey(domain))
	if err != nil {
		return nil, fmt.Errorf("coordinator: load certVersion: %w", err)
	}
	rec.CertVersion = version

	return rec, nil
}

// persistPending marks a newly-generated domain key as a pending record
// (spec §4.6 step 6: "persist {domain, privateKey, status:'pending',
// lastError:null}").
func persistPending(ctx context.Context, store *settings.Store, domain string, privateKeyCiphertext []byte) error {
	_, err := store.Set(ctx, map[string]any{
		dataKey(domain): dataFields{Domain: domain, Status: StatusPending},
	})
	if err != nil {
		return fmt.Errorf("coordinator: persist pending data: %w", err)
	}
	if _, err := store.Set(ctx, map[string]any{privateKeyKey(domain): privateKeyCiphertext}); err != nil {
		return fmt.Errorf("coordinator: persist pending key: %w", err)
	}
	if _, err := store.Delete(ctx, lastErrorKey(domain)); err != nil {
		return fmt.Errorf("coordinator: clear lastError: %w", err)
	}
	return nil
}

// persistIssued merges a freshly-issued certificate into the domain's
// record and increments certVersion exactly once (spec §4.6 step 11, spec
// §8 invariant 2).
func persistIssued(ctx context.Context, store *settings.Store, domain string, leaf LeafResult, now time.Time) error {
	df := dataFields{
		Domain:       domain,
		Status:       StatusValid,
		Cert:         leaf.CertPEM,
		CA:           leaf.ChainPEM,
		SerialNumber: leaf.SerialNumber,
		Fingerprint:  leaf.Fingerprint,
		AltNames:     leaf.AltNames,
		ValidFrom:    leaf.ValidFrom,
		ValidTo:      leaf.ValidTo,
	}
	if _, err := store.Set(ctx, map[string]any{
		dataKey(domain):      df,
		lastCheckKey(domain): now,
	}); err != nil {
		return fmt.Errorf("coordinator: persist issued data: %w", err)
	}
	if _, err := store.Delete(ctx, lastErrorKey(domain)); err != nil {
		return fmt.Errorf("coordinator: clear lastError: %w", err)
	}
	if _, err := store.IncrBy(ctx, certVersionKey(domain), 1); err != nil {
		return fmt.Errorf("coordinator: increment certVersion: %w", err)
	}
	return nil
}

// recordFailure writes lastError if a record already exists, and does
// nothing otherwise (spec §4.6 failure path: "If a record exists, write
// lastError"). It does not touch lock:safe:<D>; AcquireCert's failure path
// sets that before calling recordFailure.
func recordFailure(ctx context.Context, store *settings.Store, domain string, code string, cause error, now time.Time, hasRecord bool) error {
	if !hasRecord {
		return nil
	}
	info := ErrorInfo{Err: cause.Error(), Code: code, Time: now}
	if _, err := store.Set(ctx, map[string]any{lastErrorKey(domain): info}); err != nil {
		return fmt.Errorf("coordinator: persist lastError: %w", err)
	}
	return nil
}
