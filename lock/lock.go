// Package lock implements the distributed lock service contract spec §4.3
// requires of an external collaborator: Acquire(key, leaseMs, waitBudgetMs)
// blocks up to waitBudgetMs for mutual exclusion and returns a fencing
// token on success; Release only clears the lease if the caller still holds
// it. Built directly on kv.Client's SetNX/DelIfEqual primitives rather than
// a separate lock server, since the backing store already gives us atomic
// compare-and-swap semantics.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/caasmo/certrenew/crypto"
	"github.com/caasmo/certrenew/kv"
)

// pollInterval is how often Acquire retries SetNX while waiting for a
// contended lock to free up.
const pollInterval = 100 * time.Millisecond

// Locker acquires and releases leases on KV keys, guaranteeing exclusivity
// for the lease duration via a fencing token (spec §4.3).
type Locker struct {
	kv kv.Client
}

// New returns a Locker backed by client.
func New(client kv.Client) *Locker {
	return &Locker{kv: client}
}

// Handle identifies one successful Acquire; it carries the fencing token
// needed to release only the lease it actually holds.
type Handle struct {
	key   string
	token []byte
}

// Acquire blocks up to waitBudget for mutual exclusion on key. On success the
// caller is guaranteed exclusivity for lease and must eventually call
// Release. Exceeding waitBudget returns ok=false with a nil error, not a
// timeout error (spec §5: "exceeding it returns 'not acquired', no error").
func (l *Locker) Acquire(ctx context.Context, key string, lease, waitBudget time.Duration) (ok bool, handle Handle, err error) {
	token := []byte(crypto.GenerateSecureToken(16))
	deadline := time.Now().Add(waitBudget)

	for {
		acquired, err := l.kv.SetNX(ctx, key, token, lease)
		if err != nil {
			return false, Handle{}, fmt.Errorf("lock: acquire %q: %w", key, err)
		}
		if acquired {
			return true, Handle{key: key, token: token}, nil
		}
		if !time.Now().Before(deadline) {
			return false, Handle{}, nil
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, Handle{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// Release clears the lease identified by handle, but only if it still holds
// the fencing token Acquire wrote — a stale holder whose lease already
// expired and was reacquired by someone else cannot clobber the new holder's
// lock (spec glossary: "Fencing token").
func (l *Locker) Release(ctx context.Context, handle Handle) error {
	_, err := l.kv.DelIfEqual(ctx, handle.key, handle.token)
	if err != nil {
		return fmt.Errorf("lock: release %q: %w", handle.key, err)
	}
	return nil
}
