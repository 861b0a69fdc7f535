// Package kv defines the contract the certificate coordinator needs from its
// backing store: a Redis-like hash/key-value server with atomic pipelines,
// TTL expiry, and hash operations (spec §6.4). Everything above this package
// treats the store as an external collaborator; kv only describes the shape
// of that collaborator and adapts a real client to it.
package kv

import (
	"context"
	"time"
)

// Client is the minimal surface the rest of this module needs from the
// backing store. It intentionally mirrors a Redis command set rather than
// inventing new verbs, so a real Redis (or Redis-compatible) server can back
// it directly.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// SetNX sets key to value only if it does not already exist, with the
	// given TTL, and reports whether the set happened. This is the primitive
	// the lock package builds mutual exclusion on top of.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// DelIfEqual deletes key only if its current value equals expected,
	// returning whether the delete happened. Used to release a lock/fencing
	// token without releasing a lease acquired by a different holder.
	DelIfEqual(ctx context.Context, key string, expected []byte) (bool, error)

	HGet(ctx context.Context, key, field string) ([]byte, bool, error)
	HMGet(ctx context.Context, key string, fields ...string) (map[string][]byte, error)
	HSet(ctx context.Context, key string, fields map[string][]byte) error
	HDel(ctx context.Context, key string, fields ...string) (int64, error)
	HExists(ctx context.Context, key, field string) (bool, error)
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)

	// Pipeline runs fn against a Pipeliner and executes every queued command
	// as a single atomic round-trip, propagating fn's error without
	// executing anything if fn itself fails before Exec.
	Pipeline(ctx context.Context, fn func(Pipeliner) error) error
}

// Pipeliner queues commands for a single atomic multi-command round-trip.
// It exposes a subset of Client's write operations. The only caller in this
// module is the challenge store's put, which queues a single Set carrying
// the record's TTL; settings writes go through Client.HSet directly.
type Pipeliner interface {
	Set(key string, value []byte, ttl time.Duration)
	Expire(key string, ttl time.Duration)
	HSet(key string, fields map[string][]byte)
	HDel(key string, fields ...string)
}
