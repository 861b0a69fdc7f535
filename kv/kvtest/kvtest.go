// Package kvtest provides an in-memory kv.Client fake for tests, in the same
// spirit as the teacher's db/mock.go: a small hand-written double satisfying
// the real interface rather than a mocking library.
package kvtest

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/caasmo/certrenew/kv"
)

type entry struct {
	value   []byte
	expires time.Time // zero means no TTL
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Client is an in-memory stand-in for a Redis-like server. It is safe for
// concurrent use. TTLs are evaluated lazily on access, matching real Redis
// observable behaviour closely enough for unit tests.
type Client struct {
	mu    sync.Mutex
	flat  map[string]entry
	hash  map[string]map[string][]byte
	clock func() time.Time
}

var _ kv.Client = (*Client)(nil)

// New creates an empty in-memory store.
func New() *Client {
	return &Client{
		flat:  make(map[string]entry),
		hash:  make(map[string]map[string][]byte),
		clock: time.Now,
	}
}

// SetClock overrides the time source, for deterministic TTL-expiry tests.
func (c *Client) SetClock(clock func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

func (c *Client) now() time.Time {
	if c.clock != nil {
		return c.clock()
	}
	return time.Now()
}

func (c *Client) getLocked(key string) ([]byte, bool) {
	e, ok := c.flat[key]
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		delete(c.flat, key)
		return nil, false
	}
	return e.value, true
}

func (c *Client) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, _ := c.getLocked(key)
	return v, nil
}

func (c *Client) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
	return nil
}

func (c *Client) setLocked(key string, value []byte, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.flat[key] = e
}

func (c *Client) Del(_ context.Context, keys ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := c.flat[k]; ok {
			delete(c.flat, k)
			n++
		}
		if _, ok := c.hash[k]; ok {
			delete(c.hash, k)
			n++
		}
	}
	return n, nil
}

func (c *Client) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.getLocked(key)
	return ok, nil
}

func (c *Client) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.flat[key]
	if !ok {
		return nil
	}
	e.expires = c.now().Add(ttl)
	c.flat[key] = e
	return nil
}

func (c *Client) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.getLocked(key); ok {
		return false, nil
	}
	c.setLocked(key, value, ttl)
	return true, nil
}

func (c *Client) DelIfEqual(_ context.Context, key string, expected []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.getLocked(key)
	if !ok || !bytes.Equal(v, expected) {
		return false, nil
	}
	delete(c.flat, key)
	return true, nil
}

func (c *Client) HGet(_ context.Context, key, field string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hash[key]
	if !ok {
		return nil, false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (c *Client) HMGet(_ context.Context, key string, fields ...string) (map[string][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]byte, len(fields))
	h := c.hash[key]
	for _, f := range fields {
		if v, ok := h[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

func (c *Client) HSet(_ context.Context, key string, fields map[string][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hash[key]
	if !ok {
		h = make(map[string][]byte)
		c.hash[key] = h
	}
	for f, v := range fields {
		cp := make([]byte, len(v))
		copy(cp, v)
		h[f] = cp
	}
	return nil
}

func (c *Client) HDel(_ context.Context, key string, fields ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hash[key]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, f := range fields {
		if _, ok := h[f]; ok {
			delete(h, f)
			n++
		}
	}
	return n, nil
}

func (c *Client) HExists(_ context.Context, key, field string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hash[key]
	if !ok {
		return false, nil
	}
	_, ok = h[field]
	return ok, nil
}

func (c *Client) HIncrBy(_ context.Context, key, field string, incr int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hash[key]
	if !ok {
		h = make(map[string][]byte)
		c.hash[key] = h
	}
	var cur int64
	if v, ok := h[field]; ok {
		cur, _ = strconv.ParseInt(string(v), 10, 64)
	}
	cur += incr
	h[field] = []byte(strconv.FormatInt(cur, 10))
	return cur, nil
}

func (c *Client) Pipeline(ctx context.Context, fn func(kv.Pipeliner) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := &pipeliner{c: c}
	if err := fn(p); err != nil {
		return err
	}
	p.commit()
	return nil
}

// pipeliner buffers commands under the already-held lock and applies them in
// order, giving the same atomicity-from-the-caller's-perspective as a real
// Redis MULTI/EXEC.
type pipeliner struct {
	c   *Client
	ops []func()
}

func (p *pipeliner) Set(key string, value []byte, ttl time.Duration) {
	p.ops = append(p.ops, func() { p.c.setLocked(key, value, ttl) })
}

func (p *pipeliner) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, func() {
		e, ok := p.c.flat[key]
		if !ok {
			return
		}
		e.expires = p.c.now().Add(ttl)
		p.c.flat[key] = e
	})
}

func (p *pipeliner) HSet(key string, fields map[string][]byte) {
	p.ops = append(p.ops, func() {
		h, ok := p.c.hash[key]
		if !ok {
			h = make(map[string][]byte)
			p.c.hash[key] = h
		}
		for f, v := range fields {
			cp := make([]byte, len(v))
			copy(cp, v)
			h[f] = cp
		}
	})
}

func (p *pipeliner) HDel(key string, fields ...string) {
	p.ops = append(p.ops, func() {
		h, ok := p.c.hash[key]
		if !ok {
			return
		}
		for _, f := range fields {
			delete(h, f)
		}
	})
}

func (p *pipeliner) commit() {
	for _, op := range p.ops {
		op()
	}
}
