// Package infra provides shared infrastructure components used across
// the application: request pacing, caching, and logger setup.
package infra

import (
	"context"
	"sync"
	"time"
)

// --- Simple in-memory cache ---

// CacheEntry holds a cached value with expiration.
type CacheEntry struct {
	Value     any
	ExpiresAt time.Time
}

// Cache is a simple thread-safe in-memory cache with TTL.
// A zero or negative TTL disables caching. Expired entries are dropped when
// read, and Set sweeps the whole map at most once per TTL.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]CacheEntry
	ttl       time.Duration
	lastSweep time.Time
}

// NewCache creates a new cache with the given default TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries:   make(map[string]CacheEntry),
		ttl:       ttl,
		lastSweep: time.Now(),
	}
}

// Get retrieves a value from the cache. Returns nil, false if not found or expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.Value, true
}

// Set stores a value in the cache with the default TTL.
func (c *Cache) Set(key string, value any) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Sub(c.lastSweep) >= c.ttl {
		for k, v := range c.entries {
			if now.After(v.ExpiresAt) {
				delete(c.entries, k)
			}
		}
		c.lastSweep = now
	}
	c.entries[key] = CacheEntry{
		Value:     value,
		ExpiresAt: now.Add(c.ttl),
	}
}

// Len returns the number of entries held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// --- Pacer ---

// Pacer enforces a minimum interval between outbound requests.
// It holds a single token: the earliest time the next request may fire.
// Exclusion is held across wait, dispatch and token update, so concurrent
// callers never observe the same token.
type Pacer struct {
	sem      chan struct{}
	interval time.Duration
	next     time.Time
}

// NewPacer creates a pacer with the given minimum interval.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{sem: make(chan struct{}, 1), interval: interval}
}

// Interval returns the configured minimum gap.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Do waits for the token, runs fn, and moves the token to interval after
// fn returns, whether fn failed or not. Waiting is cancellable through ctx.
func (p *Pacer) Do(ctx context.Context, fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	if d := time.Until(p.next); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	err := fn()
	p.next = time.Now().Add(p.interval)
	return err
}
