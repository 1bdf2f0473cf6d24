// ABOUTME: Generic keyed read-through cache with TTL and a refresh grace window
// ABOUTME: Bounds backing-store load under bursty access; negative results are cached too

package cachepool

import (
	"context"
	"sync"
	"time"
)

// ReadFunc loads the backing value for a key. Returning the zero value with a
// nil error is a valid "empty" result and is cached as such.
type ReadFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// WriteFunc persists a value for a key.
type WriteFunc[K comparable, V any] func(ctx context.Context, key K, value V) error

type entry[V any] struct {
	value   V
	expires time.Time
}

// Pool is a keyed read-through cache. Reads go to the backing store at most
// once per liveness window; while a reload is in flight the stale entry keeps
// a short grace extension so a failed reload does not stampede the store.
type Pool[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*entry[V]
	ttl     time.Duration
	grace   time.Duration
	read    ReadFunc[K, V]
	write   WriteFunc[K, V]
}

// New creates a pool. ttl is the liveness window of a loaded entry; grace is
// the shorter window granted to a stale entry while its refresh is pending.
// write may be nil for pools whose mutations go through explicit Put/Drop.
func New[K comparable, V any](ttl, grace time.Duration, read ReadFunc[K, V], write WriteFunc[K, V]) *Pool[K, V] {
	if grace <= 0 || grace > ttl {
		grace = ttl / 4
	}
	return &Pool[K, V]{
		entries: make(map[K]*entry[V]),
		ttl:     ttl,
		grace:   grace,
		read:    read,
		write:   write,
	}
}

// Load returns the cached value for key, reading through to the backing
// store when the entry is absent or expired. The double-checked pattern keeps
// concurrent callers from issuing redundant backing reads for the same key.
func (p *Pool[K, V]) Load(ctx context.Context, key K) (V, error) {
	p.mu.RLock()
	if e, ok := p.entries[key]; ok && time.Now().Before(e.expires) {
		value := e.value
		p.mu.RUnlock()
		return value, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-check: another caller may have refreshed while we waited.
	now := time.Now()
	if e, ok := p.entries[key]; ok && now.Before(e.expires) {
		return e.value, nil
	}

	// Grant the stale entry a grace extension before hitting the store, so a
	// failing backing read leaves a short quiet period instead of a stampede.
	if e, ok := p.entries[key]; ok {
		e.expires = now.Add(p.grace)
	}

	value, err := p.read(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	p.entries[key] = &entry[V]{value: value, expires: now.Add(p.ttl)}
	return value, nil
}

// Save writes the value through to the backing store, then refreshes the
// cache entry. The entry is untouched if the backing write fails.
func (p *Pool[K, V]) Save(ctx context.Context, key K, value V) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.write != nil {
		if err := p.write(ctx, key, value); err != nil {
			return err
		}
	}
	p.entries[key] = &entry[V]{value: value, expires: time.Now().Add(p.ttl)}
	return nil
}

// Put replaces the cached entry without touching the backing store. Used to
// fold an already-persisted value into the cache.
func (p *Pool[K, V]) Put(key K, value V) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[key] = &entry[V]{value: value, expires: time.Now().Add(p.ttl)}
}

// Drop removes the cached entry so the next Load reads through.
func (p *Pool[K, V]) Drop(key K) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
}

// Purge removes every expired entry and reports how many were dropped.
func (p *Pool[K, V]) Purge() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	dropped := 0
	for key, e := range p.entries {
		if now.After(e.expires) {
			delete(p.entries, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of cached entries, live or stale.
func (p *Pool[K, V]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
