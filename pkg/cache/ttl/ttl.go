// Package ttl provides a concurrency-safe table of keys that stay valid for a
// bounded time. It backs the negative cache and the table of recently
// refreshed accounts.
package ttl

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTTL is used when a table is created with a non-positive TTL.
const DefaultTTL = 15 * time.Second

type entry struct {
	expires   time.Time
	permanent bool
}

// Stats reports table activity.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// Table records when each key was set and answers whether it is still fresh.
type Table[K comparable] struct {
	mu      sync.RWMutex
	entries map[K]entry
	ttl     time.Duration
	now     func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Option configures a Table.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a table whose entries live for ttl.
func New[K comparable](ttl time.Duration, opts ...Option) *Table[K] {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Table[K]{entries: make(map[K]entry), ttl: ttl, now: o.now}
}

// TTL returns the default lifetime of entries.
func (t *Table[K]) TTL() time.Duration {
	return t.ttl
}

// Set marks key fresh for the table TTL.
func (t *Table[K]) Set(key K) {
	t.SetFor(key, t.ttl)
}

// SetFor marks key fresh for d.
func (t *Table[K]) SetFor(key K, d time.Duration) {
	t.mu.Lock()
	t.entries[key] = entry{expires: t.now().Add(d)}
	t.mu.Unlock()
}

// SetPermanent marks key fresh until it is explicitly invalidated.
func (t *Table[K]) SetPermanent(key K) {
	t.mu.Lock()
	t.entries[key] = entry{permanent: true}
	t.mu.Unlock()
}

// Fresh reports whether key was set and has not expired. Expired entries are
// removed.
func (t *Table[K]) Fresh(key K) bool {
	now := t.now()

	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()

	if ok && !e.permanent {
		if !now.Before(e.expires) {
			t.mu.Lock()
			if cur, still := t.entries[key]; still && cur == e {
				delete(t.entries, key)
			}
			t.mu.Unlock()
			ok = false
		}
	}

	if ok {
		t.hits.Add(1)
	} else {
		t.misses.Add(1)
	}
	return ok
}

// Invalidate removes key.
func (t *Table[K]) Invalidate(key K) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}

// InvalidateAll removes every entry. Permanent entries survive when
// keepPermanent is set.
func (t *Table[K]) InvalidateAll(keepPermanent bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !keepPermanent {
		clear(t.entries)
		return
	}
	for k, e := range t.entries {
		if !e.permanent {
			delete(t.entries, k)
		}
	}
}

// Prune drops expired entries and returns how many were removed.
func (t *Table[K]) Prune() int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, e := range t.entries {
		if !e.permanent && !now.Before(e.expires) {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of entries, including expired ones not yet pruned.
func (t *Table[K]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Stats returns hit and miss counters and the current size.
func (t *Table[K]) Stats() Stats {
	return Stats{Hits: t.hits.Load(), Misses: t.misses.Load(), Size: t.Len()}
}
