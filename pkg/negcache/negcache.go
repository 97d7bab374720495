// Package negcache remembers user names recently found not to exist so that
// repeated lookups fail fast without touching the identity store.
package negcache

import (
	"strings"
	"time"

	"github.com/marmos91/dittopam/pkg/cache/ttl"
)

// AnyDomain is the wildcard domain. An entry set under it matches the name in
// every domain.
const AnyDomain = ""

type key struct {
	domain string
	name   string
}

// Cache is a process-wide negative cache keyed by (domain, name). Domain
// names are matched case-insensitively; user names are stored as given, so
// callers pass names already folded to the domain's case policy.
type Cache struct {
	users *ttl.Table[key]
}

// New creates a cache whose entries live for timeout.
func New(timeout time.Duration, opts ...ttl.Option) *Cache {
	return &Cache{users: ttl.New[key](timeout, opts...)}
}

// CheckUser reports whether name is negatively cached for domain or for the
// wildcard domain.
func (c *Cache) CheckUser(domain, name string) bool {
	if c.users.Fresh(key{strings.ToLower(domain), name}) {
		return true
	}
	return domain != AnyDomain && c.users.Fresh(key{AnyDomain, name})
}

// SetUser records name as missing from domain. Permanent entries survive
// Reset and are used for names that must never be looked up.
func (c *Cache) SetUser(domain, name string, permanent bool) {
	k := key{strings.ToLower(domain), name}
	if permanent {
		c.users.SetPermanent(k)
		return
	}
	c.users.Set(k)
}

// RemoveUser drops a single entry.
func (c *Cache) RemoveUser(domain, name string) {
	c.users.Invalidate(key{strings.ToLower(domain), name})
}

// Reset drops every non-permanent entry.
func (c *Cache) Reset() {
	c.users.InvalidateAll(true)
}

// Prune drops expired entries and returns how many were removed.
func (c *Cache) Prune() int {
	return c.users.Prune()
}

// Stats returns the activity counters of the cache.
func (c *Cache) Stats() ttl.Stats {
	return c.users.Stats()
}

// Timeout returns the lifetime of non-permanent entries.
func (c *Cache) Timeout() time.Duration {
	return c.users.TTL()
}
