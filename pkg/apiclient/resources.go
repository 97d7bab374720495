package apiclient

import (
	"context"
	"net/url"
	"time"
)

// Domain is a configured or discovered domain.
type Domain struct {
	Name                string `json:"name"`
	Provider            string `json:"provider,omitempty"`
	Parent              string `json:"parent,omitempty"`
	FullyQualifiedNames bool   `json:"fully_qualified_names"`
	CaseSensitive       bool   `json:"case_sensitive"`
	CacheCredentials    bool   `json:"cache_credentials"`
	CachedAuthTimeout   string `json:"cached_auth_timeout,omitempty"`
	EntryCacheTimeout   string `json:"entry_cache_timeout,omitempty"`
}

// User is a cached identity record.
type User struct {
	Name                string     `json:"name"`
	Domain              string     `json:"domain"`
	UPN                 string     `json:"upn,omitempty"`
	Aliases             []string   `json:"aliases,omitempty"`
	UID                 uint32     `json:"uid"`
	GID                 uint32     `json:"gid"`
	Certificates        int        `json:"certificates"`
	CacheExpire         *time.Time `json:"cache_expire,omitempty"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
	LastOnlineAuth      *time.Time `json:"last_online_auth,omitempty"`
	HasCachedPassword   bool       `json:"has_cached_password"`
	FailedLoginAttempts uint32     `json:"failed_login_attempts"`
	LastFailedLogin     *time.Time `json:"last_failed_login,omitempty"`
	AccountExpires      *time.Time `json:"account_expires,omitempty"`
	Locked              bool       `json:"locked"`
}

// TableStats reports the activity of one in-memory cache.
type TableStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// CacheStats reports the responder's in-memory caches.
type CacheStats struct {
	NegativeCache TableStats `json:"negative_cache"`
	Refreshed     TableStats `json:"refreshed"`
}

// ListDomains returns every domain in lookup order.
func (c *Client) ListDomains(ctx context.Context) ([]Domain, error) {
	return listResources[Domain](ctx, c, "/api/v1/domains")
}

// ListUsers returns the cached records of domain, or of all domains when
// domain is empty.
func (c *Client) ListUsers(ctx context.Context, domain string) ([]User, error) {
	path := "/api/v1/users"
	if domain != "" {
		path += "?domain=" + url.QueryEscape(domain)
	}
	return listResources[User](ctx, c, path)
}

// GetUser returns one cached record.
func (c *Client) GetUser(ctx context.Context, domain, name string) (*User, error) {
	return getResource[User](ctx, c, resourcePath("/api/v1/users/%s/%s", domain, name))
}

// ExpireUser forces the next request for the user to go to its provider.
func (c *Client) ExpireUser(ctx context.Context, domain, name string) (*User, error) {
	var u User
	if err := c.post(ctx, resourcePath("/api/v1/users/%s/%s/expire", domain, name), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ResetNegativeCache flushes every negative cache entry not seeded from
// filter_users.
func (c *Client) ResetNegativeCache(ctx context.Context) error {
	return c.delete(ctx, "/api/v1/negcache", nil)
}

// Stats returns cache statistics.
func (c *Client) Stats(ctx context.Context) (*CacheStats, error) {
	return getResource[CacheStats](ctx, c, "/api/v1/stats")
}

// Health calls the unauthenticated readiness probe.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health/ready", nil)
}
