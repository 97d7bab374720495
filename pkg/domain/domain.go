// Package domain describes the identity domains the responder serves and
// parses logon names against them.
package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/types"
)

var (
	// ErrDomainNotFound is returned when a named domain is not configured.
	ErrDomainNotFound = errors.New("domain: not found")

	// ErrUnknownDomain is returned by ParseName when the name carries a
	// domain suffix that matches no configured domain. The caller may refresh
	// the domain list and parse again.
	ErrUnknownDomain = errors.New("domain: unknown domain in name")

	// ErrDuplicateDomain is returned when two domains share a name.
	ErrDuplicateDomain = errors.New("domain: duplicate domain name")
)

// Domain is one identity namespace with its caching and trust policy.
type Domain struct {
	Name string

	// FQNames means users of this domain must be addressed as user@domain.
	FQNames bool

	// CacheCredentials enables offline authentication from cached hashes.
	CacheCredentials bool

	// CachedAuthTimeout is how long after an online login the cached hash may
	// be used instead of contacting the provider. Zero disables it.
	CachedAuthTimeout time.Duration

	// EntryCacheTimeout is how long a refreshed record stays valid.
	EntryCacheTimeout time.Duration

	// Provider names the remote backend. Empty means a purely local domain.
	Provider string

	CaseSensitive bool

	// Parent is set for subdomains discovered through a provider.
	Parent string
}

// HasProvider reports whether the domain is backed by a remote provider.
func (d *Domain) HasProvider() bool {
	return d.Provider != ""
}

// Canonical folds name according to the domain's case policy.
func (d *Domain) Canonical(name string) string {
	if d.CaseSensitive {
		return name
	}
	return strings.ToLower(name)
}

// Subdomain returns a child domain that inherits the settings of d.
func (d *Domain) Subdomain(name string) *Domain {
	c := *d
	c.Name = name
	c.Parent = d.Name
	return &c
}

// Registry is the ordered set of configured domains. It is safe for
// concurrent use; List returns a snapshot.
type Registry struct {
	mu            sync.RWMutex
	domains       []*Domain
	defaultSuffix string
}

// NewRegistry creates a registry. Lookup order follows the order of domains.
// defaultSuffix, if set, is applied to names without a domain part.
func NewRegistry(domains []*Domain, defaultSuffix string) (*Registry, error) {
	r := &Registry{defaultSuffix: defaultSuffix}
	if err := r.Replace(domains); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace swaps the whole domain list.
func (r *Registry) Replace(domains []*Domain) error {
	seen := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		if d == nil || d.Name == "" {
			return fmt.Errorf("domain: empty domain name")
		}
		k := strings.ToLower(d.Name)
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateDomain, d.Name)
		}
		seen[k] = struct{}{}
	}

	r.mu.Lock()
	r.domains = slices.Clone(domains)
	r.mu.Unlock()
	return nil
}

// AddSubdomains appends provider-discovered domains below parent. Names that
// already exist are left untouched. It returns the number of domains added.
func (r *Registry) AddSubdomains(parent string, names []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.lookup(parent)
	if p == nil {
		return 0, fmt.Errorf("%w: %s", ErrDomainNotFound, parent)
	}
	added := 0
	for _, n := range names {
		if n == "" || r.lookup(n) != nil {
			continue
		}
		r.domains = append(r.domains, p.Subdomain(n))
		added++
	}
	return added, nil
}

// List returns the domains in lookup order.
func (r *Registry) List() []*Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.domains)
}

// First returns the first configured domain, or nil.
func (r *Registry) First() *Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.domains) == 0 {
		return nil
	}
	return r.domains[0]
}

// Get finds a domain by name, ignoring case.
func (r *Registry) Get(name string) (*Domain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d := r.lookup(name); d != nil {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, name)
}

func (r *Registry) lookup(name string) *Domain {
	for _, d := range r.domains {
		if strings.EqualFold(d.Name, name) {
			return d
		}
	}
	return nil
}

// ParseName splits a logon name into (domain, user).
//
// A name of the form user@suffix is split at the last '@'. If the suffix names
// a configured domain the domain's configured name is returned; otherwise
// ErrUnknownDomain is returned together with the raw user part. A bare name
// gets the default suffix, or an empty domain when none is configured.
func (r *Registry) ParseName(name string) (dom, user string, err error) {
	if !strings.Contains(name, "@") {
		return r.defaultSuffix, name, nil
	}

	at := strings.LastIndex(name, "@")
	realm := name[at+1:]
	user = types.NewPrincipalName(nametype.KRB_NT_PRINCIPAL, name[:at]).PrincipalNameString()
	if user == "" || realm == "" {
		return "", name, nil
	}

	d, err := r.Get(realm)
	if err != nil {
		return "", user, fmt.Errorf("%w: %s", ErrUnknownDomain, realm)
	}
	return d.Name, user, nil
}
