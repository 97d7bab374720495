// Package memory implements an in-process identity store.
//
// Records are kept in a map keyed by identity.Key and looked up by linear
// scan for aliases, UPNs and certificates. Nothing survives a restart; the
// store is meant for tests and for deployments that rebuild the cache from
// their providers.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/marmos91/dittopam/pkg/identity"
)

// Store is an in-memory identity.Store.
type Store struct {
	mu      sync.RWMutex
	records map[string]*identity.Record
	closed  bool
}

var _ identity.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[string]*identity.Record)}
}

// NewWithRecords creates a store seeded with recs.
func NewWithRecords(recs ...*identity.Record) (*Store, error) {
	s := New()
	for _, r := range recs {
		if err := s.PutUser(context.Background(), r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return identity.ErrStoreClosed
	}
	return nil
}

// single returns a copy of the only element of matches.
func single(matches []*identity.Record) (*identity.Record, error) {
	switch len(matches) {
	case 0:
		return nil, identity.ErrUserNotFound
	case 1:
		return matches[0].Clone(), nil
	default:
		return nil, identity.ErrAmbiguous
	}
}

func (s *Store) GetUser(ctx context.Context, domain, name string) (*identity.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	if r, ok := s.records[identity.Key(domain, name)]; ok {
		// A primary name may still collide with another record's alias.
		matches := []*identity.Record{r}
		for _, o := range s.records {
			if o != r && strings.EqualFold(o.Domain, domain) && o.MatchesName(name) {
				matches = append(matches, o)
			}
		}
		return single(matches)
	}

	var matches []*identity.Record
	for _, r := range s.records {
		if strings.EqualFold(r.Domain, domain) && r.MatchesName(name) {
			matches = append(matches, r)
		}
	}
	return single(matches)
}

func (s *Store) GetUserByUPN(ctx context.Context, domain, upn string) (*identity.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var matches []*identity.Record
	for _, r := range s.records {
		if r.UPN != "" && strings.EqualFold(r.Domain, domain) && strings.EqualFold(r.UPN, upn) {
			matches = append(matches, r)
		}
	}
	return single(matches)
}

func (s *Store) FindByCertificate(ctx context.Context, der []byte) ([]*identity.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var out []*identity.Record
	for _, r := range s.records {
		if r.HasCertificate(der) {
			out = append(out, r.Clone())
		}
	}
	identity.SortRecords(out)
	return out, nil
}

func (s *Store) PutUser(ctx context.Context, rec *identity.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.records[rec.Key()] = rec.Clone()
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, domain, name string, fn identity.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	key := identity.Key(domain, name)
	cur, ok := s.records[key]
	if !ok {
		return identity.ErrUserNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if next.Key() != key {
		delete(s.records, key)
	}
	s.records[next.Key()] = next
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, domain, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	key := identity.Key(domain, name)
	if _, ok := s.records[key]; !ok {
		return identity.ErrUserNotFound
	}
	delete(s.records, key)
	return nil
}

func (s *Store) ListUsers(ctx context.Context, domain string) ([]*identity.Record, error) {
	return s.list(ctx, func(r *identity.Record) bool {
		return domain == "" || strings.EqualFold(r.Domain, domain)
	})
}

func (s *Store) ListExpiring(ctx context.Context, before int64) ([]*identity.Record, error) {
	return s.list(ctx, func(r *identity.Record) bool {
		return r.CacheExpire < before
	})
}

func (s *Store) list(ctx context.Context, keep func(*identity.Record) bool) ([]*identity.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	out := make([]*identity.Record, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	identity.SortRecords(out)
	return out, nil
}

// Healthcheck reports whether the store is open.
func (s *Store) Healthcheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx)
}

// Close marks the store closed. Subsequent calls fail with
// identity.ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
