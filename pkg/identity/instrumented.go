package identity

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/dittopam/pkg/metrics"
)

// instrumentedStore reports the duration and outcome of every call.
type instrumentedStore struct {
	Store
	backend string
	m       metrics.StoreMetrics
}

// Instrument wraps s so that each operation is recorded in m under backend.
// A nil m returns s unchanged.
func Instrument(s Store, backend string, m metrics.StoreMetrics) Store {
	if m == nil {
		return s
	}
	return &instrumentedStore{Store: s, backend: backend, m: m}
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	outcome := "success"
	switch {
	case errors.Is(err, ErrUserNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	metrics.RecordStoreOperation(s.m, s.backend, op, outcome, time.Since(start))
}

func (s *instrumentedStore) GetUser(ctx context.Context, domain, name string) (*Record, error) {
	start := time.Now()
	rec, err := s.Store.GetUser(ctx, domain, name)
	s.observe("get_user", start, err)
	return rec, err
}

func (s *instrumentedStore) GetUserByUPN(ctx context.Context, domain, upn string) (*Record, error) {
	start := time.Now()
	rec, err := s.Store.GetUserByUPN(ctx, domain, upn)
	s.observe("get_user_by_upn", start, err)
	return rec, err
}

func (s *instrumentedStore) FindByCertificate(ctx context.Context, der []byte) ([]*Record, error) {
	start := time.Now()
	recs, err := s.Store.FindByCertificate(ctx, der)
	s.observe("find_by_certificate", start, err)
	return recs, err
}

func (s *instrumentedStore) PutUser(ctx context.Context, rec *Record) error {
	start := time.Now()
	err := s.Store.PutUser(ctx, rec)
	s.observe("put_user", start, err)
	return err
}

func (s *instrumentedStore) UpdateUser(ctx context.Context, domain, name string, fn UpdateFunc) error {
	start := time.Now()
	err := s.Store.UpdateUser(ctx, domain, name, fn)
	s.observe("update_user", start, err)
	return err
}

func (s *instrumentedStore) DeleteUser(ctx context.Context, domain, name string) error {
	start := time.Now()
	err := s.Store.DeleteUser(ctx, domain, name)
	s.observe("delete_user", start, err)
	return err
}

func (s *instrumentedStore) ListUsers(ctx context.Context, domain string) ([]*Record, error) {
	start := time.Now()
	recs, err := s.Store.ListUsers(ctx, domain)
	s.observe("list_users", start, err)
	return recs, err
}

func (s *instrumentedStore) ListExpiring(ctx context.Context, before int64) ([]*Record, error) {
	start := time.Now()
	recs, err := s.Store.ListExpiring(ctx, before)
	s.observe("list_expiring", start, err)
	return recs, err
}
