package identity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Common errors for Store operations.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrAmbiguous     = errors.New("more than one record matches")
	ErrInvalidRecord = errors.New("invalid identity record")
	ErrStoreClosed   = errors.New("identity store is closed")
)

func errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// UpdateFunc mutates a record in place. Returning an error aborts the update
// without writing.
type UpdateFunc func(rec *Record) error

// Store persists identity records.
//
// Name, alias and UPN lookups are case-insensitive. Lookups that should
// yield a single record return ErrAmbiguous when more than one record
// matches; callers must not pick one. Records returned by a Store are copies
// and may be modified freely.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// GetUser returns the record whose name or alias matches name within
	// domain.
	GetUser(ctx context.Context, domain, name string) (*Record, error)

	// GetUserByUPN returns the record whose UPN matches upn within domain.
	GetUserByUPN(ctx context.Context, domain, upn string) (*Record, error)

	// FindByCertificate returns every record, in any domain, holding der.
	FindByCertificate(ctx context.Context, der []byte) ([]*Record, error)

	// PutUser creates or replaces the record keyed by its domain and name.
	PutUser(ctx context.Context, rec *Record) error

	// UpdateUser applies fn to the record stored under domain/name and
	// writes the result atomically.
	UpdateUser(ctx context.Context, domain, name string, fn UpdateFunc) error

	// DeleteUser removes the record stored under domain/name.
	DeleteUser(ctx context.Context, domain, name string) error

	// ListUsers returns the records of domain, or of every domain when
	// domain is empty, sorted by domain and name.
	ListUsers(ctx context.Context, domain string) ([]*Record, error)

	// ListExpiring returns the records whose CacheExpire is before the
	// given unix time.
	ListExpiring(ctx context.Context, before int64) ([]*Record, error)

	// Healthcheck verifies the backend is operational.
	Healthcheck(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// SortRecords orders records by domain then name, case-insensitively.
func SortRecords(recs []*Record) {
	slices.SortFunc(recs, func(a, b *Record) int {
		return strings.Compare(a.Key(), b.Key())
	})
}
