// Package identity defines the cached identity record served to PAM clients,
// the Store interface implemented by the memory, badger and postgres
// backends, and the credential checks performed against cached passwords.
package identity

import (
	"bytes"
	"slices"
	"strings"
	"time"
)

// Record is one cached user entry.
//
// All timestamps are unix seconds; zero means "never". The record keeps the
// original case of Name and Domain, while stores match them
// case-insensitively.
type Record struct {
	// Name is the canonical (primary) user name.
	Name string `json:"name"`

	// Domain is the name of the domain the record belongs to.
	Domain string `json:"domain"`

	// UPN is the user principal name, if known.
	UPN string `json:"upn,omitempty"`

	// Aliases are alternative names that resolve to this record.
	Aliases []string `json:"aliases,omitempty"`

	UID uint32 `json:"uid"`
	GID uint32 `json:"gid"`

	// Certificates holds DER-encoded certificates mapped to the user.
	Certificates [][]byte `json:"certificates,omitempty"`

	// CacheExpire is when the entry must be refreshed from its provider.
	CacheExpire int64 `json:"cache_expire"`

	LastLogin                   int64 `json:"last_login"`
	LastOnlineAuth              int64 `json:"last_online_auth"`
	LastOnlineAuthWithCurrToken int64 `json:"last_online_auth_with_curr_token"`

	// CachedPassword is the bcrypt hash of the last password that
	// authenticated online. Empty when no credential is cached.
	CachedPassword string `json:"cached_password,omitempty"`

	FailedLoginAttempts uint32 `json:"failed_login_attempts"`
	LastFailedLogin     int64  `json:"last_failed_login"`

	// AccountExpires is the account expiration time, zero if it never expires.
	AccountExpires int64 `json:"account_expires"`

	// Locked marks an administratively disabled account.
	Locked bool `json:"locked"`
}

// Key returns the normalized store key of a domain/name pair.
func Key(domain, name string) string {
	return strings.ToLower(domain) + "/" + strings.ToLower(name)
}

// Key returns the normalized key of the record.
func (r *Record) Key() string {
	return Key(r.Domain, r.Name)
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Aliases = slices.Clone(r.Aliases)
	if r.Certificates != nil {
		c.Certificates = make([][]byte, len(r.Certificates))
		for i, der := range r.Certificates {
			c.Certificates[i] = bytes.Clone(der)
		}
	}
	return &c
}

// MatchesName reports whether name is the record's primary name or one of
// its aliases, ignoring case.
func (r *Record) MatchesName(name string) bool {
	if strings.EqualFold(r.Name, name) {
		return true
	}
	for _, a := range r.Aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// HasCertificate reports whether der is one of the record's certificates.
func (r *Record) HasCertificate(der []byte) bool {
	for _, c := range r.Certificates {
		if bytes.Equal(c, der) {
			return true
		}
	}
	return false
}

// HasCachedPassword reports whether a password hash is cached.
func (r *Record) HasCachedPassword() bool {
	return r.CachedPassword != ""
}

// NeedsRefresh reports whether the entry has expired at now.
func (r *Record) NeedsRefresh(now time.Time) bool {
	return r.CacheExpire < now.Unix()
}

// AccountExpired reports whether the account expiration date has passed.
func (r *Record) AccountExpired(now time.Time) bool {
	return r.AccountExpires != 0 && r.AccountExpires <= now.Unix()
}

// Validate checks the fields a store requires before persisting a record.
func (r *Record) Validate() error {
	if r == nil {
		return ErrInvalidRecord
	}
	if strings.TrimSpace(r.Name) == "" {
		return errorf(ErrInvalidRecord, "empty name")
	}
	if strings.TrimSpace(r.Domain) == "" {
		return errorf(ErrInvalidRecord, "empty domain for %q", r.Name)
	}
	if strings.ContainsAny(r.Name, "/\x00") || strings.ContainsAny(r.Domain, "/\x00") {
		return errorf(ErrInvalidRecord, "name or domain contains a reserved character")
	}
	if strings.ContainsRune(r.UPN, 0) {
		return errorf(ErrInvalidRecord, "UPN contains a NUL byte")
	}
	for _, a := range r.Aliases {
		if a == "" || strings.ContainsAny(a, "/\x00") {
			return errorf(ErrInvalidRecord, "invalid alias %q", a)
		}
	}
	return nil
}
