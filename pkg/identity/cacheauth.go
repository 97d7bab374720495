package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoCachedCredentials is returned when the user is unknown or has no
	// cached password.
	ErrNoCachedCredentials = errors.New("no cached credentials")

	// ErrWrongPassword is returned when the password does not match the
	// cached hash.
	ErrWrongPassword = errors.New("cached password mismatch")

	// ErrDenied is returned when cached credentials exist but may not be
	// used: they expired, or too many failed attempts were recorded.
	ErrDenied = errors.New("cached authentication denied")
)

// NoDelay is the DelayedUntil value when no retry time applies.
const NoDelay int64 = -1

const secondsPerDay = 24 * 60 * 60

// Policy bounds offline authentication against cached credentials.
type Policy struct {
	// CredentialsExpiration is the number of days after the last online
	// authentication during which cached credentials are accepted. Zero
	// disables expiration.
	CredentialsExpiration int

	// FailedLoginAttempts is the number of consecutive failures after which
	// cached authentication is refused. Zero disables the limit.
	FailedLoginAttempts uint32

	// FailedLoginDelay is how long cached authentication stays refused once
	// the limit is reached. Zero refuses it until the next online login.
	FailedLoginDelay time.Duration
}

// CacheAuthResult describes the outcome of CacheAuth.
type CacheAuthResult struct {
	// Expire is when the cached credentials stop being accepted, zero if
	// they never expire. Set on success.
	Expire int64

	// DelayedUntil is when cached authentication may be retried after
	// ErrDenied, or NoDelay.
	DelayedUntil int64
}

// CacheAuth verifies password against the hash cached for domain/name and
// maintains the failed-login counters.
//
// Errors:
//   - ErrNoCachedCredentials: no record, or no cached hash
//   - ErrDenied: credentials expired or the failed-login limit is in effect;
//     DelayedUntil tells when a retry is allowed
//   - ErrWrongPassword: the password did not match (the failure is recorded)
//   - anything else: store failure
func CacheAuth(ctx context.Context, store Store, domain, name string, password []byte, policy Policy, now time.Time) (CacheAuthResult, error) {
	res := CacheAuthResult{DelayedUntil: NoDelay}

	rec, err := store.GetUser(ctx, domain, name)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return res, fmt.Errorf("%w: %s@%s", ErrNoCachedCredentials, name, domain)
		}
		return res, err
	}
	if !rec.HasCachedPassword() {
		return res, fmt.Errorf("%w: %s@%s", ErrNoCachedCredentials, name, domain)
	}

	ts := now.Unix()

	if policy.CredentialsExpiration > 0 {
		res.Expire = rec.LastOnlineAuth + int64(policy.CredentialsExpiration)*secondsPerDay
		if res.Expire < ts {
			return res, fmt.Errorf("%w: cached credentials expired", ErrDenied)
		}
	}

	if policy.FailedLoginAttempts > 0 && rec.FailedLoginAttempts >= policy.FailedLoginAttempts {
		if policy.FailedLoginDelay <= 0 {
			return res, fmt.Errorf("%w: too many failed logins", ErrDenied)
		}
		until := rec.LastFailedLogin + int64(policy.FailedLoginDelay/time.Second)
		if until > ts {
			res.DelayedUntil = until
			return res, fmt.Errorf("%w: too many failed logins", ErrDenied)
		}
	}

	matched := VerifyPassword(password, rec.CachedPassword)

	err = store.UpdateUser(ctx, rec.Domain, rec.Name, func(r *Record) error {
		if matched {
			r.LastLogin = ts
			r.FailedLoginAttempts = 0
			r.LastFailedLogin = 0
			return nil
		}
		r.FailedLoginAttempts++
		r.LastFailedLogin = ts
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("update login counters: %w", err)
	}

	if !matched {
		return res, ErrWrongPassword
	}
	return res, nil
}

// CacheCredentials stores the bcrypt hash of a password that authenticated
// online and stamps the online-authentication times.
func CacheCredentials(ctx context.Context, store Store, domain, name string, password []byte, now time.Time) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	ts := now.Unix()
	return store.UpdateUser(ctx, domain, name, func(r *Record) error {
		r.CachedPassword = hash
		r.LastOnlineAuth = ts
		r.LastOnlineAuthWithCurrToken = ts
		r.LastLogin = ts
		r.FailedLoginAttempts = 0
		r.LastFailedLogin = 0
		return nil
	})
}

// CanUseCachedAuth reports whether the last online authentication with the
// current token happened less than timeout ago.
func CanUseCachedAuth(rec *Record, timeout time.Duration, now time.Time) bool {
	if rec == nil || timeout <= 0 || rec.LastOnlineAuthWithCurrToken == 0 {
		return false
	}
	return now.Unix() < rec.LastOnlineAuthWithCurrToken+int64(timeout/time.Second)
}
