package identity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/identity/store/memory"
)

var now = time.Unix(1_700_000_000, 0)

func newStore(t *testing.T, rec *identity.Record) *memory.Store {
	t.Helper()
	s, err := memory.NewWithRecords(rec)
	require.NoError(t, err)
	return s
}

func cachedUser(t *testing.T, password string) *identity.Record {
	t.Helper()
	hash, err := identity.HashPasswordWithCost([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &identity.Record{
		Name:           "alice",
		Domain:         "corp",
		CachedPassword: hash,
		LastOnlineAuth: now.Add(-time.Hour).Unix(),
	}
}

func TestCacheAuthSuccess(t *testing.T) {
	rec := cachedUser(t, "s3cret")
	rec.FailedLoginAttempts = 2
	rec.LastFailedLogin = now.Add(-time.Minute).Unix()
	s := newStore(t, rec)

	res, err := identity.CacheAuth(t.Context(), s, "corp", "alice", []byte("s3cret"), identity.Policy{}, now)
	require.NoError(t, err)
	assert.Zero(t, res.Expire)
	assert.Equal(t, identity.NoDelay, res.DelayedUntil)

	got, err := s.GetUser(t.Context(), "corp", "alice")
	require.NoError(t, err)
	assert.Equal(t, now.Unix(), got.LastLogin)
	assert.Zero(t, got.FailedLoginAttempts)
	assert.Zero(t, got.LastFailedLogin)
}

func TestCacheAuthExpireDate(t *testing.T) {
	rec := cachedUser(t, "pw")
	s := newStore(t, rec)

	res, err := identity.CacheAuth(t.Context(), s, "corp", "alice", []byte("pw"),
		identity.Policy{CredentialsExpiration: 3}, now)
	require.NoError(t, err)
	assert.Equal(t, rec.LastOnlineAuth+3*24*3600, res.Expire)
}

func TestCacheAuthCredentialsExpired(t *testing.T) {
	rec := cachedUser(t, "pw")
	rec.LastOnlineAuth = now.Add(-49 * time.Hour).Unix()
	s := newStore(t, rec)

	res, err := identity.CacheAuth(t.Context(), s, "corp", "alice", []byte("pw"),
		identity.Policy{CredentialsExpiration: 2}, now)
	require.ErrorIs(t, err, identity.ErrDenied)
	assert.Equal(t, identity.NoDelay, res.DelayedUntil)
}

func TestCacheAuthWrongPassword(t *testing.T) {
	s := newStore(t, cachedUser(t, "right"))

	_, err := identity.CacheAuth(t.Context(), s, "corp", "alice", []byte("wrong"), identity.Policy{}, now)
	require.ErrorIs(t, err, identity.ErrWrongPassword)

	got, err := s.GetUser(t.Context(), "corp", "alice")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got.FailedLoginAttempts)
	assert.Equal(t, now.Unix(), got.LastFailedLogin)
	assert.Zero(t, got.LastLogin)
}

func TestCacheAuthFailedLoginDelay(t *testing.T) {
	policy := identity.Policy{FailedLoginAttempts: 3, FailedLoginDelay: 5 * time.Minute}

	t.Run("InsideDelay", func(t *testing.T) {
		rec := cachedUser(t, "pw")
		rec.FailedLoginAttempts = 3
		rec.LastFailedLogin = now.Add(-time.Minute).Unix()
		s := newStore(t, rec)

		res, err := identity.CacheAuth(t.Context(), s, "corp", "alice", []byte("pw"), policy, now)
		require.ErrorIs(t, err, identity.ErrDenied)
		assert.Equal(t, rec.LastFailedLogin+300, res.DelayedUntil)
	})

	t.Run("DelayElapsed", func(t *testing.T) {
		rec := cachedUser(t, "pw")
		rec.FailedLoginAttempts = 3
		rec.LastFailedLogin = now.Add(-10 * time.Minute).Unix()
		s := newStore(t, rec)

		_, err := identity.CacheAuth(t.Context(), s, "corp", "alice", []byte("pw"), policy, now)
		require.NoError(t, err)
	})

	t.Run("NoDelayConfigured", func(t *testing.T) {
		rec := cachedUser(t, "pw")
		rec.FailedLoginAttempts = 5
		s := newStore(t, rec)

		res, err := identity.CacheAuth(t.Context(), s, "corp", "alice", []byte("pw"),
			identity.Policy{FailedLoginAttempts: 3}, now)
		require.ErrorIs(t, err, identity.ErrDenied)
		assert.Equal(t, identity.NoDelay, res.DelayedUntil)
	})
}

func TestCacheAuthNoCredentials(t *testing.T) {
	s := newStore(t, &identity.Record{Name: "alice", Domain: "corp"})

	_, err := identity.CacheAuth(t.Context(), s, "corp", "alice", []byte("pw"), identity.Policy{}, now)
	assert.ErrorIs(t, err, identity.ErrNoCachedCredentials)

	_, err = identity.CacheAuth(t.Context(), s, "corp", "bob", []byte("pw"), identity.Policy{}, now)
	assert.ErrorIs(t, err, identity.ErrNoCachedCredentials)
}

func TestCacheCredentials(t *testing.T) {
	s := newStore(t, &identity.Record{Name: "alice", Domain: "corp", FailedLoginAttempts: 4})

	require.NoError(t, identity.CacheCredentials(t.Context(), s, "corp", "alice", []byte("fresh"), now))

	got, err := s.GetUser(t.Context(), "corp", "alice")
	require.NoError(t, err)
	assert.True(t, identity.VerifyPassword([]byte("fresh"), got.CachedPassword))
	assert.Equal(t, now.Unix(), got.LastOnlineAuth)
	assert.Equal(t, now.Unix(), got.LastOnlineAuthWithCurrToken)
	assert.Zero(t, got.FailedLoginAttempts)
}

func TestCanUseCachedAuth(t *testing.T) {
	rec := &identity.Record{LastOnlineAuthWithCurrToken: now.Add(-30 * time.Second).Unix()}

	assert.True(t, identity.CanUseCachedAuth(rec, time.Minute, now))
	assert.False(t, identity.CanUseCachedAuth(rec, 10*time.Second, now))
	assert.False(t, identity.CanUseCachedAuth(rec, 0, now))
	assert.False(t, identity.CanUseCachedAuth(nil, time.Minute, now))
	assert.False(t, identity.CanUseCachedAuth(&identity.Record{}, time.Minute, now))
}
