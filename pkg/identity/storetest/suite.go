// Package storetest provides a conformance test suite for identity store
// implementations.
//
// All identity store backends (memory, badger, postgres) should pass these
// tests:
//
//	func TestConformance(t *testing.T) {
//	    storetest.RunConformanceSuite(t, func(t *testing.T) identity.Store {
//	        return memory.New()
//	    })
//	}
//
// The factory receives *testing.T so it can call t.TempDir() for stores that
// need filesystem paths and t.Cleanup for teardown.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittopam/pkg/identity"
)

// StoreFactory creates a fresh Store instance for each test.
type StoreFactory func(t *testing.T) identity.Store

// RunConformanceSuite runs the full conformance suite against factory. Each
// test gets a fresh store.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("Lookup", func(t *testing.T) { runLookupTests(t, factory) })
	t.Run("Mutation", func(t *testing.T) { runMutationTests(t, factory) })
	t.Run("Listing", func(t *testing.T) { runListingTests(t, factory) })
	t.Run("Lifecycle", func(t *testing.T) { runLifecycleTests(t, factory) })
}

func put(t *testing.T, s identity.Store, recs ...*identity.Record) {
	t.Helper()
	for _, r := range recs {
		require.NoError(t, s.PutUser(t.Context(), r), "PutUser(%s)", r.Key())
	}
}

func user(domain, name string) *identity.Record {
	return &identity.Record{Name: name, Domain: domain, UID: 1000, GID: 1000}
}

func runLookupTests(t *testing.T, factory StoreFactory) {
	t.Run("GetByNameIgnoresCase", func(t *testing.T) {
		s := factory(t)
		put(t, s, &identity.Record{Name: "Alice", Domain: "Corp.Example", UID: 1001, GID: 100})

		got, err := s.GetUser(t.Context(), "corp.example", "ALICE")
		require.NoError(t, err)
		assert.Equal(t, "Alice", got.Name)
		assert.Equal(t, "Corp.Example", got.Domain)
		assert.Equal(t, uint32(1001), got.UID)
	})

	t.Run("MissingUser", func(t *testing.T) {
		s := factory(t)
		put(t, s, user("corp", "alice"))

		_, err := s.GetUser(t.Context(), "corp", "bob")
		assert.ErrorIs(t, err, identity.ErrUserNotFound)
		_, err = s.GetUser(t.Context(), "other", "alice")
		assert.ErrorIs(t, err, identity.ErrUserNotFound)
	})

	t.Run("AliasResolvesToPrimary", func(t *testing.T) {
		s := factory(t)
		r := user("corp", "alice")
		r.Aliases = []string{"ali", "a.smith"}
		put(t, s, r)

		got, err := s.GetUser(t.Context(), "corp", "A.Smith")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Name)
	})

	t.Run("AmbiguousAlias", func(t *testing.T) {
		s := factory(t)
		a, b := user("corp", "alice"), user("corp", "alicia")
		a.Aliases = []string{"al"}
		b.Aliases = []string{"AL"}
		put(t, s, a, b)

		_, err := s.GetUser(t.Context(), "corp", "al")
		assert.ErrorIs(t, err, identity.ErrAmbiguous)
	})

	t.Run("PrimaryCollidesWithAlias", func(t *testing.T) {
		s := factory(t)
		a, b := user("corp", "bob"), user("corp", "robert")
		b.Aliases = []string{"bob"}
		put(t, s, a, b)

		_, err := s.GetUser(t.Context(), "corp", "bob")
		assert.ErrorIs(t, err, identity.ErrAmbiguous)
	})

	t.Run("UPN", func(t *testing.T) {
		s := factory(t)
		r := user("corp", "alice")
		r.UPN = "alice@CORP.EXAMPLE"
		put(t, s, r, user("corp", "bob"))

		got, err := s.GetUserByUPN(t.Context(), "CORP", "Alice@corp.example")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Name)

		_, err = s.GetUserByUPN(t.Context(), "corp", "bob@corp.example")
		assert.ErrorIs(t, err, identity.ErrUserNotFound)
	})

	t.Run("AmbiguousUPN", func(t *testing.T) {
		s := factory(t)
		a, b := user("corp", "a"), user("corp", "b")
		a.UPN, b.UPN = "x@corp", "x@corp"
		put(t, s, a, b)

		_, err := s.GetUserByUPN(t.Context(), "corp", "x@corp")
		assert.ErrorIs(t, err, identity.ErrAmbiguous)
	})

	t.Run("FindByCertificate", func(t *testing.T) {
		s := factory(t)
		cert := []byte{0x30, 0x82, 0x01, 0x0a, 0x02}
		a, b, c := user("corp", "alice"), user("lab", "alice2"), user("corp", "carol")
		a.Certificates = [][]byte{cert}
		b.Certificates = [][]byte{{0x01}, cert}
		c.Certificates = [][]byte{{0x02}}
		put(t, s, a, b, c)

		got, err := s.FindByCertificate(t.Context(), cert)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "alice", got[0].Name)
		assert.Equal(t, "alice2", got[1].Name)

		got, err = s.FindByCertificate(t.Context(), []byte{0x03})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		s := factory(t)
		r := user("corp", "alice")
		r.Aliases = []string{"al"}
		put(t, s, r)
		r.Aliases[0] = "changed"

		got, err := s.GetUser(t.Context(), "corp", "alice")
		require.NoError(t, err)
		got.UID = 1
		got.Aliases[0] = "mutated"

		again, err := s.GetUser(t.Context(), "corp", "alice")
		require.NoError(t, err)
		assert.Equal(t, uint32(1000), again.UID)
		assert.Equal(t, []string{"al"}, again.Aliases)
	})
}

func runMutationTests(t *testing.T, factory StoreFactory) {
	t.Run("PutReplaces", func(t *testing.T) {
		s := factory(t)
		put(t, s, user("corp", "alice"))
		r := user("CORP", "ALICE")
		r.UID = 2000
		put(t, s, r)

		got, err := s.ListUsers(t.Context(), "")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, uint32(2000), got[0].UID)
	})

	t.Run("PutRejectsInvalid", func(t *testing.T) {
		s := factory(t)
		for _, r := range []*identity.Record{
			{Domain: "corp"},
			{Name: "alice"},
			{Name: "a/b", Domain: "corp"},
			{Name: "alice", Domain: "corp", Aliases: []string{""}},
		} {
			assert.ErrorIs(t, s.PutUser(t.Context(), r), identity.ErrInvalidRecord)
		}
	})

	t.Run("UpdatePersists", func(t *testing.T) {
		s := factory(t)
		put(t, s, user("corp", "alice"))

		err := s.UpdateUser(t.Context(), "Corp", "Alice", func(r *identity.Record) error {
			r.FailedLoginAttempts = 3
			r.LastFailedLogin = 1700000000
			r.CachedPassword = "$2a$10$hash"
			return nil
		})
		require.NoError(t, err)

		got, err := s.GetUser(t.Context(), "corp", "alice")
		require.NoError(t, err)
		assert.Equal(t, uint32(3), got.FailedLoginAttempts)
		assert.Equal(t, int64(1700000000), got.LastFailedLogin)
		assert.Equal(t, "$2a$10$hash", got.CachedPassword)
	})

	t.Run("UpdateAbortsOnError", func(t *testing.T) {
		s := factory(t)
		put(t, s, user("corp", "alice"))
		boom := errors.New("boom")

		err := s.UpdateUser(t.Context(), "corp", "alice", func(r *identity.Record) error {
			r.UID = 1
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := s.GetUser(t.Context(), "corp", "alice")
		require.NoError(t, err)
		assert.Equal(t, uint32(1000), got.UID)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s := factory(t)
		err := s.UpdateUser(t.Context(), "corp", "ghost", func(*identity.Record) error { return nil })
		assert.ErrorIs(t, err, identity.ErrUserNotFound)
	})

	t.Run("UpdateMaintainsIndexes", func(t *testing.T) {
		s := factory(t)
		r := user("corp", "alice")
		r.Aliases = []string{"old"}
		r.UPN = "old@corp"
		put(t, s, r)

		require.NoError(t, s.UpdateUser(t.Context(), "corp", "alice", func(r *identity.Record) error {
			r.Aliases = []string{"new"}
			r.UPN = "new@corp"
			r.Certificates = [][]byte{{0x0c}}
			return nil
		}))

		_, err := s.GetUser(t.Context(), "corp", "old")
		assert.ErrorIs(t, err, identity.ErrUserNotFound)
		_, err = s.GetUserByUPN(t.Context(), "corp", "old@corp")
		assert.ErrorIs(t, err, identity.ErrUserNotFound)

		got, err := s.GetUser(t.Context(), "corp", "new")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Name)
		got, err = s.GetUserByUPN(t.Context(), "corp", "new@corp")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Name)
		certs, err := s.FindByCertificate(t.Context(), []byte{0x0c})
		require.NoError(t, err)
		assert.Len(t, certs, 1)
	})

	t.Run("Delete", func(t *testing.T) {
		s := factory(t)
		r := user("corp", "alice")
		r.Aliases = []string{"al"}
		r.UPN = "alice@corp"
		put(t, s, r)

		require.NoError(t, s.DeleteUser(t.Context(), "CORP", "alice"))
		_, err := s.GetUser(t.Context(), "corp", "alice")
		assert.ErrorIs(t, err, identity.ErrUserNotFound)
		_, err = s.GetUser(t.Context(), "corp", "al")
		assert.ErrorIs(t, err, identity.ErrUserNotFound)
		_, err = s.GetUserByUPN(t.Context(), "corp", "alice@corp")
		assert.ErrorIs(t, err, identity.ErrUserNotFound)

		assert.ErrorIs(t, s.DeleteUser(t.Context(), "corp", "alice"), identity.ErrUserNotFound)
	})
}

func runListingTests(t *testing.T, factory StoreFactory) {
	t.Run("ListUsersSorted", func(t *testing.T) {
		s := factory(t)
		put(t, s, user("lab", "zed"), user("corp", "bob"), user("corp", "alice"))

		all, err := s.ListUsers(t.Context(), "")
		require.NoError(t, err)
		var keys []string
		for _, r := range all {
			keys = append(keys, r.Key())
		}
		assert.Equal(t, []string{"corp/alice", "corp/bob", "lab/zed"}, keys)

		corp, err := s.ListUsers(t.Context(), "CORP")
		require.NoError(t, err)
		assert.Len(t, corp, 2)

		none, err := s.ListUsers(t.Context(), "nowhere")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ListExpiring", func(t *testing.T) {
		s := factory(t)
		a, b, c := user("corp", "a"), user("corp", "b"), user("corp", "c")
		a.CacheExpire = 100
		b.CacheExpire = 200
		c.CacheExpire = 300
		put(t, s, a, b, c)

		got, err := s.ListExpiring(t.Context(), 250)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].Name)
		assert.Equal(t, "b", got[1].Name)
	})
}

func runLifecycleTests(t *testing.T, factory StoreFactory) {
	t.Run("Healthcheck", func(t *testing.T) {
		s := factory(t)
		assert.NoError(t, s.Healthcheck(t.Context()))
	})

	t.Run("CancelledContext", func(t *testing.T) {
		s := factory(t)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := s.GetUser(ctx, "corp", "alice")
		assert.Error(t, err)
		assert.Error(t, s.Healthcheck(ctx))
	})
}
