package refresh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/identity/store/memory"
	"github.com/marmos91/dittopam/pkg/provider"
	"github.com/marmos91/dittopam/pkg/provider/providertest"
)

var testNow = time.Unix(1_700_000_000, 0)

type fixture struct {
	r       *Refresher
	backend *providertest.Backend
	store   *memory.Store
}

func newFixture(t *testing.T, cfg Config, recs ...*identity.Record) *fixture {
	t.Helper()
	store, err := memory.NewWithRecords(recs...)
	require.NoError(t, err)
	reg, err := domain.NewRegistry([]*domain.Domain{
		{Name: "corp", Provider: "ldap", EntryCacheTimeout: time.Hour},
		{Name: "local"},
	}, "")
	require.NoError(t, err)

	backend := providertest.New("ldap")
	disp := provider.NewDispatcher(2*time.Second, nil)
	require.NoError(t, disp.Register(backend))
	t.Cleanup(disp.Wait)

	r, err := New(cfg, store, reg, disp)
	require.NoError(t, err)
	r.now = func() time.Time { return testNow }
	return &fixture{r: r, backend: backend, store: store}
}

func rec(domainName, name string, expire time.Time) *identity.Record {
	return &identity.Record{Name: name, Domain: domainName, UID: 1000, CacheExpire: expire.Unix()}
}

func TestRunOnceRefreshesExpiring(t *testing.T) {
	f := newFixture(t, Config{Window: 10 * time.Minute},
		rec("corp", "alice", testNow.Add(-time.Minute)),
		rec("corp", "bob", testNow.Add(5*time.Minute)),
		rec("corp", "carol", testNow.Add(time.Hour)),
		rec("local", "dave", testNow.Add(-time.Minute)),
	)

	res, err := f.r.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Result{Refreshed: 2, Skipped: 1}, res)

	var names []string
	for _, c := range f.backend.Calls() {
		assert.Equal(t, provider.OpRefreshAccount, c.Op)
		assert.False(t, c.IsUPN)
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"alice", "bob"}, names)
}

func TestRunOnceCountsFailures(t *testing.T) {
	f := newFixture(t, Config{Concurrency: 1},
		rec("corp", "alice", testNow),
		rec("corp", "bob", testNow),
		rec("corp", "carol", testNow),
	)
	f.backend.Account = func(_ context.Context, _ *domain.Domain, name string, _ bool) error {
		if name == "bob" {
			return provider.Offline("ldap down")
		}
		return nil
	}

	res, err := f.r.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Result{Refreshed: 2, Failed: 1}, res)
}

func TestRunOnceCancelled(t *testing.T) {
	f := newFixture(t, Config{}, rec("corp", "alice", testNow))
	f.backend.Gate = make(chan struct{})

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for f.backend.CallCount(provider.OpRefreshAccount) == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	_, err := f.r.RunOnce(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStartRunsOnSchedule(t *testing.T) {
	f := newFixture(t, Config{Schedule: "@every 1s"}, rec("corp", "alice", testNow))
	f.r.now = time.Now
	// Records are compared against the real clock now.
	require.NoError(t, f.store.UpdateUser(t.Context(), "corp", "alice", func(r *identity.Record) error {
		r.CacheExpire = time.Now().Unix()
		return nil
	}))

	f.r.Start(t.Context())
	f.r.Start(t.Context())
	assert.Eventually(t, func() bool { return f.backend.CallCount(provider.OpRefreshAccount) >= 1 },
		5*time.Second, 20*time.Millisecond)
	f.r.Stop()
	f.r.Stop()
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(Config{Schedule: "every now and then"}, memory.New(), nil, nil)
	assert.Error(t, err)

	cfg := Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultSchedule, cfg.Schedule)
	assert.Equal(t, DefaultWindow, cfg.Window)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
}
