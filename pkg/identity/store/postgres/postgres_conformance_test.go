//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/identity/store/postgres"
	"github.com/marmos91/dittopam/pkg/identity/storetest"
)

var sharedConfig *postgres.Config

// TestMain starts one PostgreSQL container shared by every test.
func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("dittopam_test"),
		tcpostgres.WithUsername("dittopam_test"),
		tcpostgres.WithPassword("dittopam_test"),
		testcontainers.WithWaitStrategyAndDeadline(2*time.Minute,
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	sharedConfig = &postgres.Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "dittopam_test",
		User:        "dittopam_test",
		Password:    "dittopam_test",
		SSLMode:     "disable",
		AutoMigrate: true,
	}

	code := m.Run()

	if err := container.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate container: %v\n", err)
	}
	os.Exit(code)
}

func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	cfg := *sharedConfig
	store, err := postgres.New(context.Background(), &cfg)
	require.NoError(t, err)

	// Each test starts from empty tables.
	recs, err := store.ListUsers(context.Background(), "")
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, store.DeleteUser(context.Background(), r.Domain, r.Name))
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) identity.Store {
		return newStore(t)
	})
}

func TestMigrationsIdempotent(t *testing.T) {
	cfg := *sharedConfig
	require.NoError(t, postgres.RunMigrations(context.Background(), &cfg))
	require.NoError(t, postgres.RunMigrations(context.Background(), &cfg))
}
