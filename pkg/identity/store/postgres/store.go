// Package postgres implements the identity store on PostgreSQL.
//
// Records live in identity_users keyed by the lowercased domain and name;
// aliases and certificates are child tables so that alias and certificate
// lookups are index scans. The schema is managed with golang-migrate from
// migrations embedded in the binary.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marmos91/dittopam/internal/logger"
	"github.com/marmos91/dittopam/pkg/identity"
)

// Store is a PostgreSQL-backed identity.Store.
type Store struct {
	pool   *pgxpool.Pool
	cfg    *Config
	log    *slog.Logger
	closed atomic.Bool
}

var _ identity.Store = (*Store)(nil)

// New connects to PostgreSQL, optionally applies migrations, and returns a
// ready store.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.With("component", "postgres_identity_store")

	pool, err := createConnectionPool(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, cfg.ConnectionString(), log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	log.Info("PostgreSQL identity store initialized",
		"host", cfg.Host,
		"database", cfg.Database,
		"max_conns", cfg.MaxConns,
	)
	return &Store{pool: pool, cfg: cfg, log: log}, nil
}

func createConnectionPool(ctx context.Context, cfg *Config, log *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	if cfg.QueryTimeout > 0 {
		poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%dms", cfg.QueryTimeout.Milliseconds())
	}

	log.Debug("Creating PostgreSQL connection pool",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
		"user", cfg.User,
		"ssl_mode", cfg.SSLMode,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return pool, nil
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return identity.ErrStoreClosed
	}
	return nil
}

// Healthcheck pings the database.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	return nil
}

// Close closes the connection pool. It is safe to call more than once.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.pool.Close()
	s.log.Info("PostgreSQL identity store closed")
	return nil
}
