package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/identity/store/badger"
	"github.com/marmos91/dittopam/pkg/identity/store/memory"
	"github.com/marmos91/dittopam/pkg/identity/store/postgres"
	"github.com/marmos91/dittopam/pkg/metrics"
)

// CreateStore opens the identity store selected by cfg.Type. When m is
// non-nil every store operation is recorded.
func CreateStore(ctx context.Context, cfg StoreConfig, m metrics.StoreMetrics) (identity.Store, error) {
	var (
		store identity.Store
		err   error
	)
	switch cfg.Type {
	case "memory":
		store = memory.New()
	case "badger":
		store, err = createBadgerStore(ctx, cfg.Badger)
	case "postgres":
		store, err = createPostgresStore(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown identity store type: %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return identity.Instrument(store, cfg.Type, m), nil
}

// createBadgerStore creates a BadgerDB identity store.
func createBadgerStore(ctx context.Context, section map[string]any) (identity.Store, error) {
	var badgerCfg badger.Config
	if err := decodeSection(section, &badgerCfg); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}

	store, err := badger.New(ctx, badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return store, nil
}

// createPostgresStore creates a PostgreSQL identity store.
func createPostgresStore(ctx context.Context, section map[string]any) (identity.Store, error) {
	pgCfg, err := PostgresStoreConfig(section)
	if err != nil {
		return nil, err
	}

	store, err := postgres.New(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres identity store: %w", err)
	}
	return store, nil
}

// PostgresStoreConfig decodes the store.postgres section.
//
// auto_migrate defaults to true: mapstructure cannot tell an absent bool
// from false, so the key is checked explicitly.
func PostgresStoreConfig(section map[string]any) (*postgres.Config, error) {
	var pgCfg postgres.Config
	if err := decodeSection(section, &pgCfg); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}
	if _, exists := section["auto_migrate"]; !exists {
		pgCfg.AutoMigrate = true
	}
	pgCfg.ApplyDefaults()
	return &pgCfg, nil
}
