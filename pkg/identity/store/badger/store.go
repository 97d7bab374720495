// Package badger implements a persistent identity store on BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/dittopam/internal/logger"
	"github.com/marmos91/dittopam/pkg/identity"
)

// maxConflictRetries bounds how often a read-modify-write transaction is
// retried after badger reports a conflict with a concurrent writer.
const maxConflictRetries = 3

// Config configures the BadgerDB identity store.
type Config struct {
	// Path is the directory holding the database files. Created if missing.
	Path string `mapstructure:"path" yaml:"path" validate:"required_without=InMemory"`

	// InMemory keeps all data in memory. Path is ignored.
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory,omitempty"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64).
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb" yaml:"block_cache_size_mb,omitempty"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32).
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb" yaml:"index_cache_size_mb,omitempty"`
}

// Store is a BadgerDB-backed identity.Store.
//
// Thread Safety: all methods are safe for concurrent use.
type Store struct {
	db     *badgerdb.DB
	path   string
	closed atomic.Bool
}

var _ identity.Store = (*Store)(nil)

// New opens (or creates) the database described by cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("badger identity store: path is required")
	}

	opts := badgerdb.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badgerdb.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	logger.Debug("Opened badger identity store", "path", cfg.Path, "in_memory", cfg.InMemory)
	return &Store{db: db, path: cfg.Path}, nil
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

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badgerdb.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := s.check(ctx); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if errors.Is(err, badgerdb.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		return err
	}
}

// Healthcheck verifies the database can serve a read transaction.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	err := s.db.View(func(txn *badgerdb.Txn) error {
		return nil
	})
	if err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	return nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
