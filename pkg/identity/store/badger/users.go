package badger

import (
	"context"
	"errors"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittopam/internal/logger"
	"github.com/marmos91/dittopam/pkg/identity"
)

// getRecord loads the record stored under domain/name.
func getRecord(txn *badgerdb.Txn, domain, name string) (*identity.Record, error) {
	item, err := txn.Get(keyRecord(domain, name))
	if err == badgerdb.ErrKeyNotFound {
		return nil, identity.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec *identity.Record
	err = item.Value(func(val []byte) error {
		var derr error
		rec, derr = decodeRecord(val)
		return derr
	})
	return rec, err
}

// scanKeys returns the keys under prefix.
func scanKeys(txn *badgerdb.Txn, prefix []byte) [][]byte {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// lookupUnique resolves an index prefix (name or UPN) to a single record.
func lookupUnique(txn *badgerdb.Txn, domain string, prefix []byte) (*identity.Record, error) {
	owners := make(map[string]struct{})
	for _, k := range scanKeys(txn, prefix) {
		parts := splitIndexTail(k, prefix)
		owners[parts[len(parts)-1]] = struct{}{}
	}

	switch len(owners) {
	case 0:
		return nil, identity.ErrUserNotFound
	case 1:
		for name := range owners {
			rec, err := getRecord(txn, domain, name)
			if errors.Is(err, identity.ErrUserNotFound) {
				logger.Warn("Dangling identity index entry", logger.KeyDomain, domain, logger.KeyUser, name)
			}
			return rec, err
		}
	}
	return nil, identity.ErrAmbiguous
}

func (s *Store) GetUser(ctx context.Context, domain, name string) (*identity.Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var rec *identity.Record
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		rec, err = lookupUnique(txn, domain, keyNamePrefix(domain, name))
		return err
	})
	return rec, err
}

func (s *Store) GetUserByUPN(ctx context.Context, domain, upn string) (*identity.Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var rec *identity.Record
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		rec, err = lookupUnique(txn, domain, keyUPNPrefix(domain, upn))
		return err
	})
	return rec, err
}

func (s *Store) FindByCertificate(ctx context.Context, der []byte) ([]*identity.Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []*identity.Record
	err := s.db.View(func(txn *badgerdb.Txn) error {
		prefix := keyCertPrefix(der)
		for _, k := range scanKeys(txn, prefix) {
			parts := splitIndexTail(k, prefix)
			if len(parts) != 2 {
				continue
			}
			rec, err := getRecord(txn, parts[0], parts[1])
			if errors.Is(err, identity.ErrUserNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if rec.HasCertificate(der) {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	identity.SortRecords(out)
	return out, nil
}

// writeRecord replaces old (which may be nil) with rec inside txn.
func writeRecord(txn *badgerdb.Txn, old, rec *identity.Record) error {
	if old != nil {
		if err := deleteRecord(txn, old); err != nil {
			return err
		}
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := txn.Set(keyRecord(rec.Domain, rec.Name), data); err != nil {
		return err
	}
	for _, k := range indexKeys(rec) {
		if err := txn.Set(k, nil); err != nil {
			return err
		}
	}
	return nil
}

func deleteRecord(txn *badgerdb.Txn, rec *identity.Record) error {
	for _, k := range indexKeys(rec) {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return txn.Delete(keyRecord(rec.Domain, rec.Name))
}

func (s *Store) PutUser(ctx context.Context, rec *identity.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.update(ctx, func(txn *badgerdb.Txn) error {
		old, err := getRecord(txn, rec.Domain, rec.Name)
		if err != nil && !errors.Is(err, identity.ErrUserNotFound) {
			return err
		}
		return writeRecord(txn, old, rec)
	})
}

func (s *Store) UpdateUser(ctx context.Context, domain, name string, fn identity.UpdateFunc) error {
	return s.update(ctx, func(txn *badgerdb.Txn) error {
		old, err := getRecord(txn, domain, name)
		if err != nil {
			return err
		}
		next := old.Clone()
		if err := fn(next); err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}
		return writeRecord(txn, old, next)
	})
}

func (s *Store) DeleteUser(ctx context.Context, domain, name string) error {
	return s.update(ctx, func(txn *badgerdb.Txn) error {
		old, err := getRecord(txn, domain, name)
		if err != nil {
			return err
		}
		return deleteRecord(txn, old)
	})
}

func (s *Store) ListUsers(ctx context.Context, domain string) ([]*identity.Record, error) {
	prefix := []byte(prefixRecord)
	if domain != "" {
		prefix = []byte(prefixRecord + lower(domain) + sep)
	}
	return s.scanRecords(ctx, prefix, func(*identity.Record) bool { return true })
}

func (s *Store) ListExpiring(ctx context.Context, before int64) ([]*identity.Record, error) {
	return s.scanRecords(ctx, []byte(prefixRecord), func(r *identity.Record) bool {
		return r.CacheExpire < before
	})
}

func (s *Store) scanRecords(ctx context.Context, prefix []byte, keep func(*identity.Record) bool) ([]*identity.Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []*identity.Record
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec *identity.Record
			err := it.Item().Value(func(val []byte) error {
				var derr error
				rec, derr = decodeRecord(val)
				return derr
			})
			if err != nil {
				return err
			}
			if keep(rec) {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	identity.SortRecords(out)
	return out, nil
}
