package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/marmos91/dittopam/pkg/identity"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const userColumns = `u.domain, u.name, u.upn, u.uid, u.gid, u.cache_expire, u.last_login,
	u.last_online_auth, u.last_online_auth_with_curr_token, u.cached_password,
	u.failed_login_attempts, u.last_failed_login, u.account_expires, u.locked`

var readOnly = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

func lower(s string) string { return strings.ToLower(s) }

func certDigest(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

func scanUser(row pgx.Row) (*identity.Record, error) {
	var (
		rec      identity.Record
		uid, gid int64
		failed   int32
	)
	err := row.Scan(&rec.Domain, &rec.Name, &rec.UPN, &uid, &gid, &rec.CacheExpire, &rec.LastLogin,
		&rec.LastOnlineAuth, &rec.LastOnlineAuthWithCurrToken, &rec.CachedPassword,
		&failed, &rec.LastFailedLogin, &rec.AccountExpires, &rec.Locked)
	if err != nil {
		return nil, err
	}
	rec.UID, rec.GID = uint32(uid), uint32(gid)
	rec.FailedLoginAttempts = uint32(failed)
	return &rec, nil
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (s *Store) withTx(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// loadChildren fills the aliases and certificates of rec.
func loadChildren(ctx context.Context, q querier, rec *identity.Record) error {
	dk, nk := lower(rec.Domain), lower(rec.Name)

	rows, err := q.Query(ctx, `SELECT alias FROM identity_aliases
		WHERE domain_key = $1 AND name_key = $2 ORDER BY position`, dk, nk)
	if err != nil {
		return err
	}
	aliases, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return err
	}
	if len(aliases) > 0 {
		rec.Aliases = aliases
	}

	rows, err = q.Query(ctx, `SELECT der FROM identity_certificates
		WHERE domain_key = $1 AND name_key = $2 ORDER BY position`, dk, nk)
	if err != nil {
		return err
	}
	certs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return err
	}
	if len(certs) > 0 {
		rec.Certificates = certs
	}
	return nil
}

// queryRecords runs a SELECT over userColumns and loads each record's
// children. limit > 0 stops reading after limit rows.
func queryRecords(ctx context.Context, q querier, limit int, sql string, args ...any) ([]*identity.Record, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	var out []*identity.Record
	for rows.Next() {
		rec, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rec := range out {
		if err := loadChildren(ctx, q, rec); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) lookupUnique(ctx context.Context, sql string, args ...any) (*identity.Record, error) {
	var rec *identity.Record
	err := s.withTx(ctx, readOnly, func(tx pgx.Tx) error {
		recs, err := queryRecords(ctx, tx, 2, sql, args...)
		if err != nil {
			return err
		}
		switch len(recs) {
		case 0:
			return identity.ErrUserNotFound
		case 1:
			rec = recs[0]
			return nil
		default:
			return identity.ErrAmbiguous
		}
	})
	return rec, err
}

func (s *Store) GetUser(ctx context.Context, domain, name string) (*identity.Record, error) {
	return s.lookupUnique(ctx, `SELECT `+userColumns+` FROM identity_users u
		WHERE u.domain_key = $1 AND (u.name_key = $2 OR EXISTS (
			SELECT 1 FROM identity_aliases a
			WHERE a.domain_key = u.domain_key AND a.name_key = u.name_key AND a.alias_key = $2))
		LIMIT 2`, lower(domain), lower(name))
}

func (s *Store) GetUserByUPN(ctx context.Context, domain, upn string) (*identity.Record, error) {
	return s.lookupUnique(ctx, `SELECT `+userColumns+` FROM identity_users u
		WHERE u.domain_key = $1 AND u.upn_key = $2 AND u.upn_key <> ''
		LIMIT 2`, lower(domain), lower(upn))
}

func (s *Store) FindByCertificate(ctx context.Context, der []byte) ([]*identity.Record, error) {
	var out []*identity.Record
	err := s.withTx(ctx, readOnly, func(tx pgx.Tx) error {
		var err error
		out, err = queryRecords(ctx, tx, 0, `SELECT `+userColumns+` FROM identity_users u
			WHERE EXISTS (
				SELECT 1 FROM identity_certificates c
				WHERE c.domain_key = u.domain_key AND c.name_key = u.name_key
				  AND c.digest = $1 AND c.der = $2)`, certDigest(der), der)
		return err
	})
	if err != nil {
		return nil, err
	}
	identity.SortRecords(out)
	return out, nil
}

// writeRecord upserts rec and replaces its aliases and certificates.
func writeRecord(ctx context.Context, q querier, rec *identity.Record) error {
	dk, nk := lower(rec.Domain), lower(rec.Name)

	_, err := q.Exec(ctx, `INSERT INTO identity_users (
			domain_key, name_key, domain, name, upn, upn_key, uid, gid, cache_expire, last_login,
			last_online_auth, last_online_auth_with_curr_token, cached_password,
			failed_login_attempts, last_failed_login, account_expires, locked
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (domain_key, name_key) DO UPDATE SET
			domain = EXCLUDED.domain,
			name = EXCLUDED.name,
			upn = EXCLUDED.upn,
			upn_key = EXCLUDED.upn_key,
			uid = EXCLUDED.uid,
			gid = EXCLUDED.gid,
			cache_expire = EXCLUDED.cache_expire,
			last_login = EXCLUDED.last_login,
			last_online_auth = EXCLUDED.last_online_auth,
			last_online_auth_with_curr_token = EXCLUDED.last_online_auth_with_curr_token,
			cached_password = EXCLUDED.cached_password,
			failed_login_attempts = EXCLUDED.failed_login_attempts,
			last_failed_login = EXCLUDED.last_failed_login,
			account_expires = EXCLUDED.account_expires,
			locked = EXCLUDED.locked`,
		dk, nk, rec.Domain, rec.Name, rec.UPN, lower(rec.UPN), int64(rec.UID), int64(rec.GID),
		rec.CacheExpire, rec.LastLogin, rec.LastOnlineAuth, rec.LastOnlineAuthWithCurrToken,
		rec.CachedPassword, int32(rec.FailedLoginAttempts), rec.LastFailedLogin,
		rec.AccountExpires, rec.Locked)
	if err != nil {
		return fmt.Errorf("failed to write user: %w", err)
	}

	if _, err := q.Exec(ctx, `DELETE FROM identity_aliases WHERE domain_key = $1 AND name_key = $2`, dk, nk); err != nil {
		return err
	}
	for i, a := range rec.Aliases {
		_, err := q.Exec(ctx, `INSERT INTO identity_aliases (domain_key, name_key, alias, alias_key, position)
			VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`, dk, nk, a, lower(a), i)
		if err != nil {
			return fmt.Errorf("failed to write alias: %w", err)
		}
	}

	if _, err := q.Exec(ctx, `DELETE FROM identity_certificates WHERE domain_key = $1 AND name_key = $2`, dk, nk); err != nil {
		return err
	}
	for i, der := range rec.Certificates {
		_, err := q.Exec(ctx, `INSERT INTO identity_certificates (domain_key, name_key, digest, der, position)
			VALUES ($1, $2, $3, $4, $5)`, dk, nk, certDigest(der), der, i)
		if err != nil {
			return fmt.Errorf("failed to write certificate: %w", err)
		}
	}
	return nil
}

func (s *Store) PutUser(ctx context.Context, rec *identity.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.withTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return writeRecord(ctx, tx, rec)
	})
}

func (s *Store) UpdateUser(ctx context.Context, domain, name string, fn identity.UpdateFunc) error {
	return s.withTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		cur, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM identity_users u
			WHERE u.domain_key = $1 AND u.name_key = $2 FOR UPDATE`, lower(domain), lower(name)))
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if err := loadChildren(ctx, tx, cur); err != nil {
			return err
		}

		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}
		if next.Key() != cur.Key() {
			if _, err := tx.Exec(ctx, `DELETE FROM identity_users WHERE domain_key = $1 AND name_key = $2`,
				lower(cur.Domain), lower(cur.Name)); err != nil {
				return err
			}
		}
		return writeRecord(ctx, tx, next)
	})
}

func (s *Store) DeleteUser(ctx context.Context, domain, name string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM identity_users WHERE domain_key = $1 AND name_key = $2`,
		lower(domain), lower(name))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context, domain string) ([]*identity.Record, error) {
	if domain == "" {
		return s.list(ctx, `SELECT `+userColumns+` FROM identity_users u`)
	}
	return s.list(ctx, `SELECT `+userColumns+` FROM identity_users u WHERE u.domain_key = $1`, lower(domain))
}

func (s *Store) ListExpiring(ctx context.Context, before int64) ([]*identity.Record, error) {
	return s.list(ctx, `SELECT `+userColumns+` FROM identity_users u WHERE u.cache_expire < $1`, before)
}

func (s *Store) list(ctx context.Context, sql string, args ...any) ([]*identity.Record, error) {
	var out []*identity.Record
	err := s.withTx(ctx, readOnly, func(tx pgx.Tx) error {
		var err error
		out, err = queryRecords(ctx, tx, 0, sql, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	identity.SortRecords(out)
	return out, nil
}
