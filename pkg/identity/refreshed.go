package identity

import (
	"context"
	"errors"
	"slices"
)

// SaveRefreshed writes a record fetched from a provider. The fields a
// provider owns are replaced; the cached credential and login history of an
// existing record are kept.
func SaveRefreshed(ctx context.Context, s Store, rec *Record) error {
	err := s.UpdateUser(ctx, rec.Domain, rec.Name, func(cur *Record) error {
		cur.UPN = rec.UPN
		cur.Aliases = slices.Clone(rec.Aliases)
		cur.UID = rec.UID
		cur.GID = rec.GID
		cur.Certificates = slices.Clone(rec.Certificates)
		cur.CacheExpire = rec.CacheExpire
		return nil
	})
	if errors.Is(err, ErrUserNotFound) {
		return s.PutUser(ctx, rec)
	}
	return err
}
