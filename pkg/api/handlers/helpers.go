package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/dittopam/internal/logger"
	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/identity"
)

// domainOrError resolves the {domain} URL parameter. Writes 404 and
// returns false for an unknown domain.
func domainOrError(w http.ResponseWriter, r *http.Request, reg *domain.Registry) (*domain.Domain, bool) {
	name := chi.URLParam(r, "domain")
	d, err := reg.Get(name)
	if err != nil {
		NotFound(w, "Unknown domain "+name)
		return nil, false
	}
	return d, true
}

// getUserOrError fetches the record addressed by {domain} and {name} and
// handles common errors.
func getUserOrError(w http.ResponseWriter, r *http.Request, store identity.Store, reg *domain.Registry) (*identity.Record, bool) {
	d, ok := domainOrError(w, r, reg)
	if !ok {
		return nil, false
	}

	rec, err := store.GetUser(r.Context(), d.Name, d.Canonical(chi.URLParam(r, "name")))
	switch {
	case err == nil:
		return rec, true
	case errors.Is(err, identity.ErrUserNotFound):
		NotFound(w, "User not found")
	case errors.Is(err, identity.ErrAmbiguous):
		Conflict(w, "More than one user matches")
	default:
		logger.ErrorCtx(r.Context(), "Identity store lookup failed", logger.Err(err))
		InternalServerError(w, "Failed to get user")
	}
	return nil, false
}
