package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/marmos91/dittopam/internal/logger"
	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/identity"
)

// RefreshForgetter drops recently-refreshed marks.
type RefreshForgetter interface {
	ForgetRefresh(logonName string)
}

// UserHandler serves cached identity records.
type UserHandler struct {
	store     identity.Store
	registry  *domain.Registry
	refreshes RefreshForgetter
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(store identity.Store, registry *domain.Registry, refreshes RefreshForgetter) *UserHandler {
	return &UserHandler{store: store, registry: registry, refreshes: refreshes}
}

// UserResponse is a cached record without its credential material.
type UserResponse struct {
	Name                string     `json:"name"`
	Domain              string     `json:"domain"`
	UPN                 string     `json:"upn,omitempty"`
	Aliases             []string   `json:"aliases,omitempty"`
	UID                 uint32     `json:"uid"`
	GID                 uint32     `json:"gid"`
	Certificates        int        `json:"certificates"`
	CacheExpire         *time.Time `json:"cache_expire,omitempty"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
	LastOnlineAuth      *time.Time `json:"last_online_auth,omitempty"`
	HasCachedPassword   bool       `json:"has_cached_password"`
	FailedLoginAttempts uint32     `json:"failed_login_attempts"`
	LastFailedLogin     *time.Time `json:"last_failed_login,omitempty"`
	AccountExpires      *time.Time `json:"account_expires,omitempty"`
	Locked              bool       `json:"locked"`
}

// List handles GET /api/v1/users, optionally filtered by ?domain=.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	domName := r.URL.Query().Get("domain")
	if domName != "" {
		d, err := h.registry.Get(domName)
		if err != nil {
			NotFound(w, "Unknown domain "+domName)
			return
		}
		domName = d.Name
	}

	recs, err := h.store.ListUsers(r.Context(), domName)
	if err != nil {
		logger.ErrorCtx(r.Context(), "Identity store list failed", logger.Err(err))
		InternalServerError(w, "Failed to list users")
		return
	}

	resp := make([]UserResponse, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, userToResponse(rec))
	}
	WriteJSONOK(w, resp)
}

// Get handles GET /api/v1/users/{domain}/{name}.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, ok := getUserOrError(w, r, h.store, h.registry)
	if !ok {
		return
	}
	WriteJSONOK(w, userToResponse(rec))
}

// Expire handles POST /api/v1/users/{domain}/{name}/expire.
// The record is marked stale and its recently-refreshed marks are dropped,
// so the next request for the user goes to the provider.
func (h *UserHandler) Expire(w http.ResponseWriter, r *http.Request) {
	rec, ok := getUserOrError(w, r, h.store, h.registry)
	if !ok {
		return
	}

	err := h.store.UpdateUser(r.Context(), rec.Domain, rec.Name, func(cur *identity.Record) error {
		cur.CacheExpire = 0
		return nil
	})
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			NotFound(w, "User not found")
			return
		}
		logger.ErrorCtx(r.Context(), "Identity store update failed", logger.Err(err))
		InternalServerError(w, "Failed to expire user")
		return
	}

	for _, name := range logonNames(rec) {
		h.refreshes.ForgetRefresh(name)
	}
	logger.InfoCtx(r.Context(), "Expired cached user", logger.User(rec.Name), logger.Domain(rec.Domain))

	rec.CacheExpire = 0
	WriteJSONOK(w, userToResponse(rec))
}

// logonNames lists the names a client may have used for rec.
func logonNames(rec *identity.Record) []string {
	names := []string{rec.Name, rec.Name + "@" + rec.Domain}
	if rec.UPN != "" {
		names = append(names, rec.UPN)
	}
	for _, a := range rec.Aliases {
		names = append(names, a, a+"@"+rec.Domain)
	}
	return names
}

func userToResponse(rec *identity.Record) UserResponse {
	return UserResponse{
		Name:                rec.Name,
		Domain:              rec.Domain,
		UPN:                 rec.UPN,
		Aliases:             rec.Aliases,
		UID:                 rec.UID,
		GID:                 rec.GID,
		Certificates:        len(rec.Certificates),
		CacheExpire:         unixTime(rec.CacheExpire),
		LastLogin:           unixTime(rec.LastLogin),
		LastOnlineAuth:      unixTime(rec.LastOnlineAuth),
		HasCachedPassword:   rec.CachedPassword != "",
		FailedLoginAttempts: rec.FailedLoginAttempts,
		LastFailedLogin:     unixTime(rec.LastFailedLogin),
		AccountExpires:      unixTime(rec.AccountExpires),
		Locked:              rec.Locked,
	}
}

// unixTime converts a record timestamp; zero means never and is omitted.
func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
