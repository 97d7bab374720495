package pam

import (
	"errors"

	"github.com/marmos91/dittopam/internal/logger"
	wire "github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/pkg/authtok"
	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/metrics"
)

// canUseCachedAuth reports whether the request may skip the provider and
// authenticate against the cached hash because the user authenticated
// online recently enough.
func (a *authRequest) canUseCachedAuth() bool {
	d := a.dom
	if a.cachedAuthFailed || !d.CacheCredentials || d.CachedAuthTimeout <= 0 {
		return false
	}
	if a.pd.Command != wire.CmdAuthenticate || !authtok.IsPassword(a.pd.AuthTok) {
		return false
	}

	rec, err := a.r.store.GetUser(a.ctx, d.Name, a.pd.User)
	if err != nil {
		logger.DebugCtx(a.ctx, "Cannot read last online authentication, not using cache", logger.Err(err))
		return false
	}
	fresh := identity.CanUseCachedAuth(rec, d.CachedAuthTimeout, a.r.now())
	logger.DebugCtx(a.ctx, "Checked cached authentication freshness",
		"last_online_auth_with_curr_token", rec.LastOnlineAuthWithCurrToken,
		logger.CacheHit(fresh))
	return fresh
}

// cacheAuth authenticates offline against the cached hash. useCached tells
// whether the attempt was chosen for freshness rather than forced by an
// unreachable provider.
func (a *authRequest) cacheAuth(useCached bool) {
	a.enter(StateCacheAuth)
	pw, err := authtok.CachePassword(a.pd.AuthTok)
	if err != nil {
		logger.WarnCtx(a.ctx, "Token cannot be verified against cached credentials",
			"authtok_type", tokenType(a.pd))
		a.finish(wire.StatusSystemErr)
		return
	}

	res, err := identity.CacheAuth(a.ctx, a.r.store, a.dom.Name, a.pd.User, pw, a.r.cfg.Offline, a.r.now())
	a.handleCachedLogin(err, res, useCached)
}

// cachedLoginStatus maps a cache verification error to a PAM status.
func cachedLoginStatus(err error) wire.Status {
	switch {
	case err == nil:
		return wire.StatusSuccess
	case errors.Is(err, identity.ErrNoCachedCredentials):
		return wire.StatusAuthInfoUnavail
	case errors.Is(err, identity.ErrWrongPassword):
		return wire.StatusAuthErr
	case errors.Is(err, identity.ErrDenied):
		return wire.StatusPermDenied
	default:
		return wire.StatusSystemErr
	}
}

func cacheAuthOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, identity.ErrNoCachedCredentials):
		return "no_credentials"
	case errors.Is(err, identity.ErrWrongPassword):
		return "wrong_password"
	case errors.Is(err, identity.ErrDenied):
		return "denied"
	default:
		return "error"
	}
}

func (a *authRequest) handleCachedLogin(err error, res identity.CacheAuthResult, useCached bool) {
	pd := a.pd
	pd.Status = cachedLoginStatus(err)
	metrics.RecordCacheAuth(a.r.metrics, cacheAuthOutcome(err))
	logger.DebugCtx(a.ctx, "Cached authentication finished",
		logger.StatusMsg(pd.Status.String()), logger.Err(err))

	switch pd.Status {
	case wire.StatusSuccess:
		pd.AddResponse(wire.RespUserInfo, wire.OfflineAuthPayload(res.Expire))
	case wire.StatusPermDenied:
		if res.DelayedUntil >= 0 {
			pd.AddResponse(wire.RespUserInfo, wire.OfflineAuthDelayedPayload(res.DelayedUntil))
		}
	case wire.StatusAuthErr:
		if useCached {
			// Fall back to the provider, once.
			logger.InfoCtx(a.ctx, "Cached authentication failed, trying online", logger.User(pd.User))
			a.cachedAuthFailed = true
			pd.OfflineAuth = false
			a.domForwarder()
			return
		}
	}
	a.reply()
}

// setLastLogin stores the credentials of a successful online login and
// stamps its time.
func (a *authRequest) setLastLogin() error {
	now := a.r.now()
	if pw, err := authtok.CachePassword(a.pd.AuthTok); err == nil && len(pw) > 0 {
		return identity.CacheCredentials(a.ctx, a.r.store, a.dom.Name, a.pd.User, pw, now)
	}
	ts := now.Unix()
	return a.r.store.UpdateUser(a.ctx, a.dom.Name, a.pd.User, func(r *identity.Record) error {
		r.LastOnlineAuth = ts
		r.LastOnlineAuthWithCurrToken = ts
		r.LastLogin = ts
		return nil
	})
}

// expireCurrentToken forces the next login to go online after a password
// change.
func (a *authRequest) expireCurrentToken() error {
	return a.r.store.UpdateUser(a.ctx, a.dom.Name, a.pd.User, func(r *identity.Record) error {
		r.LastOnlineAuthWithCurrToken = 0
		return nil
	})
}
