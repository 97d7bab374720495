package pam

import (
	"errors"
	"strings"

	"github.com/marmos91/dittopam/internal/logger"
	wire "github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/pkg/authtok"
	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/provider"
)

// domForwarder applies the caller policy to the resolved user and picks the
// authentication path.
func (a *authRequest) domForwarder() {
	a.enter(StatePolicyCheck)
	pd := a.pd

	if !a.trusted && !a.r.isPublic(a.dom) {
		logger.WarnCtx(a.ctx, "Untrusted caller asked for non-public domain", logger.Domain(a.dom.Name))
		a.finish(wire.StatusPermDenied)
		return
	}

	// Never reveal users outside the domains the caller restricted itself to.
	if a.trusted && !pd.IsDomainRequested(a.dom.Name) {
		logger.DebugCtx(a.ctx, "Domain not in requested domains",
			logger.Domain(a.dom.Name), "requested_domains", pd.RequestedDomains)
		a.finish(wire.StatusUserUnknown)
		return
	}

	if pd.Domain == "" {
		pd.Domain = a.dom.Name
	}

	if a.canUseCachedAuth() {
		a.useCachedAuth = true
		a.enter(StateCacheAuth)
		a.reply()
		return
	}

	if a.certUser != nil && a.mayDoCertAuth() {
		if a.certUser.Name == pd.User && strings.EqualFold(a.certUser.Domain, a.dom.Name) {
			logger.DebugCtx(a.ctx, "User and certificate user match")
			pd.Status = wire.StatusSuccess
			if pd.Command == wire.CmdPreauth {
				pd.AddResponse(wire.RespCertInfo, wire.CertInfoPayload(a.certUser.Name, a.certToken))
			}
			a.reply()
			return
		}
		if pd.Command != wire.CmdPreauth {
			logger.WarnCtx(a.ctx, "User and certificate user do not match",
				logger.User(pd.User), "cert_user", a.certUser.Name)
			a.finish(wire.StatusAuthErr)
			return
		}
		// During preauth other methods stay available.
		logger.DebugCtx(a.ctx, "User and certificate user do not match, continuing")
	}

	if !a.dom.HasProvider() {
		a.localAuth()
		return
	}
	a.providerAuth()
}

// providerAuth forwards the request to the domain's provider.
func (a *authRequest) providerAuth() {
	a.enter(StateProviderAuth)
	a.r.disp.Authenticate(a.h, a.dom, a.pd, func(res *provider.AuthResult, err error) {
		pd := a.pd
		switch {
		case errors.Is(err, provider.ErrTransport):
			a.abort(err)
			return
		case provider.IsOffline(err):
			logger.InfoCtx(a.ctx, "Provider is offline", logger.Provider(a.dom.Provider), logger.Err(err))
			pd.Status = wire.StatusAuthInfoUnavail
		case err != nil:
			logger.ErrorCtx(a.ctx, "Provider authentication failed", logger.Provider(a.dom.Provider), logger.Err(err))
			pd.Status = wire.StatusSystemErr
		case res == nil:
			pd.Status = wire.StatusSystemErr
		default:
			pd.Status = res.Status
			pd.Responses = append(pd.Responses, res.Items...)
			if res.ResponseDelay > 0 {
				pd.ResponseDelay = res.ResponseDelay
			}
		}
		a.reply()
	})
}

// localAuth services a domain without a provider from the identity store.
func (a *authRequest) localAuth() {
	a.enter(StateLocalAuth)
	a.finish(a.localStatus())
}

func (a *authRequest) localStatus() wire.Status {
	pd := a.pd
	rec, err := a.r.store.GetUser(a.ctx, a.dom.Name, pd.User)
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		return wire.StatusUserUnknown
	case err != nil:
		logger.ErrorCtx(a.ctx, "Local lookup failed", logger.Err(err))
		return wire.StatusSystemErr
	}
	now := a.r.now()

	switch pd.Command {
	case wire.CmdAuthenticate, wire.CmdChauthtokPrelim:
		if rec.Locked {
			return wire.StatusPermDenied
		}
		return a.verifyLocal(rec)

	case wire.CmdChauthtok:
		if st := a.verifyLocal(rec); st != wire.StatusSuccess {
			return st
		}
		return a.changeLocalPassword(rec)

	case wire.CmdAcctMgmt:
		switch {
		case rec.Locked:
			return wire.StatusPermDenied
		case rec.AccountExpired(now):
			return wire.StatusAcctExpired
		}
		return wire.StatusSuccess

	case wire.CmdSetCred, wire.CmdOpenSession, wire.CmdCloseSession, wire.CmdPreauth:
		return wire.StatusSuccess

	default:
		return wire.StatusModuleUnknown
	}
}

// verifyLocal checks the current token against the stored hash. Root may
// change passwords without the old one.
func (a *authRequest) verifyLocal(rec *identity.Record) wire.Status {
	if a.pd.Command == wire.CmdChauthtok && a.client.UID == 0 {
		return wire.StatusSuccess
	}
	pw, err := authtok.CachePassword(a.pd.AuthTok)
	if err != nil {
		return wire.StatusAuthErr
	}
	if !identity.VerifyPassword(pw, rec.CachedPassword) {
		return wire.StatusAuthErr
	}
	return wire.StatusSuccess
}

func (a *authRequest) changeLocalPassword(rec *identity.Record) wire.Status {
	newPw, ok := a.pd.NewAuthTok.(authtok.Password)
	if !ok {
		return wire.StatusAuthtokErr
	}
	if err := identity.ValidatePassword(string(newPw.Secret)); err != nil {
		logger.InfoCtx(a.ctx, "New password rejected", logger.Err(err))
		return wire.StatusAuthtokErr
	}
	hash, err := identity.HashPassword(newPw.Secret)
	if err != nil {
		return wire.StatusSystemErr
	}
	err = a.r.store.UpdateUser(a.ctx, rec.Domain, rec.Name, func(r *identity.Record) error {
		r.CachedPassword = hash
		return nil
	})
	if err != nil {
		logger.ErrorCtx(a.ctx, "Cannot store new password", logger.Err(err))
		return wire.StatusSystemErr
	}
	return wire.StatusSuccess
}
