package pam

import (
	"context"
	"strings"
	"time"

	"github.com/marmos91/dittopam/internal/logger"
	wire "github.com/marmos91/dittopam/internal/protocol/pam"
)

// reply finishes the request: it applies the offline fallback, honors the
// response delay, records a successful online login, filters the items and
// encodes the response. It may run twice when a delay is set; the second run
// has the delay cleared.
func (a *authRequest) reply() {
	pd := a.pd

	if pd.Status == wire.StatusAuthInfoUnavail || a.useCachedAuth {
		switch pd.Command {
		case wire.CmdAuthenticate:
			if a.dom != nil && a.dom.CacheCredentials && !pd.OfflineAuth {
				useCached := a.useCachedAuth
				a.useCachedAuth = false
				pd.OfflineAuth = true
				a.cacheAuth(useCached)
				return
			}
		case wire.CmdChauthtok, wire.CmdChauthtokPrelim:
			logger.DebugCtx(a.ctx, "Password change not possible while offline")
			pd.Status = wire.StatusAuthtokErr
			pd.AddResponse(wire.RespUserInfo, wire.OfflineChpassPayload())
		case wire.CmdSetCred, wire.CmdAcctMgmt, wire.CmdOpenSession, wire.CmdCloseSession:
			logger.DebugCtx(a.ctx, "Assuming offline authentication, reporting success")
			pd.Status = wire.StatusSuccess
		default:
			pd.Status = wire.StatusModuleUnknown
		}
	}

	if pd.Status == wire.StatusSuccess && pd.Command == wire.CmdChauthtok && a.dom != nil {
		if err := a.expireCurrentToken(); err != nil {
			logger.ErrorCtx(a.ctx, "Cannot reset last online authentication", logger.Err(err))
			pd.Status = wire.StatusSystemErr
		}
	}

	if pd.ResponseDelay > 0 {
		a.delay(time.Duration(pd.ResponseDelay) * time.Second)
		return
	}

	if pd.Command == wire.CmdAuthenticate && pd.Status == wire.StatusSuccess &&
		a.dom != nil && a.dom.CacheCredentials && a.dom.HasProvider() &&
		!pd.OfflineAuth && !pd.LastAuthSaved {
		if err := a.setLastLogin(); err != nil {
			logger.ErrorCtx(a.ctx, "Cannot record last login", logger.Err(err))
			pd.Status = wire.StatusSystemErr
		} else {
			pd.LastAuthSaved = true
		}
	}

	a.deliver(a.assemble())
}

// delay holds the reply once. The timer is dropped with the request if the
// client goes away.
func (a *authRequest) delay(d time.Duration) {
	a.enter(StateDelay)
	a.pd.ResponseDelay = 0
	logger.DebugCtx(a.ctx, "Delaying PAM reply", "delay", d)

	t := time.AfterFunc(d, func() {
		if !a.alive() {
			return
		}
		a.reply()
	})
	context.AfterFunc(a.h.Context(), func() { t.Stop() })
}

// assemble builds the response body from the request's status and items.
func (a *authRequest) assemble() Reply {
	pd := a.pd
	v := a.r.Verbosity()

	if pd.Status == wire.StatusAcctExpired &&
		(strings.EqualFold(pd.Service, "sshd") || v >= wire.VerbosityInfo) {
		pd.AddResponse(wire.RespUserInfo, wire.AccountExpiredPayload(a.r.cfg.AccountExpiredMessage))
	}

	if err := filterResponses(pd.Responses, v); err != nil {
		logger.WarnCtx(a.ctx, "Response filtering failed, not fatal", logger.Err(err))
	}

	if pd.Domain != "" {
		pd.AddResponse(wire.RespDomainName, wire.DomainNamePayload(pd.Domain))
	}

	return Reply{
		Command: pd.Command,
		Status:  pd.Status,
		Body:    wire.EncodeResponse(pd.Status, pd.Responses),
	}
}
