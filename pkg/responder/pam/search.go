package pam

import (
	"errors"
	"slices"

	"github.com/marmos91/dittopam/internal/logger"
	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/metrics"
	"github.com/marmos91/dittopam/pkg/provider"
)

// search looks the user up in the identity store, starting at the current
// domain and, for a domainless name, moving on to the following domains.
//
// It returns nil when the user was found (pd.User is then the primary name),
// errNotFound when no domain has the user, errPending when a provider
// refresh was started, and any other error for store failures.
func (a *authRequest) search() error {
	pd := a.pd
	domainless := pd.Domain == ""
	doms := a.r.domains.List()
	dom := a.dom
	if dom == nil {
		return errNotFound
	}

	now := a.r.now()
	var name string

loop:
	for dom != nil {
		for dom != nil && domainless && !pd.NameIsUPN && dom.FQNames {
			dom = nextDomain(doms, dom)
		}
		if dom == nil {
			break
		}
		if dom != a.dom {
			// A new domain is checked against its own provider, once.
			a.checkProvider = a.mayRefresh(dom)
			if domainless && a.skipDomain(dom) {
				dom = nextDomain(doms, dom)
				continue
			}
		}
		a.setDomain(dom)
		name = dom.Canonical(pd.User)

		if a.checkProvider && !a.r.refreshed.Fresh(pd.LogonName) {
			break loop
		}

		logger.DebugCtx(a.ctx, "Looking up user in identity store",
			logger.User(name), logger.Domain(dom.Name))

		var (
			rec *identity.Record
			err error
		)
		if pd.NameIsUPN {
			rec, err = a.r.store.GetUserByUPN(a.ctx, dom.Name, name)
		} else {
			rec, err = a.r.store.GetUser(a.ctx, dom.Name, name)
		}

		switch {
		case errors.Is(err, identity.ErrUserNotFound):
			if !a.checkProvider {
				a.r.negcache.SetUser(dom.Name, name, false)
			}
			if domainless {
				dom = nextDomain(doms, dom)
				continue
			}
			logger.DebugCtx(a.ctx, "User not found", logger.User(name), logger.Domain(dom.Name))
			return errNotFound

		case errors.Is(err, identity.ErrAmbiguous):
			logger.ErrorCtx(a.ctx, "Several users share one name in the identity store; the store is inconsistent",
				logger.User(name), logger.Domain(dom.Name))
			return err

		case err != nil:
			return err
		}

		if a.checkProvider && rec.NeedsRefresh(now) {
			break loop
		}

		if rec.Name != pd.User {
			logger.DebugCtx(a.ctx, "Using primary name of user", logger.User(rec.Name))
			pd.User = rec.Name
		}
		return nil
	}

	if dom == nil {
		a.checkProvider = false
	}
	if !a.checkProvider {
		return errNotFound
	}

	a.checkProvider = false
	a.refreshedDomains = append(a.refreshedDomains, dom.Name)
	a.enter(StateProviderRefresh)
	logger.DebugCtx(a.ctx, "Refreshing user from provider",
		logger.User(name), logger.Domain(dom.Name), logger.Provider(dom.Provider))
	a.r.disp.RefreshAccount(a.h, dom, name, pd.NameIsUPN, a.accountRefreshed)
	return errPending
}

// mayRefresh reports whether dom may still be refreshed by this request.
func (a *authRequest) mayRefresh(dom *domain.Domain) bool {
	return dom.HasProvider() && !slices.Contains(a.refreshedDomains, dom.Name)
}

// skipDomain reports whether a domainless search must pass over dom.
func (a *authRequest) skipDomain(dom *domain.Domain) bool {
	if !a.trusted && !a.r.isPublic(dom) {
		return true
	}
	if a.r.negcache.CheckUser(dom.Name, dom.Canonical(a.pd.User)) {
		metrics.RecordNegativeCacheHit(a.r.metrics)
		return true
	}
	return false
}

// accountRefreshed resumes the request after a provider account refresh.
// An offline provider is not fatal: the store is searched again and whatever
// it holds is used. Any other failure ends the request with SYSTEM_ERR.
func (a *authRequest) accountRefreshed(err error) {
	switch {
	case errors.Is(err, provider.ErrTransport):
		a.abort(err)
		return
	case provider.IsOffline(err):
		logger.InfoCtx(a.ctx, "Provider is offline, using identity store", logger.Err(err))
	case err != nil:
		var pe *provider.Error
		if errors.As(err, &pe) {
			logger.ErrorCtx(a.ctx, "Unable to get information from provider",
				logger.KeyErrorMajor, pe.Major.String(),
				logger.KeyErrorMinor, pe.Minor,
				logger.Err(err))
		} else {
			logger.ErrorCtx(a.ctx, "Unable to get information from provider", logger.Err(err))
		}
		a.checkUserDone(err)
		return
	}

	a.enter(StateDomainNegCheck)
	err = a.search()
	if err == nil {
		a.r.refreshed.Set(a.pd.LogonName)
		a.domForwarder()
	}
	a.checkUserDone(err)
}

func nextDomain(doms []*domain.Domain, cur *domain.Domain) *domain.Domain {
	for i, d := range doms {
		if d.Name == cur.Name {
			if i+1 < len(doms) {
				return doms[i+1]
			}
			return nil
		}
	}
	return nil
}
