package pam

import (
	"errors"
	"strings"

	"github.com/marmos91/dittopam/internal/logger"
	wire "github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/pkg/authtok"
	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/metrics"
	"github.com/marmos91/dittopam/pkg/provider"
)

var (
	// errNotFound ends a lookup that found no user in any candidate domain.
	errNotFound = errors.New("user not found")

	// errPending means the request now waits on an asynchronous operation.
	errPending = errors.New("request pending")

	// errDenied ends a lookup refused by the caller trust policy.
	errDenied = errors.New("domain not available to caller")
)

// forward splits the logon name and starts resolution.
func (a *authRequest) forward() {
	pd := a.pd
	if !pd.HasLogonName() {
		a.resolve()
		return
	}

	dom, user, err := a.r.domains.ParseName(pd.LogonName)
	switch {
	case errors.Is(err, domain.ErrUnknownDomain) && !a.domainsRefreshed:
		a.refreshDomains()
		return
	case errors.Is(err, domain.ErrUnknownDomain):
		if !strings.Contains(pd.LogonName, "@") {
			a.checkUserDone(errNotFound)
			return
		}
		// The suffix is no known domain: try the whole name as a principal.
		first := a.r.domains.First()
		if first == nil {
			a.checkUserDone(errNotFound)
			return
		}
		a.setDomain(first)
		a.checkProvider = a.mayRefresh(first)
		pd.User = pd.LogonName
		pd.NameIsUPN = true
		pd.Domain = ""
	case err != nil:
		a.checkUserDone(err)
		return
	default:
		pd.Domain, pd.User = dom, user
	}
	a.resolve()
}

// refreshDomains asks every top-level provider domain for its subdomains,
// one after the other, then parses the name again.
func (a *authRequest) refreshDomains() {
	a.enter(StateProviderRefresh)
	a.domainsRefreshed = true

	var parents []*domain.Domain
	for _, d := range a.r.domains.List() {
		if d.HasProvider() && d.Parent == "" {
			parents = append(parents, d)
		}
	}
	a.refreshNextDomain(parents)
}

func (a *authRequest) refreshNextDomain(parents []*domain.Domain) {
	if len(parents) == 0 {
		a.forward()
		return
	}
	parent := parents[0]
	a.r.disp.RefreshDomains(a.h, parent, func(names []string, err error) {
		if errors.Is(err, provider.ErrTransport) {
			a.abort(err)
			return
		}
		if err != nil {
			logger.WarnCtx(a.ctx, "Domain list refresh failed",
				logger.Domain(parent.Name), logger.Provider(parent.Provider), logger.Err(err))
		} else if n, err := a.r.domains.AddSubdomains(parent.Name, names); err != nil {
			logger.WarnCtx(a.ctx, "Cannot register subdomains", logger.Domain(parent.Name), logger.Err(err))
		} else if n > 0 {
			logger.InfoCtx(a.ctx, "Registered subdomains", logger.Domain(parent.Name), "added", n)
		}
		a.refreshNextDomain(parents[1:])
	})
}

// resolve picks the first candidate domain, runs the certificate path when
// it applies, and otherwise searches the identity store.
func (a *authRequest) resolve() {
	a.enter(StateDomainNegCheck)
	pd := a.pd

	switch {
	case pd.Domain != "":
		d, err := a.r.domains.Get(pd.Domain)
		if err != nil {
			logger.DebugCtx(a.ctx, "Requested domain not configured", logger.Domain(pd.Domain))
			a.checkUserDone(errNotFound)
			return
		}
		a.setDomain(d)
		if !a.trusted && !a.r.isPublic(d) {
			a.checkUserDone(errDenied)
			return
		}
		if a.r.negcache.CheckUser(d.Name, d.Canonical(pd.User)) {
			metrics.RecordNegativeCacheHit(a.r.metrics)
			logger.DebugCtx(a.ctx, "User is negatively cached", logger.User(pd.User), logger.Domain(d.Name))
			a.checkUserDone(errNotFound)
			return
		}
		a.checkProvider = a.mayRefresh(d)

	case pd.HasLogonName() && a.dom == nil:
		d, err := a.firstCandidate()
		if err != nil {
			a.checkUserDone(err)
			return
		}
		a.setDomain(d)
		a.checkProvider = a.mayRefresh(d)
	}

	if a.mayDoCertAuth() {
		a.resolveCertificate()
		return
	}
	a.checkUserDone(a.searchAndForward())
}

// firstCandidate returns the first domain a bare name may belong to.
func (a *authRequest) firstCandidate() (*domain.Domain, error) {
	denied := false
	for _, d := range a.r.domains.List() {
		if d.FQNames {
			continue
		}
		if !a.trusted && !a.r.isPublic(d) {
			denied = true
			continue
		}
		if a.r.negcache.CheckUser(d.Name, d.Canonical(a.pd.User)) {
			metrics.RecordNegativeCacheHit(a.r.metrics)
			continue
		}
		return d, nil
	}
	if denied {
		return nil, errDenied
	}
	logger.DebugCtx(a.ctx, "User is negatively cached in every domain", logger.User(a.pd.User))
	return nil, errNotFound
}

// mayDoCertAuth reports whether the request should try smartcard
// authentication.
func (a *authRequest) mayDoCertAuth() bool {
	if !a.r.cfg.CertAuth || a.r.certs == nil {
		return false
	}
	switch a.pd.Command {
	case wire.CmdPreauth:
		return true
	case wire.CmdAuthenticate:
		return authtok.IsSmartcard(a.pd.AuthTok)
	}
	return false
}

// searchAndForward runs the store search and, on a hit, the policy and
// authentication stages.
func (a *authRequest) searchAndForward() error {
	err := a.search()
	if err == nil {
		a.domForwarder()
	}
	return err
}

// checkUserDone replies for a lookup that ended without reaching the
// authentication stage.
func (a *authRequest) checkUserDone(err error) {
	if err == nil || errors.Is(err, errPending) {
		return
	}
	a.finish(a.statusFor(err))
}

func (a *authRequest) statusFor(err error) wire.Status {
	switch {
	case errors.Is(err, errNotFound):
		return wire.StatusUserUnknown
	case errors.Is(err, errDenied):
		return wire.StatusPermDenied
	default:
		logger.ErrorCtx(a.ctx, "PAM request failed", logger.Err(err))
		return wire.StatusSystemErr
	}
}
