package pam

import (
	"context"
	"errors"

	"github.com/marmos91/dittopam/internal/logger"
	wire "github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/pkg/authtok"
	"github.com/marmos91/dittopam/pkg/certhelper"
	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/provider"
)

// Operation names of the certificate path.
const (
	opCertExtract = "cert_extract"
	opCertLookup  = "cert_lookup"
)

var errAmbiguousCert = errors.New("certificate matches more than one user")

// resolveCertificate runs the certificate helper, then maps the certificate
// to a user.
func (a *authRequest) resolveCertificate() {
	a.enter(StateCertResolution)

	probe := &wire.Request{Command: a.pd.Command, AuthTok: authtok.Clone(a.pd.AuthTok)}
	provider.Go(a.r.disp, a.h, opCertExtract, "certhelper",
		func(ctx context.Context) (*certhelper.Certificate, error) {
			defer probe.Wipe()
			return a.r.certs.Extract(ctx, probe)
		},
		a.certificateExtracted)
}

func (a *authRequest) certificateExtracted(cert *certhelper.Certificate, err error) {
	if err != nil {
		logger.WarnCtx(a.ctx, "Certificate helper failed", logger.Err(err))
		a.checkUserDone(err)
		return
	}

	if cert == nil {
		switch {
		case !a.pd.HasLogonName():
			logger.DebugCtx(a.ctx, "No certificate found and no logon name given")
			a.checkUserDone(errNotFound)
		case a.pd.Command == wire.CmdAuthenticate:
			logger.DebugCtx(a.ctx, "No certificate found during authentication")
			a.checkUserDone(errNotFound)
		default:
			a.checkUserDone(a.searchAndForward())
		}
		return
	}

	provider.Go(a.r.disp, a.h, opCertLookup, "store",
		func(ctx context.Context) ([]*identity.Record, error) {
			return a.r.store.FindByCertificate(ctx, cert.DER)
		},
		func(recs []*identity.Record, err error) {
			a.certificateLookedUp(cert.TokenName, recs, err)
		})
}

func (a *authRequest) certificateLookedUp(token string, recs []*identity.Record, err error) {
	if err != nil {
		a.checkUserDone(err)
		return
	}

	switch len(recs) {
	case 0:
		if !a.pd.HasLogonName() {
			logger.DebugCtx(a.ctx, "Certificate matches no user and no logon name given")
			a.checkUserDone(errNotFound)
			return
		}
		a.checkUserDone(a.searchAndForward())
		return
	case 1:
	default:
		logger.ErrorCtx(a.ctx, "Certificate is mapped to several users", "count", len(recs))
		a.checkUserDone(errAmbiguousCert)
		return
	}

	rec := recs[0]
	if a.dom == nil {
		d, err := a.r.domains.Get(rec.Domain)
		if err != nil {
			a.checkUserDone(err)
			return
		}
		a.setDomain(d)
	}
	a.certUser = rec
	a.certToken = token

	if a.pd.HasLogonName() {
		a.checkUserDone(a.searchAndForward())
		return
	}

	// No name was given: the certificate names the user.
	if !a.trusted && !a.r.isPublic(a.dom) {
		a.checkUserDone(errDenied)
		return
	}
	a.pd.AddResponse(wire.RespCertInfo, wire.CertInfoPayload(rec.Name, token))
	a.pd.Domain = a.dom.Name
	a.finish(wire.StatusSuccess)
}
