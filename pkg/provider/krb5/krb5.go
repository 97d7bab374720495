// Package krb5 is a provider backend that authenticates users against a
// Kerberos KDC.
//
// A password is verified by requesting a TGT for the user. When a keytab is
// configured the TGT is validated by obtaining a service ticket for a local
// principal and decrypting it, so a rogue KDC cannot vouch for a user.
// Kerberos cannot enumerate accounts, so the identities the backend serves
// are listed in configuration.
package krb5

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	"github.com/jcmturner/gokrb5/v8/krberror"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/service"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/marmos91/dittopam/internal/logger"
	"github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/pkg/authtok"
	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/provider"
)

// DefaultName is the provider name the backend registers under.
const DefaultName = "krb5"

// kdcClient is the part of a gokrb5 client the backend uses.
type kdcClient interface {
	Login() error
	ChangePasswd(newPasswd string) (bool, error)
	GetServiceTicket(spn string) (messages.Ticket, types.EncryptionKey, error)
	Principal() (types.PrincipalName, string)
	Destroy()
}

type gokrb5Client struct {
	*client.Client
}

func (c gokrb5Client) Principal() (types.PrincipalName, string) {
	return c.Credentials.CName(), c.Credentials.Domain()
}

// Backend implements provider.Backend over Kerberos.
type Backend struct {
	name   string
	cfg    Config
	krbCfg *krb5config.Config
	store  identity.Store
	ids    *identityMap
	keytab *keytabSource
	now    func() time.Time

	newClient func(user, realm, password string) kdcClient
}

var _ provider.Backend = (*Backend)(nil)

// Option customizes a Backend.
type Option func(*Backend)

// WithName overrides the provider name.
func WithName(name string) Option {
	return func(b *Backend) { b.name = name }
}

// WithClock sets the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates a backend that writes refreshed accounts into store.
func New(cfg Config, store identity.Store, opts ...Option) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	krbCfg, err := loadKrb5Conf(&cfg)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		name:   DefaultName,
		cfg:    cfg,
		krbCfg: krbCfg,
		store:  store,
		ids:    newIdentityMap(&cfg),
		now:    time.Now,
	}
	b.newClient = func(user, realm, password string) kdcClient {
		return gokrb5Client{client.NewWithPassword(user, realm, password, b.krbCfg, client.DisablePAFXFAST(true))}
	}
	for _, opt := range opts {
		opt(b)
	}

	if path := resolveKeytabPath(cfg.Keytab); path != "" {
		ks, err := openKeytab(path)
		if err != nil {
			return nil, fmt.Errorf("krb5: %w", err)
		}
		b.keytab = ks
		go ks.watch()
	}

	logger.Info("Kerberos provider configured", "provider", b.name, "realm", cfg.Realm,
		"identities", len(cfg.Identities), "validate_tgt", b.keytab != nil)
	return b, nil
}

func (b *Backend) Name() string { return b.name }

// Close stops the keytab watcher.
func (b *Backend) Close() error {
	if b.keytab != nil {
		b.keytab.stop()
	}
	return nil
}

// RefreshDomains reports no subdomains; a realm has no discoverable children.
func (b *Backend) RefreshDomains(ctx context.Context, dom *domain.Domain) ([]string, error) {
	return nil, ctx.Err()
}

// RefreshAccount writes the configured identity of name into the store, or
// removes a stale record when the principal is not served.
func (b *Backend) RefreshAccount(ctx context.Context, dom *domain.Domain, name string, isUPN bool) error {
	user, id, ok := b.ids.resolve(name, isUPN)
	if !ok {
		logger.DebugCtx(ctx, "Principal not served by Kerberos provider", logger.Domain(dom.Name), logger.User(name))
		if isUPN {
			return nil
		}
		if err := b.store.DeleteUser(ctx, dom.Name, name); err != nil && !errors.Is(err, identity.ErrUserNotFound) {
			return err
		}
		return nil
	}

	ttl := dom.EntryCacheTimeout
	if ttl <= 0 {
		ttl = DefaultEntryCacheTimeout
	}
	return identity.SaveRefreshed(ctx, b.store, &identity.Record{
		Name:        user,
		Domain:      dom.Name,
		UPN:         user + "@" + strings.ToUpper(b.cfg.Realm),
		Aliases:     id.Aliases,
		UID:         id.UID,
		GID:         id.GID,
		CacheExpire: b.now().Add(ttl).Unix(),
	})
}

// Authenticate runs req against the KDC.
func (b *Backend) Authenticate(ctx context.Context, dom *domain.Domain, req *pam.Request) (*provider.AuthResult, error) {
	switch req.Command {
	case pam.CmdAuthenticate, pam.CmdChauthtokPrelim:
		return b.login(ctx, req)
	case pam.CmdChauthtok:
		return b.changePassword(ctx, req)
	case pam.CmdAcctMgmt:
		if _, _, ok := b.ids.resolve(req.User, req.NameIsUPN); !ok {
			return &provider.AuthResult{Status: pam.StatusUserUnknown}, nil
		}
		return &provider.AuthResult{Status: pam.StatusSuccess}, nil
	case pam.CmdSetCred, pam.CmdOpenSession, pam.CmdCloseSession, pam.CmdPreauth:
		return &provider.AuthResult{Status: pam.StatusSuccess}, nil
	default:
		return &provider.AuthResult{Status: pam.StatusModuleUnknown}, nil
	}
}

func (b *Backend) login(ctx context.Context, req *pam.Request) (*provider.AuthResult, error) {
	pw, ok := req.AuthTok.(authtok.Password)
	if !ok {
		logger.DebugCtx(ctx, "Kerberos provider needs a password", logger.User(req.User), "authtok", tokenType(req.AuthTok))
		return &provider.AuthResult{Status: pam.StatusAuthErr}, nil
	}

	cl := b.newClient(b.principal(req), b.cfg.Realm, string(pw.Secret))
	defer cl.Destroy()

	err := b.run(ctx, func() error {
		if err := cl.Login(); err != nil {
			return err
		}
		if req.Command == pam.CmdAuthenticate && b.keytab != nil {
			return b.validate(cl)
		}
		return nil
	})

	status, perr := classify(err)
	if perr != nil {
		return nil, perr
	}
	// An expired password still proves the old one for a password change.
	if req.Command == pam.CmdChauthtokPrelim && status == pam.StatusNewAuthtokReqd {
		status = pam.StatusSuccess
	}
	logger.DebugCtx(ctx, "Kerberos login finished", logger.User(req.User), "cmd", req.Command.String(), "status", status.String())
	return &provider.AuthResult{Status: status}, nil
}

func (b *Backend) changePassword(ctx context.Context, req *pam.Request) (*provider.AuthResult, error) {
	oldPw, ok := req.AuthTok.(authtok.Password)
	if !ok {
		return &provider.AuthResult{Status: pam.StatusAuthtokErr}, nil
	}
	newPw, ok := req.NewAuthTok.(authtok.Password)
	if !ok {
		return &provider.AuthResult{Status: pam.StatusAuthtokErr}, nil
	}

	cl := b.newClient(b.principal(req), b.cfg.Realm, string(oldPw.Secret))
	defer cl.Destroy()

	var changed bool
	err := b.run(ctx, func() error {
		var err error
		changed, err = cl.ChangePasswd(string(newPw.Secret))
		return err
	})

	status, perr := classify(err)
	if perr != nil {
		return nil, perr
	}
	if status == pam.StatusSuccess && !changed {
		status = pam.StatusAuthtokErr
	}
	logger.InfoCtx(ctx, "Kerberos password change finished", logger.User(req.User), "status", status.String())
	return &provider.AuthResult{Status: status}, nil
}

// principal returns the user part of the principal to log in as.
func (b *Backend) principal(req *pam.Request) string {
	if req.NameIsUPN {
		if at := strings.LastIndex(req.User, "@"); at > 0 {
			return req.User[:at]
		}
	}
	return req.User
}

// validate proves the TGT came from the real KDC by decrypting a service
// ticket for the local principal with the keytab.
func (b *Backend) validate(cl kdcClient) error {
	tkt, key, err := cl.GetServiceTicket(b.cfg.ValidatePrincipal)
	if err != nil {
		return fmt.Errorf("get ticket for %s: %w", b.cfg.ValidatePrincipal, err)
	}
	cname, realm := cl.Principal()
	auth, err := types.NewAuthenticator(realm, cname)
	if err != nil {
		return fmt.Errorf("build authenticator: %w", err)
	}
	apReq, err := messages.NewAPReq(tkt, key, auth)
	if err != nil {
		return fmt.Errorf("build AP-REQ: %w", err)
	}

	opts := []func(*service.Settings){
		service.DecodePAC(false),
		service.KeytabPrincipal(b.cfg.ValidatePrincipal),
	}
	if b.cfg.MaxClockSkew > 0 {
		opts = append(opts, service.MaxClockSkew(b.cfg.MaxClockSkew))
	}
	ok, _, err := service.VerifyAPREQ(&apReq, service.NewSettings(b.keytab.Keytab(), opts...))
	if err != nil {
		return &validationError{err: err}
	}
	if !ok {
		return &validationError{err: errors.New("AP-REQ rejected")}
	}
	return nil
}

// run executes fn, giving up after the configured timeout or when ctx ends.
// fn keeps running in the background after a timeout; gokrb5 exchanges are
// not cancellable.
func (b *Backend) run(ctx context.Context, fn func() error) error {
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &provider.Error{Major: provider.MajorTimeout, Message: "KDC did not answer in time"}
		}
		return ctx.Err()
	}
}

// validationError marks a TGT that did not validate against the keytab.
type validationError struct {
	err error
}

func (e *validationError) Error() string { return "TGT validation failed: " + e.err.Error() }
func (e *validationError) Unwrap() error { return e.err }

// classify maps a KDC exchange result to a PAM status. Errors that say
// nothing about the user come back as a provider error.
func classify(err error) (pam.Status, error) {
	if err == nil {
		return pam.StatusSuccess, nil
	}

	var pe *provider.Error
	if errors.As(err, &pe) {
		return 0, pe
	}
	if errors.Is(err, context.Canceled) {
		return 0, err
	}

	var verr *validationError
	if errors.As(err, &verr) {
		logger.Warn("Kerberos TGT validation failed", logger.Err(err))
		return pam.StatusAuthErr, nil
	}

	if code, ok := kdcErrorCode(err); ok {
		switch code {
		case errorcode.KDC_ERR_PREAUTH_FAILED, errorcode.KRB_AP_ERR_BAD_INTEGRITY:
			return pam.StatusAuthErr, nil
		case errorcode.KDC_ERR_C_PRINCIPAL_UNKNOWN:
			return pam.StatusUserUnknown, nil
		case errorcode.KDC_ERR_KEY_EXPIRED:
			return pam.StatusNewAuthtokReqd, nil
		case errorcode.KDC_ERR_CLIENT_REVOKED:
			return pam.StatusPermDenied, nil
		case errorcode.KDC_ERR_POLICY:
			return pam.StatusAuthtokErr, nil
		}
	}

	var kerr krberror.Krberror
	if errors.As(err, &kerr) && kerr.RootCause == krberror.NetworkingError {
		return 0, provider.Offline(err.Error())
	}
	return 0, provider.Fatal(0, err.Error())
}

// kdcErrorCode extracts the KRB-ERROR code from err. gokrb5 often flattens
// the KRB-ERROR into the message text, so the code name is also matched
// there.
func kdcErrorCode(err error) (int32, bool) {
	var krbErr messages.KRBError
	if errors.As(err, &krbErr) {
		return krbErr.ErrorCode, true
	}
	var krbErrPtr *messages.KRBError
	if errors.As(err, &krbErrPtr) {
		return krbErrPtr.ErrorCode, true
	}

	msg := err.Error()
	for _, code := range []int32{
		errorcode.KDC_ERR_PREAUTH_FAILED,
		errorcode.KRB_AP_ERR_BAD_INTEGRITY,
		errorcode.KDC_ERR_C_PRINCIPAL_UNKNOWN,
		errorcode.KDC_ERR_KEY_EXPIRED,
		errorcode.KDC_ERR_CLIENT_REVOKED,
		errorcode.KDC_ERR_POLICY,
	} {
		if strings.Contains(msg, errorcode.Lookup(code)) {
			return code, true
		}
	}
	return 0, false
}

func tokenType(tok authtok.Token) string {
	if tok == nil {
		return authtok.TypeEmpty.String()
	}
	return tok.Type().String()
}
