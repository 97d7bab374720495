// Package directory is a provider backend over a SQL account database.
//
// The directory holds accounts (bcrypt password hash, uid, gid, UPN,
// aliases, mapped certificates, lock and expiry state) and a domain tree.
// It backs small deployments that have no Kerberos realm and is the store
// managed by `dpam user`.
package directory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/marmos91/dittopam/internal/logger"
	"github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/pkg/authtok"
	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/provider"
)

// DefaultName is the provider name the backend registers under.
const DefaultName = "directory"

// Backend implements provider.Backend over a Directory.
type Backend struct {
	name  string
	dir   *Directory
	store identity.Store
	now   func() time.Time
}

var _ provider.Backend = (*Backend)(nil)

// Option customizes a Backend.
type Option func(*Backend)

// WithName overrides the provider name.
func WithName(name string) Option {
	return func(b *Backend) { b.name = name }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates a backend that serves dir and writes refreshed accounts into
// store.
func New(dir *Directory, store identity.Store, opts ...Option) *Backend {
	b := &Backend{name: DefaultName, dir: dir, store: store, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return b.name }

// Directory returns the underlying account database.
func (b *Backend) Directory() *Directory { return b.dir }

// Close closes the directory database.
func (b *Backend) Close() error { return b.dir.Close() }

// RefreshDomains returns the subdomains recorded below dom.
func (b *Backend) RefreshDomains(ctx context.Context, dom *domain.Domain) ([]string, error) {
	subs, err := b.dir.Subdomains(ctx, dom.Name)
	if err != nil {
		return nil, classify(err)
	}
	return subs, nil
}

// RefreshAccount copies the account into the identity store, or removes the
// stored record when the directory no longer has it.
func (b *Backend) RefreshAccount(ctx context.Context, dom *domain.Domain, name string, isUPN bool) error {
	acct, err := b.find(ctx, dom.Name, name, isUPN)
	if errors.Is(err, ErrAccountNotFound) {
		logger.DebugCtx(ctx, "Account not in directory", logger.Domain(dom.Name), logger.User(name), "upn", isUPN)
		if isUPN {
			return nil
		}
		if err := b.store.DeleteUser(ctx, dom.Name, name); err != nil && !errors.Is(err, identity.ErrUserNotFound) {
			return err
		}
		return nil
	}
	if err != nil {
		return classify(err)
	}

	ttl := dom.EntryCacheTimeout
	if ttl <= 0 {
		ttl = DefaultEntryCacheTimeout
	}
	rec := &identity.Record{
		Name:        acct.Username,
		Domain:      dom.Name,
		UPN:         acct.UPN,
		Aliases:     acct.AliasNames(),
		UID:         acct.UID,
		GID:         acct.GID,
		CacheExpire: b.now().Add(ttl).Unix(),
	}
	for _, c := range acct.Certificates {
		rec.Certificates = append(rec.Certificates, c.DER)
	}
	return identity.SaveRefreshed(ctx, b.store, rec)
}

// Authenticate runs the PAM command of req against the account.
func (b *Backend) Authenticate(ctx context.Context, dom *domain.Domain, req *pam.Request) (*provider.AuthResult, error) {
	switch req.Command {
	case pam.CmdSetCred, pam.CmdOpenSession, pam.CmdCloseSession, pam.CmdPreauth:
		return result(pam.StatusSuccess), nil
	case pam.CmdAuthenticate, pam.CmdAcctMgmt, pam.CmdChauthtok, pam.CmdChauthtokPrelim:
	default:
		return result(pam.StatusModuleUnknown), nil
	}

	acct, err := b.find(ctx, dom.Name, req.User, req.NameIsUPN)
	if errors.Is(err, ErrAccountNotFound) {
		return result(pam.StatusUserUnknown), nil
	}
	if err != nil {
		return nil, classify(err)
	}
	if !acct.Enabled {
		logger.InfoCtx(ctx, "Directory account disabled", logger.User(acct.Username), logger.Domain(dom.Name))
		return result(pam.StatusPermDenied), nil
	}

	switch req.Command {
	case pam.CmdAuthenticate:
		return b.authenticate(ctx, acct, req)
	case pam.CmdAcctMgmt:
		return b.accountStatus(acct), nil
	case pam.CmdChauthtokPrelim:
		if !checkPassword(acct, req.AuthTok) {
			return result(pam.StatusAuthErr), nil
		}
		return result(pam.StatusSuccess), nil
	default:
		return b.changePassword(ctx, acct, req)
	}
}

func (b *Backend) authenticate(ctx context.Context, acct *Account, req *pam.Request) (*provider.AuthResult, error) {
	if acct.Locked {
		return result(pam.StatusPermDenied), nil
	}
	if !checkPassword(acct, req.AuthTok) {
		logger.DebugCtx(ctx, "Directory password mismatch", logger.User(acct.Username))
		return result(pam.StatusAuthErr), nil
	}
	if err := b.dir.UpdateLastLogin(ctx, acct.ID, b.now()); err != nil {
		logger.WarnCtx(ctx, "Failed to record last login", logger.User(acct.Username), logger.Err(err))
	}
	if acct.MustChangePassword {
		return result(pam.StatusNewAuthtokReqd), nil
	}
	return result(pam.StatusSuccess), nil
}

func (b *Backend) accountStatus(acct *Account) *provider.AuthResult {
	switch {
	case acct.Expired(b.now()):
		return result(pam.StatusAcctExpired)
	case acct.Locked:
		return result(pam.StatusPermDenied)
	case acct.MustChangePassword:
		return result(pam.StatusNewAuthtokReqd)
	default:
		return result(pam.StatusSuccess)
	}
}

func (b *Backend) changePassword(ctx context.Context, acct *Account, req *pam.Request) (*provider.AuthResult, error) {
	if !checkPassword(acct, req.AuthTok) {
		return result(pam.StatusAuthErr), nil
	}
	newPw, ok := req.NewAuthTok.(authtok.Password)
	if !ok {
		return result(pam.StatusAuthtokErr), nil
	}
	if err := identity.ValidatePassword(string(newPw.Secret)); err != nil {
		logger.InfoCtx(ctx, "New password rejected", logger.User(acct.Username), logger.Err(err))
		return result(pam.StatusAuthtokErr), nil
	}
	hash, err := identity.HashPassword(newPw.Secret)
	if err != nil {
		return result(pam.StatusAuthtokErr), nil
	}
	if err := b.dir.SetPassword(ctx, acct.ID, hash, false); err != nil {
		return nil, classify(err)
	}
	logger.InfoCtx(ctx, "Directory password changed", logger.User(acct.Username), logger.Domain(acct.Domain))
	return result(pam.StatusSuccess), nil
}

func (b *Backend) find(ctx context.Context, domainName, name string, isUPN bool) (*Account, error) {
	if isUPN {
		return b.dir.FindAccountByUPN(ctx, domainName, name)
	}
	return b.dir.FindAccount(ctx, domainName, name)
}

func checkPassword(acct *Account, tok authtok.Token) bool {
	pw, ok := tok.(authtok.Password)
	if !ok {
		return false
	}
	return identity.VerifyPassword(pw.Secret, acct.PasswordHash)
}

func result(st pam.Status) *provider.AuthResult {
	return &provider.AuthResult{Status: st}
}

// classify turns a database failure into a provider error. Losing the
// connection makes the directory offline; anything else is fatal.
func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return provider.Offline(err.Error())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return provider.Fatal(0, err.Error())
}
