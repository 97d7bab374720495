package directory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/pkg/authtok"
	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/identity/store/memory"
	"github.com/marmos91/dittopam/pkg/provider"
)

var testNow = time.Unix(1_700_000_000, 0)

func openTestDirectory(t *testing.T) *Directory {
	t.Helper()
	dir, err := Open(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "directory.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })
	return dir
}

func hash(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func seedAlice(t *testing.T, dir *Directory, mod func(*AccountSpec)) *Account {
	t.Helper()
	spec := AccountSpec{
		Domain:       "corp",
		Username:     "Alice",
		UPN:          "alice@EXAMPLE.ORG",
		PasswordHash: hash(t, "secret"),
		UID:          1001,
		GID:          100,
		Aliases:      []string{"al"},
		Certificates: [][]byte{{0x30, 0x01, 0x02}},
	}
	if mod != nil {
		mod(&spec)
	}
	acct, err := dir.CreateAccount(t.Context(), spec)
	require.NoError(t, err)
	return acct
}

func newTestBackend(t *testing.T) (*Backend, *Directory, *memory.Store) {
	t.Helper()
	dir := openTestDirectory(t)
	store := memory.New()
	return New(dir, store, WithClock(func() time.Time { return testNow })), dir, store
}

func corp() *domain.Domain {
	return &domain.Domain{Name: "corp", Provider: DefaultName, EntryCacheTimeout: time.Hour}
}

func request(cmd pam.Command, user, password string) *pam.Request {
	req := &pam.Request{Command: cmd, User: user, Domain: "corp", AuthTok: authtok.Empty{}}
	if password != "" {
		req.AuthTok = authtok.Password{Secret: []byte(password)}
	}
	return req
}

func TestDirectoryAccounts(t *testing.T) {
	dir := openTestDirectory(t)
	ctx := t.Context()
	created := seedAlice(t, dir, nil)

	acct, err := dir.FindAccount(ctx, "CORP", "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, acct.ID)
	assert.Equal(t, "alice", acct.Username)
	assert.Equal(t, []string{"al"}, acct.AliasNames())
	require.Len(t, acct.Certificates, 1)

	byAlias, err := dir.FindAccount(ctx, "corp", "AL")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byAlias.ID)

	byUPN, err := dir.FindAccountByUPN(ctx, "corp", "ALICE@example.org")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byUPN.ID)

	_, err = dir.FindAccount(ctx, "other", "alice")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = dir.CreateAccount(ctx, AccountSpec{Domain: "corp", Username: "ALICE", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrDuplicateAccount)

	list, err := dir.ListAccounts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, dir.DeleteAccount(ctx, "corp", "al"))
	_, err = dir.FindAccount(ctx, "corp", "alice")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.ErrorIs(t, dir.DeleteAccount(ctx, "corp", "alice"), ErrAccountNotFound)
	assert.ErrorIs(t, dir.SetLocked(ctx, created.ID, true), ErrAccountNotFound)
}

func TestDirectoryDomains(t *testing.T) {
	dir := openTestDirectory(t)
	ctx := t.Context()

	require.NoError(t, dir.CreateDomain(ctx, "corp", ""))
	require.NoError(t, dir.CreateDomain(ctx, "eu.corp", "corp"))
	require.NoError(t, dir.CreateDomain(ctx, "us.corp", "CORP"))
	assert.ErrorIs(t, dir.CreateDomain(ctx, "corp", ""), ErrDuplicateDomain)
	assert.ErrorIs(t, dir.CreateDomain(ctx, "x.lab", "lab"), ErrDomainNotFound)

	subs, err := dir.Subdomains(ctx, "corp")
	require.NoError(t, err)
	assert.Equal(t, []string{"eu.corp", "us.corp"}, subs)

	b := New(dir, memory.New())
	subs, err = b.RefreshDomains(ctx, corp())
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestConfigDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	cfg := &Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, DatabaseTypeSQLite, cfg.Type)
	assert.Equal(t, "/tmp/xdg/dittopam/directory.db", cfg.SQLite.Path)
	assert.NoError(t, cfg.Validate())

	pg := &Config{Type: DatabaseTypePostgres, Postgres: PostgresConfig{Host: "db", Database: "dir", User: "dpam"}}
	pg.ApplyDefaults()
	assert.NoError(t, pg.Validate())
	assert.Equal(t, "host=db port=5432 user=dpam password= dbname=dir sslmode=disable", pg.Postgres.DSN())

	assert.Error(t, (&Config{Type: DatabaseTypePostgres}).Validate())
	assert.Error(t, (&Config{Type: "mysql"}).Validate())
}

func TestRefreshAccount(t *testing.T) {
	b, dir, store := newTestBackend(t)
	ctx := t.Context()
	seedAlice(t, dir, nil)

	require.NoError(t, store.PutUser(ctx, &identity.Record{
		Name: "alice", Domain: "corp", CachedPassword: "cached", FailedLoginAttempts: 2,
	}))
	require.NoError(t, b.RefreshAccount(ctx, corp(), "al", false))

	rec, err := store.GetUser(ctx, "corp", "alice")
	require.NoError(t, err)
	assert.Equal(t, uint32(1001), rec.UID)
	assert.Equal(t, "alice@example.org", rec.UPN)
	assert.Equal(t, []string{"al"}, rec.Aliases)
	assert.Equal(t, [][]byte{{0x30, 0x01, 0x02}}, rec.Certificates)
	assert.Equal(t, testNow.Add(time.Hour).Unix(), rec.CacheExpire)
	assert.Equal(t, "cached", rec.CachedPassword)
	assert.Equal(t, uint32(2), rec.FailedLoginAttempts)

	found, err := store.FindByCertificate(ctx, []byte{0x30, 0x01, 0x02})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestRefreshAccountByUPN(t *testing.T) {
	b, dir, store := newTestBackend(t)
	ctx := t.Context()
	seedAlice(t, dir, nil)

	require.NoError(t, b.RefreshAccount(ctx, corp(), "Alice@Example.org", true))
	rec, err := store.GetUserByUPN(ctx, "corp", "alice@example.org")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Name)

	assert.NoError(t, b.RefreshAccount(ctx, corp(), "nobody@example.org", true))
}

func TestRefreshAccountRemovesDeleted(t *testing.T) {
	b, _, store := newTestBackend(t)
	ctx := t.Context()
	require.NoError(t, store.PutUser(ctx, &identity.Record{Name: "bob", Domain: "corp"}))

	require.NoError(t, b.RefreshAccount(ctx, corp(), "bob", false))
	_, err := store.GetUser(ctx, "corp", "bob")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
}

func TestAuthenticate(t *testing.T) {
	expired := testNow.Add(-time.Hour)
	tests := []struct {
		name     string
		mod      func(*AccountSpec)
		setup    func(t *testing.T, dir *Directory, acct *Account)
		cmd      pam.Command
		user     string
		password string
		want     pam.Status
	}{
		{name: "Success", cmd: pam.CmdAuthenticate, user: "alice", password: "secret", want: pam.StatusSuccess},
		{name: "Alias", cmd: pam.CmdAuthenticate, user: "al", password: "secret", want: pam.StatusSuccess},
		{name: "WrongPassword", cmd: pam.CmdAuthenticate, user: "alice", password: "wrong", want: pam.StatusAuthErr},
		{name: "NoPassword", cmd: pam.CmdAuthenticate, user: "alice", want: pam.StatusAuthErr},
		{name: "Unknown", cmd: pam.CmdAuthenticate, user: "mallory", password: "secret", want: pam.StatusUserUnknown},
		{
			name: "MustChange", cmd: pam.CmdAuthenticate, user: "alice", password: "secret", want: pam.StatusNewAuthtokReqd,
			mod: func(s *AccountSpec) { s.MustChangePassword = true },
		},
		{
			name: "Locked", cmd: pam.CmdAuthenticate, user: "alice", password: "secret", want: pam.StatusPermDenied,
			setup: func(t *testing.T, dir *Directory, acct *Account) {
				require.NoError(t, dir.SetLocked(t.Context(), acct.ID, true))
			},
		},
		{
			name: "Disabled", cmd: pam.CmdAcctMgmt, user: "alice", want: pam.StatusPermDenied,
			setup: func(t *testing.T, dir *Directory, acct *Account) {
				require.NoError(t, dir.SetEnabled(t.Context(), acct.ID, false))
			},
		},
		{name: "AcctMgmt", cmd: pam.CmdAcctMgmt, user: "alice", want: pam.StatusSuccess},
		{
			name: "AcctMgmtExpired", cmd: pam.CmdAcctMgmt, user: "alice", want: pam.StatusAcctExpired,
			mod: func(s *AccountSpec) { s.ExpiresAt = &expired },
		},
		{
			name: "AcctMgmtLocked", cmd: pam.CmdAcctMgmt, user: "alice", want: pam.StatusPermDenied,
			setup: func(t *testing.T, dir *Directory, acct *Account) {
				require.NoError(t, dir.SetLocked(t.Context(), acct.ID, true))
			},
		},
		{name: "Prelim", cmd: pam.CmdChauthtokPrelim, user: "alice", password: "secret", want: pam.StatusSuccess},
		{name: "PrelimWrong", cmd: pam.CmdChauthtokPrelim, user: "alice", password: "nope", want: pam.StatusAuthErr},
		{name: "OpenSession", cmd: pam.CmdOpenSession, user: "mallory", want: pam.StatusSuccess},
		{name: "Preauth", cmd: pam.CmdPreauth, user: "alice", want: pam.StatusSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, dir, _ := newTestBackend(t)
			acct := seedAlice(t, dir, tt.mod)
			if tt.setup != nil {
				tt.setup(t, dir, acct)
			}
			res, err := b.Authenticate(t.Context(), corp(), request(tt.cmd, tt.user, tt.password))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
		})
	}
}

func TestAuthenticateRecordsLastLogin(t *testing.T) {
	b, dir, _ := newTestBackend(t)
	seedAlice(t, dir, nil)

	res, err := b.Authenticate(t.Context(), corp(), request(pam.CmdAuthenticate, "alice", "secret"))
	require.NoError(t, err)
	require.Equal(t, pam.StatusSuccess, res.Status)

	acct, err := dir.FindAccount(t.Context(), "corp", "alice")
	require.NoError(t, err)
	require.NotNil(t, acct.LastLogin)
	assert.Equal(t, testNow.Unix(), acct.LastLogin.Unix())
}

func TestChangePassword(t *testing.T) {
	b, dir, _ := newTestBackend(t)
	ctx := t.Context()
	seedAlice(t, dir, func(s *AccountSpec) { s.MustChangePassword = true })

	change := func(oldPw, newPw string) pam.Status {
		req := request(pam.CmdChauthtok, "alice", oldPw)
		req.NewAuthTok = authtok.Password{Secret: []byte(newPw)}
		res, err := b.Authenticate(ctx, corp(), req)
		require.NoError(t, err)
		return res.Status
	}

	assert.Equal(t, pam.StatusAuthErr, change("wrong", "long-enough-1"))
	assert.Equal(t, pam.StatusAuthtokErr, change("secret", "short"))
	assert.Equal(t, pam.StatusSuccess, change("secret", "long-enough-1"))

	res, err := b.Authenticate(ctx, corp(), request(pam.CmdAuthenticate, "alice", "long-enough-1"))
	require.NoError(t, err)
	assert.Equal(t, pam.StatusSuccess, res.Status)

	res, err = b.Authenticate(ctx, corp(), request(pam.CmdAuthenticate, "alice", "secret"))
	require.NoError(t, err)
	assert.Equal(t, pam.StatusAuthErr, res.Status)
}

func TestClosedDirectoryIsFatal(t *testing.T) {
	b, dir, _ := newTestBackend(t)
	require.NoError(t, dir.Close())

	_, err := b.Authenticate(t.Context(), corp(), request(pam.CmdAuthenticate, "alice", "secret"))
	var pe *provider.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.MajorFatal, pe.Major)
}
