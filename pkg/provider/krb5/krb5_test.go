package krb5

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/krberror"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/pkg/authtok"
	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/identity/store/memory"
	"github.com/marmos91/dittopam/pkg/provider"
)

const testRealm = "EXAMPLE.ORG"

var testNow = time.Unix(1_700_000_000, 0)

// fakeKDC answers logins from a password table.
type fakeKDC struct {
	mu        sync.Mutex
	passwords map[string]string
	loginErr  map[string]error
	changeOK  bool
	changed   map[string]string
	block     chan struct{}

	// ticket is returned by GetServiceTicket.
	ticket    messages.Ticket
	ticketKey types.EncryptionKey
	ticketErr error
}

func newFakeKDC() *fakeKDC {
	return &fakeKDC{
		passwords: map[string]string{"alice": "secret"},
		loginErr:  map[string]error{},
		changeOK:  true,
		changed:   map[string]string{},
	}
}

type fakeClient struct {
	kdc            *fakeKDC
	user, password string
}

func kdcError(code int32) error {
	return krberror.Errorf(messages.KRBError{ErrorCode: code}, krberror.KDCError, "AS Exchange Error")
}

func (c *fakeClient) Login() error {
	if c.kdc.block != nil {
		<-c.kdc.block
	}
	c.kdc.mu.Lock()
	defer c.kdc.mu.Unlock()
	if err, ok := c.kdc.loginErr[c.user]; ok {
		return err
	}
	pw, ok := c.kdc.passwords[c.user]
	if !ok {
		return kdcError(errorcode.KDC_ERR_C_PRINCIPAL_UNKNOWN)
	}
	if pw != c.password {
		return kdcError(errorcode.KDC_ERR_PREAUTH_FAILED)
	}
	return nil
}

func (c *fakeClient) ChangePasswd(newPasswd string) (bool, error) {
	if err := c.Login(); err != nil {
		return false, err
	}
	c.kdc.mu.Lock()
	defer c.kdc.mu.Unlock()
	if !c.kdc.changeOK {
		return false, nil
	}
	c.kdc.changed[c.user] = newPasswd
	return true, nil
}

func (c *fakeClient) GetServiceTicket(string) (messages.Ticket, types.EncryptionKey, error) {
	return c.kdc.ticket, c.kdc.ticketKey, c.kdc.ticketErr
}

func (c *fakeClient) Principal() (types.PrincipalName, string) {
	return types.NewPrincipalName(nametype.KRB_NT_PRINCIPAL, c.user), testRealm
}

func (c *fakeClient) Destroy() {}

func testConfig() Config {
	return Config{
		Realm: testRealm,
		KDCs:  []string{"127.0.0.1:88"},
		Identities: []StaticIdentity{
			{Principal: "alice@EXAMPLE.ORG", UID: 1001, GID: 100, Aliases: []string{"al"}},
			{Principal: "carol", UID: 1003, GID: 100},
			{Principal: "dave@OTHER.ORG", UID: 1004, GID: 100},
		},
	}
}

func newTestBackend(t *testing.T, cfg Config, kdc *fakeKDC) (*Backend, *memory.Store) {
	t.Helper()
	t.Setenv("DITTOPAM_KRB5_KEYTAB", "")
	store := memory.New()
	b, err := New(cfg, store, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	b.newClient = func(user, realm, password string) kdcClient {
		assert.Equal(t, testRealm, realm)
		return &fakeClient{kdc: kdc, user: user, password: password}
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, store
}

func testDomain() *domain.Domain {
	return &domain.Domain{Name: "corp", Provider: DefaultName, EntryCacheTimeout: time.Hour}
}

func pwRequest(cmd pam.Command, user, password string) *pam.Request {
	req := &pam.Request{Command: cmd, User: user, Domain: "corp", AuthTok: authtok.Empty{}}
	if password != "" {
		req.AuthTok = authtok.Password{Secret: []byte(password)}
	}
	return req
}

func TestRefreshAccountStoresIdentity(t *testing.T) {
	b, store := newTestBackend(t, testConfig(), newFakeKDC())
	ctx := t.Context()

	require.NoError(t, b.RefreshAccount(ctx, testDomain(), "alice", false))

	rec, err := store.GetUser(ctx, "corp", "al")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Name)
	assert.Equal(t, "alice@EXAMPLE.ORG", rec.UPN)
	assert.Equal(t, uint32(1001), rec.UID)
	assert.Equal(t, uint32(100), rec.GID)
	assert.Equal(t, []string{"al"}, rec.Aliases)
	assert.Equal(t, testNow.Add(time.Hour).Unix(), rec.CacheExpire)
}

func TestRefreshAccountKeepsCachedState(t *testing.T) {
	b, store := newTestBackend(t, testConfig(), newFakeKDC())
	ctx := t.Context()
	require.NoError(t, store.PutUser(ctx, &identity.Record{
		Name: "alice", Domain: "corp", UID: 1, CachedPassword: "hash", LastLogin: 42,
	}))

	dom := testDomain()
	dom.EntryCacheTimeout = 0
	require.NoError(t, b.RefreshAccount(ctx, dom, "ALICE", false))

	rec, err := store.GetUser(ctx, "corp", "alice")
	require.NoError(t, err)
	assert.Equal(t, uint32(1001), rec.UID)
	assert.Equal(t, "hash", rec.CachedPassword)
	assert.Equal(t, int64(42), rec.LastLogin)
	assert.Equal(t, testNow.Add(DefaultEntryCacheTimeout).Unix(), rec.CacheExpire)
}

func TestRefreshAccountByUPN(t *testing.T) {
	b, store := newTestBackend(t, testConfig(), newFakeKDC())
	ctx := t.Context()

	require.NoError(t, b.RefreshAccount(ctx, testDomain(), "carol@example.org", true))
	rec, err := store.GetUserByUPN(ctx, "corp", "carol@EXAMPLE.ORG")
	require.NoError(t, err)
	assert.Equal(t, "carol", rec.Name)

	// Another realm is not served, and identities keyed by it are ignored.
	require.NoError(t, b.RefreshAccount(ctx, testDomain(), "dave@OTHER.ORG", true))
	require.NoError(t, b.RefreshAccount(ctx, testDomain(), "dave", false))
	recs, err := store.ListUsers(ctx, "corp")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRefreshAccountRemovesUnknown(t *testing.T) {
	b, store := newTestBackend(t, testConfig(), newFakeKDC())
	ctx := t.Context()
	require.NoError(t, store.PutUser(ctx, &identity.Record{Name: "bob", Domain: "corp", UID: 1002}))

	require.NoError(t, b.RefreshAccount(ctx, testDomain(), "bob", false))
	_, err := store.GetUser(ctx, "corp", "bob")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)

	// Nothing to remove is fine too.
	assert.NoError(t, b.RefreshAccount(ctx, testDomain(), "nobody", false))
}

func TestRefreshAccountMapUnknown(t *testing.T) {
	cfg := testConfig()
	cfg.MapUnknown = true
	cfg.DefaultUID = 65534
	cfg.DefaultGID = 65533
	b, store := newTestBackend(t, cfg, newFakeKDC())
	ctx := t.Context()

	require.NoError(t, b.RefreshAccount(ctx, testDomain(), "eve", false))
	rec, err := store.GetUser(ctx, "corp", "eve")
	require.NoError(t, err)
	assert.Equal(t, uint32(65534), rec.UID)
	assert.Equal(t, uint32(65533), rec.GID)
	assert.Equal(t, "eve@EXAMPLE.ORG", rec.UPN)
}

func TestRefreshDomainsIsEmpty(t *testing.T) {
	b, _ := newTestBackend(t, testConfig(), newFakeKDC())
	subs, err := b.RefreshDomains(t.Context(), testDomain())
	assert.NoError(t, err)
	assert.Empty(t, subs)
}

func TestAuthenticateStatus(t *testing.T) {
	tests := []struct {
		name     string
		cmd      pam.Command
		user     string
		password string
		loginErr error
		want     pam.Status
	}{
		{"Success", pam.CmdAuthenticate, "alice", "secret", nil, pam.StatusSuccess},
		{"WrongPassword", pam.CmdAuthenticate, "alice", "wrong", nil, pam.StatusAuthErr},
		{"UnknownPrincipal", pam.CmdAuthenticate, "mallory", "secret", nil, pam.StatusUserUnknown},
		{"NoPassword", pam.CmdAuthenticate, "alice", "", nil, pam.StatusAuthErr},
		{"Expired", pam.CmdAuthenticate, "alice", "secret", kdcError(errorcode.KDC_ERR_KEY_EXPIRED), pam.StatusNewAuthtokReqd},
		{"ExpiredDuringPrelim", pam.CmdChauthtokPrelim, "alice", "secret", kdcError(errorcode.KDC_ERR_KEY_EXPIRED), pam.StatusSuccess},
		{"Revoked", pam.CmdAuthenticate, "alice", "secret", kdcError(errorcode.KDC_ERR_CLIENT_REVOKED), pam.StatusPermDenied},
		{"Prelim", pam.CmdChauthtokPrelim, "alice", "secret", nil, pam.StatusSuccess},
		{"AcctMgmtKnown", pam.CmdAcctMgmt, "alice", "", nil, pam.StatusSuccess},
		{"AcctMgmtUnknown", pam.CmdAcctMgmt, "mallory", "", nil, pam.StatusUserUnknown},
		{"OpenSession", pam.CmdOpenSession, "alice", "", nil, pam.StatusSuccess},
		{"Preauth", pam.CmdPreauth, "alice", "", nil, pam.StatusSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kdc := newFakeKDC()
			if tt.loginErr != nil {
				kdc.loginErr[tt.user] = tt.loginErr
			}
			b, _ := newTestBackend(t, testConfig(), kdc)

			res, err := b.Authenticate(t.Context(), testDomain(), pwRequest(tt.cmd, tt.user, tt.password))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
		})
	}
}

func TestAuthenticateUPNUsesUserPart(t *testing.T) {
	b, _ := newTestBackend(t, testConfig(), newFakeKDC())
	req := pwRequest(pam.CmdAuthenticate, "alice@EXAMPLE.ORG", "secret")
	req.NameIsUPN = true

	res, err := b.Authenticate(t.Context(), testDomain(), req)
	require.NoError(t, err)
	assert.Equal(t, pam.StatusSuccess, res.Status)
}

func TestAuthenticateKDCUnreachable(t *testing.T) {
	kdc := newFakeKDC()
	kdc.loginErr["alice"] = krberror.Errorf(errors.New("dial tcp 127.0.0.1:88: connection refused"),
		krberror.NetworkingError, "error sending to KDC")
	b, _ := newTestBackend(t, testConfig(), kdc)

	res, err := b.Authenticate(t.Context(), testDomain(), pwRequest(pam.CmdAuthenticate, "alice", "secret"))
	assert.Nil(t, res)
	assert.True(t, provider.IsOffline(err))
}

func TestAuthenticateUnclassifiedErrorIsFatal(t *testing.T) {
	kdc := newFakeKDC()
	kdc.loginErr["alice"] = errors.New("asn1: structure error")
	b, _ := newTestBackend(t, testConfig(), kdc)

	_, err := b.Authenticate(t.Context(), testDomain(), pwRequest(pam.CmdAuthenticate, "alice", "secret"))
	var pe *provider.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.MajorFatal, pe.Major)
}

func TestAuthenticateTimeout(t *testing.T) {
	kdc := newFakeKDC()
	kdc.block = make(chan struct{})
	defer close(kdc.block)
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	b, _ := newTestBackend(t, cfg, kdc)

	_, err := b.Authenticate(t.Context(), testDomain(), pwRequest(pam.CmdAuthenticate, "alice", "secret"))
	var pe *provider.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.MajorTimeout, pe.Major)
	assert.True(t, provider.IsOffline(err))
}

func TestAuthenticateCancelled(t *testing.T) {
	kdc := newFakeKDC()
	kdc.block = make(chan struct{})
	defer close(kdc.block)
	b, _ := newTestBackend(t, testConfig(), kdc)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := b.Authenticate(ctx, testDomain(), pwRequest(pam.CmdAuthenticate, "alice", "secret"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChangePassword(t *testing.T) {
	kdc := newFakeKDC()
	b, _ := newTestBackend(t, testConfig(), kdc)

	req := pwRequest(pam.CmdChauthtok, "alice", "secret")
	req.NewAuthTok = authtok.Password{Secret: []byte("n3w-secret")}
	res, err := b.Authenticate(t.Context(), testDomain(), req)
	require.NoError(t, err)
	assert.Equal(t, pam.StatusSuccess, res.Status)
	assert.Equal(t, "n3w-secret", kdc.changed["alice"])

	kdc.changeOK = false
	res, err = b.Authenticate(t.Context(), testDomain(), req)
	require.NoError(t, err)
	assert.Equal(t, pam.StatusAuthtokErr, res.Status)

	req.NewAuthTok = authtok.Empty{}
	res, err = b.Authenticate(t.Context(), testDomain(), req)
	require.NoError(t, err)
	assert.Equal(t, pam.StatusAuthtokErr, res.Status)

	wrongOld := pwRequest(pam.CmdChauthtok, "alice", "wrong")
	wrongOld.NewAuthTok = authtok.Password{Secret: []byte("n3w-secret")}
	res, err = b.Authenticate(t.Context(), testDomain(), wrongOld)
	require.NoError(t, err)
	assert.Equal(t, pam.StatusAuthErr, res.Status)
}

const validatePrincipal = "host/server.example.org"

func writeKeytab(t *testing.T, dir, password string) (string, *keytab.Keytab) {
	t.Helper()
	kt := keytab.New()
	require.NoError(t, kt.AddEntry(validatePrincipal, testRealm, password, testNow, 1, etypeID.AES128_CTS_HMAC_SHA1_96))
	data, err := kt.Marshal()
	require.NoError(t, err)
	path := filepath.Join(dir, "krb5.keytab")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path, kt
}

// issueTicket plays the KDC: it encrypts a service ticket for alice with the
// key in kt.
func issueTicket(t *testing.T, kdc *fakeKDC, kt *keytab.Keytab) {
	t.Helper()
	now := time.Now().UTC()
	tkt, key, err := messages.NewTicket(
		types.NewPrincipalName(nametype.KRB_NT_PRINCIPAL, "alice"), testRealm,
		types.NewPrincipalName(nametype.KRB_NT_SRV_HST, validatePrincipal), testRealm,
		types.NewKrbFlags(), kt, etypeID.AES128_CTS_HMAC_SHA1_96, 1,
		now, now, now.Add(time.Hour), now.Add(time.Hour),
	)
	require.NoError(t, err)
	kdc.ticket, kdc.ticketKey = tkt, key
}

func TestTGTValidation(t *testing.T) {
	dir := t.TempDir()
	path, kt := writeKeytab(t, dir, "host-key")
	kdc := newFakeKDC()
	cfg := testConfig()
	cfg.Keytab = path
	cfg.ValidatePrincipal = validatePrincipal
	b, _ := newTestBackend(t, cfg, kdc)
	require.NotNil(t, b.keytab)

	issueTicket(t, kdc, kt)
	res, err := b.Authenticate(t.Context(), testDomain(), pwRequest(pam.CmdAuthenticate, "alice", "secret"))
	require.NoError(t, err)
	assert.Equal(t, pam.StatusSuccess, res.Status)

	// A ticket sealed with a key the host does not hold comes from a KDC
	// that is not ours.
	rogue := keytab.New()
	require.NoError(t, rogue.AddEntry(validatePrincipal, testRealm, "rogue-key", testNow, 1, etypeID.AES128_CTS_HMAC_SHA1_96))
	issueTicket(t, kdc, rogue)
	res, err = b.Authenticate(t.Context(), testDomain(), pwRequest(pam.CmdAuthenticate, "alice", "secret"))
	require.NoError(t, err)
	assert.Equal(t, pam.StatusAuthErr, res.Status)

	// The password change preflight does not validate.
	res, err = b.Authenticate(t.Context(), testDomain(), pwRequest(pam.CmdChauthtokPrelim, "alice", "secret"))
	require.NoError(t, err)
	assert.Equal(t, pam.StatusSuccess, res.Status)
}

func TestKeytabReload(t *testing.T) {
	dir := t.TempDir()
	path, _ := writeKeytab(t, dir, "first")
	ks, err := openKeytab(path)
	require.NoError(t, err)
	first := ks.Keytab()
	assert.False(t, ks.changed())

	require.NoError(t, os.WriteFile(path, []byte("not a keytab"), 0o600))
	require.NoError(t, os.Chtimes(path, testNow.Add(time.Hour), testNow.Add(time.Hour)))
	assert.True(t, ks.changed())
	assert.Error(t, ks.reload())
	assert.Same(t, first, ks.Keytab())

	writeKeytab(t, dir, "second")
	require.NoError(t, os.Chtimes(path, testNow.Add(2*time.Hour), testNow.Add(2*time.Hour)))
	require.NoError(t, ks.reload())
	assert.NotSame(t, first, ks.Keytab())
	assert.False(t, ks.changed())
}

func TestKeytabWatchPicksUpChanges(t *testing.T) {
	old := keytabPollInterval
	keytabPollInterval = 10 * time.Millisecond
	t.Cleanup(func() { keytabPollInterval = old })

	dir := t.TempDir()
	path, _ := writeKeytab(t, dir, "first")
	ks, err := openKeytab(path)
	require.NoError(t, err)
	first := ks.Keytab()
	go ks.watch()
	defer ks.stop()

	writeKeytab(t, dir, "second")
	require.NoError(t, os.Chtimes(path, testNow.Add(time.Hour), testNow.Add(time.Hour)))
	assert.Eventually(t, func() bool { return ks.Keytab() != first }, 5*time.Second, 10*time.Millisecond)
}

func TestConfigValidate(t *testing.T) {
	_, err := New(Config{}, memory.New())
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Keytab = "/etc/krb5.keytab"
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.KDCs = []string{"kdc.example.org"}
	assert.Error(t, cfg.Validate())

	t.Setenv("DITTOPAM_KRB5_CONF", "")
	assert.Equal(t, DefaultKrb5Conf, resolveKrb5ConfPath(""))
	t.Setenv("DITTOPAM_KRB5_CONF", "/env/krb5.conf")
	assert.Equal(t, "/env/krb5.conf", resolveKrb5ConfPath("/etc/krb5.conf"))
	t.Setenv("DITTOPAM_KRB5_KEYTAB", "/env/keytab")
	assert.Equal(t, "/env/keytab", resolveKeytabPath("/etc/krb5.keytab"))
}
