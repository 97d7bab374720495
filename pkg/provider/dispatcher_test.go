package provider_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/pkg/authtok"
	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/provider"
	"github.com/marmos91/dittopam/pkg/provider/providertest"
)

var corp = &domain.Domain{Name: "corp.example", Provider: "krb5"}

func newDispatcher(t *testing.T, timeout time.Duration) (*provider.Dispatcher, *providertest.Backend) {
	t.Helper()
	d := provider.NewDispatcher(timeout, nil)
	b := providertest.New("krb5")
	require.NoError(t, d.Register(b))
	return d, b
}

func TestRegisterDuplicate(t *testing.T) {
	d, _ := newDispatcher(t, time.Second)
	assert.Error(t, d.Register(providertest.New("krb5")))
	assert.Equal(t, []string{"krb5"}, d.Names())

	_, err := d.Backend("ldap")
	assert.ErrorIs(t, err, provider.ErrNoBackend)
}

func TestRefreshAccountCompletes(t *testing.T) {
	d, b := newDispatcher(t, time.Second)
	h := provider.NewHandle(t.Context())

	got := make(chan error, 1)
	d.RefreshAccount(h, corp, "alice@CORP.EXAMPLE", true, func(err error) { got <- err })

	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("continuation not called")
	}
	calls := b.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, provider.OpRefreshAccount, calls[0].Op)
	assert.True(t, calls[0].IsUPN)
}

func TestRefreshDomainsReturnsNames(t *testing.T) {
	d, b := newDispatcher(t, time.Second)
	b.Subdomains = []string{"eu.corp.example"}

	got := make(chan []string, 1)
	d.RefreshDomains(provider.NewHandle(t.Context()), corp, func(names []string, err error) {
		assert.NoError(t, err)
		got <- names
	})
	assert.Equal(t, []string{"eu.corp.example"}, <-got)
}

func TestUnknownBackend(t *testing.T) {
	d, _ := newDispatcher(t, time.Second)
	got := make(chan error, 1)
	d.RefreshAccount(provider.NewHandle(t.Context()), &domain.Domain{Name: "x", Provider: "ldap"}, "bob", false,
		func(err error) { got <- err })
	assert.ErrorIs(t, <-got, provider.ErrNoBackend)
}

func TestOrphanedCompletionIsDropped(t *testing.T) {
	d, b := newDispatcher(t, time.Second)
	b.Gate = make(chan struct{})
	h := provider.NewHandle(context.Background())

	called := make(chan struct{}, 1)
	d.RefreshAccount(h, corp, "alice", false, func(error) { called <- struct{}{} })

	h.Invalidate()
	close(b.Gate)
	d.Wait()

	select {
	case <-called:
		t.Fatal("continuation ran after the handle was invalidated")
	default:
	}
	assert.False(t, h.Alive())
}

func TestTimeoutReportsMajorTimeout(t *testing.T) {
	d, b := newDispatcher(t, 20*time.Millisecond)
	b.Gate = make(chan struct{}) // never released

	got := make(chan error, 1)
	d.RefreshAccount(provider.NewHandle(t.Context()), corp, "alice", false, func(err error) { got <- err })

	err := <-got
	var pe *provider.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.MajorTimeout, pe.Major)
	assert.True(t, provider.IsOffline(err))
}

func TestPanicIsTransportFailure(t *testing.T) {
	d, b := newDispatcher(t, time.Second)
	b.Account = func(context.Context, *domain.Domain, string, bool) error { panic("channel closed") }

	got := make(chan error, 1)
	d.RefreshAccount(provider.NewHandle(t.Context()), corp, "alice", false, func(err error) { got <- err })
	assert.ErrorIs(t, <-got, provider.ErrTransport)
}

func TestAuthenticateWorksOnCopy(t *testing.T) {
	d, b := newDispatcher(t, time.Second)
	seen := make(chan []byte, 1)
	b.Auth = func(_ context.Context, _ *domain.Domain, req *pam.Request) (*provider.AuthResult, error) {
		req.AddResponse(pam.RespUserInfo, []byte{1, 2, 3, 4})
		seen <- append([]byte(nil), req.AuthTok.(authtok.Password).Secret...)
		return &provider.AuthResult{Status: pam.StatusAuthErr}, nil
	}

	req := &pam.Request{Command: pam.CmdAuthenticate, User: "alice", AuthTok: authtok.Password{Secret: []byte("pw")}}
	got := make(chan *provider.AuthResult, 1)
	d.Authenticate(provider.NewHandle(t.Context()), corp, req, func(res *provider.AuthResult, err error) {
		assert.NoError(t, err)
		got <- res
	})

	assert.Equal(t, pam.StatusAuthErr, (<-got).Status)
	assert.Equal(t, []byte("pw"), <-seen)
	assert.Empty(t, req.Responses)
	assert.Equal(t, []byte("pw"), req.AuthTok.(authtok.Password).Secret)
}

func TestErrorFormatting(t *testing.T) {
	err := provider.Offline("kdc unreachable")
	assert.Equal(t, "provider error offline/0: kdc unreachable", err.Error())
	assert.True(t, provider.IsOffline(err))
	assert.False(t, provider.IsOffline(provider.Fatal(3, "bad")))
	assert.False(t, provider.IsOffline(errors.New("plain")))
}

func TestHandleFollowsParent(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	h := provider.NewHandle(ctx)
	assert.True(t, h.Alive())
	cancel()
	assert.False(t, h.Alive())
	h.Invalidate()
	h.Invalidate()
}
