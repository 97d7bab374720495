// Package providertest provides a scriptable provider.Backend for tests.
package providertest

import (
	"context"
	"sync"

	"github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/provider"
)

// Call records one invocation of the fake backend.
type Call struct {
	Op      string
	Domain  string
	Name    string
	IsUPN   bool
	Command pam.Command
}

// Backend is a provider.Backend whose answers are set by the test. The zero
// value of each hook succeeds.
type Backend struct {
	BackendName string

	Subdomains []string
	DomainsErr error

	// Account runs on RefreshAccount.
	Account func(ctx context.Context, dom *domain.Domain, name string, isUPN bool) error

	// Auth runs on Authenticate. When nil the result is PAM_SUCCESS.
	Auth func(ctx context.Context, dom *domain.Domain, req *pam.Request) (*provider.AuthResult, error)

	// Gate, if non-nil, is received from before each call proceeds.
	Gate chan struct{}

	mu    sync.Mutex
	calls []Call
}

var _ provider.Backend = (*Backend)(nil)

// New returns a backend named name.
func New(name string) *Backend {
	return &Backend{BackendName: name}
}

func (b *Backend) Name() string { return b.BackendName }

// Calls returns a copy of the recorded invocations.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallCount returns how many times op was invoked.
func (b *Backend) CallCount(op string) int {
	n := 0
	for _, c := range b.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (b *Backend) record(c Call) {
	b.mu.Lock()
	b.calls = append(b.calls, c)
	b.mu.Unlock()
}

func (b *Backend) wait(ctx context.Context) error {
	if b.Gate == nil {
		return nil
	}
	select {
	case <-b.Gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) RefreshDomains(ctx context.Context, dom *domain.Domain) ([]string, error) {
	b.record(Call{Op: provider.OpRefreshDomains, Domain: dom.Name})
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.Subdomains, b.DomainsErr
}

func (b *Backend) RefreshAccount(ctx context.Context, dom *domain.Domain, name string, isUPN bool) error {
	b.record(Call{Op: provider.OpRefreshAccount, Domain: dom.Name, Name: name, IsUPN: isUPN})
	if err := b.wait(ctx); err != nil {
		return err
	}
	if b.Account == nil {
		return nil
	}
	return b.Account(ctx, dom, name, isUPN)
}

func (b *Backend) Authenticate(ctx context.Context, dom *domain.Domain, req *pam.Request) (*provider.AuthResult, error) {
	b.record(Call{Op: provider.OpAuthenticate, Domain: dom.Name, Name: req.User, Command: req.Command})
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	if b.Auth == nil {
		return &provider.AuthResult{Status: pam.StatusSuccess}, nil
	}
	return b.Auth(ctx, dom, req)
}
