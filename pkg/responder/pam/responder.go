// Package pam is the PAM responder: it turns a decoded PAM request into a
// reply by resolving the user's domain, refreshing the cached identity from
// the provider when needed, choosing between cached, provider and local
// authentication, and assembling the filtered response.
//
// Each request is an authRequest driven through the stages listed in State.
// Stages that wait on a provider, the certificate helper or the reply delay
// return immediately and resume from the goroutine that completes the wait;
// the request's provider.Handle makes sure nothing resumes once the client
// has gone.
package pam

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittopam/internal/logger"
	wire "github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/pkg/cache/ttl"
	"github.com/marmos91/dittopam/pkg/certhelper"
	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/metrics"
	"github.com/marmos91/dittopam/pkg/negcache"
	"github.com/marmos91/dittopam/pkg/provider"
)

// DefaultIDTimeout is how long a provider refresh of a user is trusted
// before the next PAM request triggers another one.
const DefaultIDTimeout = 5 * time.Second

// Config is the responder policy.
type Config struct {
	Verbosity wire.Verbosity

	// AccountExpiredMessage is appended to the account-expired notice.
	AccountExpiredMessage string

	// TrustedUIDs may query any domain. Empty trusts every uid; root is
	// always trusted.
	TrustedUIDs []uint32

	// PublicDomains may be queried by untrusted callers.
	PublicDomains []string

	// CertAuth enables smartcard authentication through the certificate
	// helper.
	CertAuth bool

	// IDTimeout bounds how often a user is refreshed from the provider.
	IDTimeout time.Duration

	// Offline limits authentication against cached credentials.
	Offline identity.Policy
}

// Deps are the collaborators of the responder. Certs and Metrics may be nil.
type Deps struct {
	Domains    *domain.Registry
	Store      identity.Store
	NegCache   *negcache.Cache
	Dispatcher *provider.Dispatcher
	Certs      certhelper.Extractor
	Metrics    metrics.PAMMetrics

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Client describes the peer that sent a request.
type Client struct {
	UID          uint32
	PID          int32
	Privileged   bool
	ConnectionID string
}

// Reply is the outcome of one request. Err is set when the connection must
// be closed instead of answered.
type Reply struct {
	Command wire.Command
	Status  wire.Status
	Body    []byte
	Err     error
}

// Responder services PAM requests. It is safe for concurrent use.
type Responder struct {
	cfg Config

	// verbosity shadows cfg.Verbosity so it can change at runtime.
	verbosity atomic.Int32

	domains  *domain.Registry
	store    identity.Store
	negcache *negcache.Cache
	disp     *provider.Dispatcher
	certs    certhelper.Extractor
	metrics  metrics.PAMMetrics
	now      func() time.Time

	// refreshed records logon names recently refreshed from a provider.
	refreshed *ttl.Table[string]
}

// New builds a responder.
func New(cfg Config, deps Deps) (*Responder, error) {
	if deps.Domains == nil || deps.Store == nil || deps.NegCache == nil || deps.Dispatcher == nil {
		return nil, errors.New("pam responder: domains, store, negative cache and dispatcher are required")
	}
	if cfg.CertAuth && deps.Certs == nil {
		return nil, errors.New("pam responder: certificate authentication needs a certificate helper")
	}
	if cfg.IDTimeout <= 0 {
		cfg.IDTimeout = DefaultIDTimeout
	}
	if cfg.Verbosity < wire.VerbosityNone || cfg.Verbosity > wire.VerbosityDebug {
		return nil, fmt.Errorf("pam responder: invalid verbosity %d", cfg.Verbosity)
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	r := &Responder{
		cfg:       cfg,
		domains:   deps.Domains,
		store:     deps.Store,
		negcache:  deps.NegCache,
		disp:      deps.Dispatcher,
		certs:     deps.Certs,
		metrics:   deps.Metrics,
		now:       now,
		refreshed: ttl.New[string](cfg.IDTimeout, ttl.WithClock(now)),
	}
	r.verbosity.Store(int32(cfg.Verbosity))
	return r, nil
}

// SetVerbosity changes the response verbosity for requests answered from
// now on.
func (r *Responder) SetVerbosity(v wire.Verbosity) error {
	if v < wire.VerbosityNone || v > wire.VerbosityDebug {
		return fmt.Errorf("pam responder: invalid verbosity %d", v)
	}
	r.verbosity.Store(int32(v))
	return nil
}

// Verbosity returns the current response verbosity.
func (r *Responder) Verbosity() wire.Verbosity {
	return wire.Verbosity(r.verbosity.Load())
}

// Handle services one request frame. done is called exactly once with the
// reply, possibly from another goroutine, unless h is invalidated first, in
// which case it is not called at all.
func (r *Responder) Handle(h *provider.Handle, client Client, version int, cmd wire.Command, body []byte, done func(Reply)) {
	a := r.newRequest(h, client, cmd, done)
	metrics.RecordRequestStart(r.metrics, cmd.String())

	a.enter(StateParsing)
	pd, err := wire.Decode(version, cmd, body)
	if err != nil {
		logger.WarnCtx(a.ctx, "Rejecting PAM request", logger.Version(version), logger.Err(err))
		a.pd = &wire.Request{Command: cmd}
		a.finish(wire.StatusSystemErr)
		return
	}
	a.attach(pd)
	a.forward()
}

// ForgetRefresh drops the recently-refreshed mark of logonName so that the
// next request for it goes to the provider.
func (r *Responder) ForgetRefresh(logonName string) {
	r.refreshed.Invalidate(logonName)
}

// ResetCaches drops all non-permanent negative cache entries and every
// recently-refreshed mark.
func (r *Responder) ResetCaches() {
	r.negcache.Reset()
	r.refreshed.InvalidateAll(false)
}

// CacheStats reports the state of the process-wide caches.
type CacheStats struct {
	NegativeCache ttl.Stats `json:"negative_cache"`
	Refreshed     ttl.Stats `json:"refreshed"`
}

// Stats returns cache statistics.
func (r *Responder) Stats() CacheStats {
	return CacheStats{NegativeCache: r.negcache.Stats(), Refreshed: r.refreshed.Stats()}
}

// Domains returns the domain registry.
func (r *Responder) Domains() *domain.Registry {
	return r.domains
}

func (r *Responder) isTrusted(c Client) bool {
	if c.UID == 0 || c.Privileged || len(r.cfg.TrustedUIDs) == 0 {
		return true
	}
	return slices.Contains(r.cfg.TrustedUIDs, c.UID)
}

func (r *Responder) isPublic(d *domain.Domain) bool {
	return slices.ContainsFunc(r.cfg.PublicDomains, func(p string) bool {
		return strings.EqualFold(p, d.Name)
	})
}

func newRequestID() string {
	return uuid.NewString()
}
