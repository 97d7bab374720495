// Package refresh keeps cached identity records warm. On a cron schedule it
// lists the records about to expire and asks their provider to refresh them,
// so that interactive logins rarely wait on a provider round trip.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marmos91/dittopam/internal/logger"
	"github.com/marmos91/dittopam/internal/telemetry"
	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/provider"
)

const (
	// DefaultSchedule runs a pass every five minutes.
	DefaultSchedule = "@every 5m"

	// DefaultWindow refreshes records expiring within the next ten minutes.
	DefaultWindow = 10 * time.Minute

	// DefaultConcurrency bounds provider calls in flight during a pass.
	DefaultConcurrency = 4
)

// Config configures the refresher.
type Config struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	Schedule    string        `mapstructure:"schedule" yaml:"schedule,omitempty"`
	Window      time.Duration `mapstructure:"window" yaml:"window,omitempty" validate:"min=0"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency,omitempty" validate:"min=0"`
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
}

// Refresher is the background refresh loop.
type Refresher struct {
	cfg        Config
	schedule   cron.Schedule
	store      identity.Store
	domains    *domain.Registry
	dispatcher *provider.Dispatcher
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Result summarizes one pass.
type Result struct {
	Refreshed int
	Failed    int
	Skipped   int
}

// New validates the schedule and creates a stopped Refresher.
func New(cfg Config, store identity.Store, domains *domain.Registry, d *provider.Dispatcher) (*Refresher, error) {
	cfg.ApplyDefaults()
	sched, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("refresh: invalid schedule %q: %w", cfg.Schedule, err)
	}
	return &Refresher{
		cfg:        cfg,
		schedule:   sched,
		store:      store,
		domains:    domains,
		dispatcher: d,
		now:        time.Now,
	}, nil
}

// Start runs passes on the schedule until ctx is cancelled or Stop is
// called. Calling Start on a running Refresher does nothing.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	logger.Info("Background refresh started", "schedule", r.cfg.Schedule, "window", r.cfg.Window)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			next := r.schedule.Next(r.now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-loopCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
				res, err := r.RunOnce(loopCtx)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						logger.Warn("Background refresh pass failed", logger.Err(err))
					}
					continue
				}
				if res.Refreshed+res.Failed > 0 {
					logger.Info("Background refresh pass finished",
						"refreshed", res.Refreshed, "failed", res.Failed, "skipped", res.Skipped)
				}
			}
		}
	}()
}

// Stop ends the loop and waits for the pass in progress.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
}

// RunOnce refreshes every record expiring within the window and waits for
// the provider calls to finish.
func (r *Refresher) RunOnce(ctx context.Context) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanRefreshRun)
	defer span.End()

	var res Result
	before := r.now().Add(r.cfg.Window).Unix()
	recs, err := r.store.ListExpiring(ctx, before)
	if err != nil {
		return res, fmt.Errorf("list expiring records: %w", err)
	}

	h := provider.NewHandle(ctx)
	h.SetParentSpan(span.SpanContext())
	defer h.Invalidate()

	// Completions arrive on dispatcher goroutines; they are counted here so
	// that a cancelled pass can return without waiting for them.
	results := make(chan error, len(recs))
	inflight := 0
	collect := func(ctx context.Context) error {
		select {
		case err := <-results:
			inflight--
			if err != nil {
				res.Failed++
				logger.Debug("Background refresh failed", logger.Err(err))
			} else {
				res.Refreshed++
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, rec := range recs {
		dom, err := r.domains.Get(rec.Domain)
		if err != nil || dom.Provider == "" {
			res.Skipped++
			continue
		}
		for inflight >= r.cfg.Concurrency {
			if err := collect(ctx); err != nil {
				return res, err
			}
		}

		inflight++
		name := rec.Name
		r.dispatcher.RefreshAccount(h, dom, name, false, func(err error) {
			if err != nil {
				err = fmt.Errorf("%s in %s: %w", name, dom.Name, err)
			}
			results <- err
		})
	}
	for inflight > 0 {
		if err := collect(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}
