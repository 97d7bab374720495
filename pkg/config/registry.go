package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/dittopam/internal/logger"
	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/negcache"
	"github.com/marmos91/dittopam/pkg/provider"
	"github.com/marmos91/dittopam/pkg/provider/directory"
	"github.com/marmos91/dittopam/pkg/provider/krb5"
)

// InitializeDomains builds the domain registry from cfg.Domains, keeping
// the configured order.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	reg, err := config.InitializeDomains(cfg)
//	if err != nil {
//	    log.Fatalf("Failed to initialize domains: %v", err)
//	}
func InitializeDomains(cfg *Config) (*domain.Registry, error) {
	if len(cfg.Domains) == 0 {
		return nil, errors.New("no domains configured")
	}

	doms := make([]*domain.Domain, 0, len(cfg.Domains))
	for _, dc := range cfg.Domains {
		doms = append(doms, &domain.Domain{
			Name:              dc.Name,
			Provider:          dc.Provider,
			FQNames:           dc.FullyQualifiedNames,
			CaseSensitive:     dc.CaseSensitive,
			CacheCredentials:  dc.CacheCredentials,
			CachedAuthTimeout: dc.CachedAuthTimeout,
			EntryCacheTimeout: dc.EntryCacheTimeout,
		})
	}

	reg, err := domain.NewRegistry(doms, cfg.PAM.DefaultDomainSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to build domain registry: %w", err)
	}
	logger.Info("Registered domains", "count", len(doms))
	return reg, nil
}

// Providers are the backends opened by InitializeProviders.
type Providers struct {
	Krb5      *krb5.Backend
	Directory *directory.Backend
}

// Close releases every opened backend.
func (p *Providers) Close() error {
	var errs []error
	if p.Krb5 != nil {
		errs = append(errs, p.Krb5.Close())
	}
	if p.Directory != nil {
		errs = append(errs, p.Directory.Close())
	}
	return errors.Join(errs...)
}

// InitializeProviders opens the configured backends that at least one
// domain uses and registers them with d.
func InitializeProviders(cfg *Config, store identity.Store, d *provider.Dispatcher) (*Providers, error) {
	used := make(map[string]bool)
	for _, dc := range cfg.Domains {
		if dc.Provider != "" {
			used[dc.Provider] = true
		}
	}

	p := &Providers{}
	if used[krb5.DefaultName] && cfg.Providers.Krb5 != nil {
		b, err := krb5.New(*cfg.Providers.Krb5, store)
		if err != nil {
			return nil, fmt.Errorf("failed to create krb5 provider: %w", err)
		}
		p.Krb5 = b
		if err := d.Register(b); err != nil {
			_ = p.Close()
			return nil, err
		}
	}

	if used[directory.DefaultName] && cfg.Providers.Directory != nil {
		dir, err := directory.Open(cfg.Providers.Directory)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to open directory: %w", err)
		}
		p.Directory = directory.New(dir, store)
		if err := d.Register(p.Directory); err != nil {
			_ = p.Close()
			return nil, err
		}
	}

	logger.Info("Registered providers", "providers", strings.Join(d.Names(), ","))
	return p, nil
}

// SeedFilterUsers adds permanent negative cache entries for
// pam.filter_users. A bare name is filtered in every domain.
func SeedFilterUsers(cfg *Config, reg *domain.Registry, neg *negcache.Cache) {
	for _, entry := range cfg.PAM.FilterUsers {
		name, domName := entry, ""
		if i := strings.LastIndexByte(entry, '@'); i >= 0 {
			name, domName = entry[:i], entry[i+1:]
		}
		for _, d := range reg.List() {
			if domName != "" && !strings.EqualFold(d.Name, domName) {
				continue
			}
			neg.SetUser(d.Name, d.Canonical(name), true)
		}
	}
}
