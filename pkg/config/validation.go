package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags first and then the rules that span sections.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	var errs []error
	seen := make(map[string]bool, len(cfg.Domains))
	for _, d := range cfg.Domains {
		key := strings.ToLower(d.Name)
		if seen[key] {
			errs = append(errs, fmt.Errorf("domains: duplicate domain %q", d.Name))
		}
		seen[key] = true

		switch d.Provider {
		case "krb5":
			if cfg.Providers.Krb5 == nil {
				errs = append(errs, fmt.Errorf("domains: %q uses provider krb5 but providers.krb5 is not configured", d.Name))
			}
		case "directory":
			if cfg.Providers.Directory == nil {
				errs = append(errs, fmt.Errorf("domains: %q uses provider directory but providers.directory is not configured", d.Name))
			}
		}
	}

	for _, p := range cfg.PAM.PublicDomains {
		if !seen[strings.ToLower(p)] {
			errs = append(errs, fmt.Errorf("pam.public_domains: unknown domain %q", p))
		}
	}
	for _, f := range cfg.PAM.FilterUsers {
		if i := strings.LastIndexByte(f, '@'); i >= 0 && !seen[strings.ToLower(f[i+1:])] {
			errs = append(errs, fmt.Errorf("pam.filter_users: unknown domain in %q", f))
		}
	}
	if cfg.PAM.CertAuth && cfg.PAM.CertHelper.Path == "" {
		errs = append(errs, errors.New("pam.cert_helper.path is required with cert_auth"))
	}
	if cfg.Server.PrivilegedSocketPath != "" && cfg.Server.PrivilegedSocketPath == cfg.Server.SocketPath {
		errs = append(errs, errors.New("server.privileged_socket_path must differ from socket_path"))
	}

	if cfg.Providers.Krb5 != nil {
		if err := cfg.Providers.Krb5.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Providers.Directory != nil {
		if err := cfg.Providers.Directory.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := cfg.API.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
