package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the dittopam configuration file.

Checks for syntax errors, missing required fields, and invalid values,
then warns about settings that load but are unlikely to be intended.

Examples:
  # Validate default config
  dpam config validate

  # Validate specific config file
  dpam config validate --config /etc/dittopam/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath := configPathFlag(cmd)

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := lint(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Socket:          %s\n", cfg.Server.SocketPath)
	_, _ = fmt.Fprintf(out, "  Domains:         %d\n", len(cfg.Domains))
	_, _ = fmt.Fprintf(out, "  Store type:      %s\n", cfg.Store.Type)
	_, _ = fmt.Fprintf(out, "  Verbosity:       %d\n", cfg.PAM.Verbosity)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	if cfg.API.Enabled {
		_, _ = fmt.Fprintf(out, "  API address:     %s\n", cfg.API.ListenAddr())
	}

	return nil
}

// lint returns warnings for a configuration that passed validation.
func lint(cfg *config.Config) []string {
	var warnings []string

	if len(cfg.Domains) == 0 {
		warnings = append(warnings, "no domains configured - every request will be answered with PAM_USER_UNKNOWN")
	}
	if cfg.API.Enabled && !cfg.API.HasJWTSecret() {
		warnings = append(warnings, "API enabled without a JWT secret - every API call will be rejected")
	}
	if cfg.PAM.CertAuth && cfg.PAM.CertHelper.Path == "" {
		warnings = append(warnings, "cert_auth enabled without cert_helper.path - smartcard logins will fail")
	}
	if cfg.Store.Type == "memory" {
		for _, d := range cfg.Domains {
			if d.CacheCredentials {
				warnings = append(warnings, fmt.Sprintf("domain %s caches credentials in a memory store - they are lost on restart", d.Name))
			}
		}
	}
	for _, d := range cfg.Domains {
		if d.CachedAuthTimeout > 0 && !d.CacheCredentials {
			warnings = append(warnings, fmt.Sprintf("domain %s sets cached_auth_timeout without cache_credentials - it has no effect", d.Name))
		}
	}
	if cfg.Refresh.Enabled && cfg.Providers.Krb5 == nil && cfg.Providers.Directory == nil {
		warnings = append(warnings, "refresh enabled without any provider - there is nothing to refresh from")
	}

	return warnings
}
