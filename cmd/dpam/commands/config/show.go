package config

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/cmd/dpam/cmdutil"
	"github.com/marmos91/dittopam/internal/cli/output"
	"github.com/marmos91/dittopam/pkg/config"
)

var showRedact bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective dittopam configuration, with defaults and
DITTOPAM_* environment overrides applied.

Outputs YAML unless --output json is given. Secrets are redacted unless
--redact=false is passed.

Examples:
  # Show the default config
  dpam config show

  # Show as JSON
  dpam config show --output json

  # Show a specific config file
  dpam config show --config /etc/dittopam/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().BoolVar(&showRedact, "redact", true, "Hide secrets")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(configPathFlag(cmd))
	if err != nil {
		return err
	}
	if showRedact {
		redact(cfg)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, cfg)
	default:
		return output.PrintYAML(os.Stdout, cfg)
	}
}

const redacted = "<redacted>"

// redact blanks the secrets of cfg in place.
func redact(cfg *config.Config) {
	if cfg.API.JWTSecret != "" {
		cfg.API.JWTSecret = redacted
	}
	if pg := cfg.Store.Postgres; pg != nil {
		if _, ok := pg["password"]; ok {
			pg["password"] = redacted
		}
	}
	if d := cfg.Providers.Directory; d != nil && d.Postgres.Password != "" {
		d.Postgres.Password = redacted
	}
}
