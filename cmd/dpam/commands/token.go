package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/cmd/dpam/cmdutil"
	"github.com/marmos91/dittopam/internal/cli/output"
	"github.com/marmos91/dittopam/pkg/api/auth"
	"github.com/marmos91/dittopam/pkg/config"
)

var (
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a control API token",
	Long: `Issue a bearer token for the control API, signed with api.jwt_secret.

Run this on the host that holds the configuration. Viewer tokens can read
domains, users and statistics; admin tokens can also expire records and
reset the negative cache.

Examples:
  # Admin token valid for api.token_ttl
  dpam token

  # Read-only token for a monitoring job, valid for a day
  dpam token --role viewer --subject monitoring --ttl 24h

  # Use it
  curl -H "Authorization: Bearer $(dpam token)" http://127.0.0.1:8390/api/v1/stats`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "dpam", "Token subject, shown in API logs")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(auth.RoleAdmin), "Token role (admin|viewer)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default: api.token_ttl)")
}

func issueToken(cfg *config.Config, subject string, role auth.Role, ttl time.Duration) (*auth.Token, error) {
	if !cfg.API.HasJWTSecret() {
		return nil, fmt.Errorf("api.jwt_secret is not configured")
	}
	svc, err := auth.NewJWTService(auth.JWTConfig{
		Secret:        cfg.API.JWTSecret,
		TokenDuration: cfg.API.TokenTTL,
	})
	if err != nil {
		return nil, err
	}
	return svc.Issue(subject, role, ttl)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	tok, err := issueToken(cfg, tokenSubject, auth.Role(tokenRole), tokenTTL)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(cmdutil.Flags.Output)
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), tok)
	case output.FormatYAML:
		return output.PrintYAML(cmd.OutOrStdout(), tok)
	default:
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
		return nil
	}
}
