package commands

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/cmd/dpam/cmdutil"
	"github.com/marmos91/dittopam/internal/cli/credentials"
	"github.com/marmos91/dittopam/pkg/api/auth"
	"github.com/marmos91/dittopam/pkg/apiclient"
	"github.com/marmos91/dittopam/pkg/config"
)

var (
	loginContext string
	loginRole    string
	loginTTL     time.Duration
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save control API credentials",
	Long: `Save a control API endpoint and token for the 'dpam cache' commands.

Without --token, a token is issued locally from api.jwt_secret, which
requires read access to the daemon's configuration file. The endpoint
defaults to the api section of that file.

Examples:
  # On the daemon host
  sudo dpam login --config /etc/dittopam/config.yaml

  # From elsewhere, with a token issued by 'dpam token' on the daemon host
  dpam login --server http://idp01:8390 --token eyJhbGciOi... --context idp01`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [context]",
	Short: "Forget saved control API credentials",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

func init() {
	loginCmd.Flags().StringVar(&loginContext, "context", "default", "Name to save the credentials under")
	loginCmd.Flags().StringVar(&loginRole, "role", string(auth.RoleAdmin), "Role of a locally issued token")
	loginCmd.Flags().DurationVar(&loginTTL, "ttl", 0, "Lifetime of a locally issued token (default: api.token_ttl)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	serverURL := cmdutil.Flags.ServerURL
	token := cmdutil.Flags.Token
	var expiresAt time.Time

	if serverURL == "" || token == "" {
		cfg, err := config.Load(GetConfigFile())
		if err != nil {
			return err
		}
		if serverURL == "" {
			serverURL = "http://" + cfg.API.ListenAddr()
		}
		if token == "" {
			tok, err := issueToken(cfg, "dpam-login", auth.Role(loginRole), loginTTL)
			if err != nil {
				return fmt.Errorf("cannot issue a token locally: %w", err)
			}
			token, expiresAt = tok.AccessToken, tok.ExpiresAt
		}
	}

	parsed, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if parsed.Scheme == "" {
		parsed, err = url.Parse("http://" + serverURL)
		if err != nil {
			return fmt.Errorf("invalid server URL: %w", err)
		}
	}
	serverURL = parsed.String()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client := apiclient.New(serverURL).WithToken(token)
	if _, err := client.Stats(ctx); err != nil {
		return fmt.Errorf("login check against %s failed: %w", serverURL, err)
	}

	if err := store.Set(loginContext, &credentials.Context{
		ServerURL: serverURL,
		Token:     token,
		ExpiresAt: expiresAt,
	}); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Printf("Logged in to %s (context %q)\n", serverURL, loginContext)
	if !expiresAt.IsZero() {
		fmt.Printf("Token expires at %s\n", expiresAt.Local().Format(time.RFC1123))
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	name := store.CurrentName()
	if len(args) == 1 {
		name = args[0]
	}
	if name == "" {
		return credentials.ErrNoCurrentContext
	}
	if err := store.Delete(name); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	fmt.Printf("Removed context %q\n", name)
	return nil
}
