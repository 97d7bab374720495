// Package user implements directory account commands for dpam. They talk
// to the directory database directly and need no running daemon.
package user

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/pkg/config"
	"github.com/marmos91/dittopam/pkg/provider/directory"
)

// Cmd is the parent command for directory accounts.
var Cmd = &cobra.Command{
	Use:   "user",
	Short: "Directory account management",
	Long: `Manage accounts in the local directory provider.

Users are named user@domain. Without a domain part, the first configured
domain served by the directory provider is used.

Examples:
  # Create an account with a prompted password
  dpam user add alice@corp.example --uid 10001

  # List the accounts of a domain
  dpam user list --domain corp.example

  # Lock an account
  dpam user lock alice@corp.example

  # Create a subdomain
  dpam user domain-add eu.corp.example --parent corp.example`,
}

func init() {
	Cmd.AddCommand(addCmd)
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(passwdCmd)
	Cmd.AddCommand(lockCmd)
	Cmd.AddCommand(unlockCmd)
	Cmd.AddCommand(enableCmd)
	Cmd.AddCommand(disableCmd)
	Cmd.AddCommand(deleteCmd)
	Cmd.AddCommand(domainAddCmd)
	Cmd.AddCommand(domainListCmd)
}

// openDirectory loads the config and opens the directory database.
func openDirectory(cmd *cobra.Command) (*directory.Directory, *config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Providers.Directory == nil {
		return nil, nil, fmt.Errorf("no directory provider configured (providers.directory)")
	}
	dir, err := directory.Open(cfg.Providers.Directory)
	if err != nil {
		return nil, nil, err
	}
	return dir, cfg, nil
}

// defaultDomain returns the first domain served by the directory provider.
func defaultDomain(cfg *config.Config) string {
	for _, d := range cfg.Domains {
		if d.Provider == "directory" {
			return d.Name
		}
	}
	return ""
}

// splitName splits user@domain. A name without a domain part gets fallback.
func splitName(name, fallback string) (user, domain string, err error) {
	user, domain = name, fallback
	if i := strings.LastIndex(name, "@"); i >= 0 {
		user, domain = name[:i], name[i+1:]
	}
	if user == "" {
		return "", "", fmt.Errorf("empty user name in %q", name)
	}
	if domain == "" {
		return "", "", fmt.Errorf("%q has no domain and no directory domain is configured", name)
	}
	return user, domain, nil
}

// resolve opens the directory and splits name against its default domain.
func resolve(cmd *cobra.Command, name string) (dir *directory.Directory, user, domain string, err error) {
	dir, cfg, err := openDirectory(cmd)
	if err != nil {
		return nil, "", "", err
	}
	user, domain, err = splitName(name, defaultDomain(cfg))
	if err != nil {
		_ = dir.Close()
		return nil, "", "", err
	}
	return dir, user, domain, nil
}
