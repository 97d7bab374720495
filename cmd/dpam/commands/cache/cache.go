// Package cache implements commands that inspect and reset the identity
// cache of a running daemon through its control API.
package cache

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// Cmd is the parent command for cache operations.
var Cmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and reset the identity cache",
	Long: `Inspect and reset the identity cache of a running daemon.

These commands use the control API and need a token: run 'dpam login'
first, or pass --server and --token.

Examples:
  # List configured domains
  dpam cache domains

  # Show the cached record of a user
  dpam cache show corp.example alice

  # Force the next lookup of a user to go to the provider
  dpam cache expire corp.example alice

  # Forget every negative lookup
  dpam cache reset-negative`,
}

func init() {
	Cmd.AddCommand(domainsCmd)
	Cmd.AddCommand(usersCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(expireCmd)
	Cmd.AddCommand(resetNegativeCmd)
	Cmd.AddCommand(statsCmd)
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
