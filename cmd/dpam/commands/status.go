package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/cmd/dpam/cmdutil"
	"github.com/marmos91/dittopam/pkg/apiclient"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Check the daemon through the control API.

The readiness probe needs no token. With a saved login (or --token) the
domain list and cache statistics are shown as well.

Examples:
  dpam status
  dpam status --server http://idp01:8390 --output json`,
	RunE: runStatus,
}

// Status is the output of 'dpam status'.
type Status struct {
	Server  string                `json:"server" yaml:"server"`
	Ready   bool                  `json:"ready" yaml:"ready"`
	Error   string                `json:"error,omitempty" yaml:"error,omitempty"`
	Domains []string              `json:"domains,omitempty" yaml:"domains,omitempty"`
	Caches  *apiclient.CacheStats `json:"caches,omitempty" yaml:"caches,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, authErr := cmdutil.GetAuthenticatedClient()
	serverURL := cmdutil.Flags.ServerURL
	if authErr != nil {
		if serverURL == "" {
			return authErr
		}
		client = apiclient.New(serverURL)
	}

	st := Status{Server: client.BaseURL(), Ready: true}
	if err := client.Health(ctx); err != nil {
		st.Ready = false
		st.Error = err.Error()
	}
	if authErr == nil && st.Ready {
		if doms, err := client.ListDomains(ctx); err == nil {
			for _, d := range doms {
				st.Domains = append(st.Domains, d.Name)
			}
		}
		if stats, err := client.Stats(ctx); err == nil {
			st.Caches = stats
		}
	}

	pairs := [][2]string{
		{"Server", st.Server},
		{"Ready", cmdutil.BoolToYesNo(st.Ready)},
	}
	if st.Error != "" {
		pairs = append(pairs, [2]string{"Error", st.Error})
	}
	for _, d := range st.Domains {
		pairs = append(pairs, [2]string{"Domain", d})
	}
	if st.Caches != nil {
		pairs = append(pairs,
			[2]string{"Negative cache", fmt.Sprintf("%d entries, %d hits", st.Caches.NegativeCache.Size, st.Caches.NegativeCache.Hits)},
			[2]string{"Refreshed", fmt.Sprintf("%d entries, %d hits", st.Caches.Refreshed.Size, st.Caches.Refreshed.Hits)},
		)
	}
	if err := cmdutil.PrintResource(cmd.OutOrStdout(), st, pairs); err != nil {
		return err
	}
	if !st.Ready {
		return fmt.Errorf("daemon is not ready")
	}
	return nil
}
