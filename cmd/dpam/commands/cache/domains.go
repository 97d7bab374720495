package cache

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/cmd/dpam/cmdutil"
	"github.com/marmos91/dittopam/pkg/apiclient"
)

var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "List domains in lookup order",
	RunE:  runDomains,
}

// DomainList is a list of domains for table rendering.
type DomainList []apiclient.Domain

// Headers implements TableRenderer.
func (dl DomainList) Headers() []string {
	return []string{"NAME", "PROVIDER", "PARENT", "FQN", "CACHE CREDS", "CACHED AUTH", "ENTRY TTL"}
}

// Rows implements TableRenderer.
func (dl DomainList) Rows() [][]string {
	rows := make([][]string, 0, len(dl))
	for _, d := range dl {
		rows = append(rows, []string{
			d.Name,
			cmdutil.EmptyOr(d.Provider, "local"),
			cmdutil.EmptyOr(d.Parent, "-"),
			cmdutil.BoolToYesNo(d.FullyQualifiedNames),
			cmdutil.BoolToYesNo(d.CacheCredentials),
			cmdutil.EmptyOr(d.CachedAuthTimeout, "-"),
			cmdutil.EmptyOr(d.EntryCacheTimeout, "-"),
		})
	}
	return rows
}

func runDomains(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	domains, err := client.ListDomains(ctx)
	if err != nil {
		return fmt.Errorf("failed to list domains: %w", err)
	}
	return cmdutil.PrintOutput(os.Stdout, domains, len(domains) == 0, "No domains configured.", DomainList(domains))
}
