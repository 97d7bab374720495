package user

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/cmd/dpam/cmdutil"
	"github.com/marmos91/dittopam/internal/cli/output"
)

var domainParent string

var domainAddCmd = &cobra.Command{
	Use:   "domain-add <name>",
	Short: "Create a directory domain",
	Long: `Create a domain in the directory. Domains with a parent are offered as
subdomains of it when the daemon refreshes the domain list.

Examples:
  dpam user domain-add corp.example
  dpam user domain-add eu.corp.example --parent corp.example`,
	Args: cobra.ExactArgs(1),
	RunE: runDomainAdd,
}

var domainListCmd = &cobra.Command{
	Use:   "domain-list [parent]",
	Short: "List directory domains",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDomainList,
}

func init() {
	domainAddCmd.Flags().StringVar(&domainParent, "parent", "", "Parent domain")
}

func runDomainAdd(cmd *cobra.Command, args []string) error {
	dir, _, err := openDirectory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()

	if err := dir.CreateDomain(context.Background(), args[0], domainParent); err != nil {
		return fmt.Errorf("failed to create domain %s: %w", args[0], err)
	}
	cmdutil.PrintSuccess(fmt.Sprintf("Domain %s created", args[0]))
	return nil
}

func runDomainList(cmd *cobra.Command, args []string) error {
	dir, _, err := openDirectory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()

	parent := ""
	if len(args) == 1 {
		parent = args[0]
	}
	names, err := dir.Subdomains(context.Background(), parent)
	if err != nil {
		return err
	}

	table := output.NewTableData("DOMAIN")
	for _, n := range names {
		table.AddRow(n)
	}
	return cmdutil.PrintOutput(os.Stdout, names, len(names) == 0, "No domains found.", table)
}
