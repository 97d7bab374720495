package user

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/cmd/dpam/cmdutil"
	"github.com/marmos91/dittopam/internal/cli/timeutil"
	"github.com/marmos91/dittopam/pkg/provider/directory"
)

var listDomain string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Long: `List directory accounts, optionally limited to one domain.

Examples:
  dpam user list
  dpam user list --domain corp.example -o json`,
	RunE: runList,
}

var showCmd = &cobra.Command{
	Use:   "show <user[@domain]>",
	Short: "Show one account",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	listCmd.Flags().StringVar(&listDomain, "domain", "", "Only list this domain")
}

// AccountList is a list of accounts for table rendering.
type AccountList []*directory.Account

// Headers implements TableRenderer.
func (al AccountList) Headers() []string {
	return []string{"USER", "DOMAIN", "UID", "GID", "ALIASES", "ENABLED", "LOCKED", "EXPIRES"}
}

// Rows implements TableRenderer.
func (al AccountList) Rows() [][]string {
	rows := make([][]string, 0, len(al))
	for _, a := range al {
		rows = append(rows, []string{
			a.Username,
			a.Domain,
			fmt.Sprintf("%d", a.UID),
			fmt.Sprintf("%d", a.GID),
			cmdutil.EmptyOr(strings.Join(a.AliasNames(), ", "), "-"),
			cmdutil.BoolToYesNo(a.Enabled),
			cmdutil.BoolToYesNo(a.Locked),
			timeutil.FormatTime(a.ExpiresAt),
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	dir, _, err := openDirectory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()

	accts, err := dir.ListAccounts(context.Background(), listDomain)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	return cmdutil.PrintOutput(os.Stdout, accts, len(accts) == 0, "No accounts found.", AccountList(accts))
}

func runShow(cmd *cobra.Command, args []string) error {
	dir, user, domain, err := resolve(cmd, args[0])
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()

	a, err := dir.FindAccount(context.Background(), domain, user)
	if err != nil {
		return fmt.Errorf("%s@%s: %w", user, domain, err)
	}
	return cmdutil.PrintResource(os.Stdout, a, accountPairs(a))
}

func accountPairs(a *directory.Account) [][2]string {
	return [][2]string{
		{"User", a.Username},
		{"Domain", a.Domain},
		{"UPN", cmdutil.EmptyOr(a.UPN, "-")},
		{"UID", fmt.Sprintf("%d", a.UID)},
		{"GID", fmt.Sprintf("%d", a.GID)},
		{"Aliases", cmdutil.EmptyOr(strings.Join(a.AliasNames(), ", "), "-")},
		{"Certificates", fmt.Sprintf("%d", len(a.Certificates))},
		{"Enabled", cmdutil.BoolToYesNo(a.Enabled)},
		{"Locked", cmdutil.BoolToYesNo(a.Locked)},
		{"Must change password", cmdutil.BoolToYesNo(a.MustChangePassword)},
		{"Expires", timeutil.FormatTime(a.ExpiresAt)},
		{"Created", timeutil.FormatTime(&a.CreatedAt)},
		{"Last login", timeutil.FormatTime(a.LastLogin)},
	}
}
