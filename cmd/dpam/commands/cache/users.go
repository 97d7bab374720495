package cache

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/cmd/dpam/cmdutil"
	"github.com/marmos91/dittopam/internal/cli/timeutil"
	"github.com/marmos91/dittopam/pkg/apiclient"
)

var usersDomain string

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List cached user records",
	Long: `List the user records cached by the daemon.

Examples:
  dpam cache users
  dpam cache users --domain corp.example -o yaml`,
	RunE: runUsers,
}

var showCmd = &cobra.Command{
	Use:   "show <domain> <user>",
	Short: "Show one cached user record",
	Args:  cobra.ExactArgs(2),
	RunE:  runShow,
}

var expireCmd = &cobra.Command{
	Use:   "expire <domain> <user>",
	Short: "Expire a cached user record",
	Long: `Mark a cached record as expired so that the next lookup asks the
provider again. The record and its cached credentials are kept for
offline logins.`,
	Args: cobra.ExactArgs(2),
	RunE: runExpire,
}

func init() {
	usersCmd.Flags().StringVar(&usersDomain, "domain", "", "Only list this domain")
}

// UserList is a list of cached users for table rendering.
type UserList []apiclient.User

// Headers implements TableRenderer.
func (ul UserList) Headers() []string {
	return []string{"NAME", "DOMAIN", "UID", "GID", "EXPIRES", "OFFLINE", "FAILED", "LOCKED"}
}

// Rows implements TableRenderer.
func (ul UserList) Rows() [][]string {
	now := time.Now()
	rows := make([][]string, 0, len(ul))
	for _, u := range ul {
		rows = append(rows, []string{
			u.Name,
			u.Domain,
			fmt.Sprintf("%d", u.UID),
			fmt.Sprintf("%d", u.GID),
			timeutil.FormatRelative(u.CacheExpire, now),
			cmdutil.BoolToYesNo(u.HasCachedPassword),
			fmt.Sprintf("%d", u.FailedLoginAttempts),
			cmdutil.BoolToYesNo(u.Locked),
		})
	}
	return rows
}

func runUsers(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	users, err := client.ListUsers(ctx, usersDomain)
	if err != nil {
		return fmt.Errorf("failed to list cached users: %w", err)
	}
	return cmdutil.PrintOutput(os.Stdout, users, len(users) == 0, "No cached users.", UserList(users))
}

func runShow(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	u, err := client.GetUser(ctx, args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to get %s@%s: %w", args[1], args[0], err)
	}
	return cmdutil.PrintResource(os.Stdout, u, userPairs(u, time.Now()))
}

func runExpire(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	u, err := client.ExpireUser(ctx, args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to expire %s@%s: %w", args[1], args[0], err)
	}
	cmdutil.PrintSuccess(fmt.Sprintf("Cached record of %s@%s expired", u.Name, u.Domain))
	return nil
}

func userPairs(u *apiclient.User, now time.Time) [][2]string {
	return [][2]string{
		{"Name", u.Name},
		{"Domain", u.Domain},
		{"UPN", cmdutil.EmptyOr(u.UPN, "-")},
		{"Aliases", cmdutil.EmptyOr(strings.Join(u.Aliases, ", "), "-")},
		{"UID", fmt.Sprintf("%d", u.UID)},
		{"GID", fmt.Sprintf("%d", u.GID)},
		{"Certificates", fmt.Sprintf("%d", u.Certificates)},
		{"Cache expires", timeutil.FormatRelative(u.CacheExpire, now)},
		{"Last login", timeutil.FormatTime(u.LastLogin)},
		{"Last online auth", timeutil.FormatTime(u.LastOnlineAuth)},
		{"Cached password", cmdutil.BoolToYesNo(u.HasCachedPassword)},
		{"Failed logins", fmt.Sprintf("%d", u.FailedLoginAttempts)},
		{"Last failed login", timeutil.FormatTime(u.LastFailedLogin)},
		{"Account expires", timeutil.FormatTime(u.AccountExpires)},
		{"Locked", cmdutil.BoolToYesNo(u.Locked)},
	}
}
