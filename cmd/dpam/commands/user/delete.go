package user

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/cmd/dpam/cmdutil"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <user[@domain]>",
	Short: "Delete an account",
	Long: `Delete a directory account with its aliases and certificates.

Records already cached by a running daemon expire on their own; use
'dpam cache expire' to drop them at once.

Examples:
  dpam user delete alice@corp.example
  dpam user delete alice --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation prompt")
}

func runDelete(cmd *cobra.Command, args []string) error {
	dir, user, domain, err := resolve(cmd, args[0])
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()

	return cmdutil.RunWithConfirmation(fmt.Sprintf("Delete account %s@%s", user, domain), deleteForce, func() error {
		if err := dir.DeleteAccount(context.Background(), domain, user); err != nil {
			return fmt.Errorf("%s@%s: %w", user, domain, err)
		}
		cmdutil.PrintSuccess(fmt.Sprintf("Account %s@%s deleted", user, domain))
		return nil
	})
}
