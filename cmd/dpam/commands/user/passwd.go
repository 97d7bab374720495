package user

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/cmd/dpam/cmdutil"
	"github.com/marmos91/dittopam/internal/cli/prompt"
	"github.com/marmos91/dittopam/pkg/identity"
)

var (
	passwdPassword   string
	passwdMustChange bool
)

var passwdCmd = &cobra.Command{
	Use:   "passwd <user[@domain]>",
	Short: "Set an account password",
	Long: `Replace the password of a directory account.

Cached credentials of the user are not touched: the next online login
replaces them.

Examples:
  dpam user passwd alice@corp.example
  dpam user passwd alice --must-change`,
	Args: cobra.ExactArgs(1),
	RunE: runPasswd,
}

func init() {
	passwdCmd.Flags().StringVar(&passwdPassword, "password", "", "New password (prompted when not set)")
	passwdCmd.Flags().BoolVar(&passwdMustChange, "must-change", false, "Require a password change at next login")
}

func runPasswd(cmd *cobra.Command, args []string) error {
	dir, user, domain, err := resolve(cmd, args[0])
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()

	ctx := context.Background()
	acct, err := dir.FindAccount(ctx, domain, user)
	if err != nil {
		return fmt.Errorf("%s@%s: %w", user, domain, err)
	}

	password := passwdPassword
	if password == "" {
		password, err = prompt.NewPassword(identity.ValidatePassword)
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
	} else if err := identity.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := identity.HashPassword([]byte(password))
	if err != nil {
		return err
	}

	if err := dir.SetPassword(ctx, acct.ID, hash, passwdMustChange); err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	cmdutil.PrintSuccess(fmt.Sprintf("Password of %s@%s changed", acct.Username, acct.Domain))
	return nil
}
