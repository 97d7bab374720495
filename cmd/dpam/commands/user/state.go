package user

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/cmd/dpam/cmdutil"
	"github.com/marmos91/dittopam/pkg/provider/directory"
)

var (
	lockCmd    = stateCommand("lock", "Lock an account", "locked", (*directory.Directory).SetLocked, true)
	unlockCmd  = stateCommand("unlock", "Unlock an account", "unlocked", (*directory.Directory).SetLocked, false)
	enableCmd  = stateCommand("enable", "Enable an account", "enabled", (*directory.Directory).SetEnabled, true)
	disableCmd = stateCommand("disable", "Disable an account", "disabled", (*directory.Directory).SetEnabled, false)
)

type stateSetter func(d *directory.Directory, ctx context.Context, id string, v bool) error

func stateCommand(use, short, verb string, set stateSetter, value bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user[@domain]>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			if err := set(dir, ctx, acct.ID, value); err != nil {
				return err
			}
			cmdutil.PrintSuccess(fmt.Sprintf("Account %s@%s %s", acct.Username, acct.Domain, verb))
			return nil
		},
	}
}
