package user

import (
	"context"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/cmd/dpam/cmdutil"
	"github.com/marmos91/dittopam/internal/cli/prompt"
	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/provider/directory"
)

var (
	addUID        uint32
	addGID        uint32
	addUPN        string
	addAliases    string
	addPassword   string
	addMustChange bool
	addExpires    string
	addCerts      []string
)

var addCmd = &cobra.Command{
	Use:   "add <user[@domain]>",
	Short: "Create an account",
	Long: `Create a directory account.

The password is prompted for unless --password is given. --expires takes
an RFC 3339 time or a duration from now such as 2160h.

Examples:
  dpam user add alice@corp.example --uid 10001 --gid 10000
  dpam user add bob --alias robert,bobby --must-change
  dpam user add carol --cert carol.pem --expires 2027-01-01T00:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().Uint32Var(&addUID, "uid", 0, "POSIX user ID")
	addCmd.Flags().Uint32Var(&addGID, "gid", 0, "POSIX group ID (default: uid)")
	addCmd.Flags().StringVar(&addUPN, "upn", "", "User principal name")
	addCmd.Flags().StringVar(&addAliases, "alias", "", "Comma-separated alternative login names")
	addCmd.Flags().StringVar(&addPassword, "password", "", "Password (prompted when not set)")
	addCmd.Flags().BoolVar(&addMustChange, "must-change", false, "Require a password change at first login")
	addCmd.Flags().StringVar(&addExpires, "expires", "", "Account expiry (RFC 3339 time or duration)")
	addCmd.Flags().StringSliceVar(&addCerts, "cert", nil, "PEM certificate file for smartcard login (repeatable)")
}

func runAdd(cmd *cobra.Command, args []string) error {
	expires, err := parseExpiry(addExpires, time.Now())
	if err != nil {
		return err
	}
	certs, err := loadCertificates(addCerts)
	if err != nil {
		return err
	}

	password := addPassword
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

	dir, user, domain, err := resolve(cmd, args[0])
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()

	gid := addGID
	if gid == 0 {
		gid = addUID
	}

	acct, err := dir.CreateAccount(context.Background(), directory.AccountSpec{
		Domain:             domain,
		Username:           user,
		UPN:                addUPN,
		PasswordHash:       hash,
		UID:                addUID,
		GID:                gid,
		Aliases:            cmdutil.ParseCommaSeparatedList(addAliases),
		Certificates:       certs,
		MustChangePassword: addMustChange,
		ExpiresAt:          expires,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s@%s: %w", user, domain, err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Account %s@%s created", acct.Username, acct.Domain))
	return nil
}

// parseExpiry accepts an RFC 3339 time or a duration added to now.
func parseExpiry(s string, now time.Time) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return nil, fmt.Errorf("invalid --expires %q: want an RFC 3339 time or a positive duration", s)
	}
	t := now.Add(d)
	return &t, nil
}

// loadCertificates reads the CERTIFICATE blocks of PEM files as DER.
func loadCertificates(paths []string) ([][]byte, error) {
	var out [][]byte
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		n := 0
		for {
			var block *pem.Block
			block, data = pem.Decode(data)
			if block == nil {
				break
			}
			if block.Type == "CERTIFICATE" {
				out = append(out, block.Bytes)
				n++
			}
		}
		if n == 0 {
			return nil, fmt.Errorf("%s: no PEM certificate found", p)
		}
	}
	return out, nil
}
