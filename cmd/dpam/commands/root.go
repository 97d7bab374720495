// Package commands implements the dpam command line.
package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/cmd/dpam/cmdutil"
	"github.com/marmos91/dittopam/cmd/dpam/commands/cache"
	"github.com/marmos91/dittopam/cmd/dpam/commands/config"
	"github.com/marmos91/dittopam/cmd/dpam/commands/user"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dpam",
	Short: "dittopam - PAM responder daemon",
	Long: `dittopam answers the requests of the pam_dpam client module over a
local socket. It resolves logon names against the configured identity
domains, authenticates through Kerberos or the local directory, and keeps
an identity cache for offline logins.

Use "dpam [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// SetBuildInfo records the values injected at link time.
func SetBuildInfo(version, commit, date string) {
	Version, Commit, Date = version, commit, date
	rootCmd.Version = version
}

// Execute runs the command line.
func Execute() error {
	return rootCmd.Execute()
}

// Exit codes.
const (
	ExitOK = 0
	// ExitError is any failure to carry out the command.
	ExitError = 1
	// ExitPAMFailure means the daemon answered with a status other than
	// PAM_SUCCESS.
	ExitPAMFailure = 2
)

// ExitCode maps the error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return ExitPAMFailure
	}
	return ExitError
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/dittopam/config.yaml)")
	flags.StringVarP(&cmdutil.Flags.Output, "output", "o", "table", "Output format (table|json|yaml)")
	flags.StringVar(&cmdutil.Flags.ServerURL, "server", "", "Control API URL (overrides the saved login)")
	flags.StringVar(&cmdutil.Flags.Token, "token", "", "Control API bearer token (overrides the saved login)")
	flags.BoolVar(&cmdutil.Flags.NoColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(user.Cmd)
	rootCmd.AddCommand(cache.Cmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
