package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	wire "github.com/marmos91/dittopam/internal/protocol/pam"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the dpam version, build information, and the PAM protocol versions it speaks.`,
	Run: func(cmd *cobra.Command, args []string) {
		if versionShort {
			fmt.Println(Version)
			return
		}

		fmt.Printf("dpam %s\n", Version)
		fmt.Printf("  Commit:       %s\n", Commit)
		fmt.Printf("  Built:        %s\n", Date)
		fmt.Printf("  PAM protocol: %d-%d\n", wire.Version1, wire.LatestVersion)
		fmt.Printf("  Go version:   %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:      %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show only version number")
}
