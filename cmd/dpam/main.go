// Command dpam runs the dittopam PAM responder and administers it.
package main

import (
	"fmt"
	"os"

	"github.com/marmos91/dittopam/cmd/dpam/commands"
)

// Set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetBuildInfo(version, commit, date)

	err := commands.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(commands.ExitCode(err))
}
