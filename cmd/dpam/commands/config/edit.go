package config

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/cmd/dpam/cmdutil"
	"github.com/marmos91/dittopam/internal/cli/prompt"
	"github.com/marmos91/dittopam/pkg/config"
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open configuration in editor",
	Long: `Open the configuration file in your default editor, then validate it.
An invalid file can be reopened right away.

Uses the EDITOR environment variable, then VISUAL, falling back to 'vi'.
A running daemon picks up log level and verbosity changes on save.

Examples:
  # Edit default config
  dpam config edit

  # Edit specific config file
  sudo dpam config edit --config /etc/dittopam/config.yaml`,
	RunE: runConfigEdit,
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	configPath := configPathFlag(cmd)
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("configuration file not found: %s\n\n"+
			"Create it first with:\n"+
			"  dpam init --config %s",
			configPath, configPath)
	}

	err := editUntilValid(configPath, runEditor, func(path string) error {
		_, err := config.Load(path)
		return err
	}, func() (bool, error) {
		return prompt.Confirm("Edit it again", true)
	})
	return cmdutil.HandleAbort(err)
}

// editUntilValid reopens the editor while the file fails to load and the
// user asks to fix it.
func editUntilValid(path string, edit, load func(string) error, again func() (bool, error)) error {
	for {
		if err := edit(path); err != nil {
			return err
		}
		err := load(path)
		if err == nil {
			return nil
		}
		fmt.Fprintf(os.Stderr, "Configuration is invalid: %v\n", err)
		retry, perr := again()
		if perr != nil {
			return perr
		}
		if !retry {
			return fmt.Errorf("saved configuration is invalid: %w", err)
		}
	}
}

func runEditor(path string) error {
	editorCmd := exec.Command(editor(), path)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("failed to run editor: %w", err)
	}
	return nil
}

func editor() string {
	if e := os.Getenv("EDITOR"); e != "" {
		return e
	}
	if e := os.Getenv("VISUAL"); e != "" {
		return e
	}
	return "vi"
}
