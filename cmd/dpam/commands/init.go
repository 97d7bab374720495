package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample dittopam configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/dittopam/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  dpam init

  # Initialize with custom path
  dpam init --config /etc/dittopam/config.yaml

  # Force overwrite existing config
  dpam init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var (
		configPath string
		err        error
	)
	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Configure your domains and providers")
	fmt.Println("  2. Create directory accounts with: dpam user add <name> --domain <domain>")
	fmt.Printf("  3. Start the daemon with: dpam start --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  A random control API secret has been generated. Keep the file readable")
	fmt.Println("  by root only, or supply the secret through the environment:")
	fmt.Println("    export DITTOPAM_API_JWT_SECRET=$(openssl rand -hex 32)")

	return nil
}
