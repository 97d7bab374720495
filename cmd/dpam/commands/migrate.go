package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/internal/logger"
	"github.com/marmos91/dittopam/pkg/config"
	"github.com/marmos91/dittopam/pkg/identity/store/postgres"
	"github.com/marmos91/dittopam/pkg/provider/directory"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Apply pending schema migrations.

This migrates the PostgreSQL identity store (when store.type is postgres)
and the local directory database (when providers.directory is configured).
It is needed after upgrading dittopam when the store runs with
auto_migrate disabled.

Examples:
  # Run migrations with default config
  dpam migrate

  # Run migrations with custom config
  dpam migrate --config /etc/dittopam/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx := context.Background()
	migrated := 0

	if cfg.Store.Type == "postgres" {
		pgCfg, err := config.PostgresStoreConfig(cfg.Store.Postgres)
		if err != nil {
			return err
		}
		logger.Info("Migrating identity store", "type", cfg.Store.Type)
		if err := postgres.RunMigrations(ctx, pgCfg); err != nil {
			return fmt.Errorf("identity store migration failed: %w", err)
		}
		fmt.Println("Identity store migrated (postgres)")
		migrated++
	}

	if cfg.Providers.Directory != nil {
		logger.Info("Migrating directory", "type", cfg.Providers.Directory.Type)
		dir, err := directory.Open(cfg.Providers.Directory)
		if err != nil {
			return fmt.Errorf("directory migration failed: %w", err)
		}
		_ = dir.Close()
		fmt.Printf("Directory migrated (%s)\n", cfg.Providers.Directory.Type)
		migrated++
	}

	if migrated == 0 {
		fmt.Printf("Nothing to migrate (store type: %s, no directory configured)\n", cfg.Store.Type)
	}
	return nil
}
