package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/fluscore/pkg/config"
	"github.com/wonny/fluscore/pkg/database"
	"github.com/wonny/fluscore/pkg/logger"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	Long: `Applies the embedded SQL migrations to DATABASE_URL.
Running it on an up-to-date database is a no-op.

Example:
  go run ./cmd/fluscore migrate up`,
	RunE: runMigrateUp,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg)

	if err := database.RunMigrations(cfg.Database.URL, log); err != nil {
		return err
	}
	PrintSuccess("Database schema up to date")
	return nil
}
