package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/spf13/cobra"

	"github.com/patchfox-io/input-service/internal/config"
	"github.com/patchfox-io/input-service/internal/storage/postgres"
)

var (
	migrateDownSteps int
	migrateSkipRiver bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Apply the schema migrations and the river job queue migrations.

Examples:
  # Apply all pending migrations
  inputd migrate up

  # Roll back the last schema migration
  inputd migrate down --steps 1`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}

		if err := postgres.MigrateUp(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
		fmt.Println("schema migrations applied")

		if migrateSkipRiver {
			return nil
		}
		if err := migrateRiver(cfg.Database.URL); err != nil {
			return fmt.Errorf("river migration failed: %w", err)
		}
		fmt.Println("river migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}

		if err := postgres.MigrateDown(cfg.Database.URL, cfg.Database.MigrationsPath, migrateDownSteps); err != nil {
			return fmt.Errorf("schema rollback failed: %w", err)
		}
		fmt.Printf("rolled back %d migration(s)\n", migrateDownSteps)
		return nil
	},
}

func migrateRiver(databaseURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, config.DatabaseConfig{URL: databaseURL})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return err
	}
	_, err = migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	return err
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateDownSteps, "steps", 1, "number of migrations to roll back")
	migrateUpCmd.Flags().BoolVar(&migrateSkipRiver, "skip-river", false, "skip the river job queue migrations")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}
