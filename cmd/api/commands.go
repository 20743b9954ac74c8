package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"avatarstudio/api/internal/config"
	"avatarstudio/api/internal/search"
	"avatarstudio/api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down]",
	Short: "Apply or roll back database migrations",
	Long: `Apply or roll back database migrations.

Examples:
  avatar-api migrate
  avatar-api migrate down`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := "up"
		if len(args) == 1 {
			direction = args[0]
		}
		cfg := config.Load()
		ctx := cmd.Context()
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		switch direction {
		case "up":
			return store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		case "down":
			return store.RollbackMigrations(ctx, db, cfg.MigrationsDir)
		}
		return fmt.Errorf("unknown direction %q, expected up or down", direction)
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the profile search index from the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if strings.TrimSpace(cfg.MeiliURL) == "" {
			return fmt.Errorf("MEILI_URL is not set")
		}
		ctx := cmd.Context()
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		if !meiliClient.Healthy() {
			return fmt.Errorf("meilisearch at %s is unavailable", cfg.MeiliURL)
		}
		search.NewService(meiliClient, search.NewPgFTS(db)).ReindexAllFromPG(ctx)
		return nil
	},
}
