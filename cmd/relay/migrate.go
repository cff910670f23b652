package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/kaloslazo/NubuStream/internal/audit"
	"github.com/kaloslazo/NubuStream/internal/config"
)

// migrateCmd applies or reverts the moderation audit schema.
var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or revert the moderation audit schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.AuditDatabaseURL == "" {
			return errors.New("AUDIT_DATABASE_URL is not set")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		db, err := audit.Open(ctx, cfg.AuditDatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		dir := audit.Up
		if args[0] == "down" {
			dir = audit.Down
		}
		return audit.Migrate(db, dir)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
