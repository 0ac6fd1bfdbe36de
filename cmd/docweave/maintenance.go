package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/docweave/internal/state"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge expired results and old requests",
	Long: `Remove task results whose TTL has passed and finished requests older
than engine.result_ttl, together with their task records.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		stats, err := a.engine.Cleanup(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		printStatus(w, "✓", fmt.Sprintf("Removed %d expired results", stats.Results), color.FgGreen)
		printStatus(w, "✓", fmt.Sprintf("Removed %d finished requests", stats.Requests), color.FgGreen)
		return nil
	},
}

var migrateDSN string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply state schema migrations",
	Long: `Create or upgrade the state schema for the configured backend without
starting the engine. Every command that opens the store migrates it too;
this is for preparing a database ahead of a deploy.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		switch cfg.State.Backend {
		case state.BackendPostgres:
			dsn := migrateDSN
			if dsn == "" {
				dsn = cfg.State.DSN
			}
			if dsn == "" {
				return fmt.Errorf("postgres backend needs state.dsn or --dsn")
			}
			if err := state.MigratePostgres(dsn); err != nil {
				return err
			}
			printStatus(w, "✓", "Postgres schema is up to date", color.FgGreen)
		case state.BackendMemory:
			printStatus(w, "⚠", "memory backend has no schema", color.FgYellow)
		default:
			path := cfg.State.Path
			if path == "" {
				path = state.DefaultPath()
			}
			db, err := state.OpenAndMigrate(path)
			if err != nil {
				return err
			}
			defer db.Close()
			printStatus(w, "✓", fmt.Sprintf("SQLite schema is up to date (%s)", path), color.FgGreen)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDSN, "dsn", "", "Postgres connection string (default: state.dsn)")
}
