package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"lessonpay/internal/config"
	"lessonpay/internal/db"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lessonpay-ops",
		Short: "LessonPay operational tooling",
		Long: `Operational commands for the LessonPay payment service.

Commands connect to the database configured through the same environment
variables as the API server (DB_HOST, DB_PORT, DB_USER, ...).

  lessonpay-ops migrate          # Apply pending schema migrations
  lessonpay-ops ledger-cleanup   # Delete settled webhook ledger rows past retention`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDatabase()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			if err := database.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}

	cleanupCmd := &cobra.Command{
		Use:   "ledger-cleanup",
		Short: "Delete settled webhook ledger rows past the retention window",
		Long: `Deletes succeeded and failed webhook ledger rows whose last update is
older than the retention window. Rows still marked processing are kept
regardless of age so an in-flight claim is never lost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			retentionDays, _ := cmd.Flags().GetInt("retention-days")
			if retentionDays <= 0 {
				retentionDays = config.Load().Webhook.LedgerRetentionDays
			}

			database, err := openDatabase()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			deleted, err := database.CleanupLedgerEntries(ctx, retentionDays)
			if err != nil {
				return fmt.Errorf("ledger cleanup failed: %w", err)
			}
			fmt.Printf("deleted %d ledger rows older than %d days\n", deleted, retentionDays)
			return nil
		},
	}
	cleanupCmd.Flags().Int("retention-days", 0, "Retention window in days (defaults to WEBHOOK_LEDGER_RETENTION_DAYS)")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(cleanupCmd)

	return rootCmd
}

func openDatabase() (*db.DB, error) {
	cfg := config.Load()

	database, err := db.New(&db.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
