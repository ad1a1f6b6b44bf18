package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ClearingHouse/internal/config"
	"ClearingHouse/internal/observability"
	"ClearingHouse/internal/persistence"
)

func main() {
	var dsn string
	logger := observability.NewLogger("migrate")

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or roll back the ClearingHouse schema",
		Long:         "Migrations are embedded in the binary. The DSN defaults to CH_POSTGRES_DSN.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", config.Load().PostgresURL, "Postgres connection string")

	withMigrator := func(f func(m *persistence.Migrator, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			db, err := sql.Open("postgres", dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()
			return f(persistence.NewMigrator(db, persistence.Migrations(), logger), cmd)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(m *persistence.Migrator, cmd *cobra.Command) error {
				if err := m.Up(cmd.Context()); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				logger.Info().Msg("all migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: withMigrator(func(m *persistence.Migrator, cmd *cobra.Command) error {
				if err := m.Down(cmd.Context()); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				logger.Info().Msg("last migration rolled back")
				return nil
			}),
		},
	)

	if err := root.Execute(); err != nil {
		logger.WithLevel(zerolog.FatalLevel).Err(err).Msg("migrate failed")
		os.Exit(1)
	}
}
