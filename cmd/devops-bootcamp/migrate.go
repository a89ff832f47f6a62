package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/spf13/cobra"

	"github.com/txn2/devops-bootcamp/internal/server"
	"github.com/txn2/devops-bootcamp/pkg/database/migrate"
)

func newMigrateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "apply all pending migrations",
		RunE: withDB(opts, func(cmd *cobra.Command, db *sql.DB) error {
			if err := migrate.Run(db); err != nil {
				return err
			}
			return printVersion(cmd, db)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "roll back every migration",
		RunE: withDB(opts, func(cmd *cobra.Command, db *sql.DB) error {
			if err := migrate.Down(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all migrations rolled back")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the current schema version",
		RunE: withDB(opts, func(cmd *cobra.Command, db *sql.DB) error {
			return printVersion(cmd, db)
		}),
	})

	return cmd
}

func printVersion(cmd *cobra.Command, db *sql.DB) error {
	version, dirty, err := migrate.Version(db)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", version, dirty)
	return nil
}

// withDB opens the configured database for the duration of fn.
func withDB(opts *options, fn func(*cobra.Command, *sql.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := server.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		if cfg.Database.DSN == "" {
			return errors.New("database.dsn is required")
		}

		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() { _ = db.Close() }()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("pinging database: %w", err)
		}
		return fn(cmd, db)
	}
}
