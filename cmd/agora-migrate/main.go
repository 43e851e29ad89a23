// Package main is the entry point for the Agora database migration tool.
// Migrations are embedded in the binary; the configured driver decides which
// set is applied.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/prn-tf/agora/internal/app"
	"github.com/prn-tf/agora/internal/config"
	"github.com/prn-tf/agora/internal/repository/postgres"
	"github.com/prn-tf/agora/internal/repository/sqlite"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// migrator is the part of a driver's DB handle the tool needs.
type migrator interface {
	Migrate(ctx context.Context) error
	Version(ctx context.Context) (int, error)
	Close() error
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "agora-migrate",
		Short:         "Manage the Agora database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), configPath, func(ctx context.Context, m migrator) error {
					if err := m.Migrate(ctx); err != nil {
						return err
					}
					v, err := m.Version(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), configPath, func(ctx context.Context, m migrator) error {
					v, err := m.Version(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "Agora Migration Tool\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n",
					Version, BuildTime, GitCommit)
			},
		},
	)
	return root
}

func withMigrator(ctx context.Context, configPath string, fn func(context.Context, migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}

	m, err := openMigrator(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	return fn(ctx, m)
}

func openMigrator(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (migrator, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.NewDB(ctx, sqlite.ConfigFrom(cfg), logger)
	case config.DriverPostgres:
		return postgres.NewDB(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("driver %q has no schema to migrate", cfg.Driver)
	}
}
