// Package repository provides data access layer for Agora.
// This file contains the factory that builds repositories based on configuration.
package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/prn-tf/agora/internal/config"
)

// DatabaseHealth is an interface for database health checks.
// This interface satisfies handler.DatabaseChecker for health endpoints.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// CreateRepositoriesResult contains the created repositories and database connection.
type CreateRepositoriesResult struct {
	Repos    *Repositories
	Database DatabaseHealth
}

// Opener builds the repositories of one storage driver. Driver packages
// import this package, so they are registered by the composition root rather
// than referenced here.
type Opener func(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*CreateRepositoriesResult, error)

// Factory creates repositories based on configuration.
type Factory struct {
	cfg     config.DatabaseConfig
	logger  zerolog.Logger
	openers map[string]Opener
}

// NewFactory creates a new repository factory.
func NewFactory(cfg config.DatabaseConfig, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:     cfg,
		logger:  logger,
		openers: make(map[string]Opener),
	}
}

// Register installs the opener for a driver name.
func (f *Factory) Register(driver string, open Opener) {
	f.openers[driver] = open
}

// Driver returns the configured database driver.
func (f *Factory) Driver() string {
	return f.cfg.Driver
}

// IsEmbedded returns true if using embedded database.
func (f *Factory) IsEmbedded() bool {
	return f.cfg.IsEmbedded()
}

// Create opens the configured driver.
func (f *Factory) Create(ctx context.Context) (*CreateRepositoriesResult, error) {
	open, ok := f.openers[f.cfg.Driver]
	if !ok {
		known := make([]string, 0, len(f.openers))
		for name := range f.openers {
			known = append(known, name)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("unsupported database driver %q (available: %v)", f.cfg.Driver, known)
	}

	f.logger.Info().Str("driver", f.cfg.Driver).Bool("embedded", f.IsEmbedded()).Msg("opening repositories")

	result, err := open(ctx, f.cfg, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s repositories: %w", f.cfg.Driver, err)
	}
	return result, nil
}
