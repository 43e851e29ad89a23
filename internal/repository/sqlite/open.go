package sqlite

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/agora/internal/config"
	"github.com/prn-tf/agora/internal/repository"
)

// ConfigFrom builds a connection config from application settings, keeping
// defaults for anything left unset.
func ConfigFrom(cfg config.DatabaseConfig) Config {
	c := DefaultConfig(cfg.Path)
	if cfg.JournalMode != "" {
		c.JournalMode = cfg.JournalMode
	}
	if cfg.BusyTimeout > 0 {
		c.BusyTimeout = cfg.BusyTimeout
	}
	if cfg.CacheSize != 0 {
		c.CacheSize = cfg.CacheSize
	}
	if cfg.SynchronousMode != "" {
		c.SynchronousMode = cfg.SynchronousMode
	}
	if cfg.ConnMaxLifetime > 0 {
		c.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	return c
}

// NewRepositories creates the full set of SQLite repositories over db.
func NewRepositories(db *DB) *repository.Repositories {
	return &repository.Repositories{
		Targets:       NewVoteTargetRepository(db),
		Groups:        NewGroupRepository(db),
		Memberships:   NewMembershipRepository(db),
		Reports:       NewReportRepository(db),
		Conversations: NewConversationRepository(db),
		Messages:      NewMessageRepository(db),
		Accounts:      NewAccountRepository(db),
	}
}

// Open connects, migrates and returns repositories. It matches repository.Opener.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*repository.CreateRepositoriesResult, error) {
	db, err := NewDB(ctx, ConfigFrom(cfg), logger)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate SQLite database: %w", err)
	}

	return &repository.CreateRepositoriesResult{
		Repos:    NewRepositories(db),
		Database: db,
	}, nil
}

var _ repository.Opener = Open
