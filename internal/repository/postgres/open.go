package postgres

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/agora/internal/config"
	"github.com/prn-tf/agora/internal/repository"
)

// NewRepositories creates the full set of PostgreSQL repositories over db.
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
	db, err := NewDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate PostgreSQL database: %w", err)
	}

	return &repository.CreateRepositoriesResult{
		Repos:    NewRepositories(db),
		Database: db,
	}, nil
}

var _ repository.Opener = Open
