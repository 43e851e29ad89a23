package memory

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/prn-tf/agora/internal/config"
	"github.com/prn-tf/agora/internal/repository"
)

// Open returns fresh in-memory repositories. It matches repository.Opener.
func Open(_ context.Context, _ config.DatabaseConfig, logger zerolog.Logger) (*repository.CreateRepositoriesResult, error) {
	logger.Warn().Msg("using in-memory repositories; state is lost on restart")
	return &repository.CreateRepositoriesResult{
		Repos:    NewRepositories(),
		Database: health{},
	}, nil
}

// health reports an always-available store.
type health struct{}

func (health) Ping(context.Context) error   { return nil }
func (health) Health(context.Context) error { return nil }
func (health) Close() error                 { return nil }

var _ repository.Opener = Open
