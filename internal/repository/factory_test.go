package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/agora/internal/config"
)

func TestFactory_Create(t *testing.T) {
	var opened string
	f := NewFactory(config.DatabaseConfig{Driver: "fake"}, zerolog.Nop())
	f.Register("fake", func(_ context.Context, cfg config.DatabaseConfig, _ zerolog.Logger) (*CreateRepositoriesResult, error) {
		opened = cfg.Driver
		return &CreateRepositoriesResult{Repos: &Repositories{}}, nil
	})

	result, err := f.Create(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, result.Repos)
	assert.Equal(t, "fake", opened)
	assert.Equal(t, "fake", f.Driver())
}

func TestFactory_UnknownDriver(t *testing.T) {
	f := NewFactory(config.DatabaseConfig{Driver: "oracle"}, zerolog.Nop())
	f.Register(config.DriverMemory, nil)

	_, err := f.Create(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
	assert.Contains(t, err.Error(), config.DriverMemory)
}

func TestFactory_OpenError(t *testing.T) {
	boom := errors.New("boom")
	f := NewFactory(config.DatabaseConfig{Driver: config.DriverSQLite, Path: "a.db"}, zerolog.Nop())
	f.Register(config.DriverSQLite, func(context.Context, config.DatabaseConfig, zerolog.Logger) (*CreateRepositoriesResult, error) {
		return nil, boom
	})

	_, err := f.Create(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, f.IsEmbedded())
}
