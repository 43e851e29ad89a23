package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/agora/internal/config"
	"github.com/prn-tf/agora/internal/dispatch"
	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/service"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.Driver = config.DriverMemory
	cfg.Auth.BcryptCost = 4
	cfg.Sweeper.Enabled = false
	return cfg
}

func TestNew_MemoryDispatch(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Len(t, a.Dispatcher.Kinds(), 40)

	owner := domain.NewPrincipal(uuid.New(), domain.RoleUser)
	out, err := dispatch.Send[*service.CreateGroupOutput](ctx, a.Dispatcher, owner,
		service.CreateGroupInput{Name: "gophers", Privacy: domain.GroupPublic})
	require.NoError(t, err)

	joiner := domain.NewPrincipal(uuid.New(), domain.RoleUser)
	joined, err := dispatch.Send[*service.MembershipOutput](ctx, a.Dispatcher, joiner,
		service.JoinGroupInput{GroupID: out.Group.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, joined.Membership.Status)

	_, err = a.Dispatcher.Dispatch(ctx, joiner, service.LeaveGroupInput{GroupID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNew_SQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.Path = filepath.Join(t.TempDir(), "agora.db")

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Database.Health(context.Background()))
	require.NoError(t, a.Close())
}

func TestNew_BadDriverClosesCleanly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"

	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestHandler_OpsEndpoints(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	srv := httptest.NewServer(a.Handler("test"))
	defer srv.Close()

	for _, path := range []string{"/health", "/ready", "/kinds", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())

	_, err = NewLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
