package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/agora/internal/app"
	"github.com/prn-tf/agora/internal/config"
	"github.com/prn-tf/agora/internal/domain"
)

// setup points the CLI at a fresh SQLite database in a temp dir.
func setup(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("AGORA_LOGGING_LEVEL", "error")
	t.Setenv("AGORA_AUTH_BCRYPT_COST", "4")
	t.Setenv("AGORA_SWEEPER_ENABLED", "false")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func seedLockedAccount(t *testing.T) uuid.UUID {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	a, err := app.New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	acct := domain.NewAccount(uuid.New())
	until := time.Now().Add(time.Hour)
	acct.LockoutUntil = &until
	acct.FailedAttempts = 5
	acct.LockoutCount = 1
	require.NoError(t, a.Repos.Accounts.Save(context.Background(), acct))
	return acct.UserID
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Agora Admin CLI")
	assert.Contains(t, out, "Version: dev")
}

func TestOutputFlag_Rejected(t *testing.T) {
	setup(t)
	_, err := run(t, "kinds", "--output", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestKinds_JSON(t *testing.T) {
	setup(t)
	out, err := run(t, "kinds", "-o", "json")
	require.NoError(t, err)

	var kinds []string
	require.NoError(t, json.Unmarshal([]byte(out), &kinds))
	assert.Len(t, kinds, 40)
	assert.Contains(t, kinds, "auth.unlock_account")
	assert.IsIncreasing(t, kinds)
}

func TestAccountUnlock(t *testing.T) {
	setup(t)
	userID := seedLockedAccount(t)

	out, err := run(t, "account", "unlock", userID.String(), "-o", "json")
	require.NoError(t, err)

	var acct domain.Account
	require.NoError(t, json.Unmarshal([]byte(out), &acct))
	assert.Equal(t, userID, acct.UserID)
	assert.Nil(t, acct.LockoutUntil)
	assert.Zero(t, acct.FailedAttempts)

	out, err = run(t, "account", "show", userID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "FIELD")
	assert.Contains(t, out, userID.String())
}

func TestAccountShow_Errors(t *testing.T) {
	setup(t)

	_, err := run(t, "account", "show", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid user id")

	_, err = run(t, "account", "show", uuid.NewString())
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestReportsList(t *testing.T) {
	setup(t)

	out, err := run(t, "reports", "list", "--status", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")

	_, err = run(t, "reports", "list", "--status", "bogus")
	require.Error(t, err)
}

func TestSweeperRun(t *testing.T) {
	setup(t)
	out, err := run(t, "sweeper", "run", "-o", "json")
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.EqualValues(t, 0, res["purged"])
	assert.Equal(t, false, res["skipped"])
}
