package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/lock"
	"github.com/prn-tf/agora/internal/metrics"
	"github.com/prn-tf/agora/internal/repository/memory"
)

func TestSweeper_RunOnce(t *testing.T) {
	ctx := context.Background()
	accounts := memory.NewAccountRepository()
	locker := lock.NewMemoryLocker()
	t.Cleanup(func() { _ = locker.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)

	acct := domain.NewAccount(uuid.New())
	acct.OTPs[domain.PurposeLogin] = &domain.OTP{Purpose: domain.PurposeLogin, IssuedAt: old, ExpiresAt: old.Add(10 * time.Minute)}
	acct.OTPs[domain.PurposeTwoFactor] = &domain.OTP{Purpose: domain.PurposeTwoFactor, IssuedAt: now, ExpiresAt: now.Add(10 * time.Minute)}
	consumed := old.Add(time.Minute)
	acct.OTPs[domain.PurposePasswordReset] = &domain.OTP{Purpose: domain.PurposePasswordReset, IssuedAt: old, ExpiresAt: now.Add(time.Hour), ConsumedAt: &consumed}
	require.NoError(t, accounts.Save(ctx, acct))

	sweeper := NewSweeper(accounts, locker, metrics.New(prometheus.NewRegistry()), nopLogger, DefaultSweeperConfig())
	sweeper.now = func() time.Time { return now }

	result := sweeper.RunOnce(ctx)
	require.NoError(t, result.Err)
	assert.False(t, result.Skipped)
	assert.Equal(t, int64(2), result.Purged)

	stored, err := accounts.Get(ctx, acct.UserID)
	require.NoError(t, err)
	assert.Len(t, stored.OTPs, 1)
	assert.Contains(t, stored.OTPs, domain.PurposeTwoFactor)

	held, err := locker.IsHeld(ctx, lock.Keys.OTPSweep())
	require.NoError(t, err)
	assert.False(t, held, "lock released after the run")
}

func TestSweeper_SkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewMemoryLocker()
	t.Cleanup(func() { _ = locker.Close() })

	ok, err := locker.Acquire(ctx, lock.Keys.OTPSweep(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	sweeper := NewSweeper(memory.NewAccountRepository(), locker, nil, nopLogger, DefaultSweeperConfig())
	result := sweeper.RunOnce(ctx)
	assert.True(t, result.Skipped)
	assert.Zero(t, result.Purged)
}

func TestSweeper_StartStop(t *testing.T) {
	locker := lock.NewMemoryLocker()
	t.Cleanup(func() { _ = locker.Close() })

	cfg := DefaultSweeperConfig()
	cfg.Interval = 10 * time.Millisecond
	sweeper := NewSweeper(memory.NewAccountRepository(), locker, nil, nopLogger, cfg)

	sweeper.Start()
	sweeper.Start()
	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()
	sweeper.Stop()
}
