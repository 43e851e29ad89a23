package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/notify"
	"github.com/prn-tf/agora/internal/pkg/crypto"
	"github.com/prn-tf/agora/internal/repository"
	"github.com/prn-tf/agora/internal/repository/memory"
)

func newAuthFixture(t *testing.T) (*AuthService, *testEnv, repository.AccountRepository) {
	t.Helper()
	env := newTestEnv(t)
	hasher, err := crypto.NewCodeHasher(4)
	require.NoError(t, err)
	accounts := memory.NewAccountRepository()
	return NewAuthService(accounts, hasher, DefaultAuthPolicy(), env.rt, nopLogger), env, accounts
}

func login(svc *AuthService, userID uuid.UUID, ok bool) (*LoginOutput, error) {
	return svc.AttemptLogin(context.Background(), domain.SystemPrincipal, AttemptLoginInput{UserID: userID, CredentialsValid: ok})
}

func issuedCode(t *testing.T, env *testEnv) string {
	t.Helper()
	n, ok := env.notes.last(notify.TypeOTPIssued)
	require.True(t, ok, "no code was delivered")
	code := n.Payload[notify.PayloadCode]
	require.Len(t, code, 6)
	return code
}

func TestAuthService_LockoutAfterThreshold(t *testing.T) {
	svc, env, accounts := newAuthFixture(t)
	id := uuid.New()

	for i := 0; i < 4; i++ {
		_, err := login(svc, id, false)
		assertDenied(t, err, domain.DenyInvalidCredentials)
	}
	_, err := login(svc, id, false)
	assertDenied(t, err, domain.DenyInvalidCredentials)

	acct, err := accounts.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, acct.LockoutUntil)
	assert.Equal(t, env.clock.Now().Add(15*time.Minute), *acct.LockoutUntil)
	assert.Equal(t, 5, acct.FailedAttempts)

	// Locked: even valid credentials are refused and counters stay put.
	_, err = login(svc, id, true)
	assertDenied(t, err, domain.DenyLocked)
	_, err = login(svc, id, false)
	assertDenied(t, err, domain.DenyLocked)

	acct, err = accounts.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 5, acct.FailedAttempts)

	_, ok := env.notes.last(notify.TypeAccountLocked)
	assert.True(t, ok)
}

func TestAuthService_LockoutExpiresAndDoubles(t *testing.T) {
	svc, env, accounts := newAuthFixture(t)
	id := uuid.New()

	for i := 0; i < 5; i++ {
		_, _ = login(svc, id, false)
	}
	env.clock.Advance(16 * time.Minute)

	// The expired lock resets the window; a second lockout lasts twice as long.
	_, err := login(svc, id, false)
	assertDenied(t, err, domain.DenyInvalidCredentials)
	acct, err := accounts.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, acct.FailedAttempts)

	for i := 0; i < 4; i++ {
		_, _ = login(svc, id, false)
	}
	acct, err = accounts.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, acct.LockoutUntil)
	assert.Equal(t, env.clock.Now().Add(30*time.Minute), *acct.LockoutUntil)
}

func TestAuthService_SuccessResetsCounters(t *testing.T) {
	svc, _, accounts := newAuthFixture(t)
	id := uuid.New()

	_, _ = login(svc, id, false)
	_, _ = login(svc, id, false)
	out, err := login(svc, id, true)
	require.NoError(t, err)
	assert.False(t, out.SecondFactorRequired)

	acct, err := accounts.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, acct.FailedAttempts)
}

func TestAuthService_OTPLifecycle(t *testing.T) {
	svc, env, _ := newAuthFixture(t)
	ctx := context.Background()
	p := user()

	issued, err := svc.IssueOTP(ctx, p, IssueOTPInput{Purpose: domain.PurposeDeviceVerification})
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(10*time.Minute), issued.ExpiresAt)
	code := issuedCode(t, env)

	verify := func(code string) error {
		_, err := svc.VerifyOTP(ctx, p, VerifyOTPInput{Purpose: domain.PurposeDeviceVerification, Code: code})
		return err
	}

	assert.ErrorIs(t, verify(wrongCode(code)), domain.ErrOTPInvalid)
	require.NoError(t, verify(code))
	assert.ErrorIs(t, verify(code), domain.ErrOTPAlreadyUsed, "replay")

	_, err = svc.VerifyOTP(ctx, p, VerifyOTPInput{Purpose: domain.PurposeLogin, Code: code})
	assert.ErrorIs(t, err, domain.ErrOTPNotIssued)

	_, err = svc.VerifyOTP(ctx, user(), VerifyOTPInput{Purpose: domain.PurposeLogin, Code: "123456"})
	assert.ErrorIs(t, err, domain.ErrOTPNotIssued, "no account at all")
}

func TestAuthService_OTPExpiry(t *testing.T) {
	svc, env, _ := newAuthFixture(t)
	ctx := context.Background()
	p := user()

	_, err := svc.IssueOTP(ctx, p, IssueOTPInput{Purpose: domain.PurposeLogin})
	require.NoError(t, err)
	code := issuedCode(t, env)

	env.clock.Advance(10 * time.Minute)
	_, err = svc.VerifyOTP(ctx, p, VerifyOTPInput{Purpose: domain.PurposeLogin, Code: code})
	assert.ErrorIs(t, err, domain.ErrOTPExpired)
}

func TestAuthService_OTPAttemptLimit(t *testing.T) {
	svc, env, _ := newAuthFixture(t)
	ctx := context.Background()
	p := user()

	_, err := svc.IssueOTP(ctx, p, IssueOTPInput{Purpose: domain.PurposeTwoFactor})
	require.NoError(t, err)
	code := issuedCode(t, env)

	for i := 0; i < DefaultAuthPolicy().OTPMaxAttempts; i++ {
		_, err := svc.VerifyOTP(ctx, p, VerifyOTPInput{Purpose: domain.PurposeTwoFactor, Code: wrongCode(code)})
		require.ErrorIs(t, err, domain.ErrOTPInvalid)
	}
	_, err = svc.VerifyOTP(ctx, p, VerifyOTPInput{Purpose: domain.PurposeTwoFactor, Code: code})
	assert.ErrorIs(t, err, domain.ErrOTPAttemptsExceeded)
}

func TestAuthService_ReissueReplacesCode(t *testing.T) {
	svc, env, _ := newAuthFixture(t)
	ctx := context.Background()
	p := user()

	_, err := svc.IssueOTP(ctx, p, IssueOTPInput{Purpose: domain.PurposeLogin})
	require.NoError(t, err)
	first := issuedCode(t, env)
	_, err = svc.IssueOTP(ctx, p, IssueOTPInput{Purpose: domain.PurposeLogin})
	require.NoError(t, err)
	second := issuedCode(t, env)

	if first != second {
		_, err = svc.VerifyOTP(ctx, p, VerifyOTPInput{Purpose: domain.PurposeLogin, Code: first})
		assert.ErrorIs(t, err, domain.ErrOTPInvalid)
	}
	_, err = svc.VerifyOTP(ctx, p, VerifyOTPInput{Purpose: domain.PurposeLogin, Code: second})
	assert.NoError(t, err)
}

func TestAuthService_PasswordResetClearsLockout(t *testing.T) {
	svc, env, accounts := newAuthFixture(t)
	ctx := context.Background()
	p := user()

	for i := 0; i < 5; i++ {
		_, _ = login(svc, p.UserID, false)
	}
	_, err := svc.IssueOTP(ctx, p, IssueOTPInput{Purpose: domain.PurposePasswordReset})
	require.NoError(t, err)
	_, err = svc.VerifyOTP(ctx, p, VerifyOTPInput{Purpose: domain.PurposePasswordReset, Code: issuedCode(t, env)})
	require.NoError(t, err)

	acct, err := accounts.Get(ctx, p.UserID)
	require.NoError(t, err)
	assert.False(t, acct.IsLocked(env.clock.Now()))
}

func TestAuthService_TwoFactorLogin(t *testing.T) {
	svc, env, _ := newAuthFixture(t)
	ctx := context.Background()
	p := user()

	_, err := svc.IssueOTP(ctx, p, IssueOTPInput{Purpose: domain.PurposeTwoFactor})
	require.NoError(t, err)
	out, err := svc.EnableTwoFactor(ctx, p, EnableTwoFactorInput{TwoFactorInput{Code: issuedCode(t, env)}})
	require.NoError(t, err)
	assert.True(t, out.Account.TwoFactorEnabled)

	res, err := login(svc, p.UserID, true)
	require.NoError(t, err)
	assert.True(t, res.SecondFactorRequired)
	require.NotNil(t, res.OTPExpiresAt)

	n, ok := env.notes.last(notify.TypeOTPIssued)
	require.True(t, ok)
	assert.Equal(t, string(domain.PurposeLogin), n.Payload["purpose"])

	_, err = svc.VerifyOTP(ctx, p, VerifyOTPInput{Purpose: domain.PurposeLogin, Code: n.Payload[notify.PayloadCode]})
	require.NoError(t, err)

	_, err = svc.DisableTwoFactor(ctx, p, DisableTwoFactorInput{TwoFactorInput{Code: "000000"}})
	assert.ErrorIs(t, err, domain.ErrOTPAlreadyUsed, "the enabling code was consumed")
}

func TestAuthService_SocialLogins(t *testing.T) {
	svc, env, _ := newAuthFixture(t)
	ctx := context.Background()
	p := user()

	issue := func() string {
		_, err := svc.IssueOTP(ctx, p, IssueOTPInput{Purpose: domain.PurposeDeviceVerification})
		require.NoError(t, err)
		return issuedCode(t, env)
	}

	out, err := svc.LinkSocialLogin(ctx, p, LinkSocialLoginInput{Provider: "GitHub", Subject: "octocat", Code: issue()})
	require.NoError(t, err)
	assert.Equal(t, "octocat", out.Account.LinkedProviders["github"])

	_, err = svc.UnlinkSocialLogin(ctx, p, UnlinkSocialLoginInput{Provider: "gitlab", Code: issue()})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	out, err = svc.UnlinkSocialLogin(ctx, p, UnlinkSocialLoginInput{Provider: "github", Code: issue()})
	require.NoError(t, err)
	assert.Empty(t, out.Account.LinkedProviders)
}

func TestAuthService_SanctionAndUnlock(t *testing.T) {
	svc, env, _ := newAuthFixture(t)
	ctx := context.Background()
	target := uuid.New()

	_, err := svc.SanctionAccount(ctx, user(), SanctionAccountInput{UserID: target, Action: domain.ActionUserSuspended})
	assertDenied(t, err, domain.DenyInsufficientRole)

	out, err := svc.SanctionAccount(ctx, user(domain.RoleModerator), SanctionAccountInput{UserID: target, Action: domain.ActionUserSuspended})
	require.NoError(t, err)
	require.NotNil(t, out.Account.SuspendedUntil)

	_, err = login(svc, target, true)
	assertDenied(t, err, domain.DenyAccountSuspended)

	env.clock.Advance(8 * 24 * time.Hour)
	_, err = login(svc, target, true)
	require.NoError(t, err, "suspension expired")

	for i := 0; i < 5; i++ {
		_, _ = login(svc, target, false)
	}
	_, err = svc.UnlockAccount(ctx, user(domain.RoleModerator), UnlockAccountInput{UserID: target})
	assertDenied(t, err, domain.DenyInsufficientRole)

	_, err = svc.UnlockAccount(ctx, user(domain.RoleAdministrator), UnlockAccountInput{UserID: target})
	require.NoError(t, err)
	_, err = login(svc, target, true)
	assert.NoError(t, err)

	_, err = svc.UnlockAccount(ctx, user(domain.RoleAdministrator), UnlockAccountInput{UserID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAuthService_ActingForOthers(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	_, err := svc.IssueOTP(ctx, user(), IssueOTPInput{UserID: uuid.New(), Purpose: domain.PurposeLogin})
	assertDenied(t, err, domain.DenyNotOwner)

	_, err = svc.IssueOTP(ctx, domain.SystemPrincipal, IssueOTPInput{UserID: uuid.New(), Purpose: domain.PurposePasswordReset})
	assert.NoError(t, err)

	_, err = svc.GetAccount(ctx, user(), GetAccountInput{UserID: uuid.New()})
	assertDenied(t, err, domain.DenyNotOwner)
}

// wrongCode returns a code of the same length that differs from code.
func wrongCode(code string) string {
	b := []byte(code)
	if b[0] == '9' {
		b[0] = '0'
	} else {
		b[0]++
	}
	return string(b)
}
