package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/agora/internal/dispatch"
	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/guard"
	"github.com/prn-tf/agora/internal/lock"
	"github.com/prn-tf/agora/internal/notify"
	"github.com/prn-tf/agora/internal/pkg/crypto"
	"github.com/prn-tf/agora/internal/repository"
)

// Authentication request kinds.
const (
	KindAttemptLogin      dispatch.Kind = "auth.attempt_login"
	KindIssueOTP          dispatch.Kind = "auth.issue_otp"
	KindVerifyOTP         dispatch.Kind = "auth.verify_otp"
	KindEnableTwoFactor   dispatch.Kind = "auth.enable_two_factor"
	KindDisableTwoFactor  dispatch.Kind = "auth.disable_two_factor"
	KindLinkSocialLogin   dispatch.Kind = "auth.link_social_login"
	KindUnlinkSocialLogin dispatch.Kind = "auth.unlink_social_login"
	KindSanctionAccount   dispatch.Kind = "auth.sanction_account"
	KindUnlockAccount     dispatch.Kind = "auth.unlock_account"
	KindGetAccount        dispatch.Kind = "auth.get_account"
)

// ErrSocialLoginNotLinked indicates an unlink for a provider that is not linked.
var ErrSocialLoginNotLinked = domain.NewDomainError(domain.ErrNotFound, "social login not linked", "")

// AuthPolicy holds the tunables of the authentication state machine.
type AuthPolicy struct {
	Lockout        domain.LockoutPolicy
	OTPTTL         time.Duration
	OTPLength      int
	OTPMaxAttempts int

	// SuspensionDuration applies when a suspension has no explicit end.
	SuspensionDuration time.Duration
}

// DefaultAuthPolicy returns the stock policy.
func DefaultAuthPolicy() AuthPolicy {
	return AuthPolicy{
		Lockout:            domain.DefaultLockoutPolicy(),
		OTPTTL:             10 * time.Minute,
		OTPLength:          6,
		OTPMaxAttempts:     5,
		SuspensionDuration: 7 * 24 * time.Hour,
	}
}

// AuthService owns lockout, one-time codes, two-factor and account standing.
type AuthService struct {
	accounts repository.AccountRepository
	hasher   *crypto.CodeHasher
	policy   AuthPolicy
	rt       Runtime
	logger   zerolog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(accounts repository.AccountRepository, hasher *crypto.CodeHasher, policy AuthPolicy, rt Runtime, logger zerolog.Logger) *AuthService {
	return &AuthService{
		accounts: accounts,
		hasher:   hasher,
		policy:   policy,
		rt:       rt,
		logger:   logger.With().Str("service", "auth").Logger(),
	}
}

// AccountOutput contains an account's security state.
type AccountOutput struct {
	Account *domain.Account
}

// subject resolves which account a request addresses. Acting on another
// user's account needs an administrator.
func subject(p domain.Principal, userID uuid.UUID, action string) (uuid.UUID, error) {
	if userID == uuid.Nil || userID == p.UserID {
		if p.UserID == uuid.Nil {
			return uuid.Nil, domain.Invalid("user_id", "is required")
		}
		return p.UserID, nil
	}
	if !p.IsAdministrator() {
		return uuid.Nil, domain.Denied(domain.DenyNotOwner, action)
	}
	return userID, nil
}

// loadOrNew returns the stored account or a fresh unsaved one.
func (s *AuthService) loadOrNew(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	acct, err := s.accounts.Get(ctx, userID)
	if repository.IsNotFound(err) {
		return domain.NewAccount(userID), nil
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return acct, nil
}

func (s *AuthService) save(ctx context.Context, acct *domain.Account) error {
	if err := beforeCommit(ctx); err != nil {
		return err
	}
	acct.UpdatedAt = s.rt.now()
	return storeErr(s.accounts.Save(ctx, acct))
}

// newOTP generates a code for purpose and stores its hash on acct,
// replacing any earlier record. It returns the plaintext.
func (s *AuthService) newOTP(acct *domain.Account, purpose domain.OTPPurpose) (string, *domain.OTP, error) {
	code, err := crypto.GenerateNumericCode(s.policy.OTPLength)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to generate one-time code")
		return "", nil, storeErr(err)
	}
	hash, err := s.hasher.Hash(code)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to hash one-time code")
		return "", nil, storeErr(err)
	}

	now := s.rt.now()
	otp := &domain.OTP{
		Purpose:   purpose,
		CodeHash:  hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.policy.OTPTTL),
	}
	if acct.OTPs == nil {
		acct.OTPs = make(map[domain.OTPPurpose]*domain.OTP)
	}
	acct.OTPs[purpose] = otp
	return code, otp, nil
}

func (s *AuthService) deliverOTP(userID uuid.UUID, purpose domain.OTPPurpose, code string, expiresAt time.Time) {
	s.rt.publish(notify.New(notify.TypeOTPIssued, userID, map[string]string{
		"purpose":         string(purpose),
		"expires_at":      expiresAt.Format(time.RFC3339),
		notify.PayloadCode: code,
	}))
}

// =============================================================================
// Login
// =============================================================================

// AttemptLoginInput reports a credential check made by the identity layer.
type AttemptLoginInput struct {
	UserID           uuid.UUID
	CredentialsValid bool
}

// RequestKind implements dispatch.Request.
func (AttemptLoginInput) RequestKind() dispatch.Kind { return KindAttemptLogin }

// Validate implements dispatch.Validator.
func (in AttemptLoginInput) Validate() error {
	if in.UserID == uuid.Nil {
		return domain.Invalid("user_id", "is required")
	}
	return nil
}

// LoginOutput is the result of a successful credential check.
type LoginOutput struct {
	// SecondFactorRequired is set when a Login code was issued and must be
	// verified before the session is granted.
	SecondFactorRequired bool
	OTPExpiresAt         *time.Time
}

// AttemptLogin advances lockout state for one credential check. The caller
// is the identity layer, so the principal is not consulted.
func (s *AuthService) AttemptLogin(ctx context.Context, _ domain.Principal, in AttemptLoginInput) (*LoginOutput, error) {
	var (
		out      LoginOutput
		outcome  string
		denial   error
		lockedAt *time.Time
		code     string
	)

	err := s.rt.mutate(ctx, s.logger, string(KindAttemptLogin), []string{lock.Keys.Account(in.UserID)}, func(ctx context.Context) error {
		out, outcome, denial, lockedAt, code = LoginOutput{}, "", nil, nil, ""

		acct, err := s.loadOrNew(ctx, in.UserID)
		if err != nil {
			return err
		}
		now := s.rt.now()

		switch {
		case acct.IsSanctioned(now):
			outcome, denial = "sanctioned", domain.Denied(domain.DenyAccountSuspended, "login")
			return nil
		case acct.IsLocked(now):
			outcome, denial = "locked", domain.Denied(domain.DenyLocked, "login")
			return nil
		}

		if !in.CredentialsValid {
			if acct.RecordFailure(now, s.policy.Lockout) {
				lockedAt = acct.LockoutUntil
			}
			if err := s.save(ctx, acct); err != nil {
				return err
			}
			outcome, denial = "failed", domain.Denied(domain.DenyInvalidCredentials, "login")
			return nil
		}

		acct.RecordSuccess(now)
		if acct.TwoFactorEnabled {
			var otp *domain.OTP
			code, otp, err = s.newOTP(acct, domain.PurposeLogin)
			if err != nil {
				return err
			}
			expires := otp.ExpiresAt
			out = LoginOutput{SecondFactorRequired: true, OTPExpiresAt: &expires}
		}
		if err := s.save(ctx, acct); err != nil {
			return err
		}
		outcome = "success"
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.rt.Metrics.RecordLogin(outcome)
	if lockedAt != nil {
		s.rt.Metrics.RecordLockout()
		s.logger.Warn().
			Str("user_id", in.UserID.String()).
			Time("lockout_until", *lockedAt).
			Msg("account locked after failed logins")
		s.rt.publish(notify.New(notify.TypeAccountLocked, in.UserID, map[string]string{
			"lockout_until": lockedAt.Format(time.RFC3339),
		}))
	}
	if denial != nil {
		return nil, denial
	}
	if code != "" {
		s.deliverOTP(in.UserID, domain.PurposeLogin, code, *out.OTPExpiresAt)
	}
	return &out, nil
}

// =============================================================================
// One-time codes
// =============================================================================

// IssueOTPInput requests a one-time code.
type IssueOTPInput struct {
	// UserID defaults to the caller.
	UserID  uuid.UUID
	Purpose domain.OTPPurpose
}

// RequestKind implements dispatch.Request.
func (IssueOTPInput) RequestKind() dispatch.Kind { return KindIssueOTP }

// Validate implements dispatch.Validator.
func (in IssueOTPInput) Validate() error {
	if !in.Purpose.Valid() {
		return domain.Invalid("purpose", "is unknown")
	}
	return nil
}

// IssueOTPOutput describes the issued code. The code itself only travels
// through the notification sink.
type IssueOTPOutput struct {
	Purpose   domain.OTPPurpose
	ExpiresAt time.Time
}

// IssueOTP creates a fresh code for a purpose, replacing any earlier one.
func (s *AuthService) IssueOTP(ctx context.Context, p domain.Principal, in IssueOTPInput) (*IssueOTPOutput, error) {
	userID, err := subject(p, in.UserID, string(KindIssueOTP))
	if err != nil {
		return nil, err
	}

	var (
		code    string
		expires time.Time
	)
	err = s.rt.mutate(ctx, s.logger, string(KindIssueOTP), []string{lock.Keys.Account(userID)}, func(ctx context.Context) error {
		acct, err := s.loadOrNew(ctx, userID)
		if err != nil {
			return err
		}
		var otp *domain.OTP
		code, otp, err = s.newOTP(acct, in.Purpose)
		if err != nil {
			return err
		}
		expires = otp.ExpiresAt
		return s.save(ctx, acct)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", userID.String()).
		Str("purpose", string(in.Purpose)).
		Msg("one-time code issued")
	s.deliverOTP(userID, in.Purpose, code, expires)

	return &IssueOTPOutput{Purpose: in.Purpose, ExpiresAt: expires}, nil
}

// VerifyOTPInput checks a one-time code.
type VerifyOTPInput struct {
	// UserID defaults to the caller.
	UserID  uuid.UUID
	Purpose domain.OTPPurpose
	Code    string
}

// RequestKind implements dispatch.Request.
func (VerifyOTPInput) RequestKind() dispatch.Kind { return KindVerifyOTP }

// Validate implements dispatch.Validator.
func (in VerifyOTPInput) Validate() error {
	if !in.Purpose.Valid() {
		return domain.Invalid("purpose", "is unknown")
	}
	return validateCode(in.Code)
}

func validateCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return domain.Invalid("code", "is required")
	}
	return nil
}

// VerifyOTPOutput confirms a consumed code.
type VerifyOTPOutput struct {
	Purpose    domain.OTPPurpose
	VerifiedAt time.Time
}

// VerifyOTP consumes a code. A verified PasswordReset code also clears any
// lockout.
func (s *AuthService) VerifyOTP(ctx context.Context, p domain.Principal, in VerifyOTPInput) (*VerifyOTPOutput, error) {
	userID, err := subject(p, in.UserID, string(KindVerifyOTP))
	if err != nil {
		return nil, err
	}

	acct, err := s.consume(ctx, string(KindVerifyOTP), userID, in.Purpose, in.Code, func(acct *domain.Account) error {
		if in.Purpose == domain.PurposePasswordReset {
			acct.ClearLockout()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &VerifyOTPOutput{Purpose: in.Purpose, VerifiedAt: *acct.OTPs[in.Purpose].ConsumedAt}, nil
}

// consume verifies code against the purpose's record and, on a match, marks
// it consumed and applies fn in the same save. A bcrypt comparison runs on
// every path so the outcome cannot be told apart by timing.
func (s *AuthService) consume(ctx context.Context, op string, userID uuid.UUID, purpose domain.OTPPurpose, code string, fn func(*domain.Account) error) (*domain.Account, error) {
	var (
		result  *domain.Account
		verr    error
		outcome string
	)

	err := s.rt.mutate(ctx, s.logger, op, []string{lock.Keys.Account(userID)}, func(ctx context.Context) error {
		result, verr, outcome = nil, nil, ""

		acct, err := s.accounts.Get(ctx, userID)
		if err != nil && !repository.IsNotFound(err) {
			return storeErr(err)
		}

		var otp *domain.OTP
		if acct != nil {
			otp = acct.OTPs[purpose]
		}
		hash := ""
		if otp != nil {
			hash = otp.CodeHash
		}
		match := s.hasher.Compare(hash, code)
		now := s.rt.now()

		switch {
		case otp == nil:
			outcome, verr = "not_issued", domain.ErrOTPNotIssued
			return nil
		case otp.IsConsumed():
			outcome, verr = "already_used", domain.ErrOTPAlreadyUsed
			return nil
		case otp.IsExpired(now):
			outcome, verr = "expired", domain.ErrOTPExpired
			return nil
		case otp.Attempts >= s.policy.OTPMaxAttempts:
			outcome, verr = "attempts_exceeded", domain.ErrOTPAttemptsExceeded
			return nil
		case !match:
			otp.Attempts++
			if err := s.save(ctx, acct); err != nil {
				return err
			}
			outcome, verr = "invalid", domain.ErrOTPInvalid
			return nil
		}

		if fn != nil {
			if err := fn(acct); err != nil {
				return err
			}
		}
		otp.ConsumedAt = &now
		if err := s.save(ctx, acct); err != nil {
			return err
		}
		outcome, result = "verified", acct
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.rt.Metrics.RecordOTPVerification(string(purpose), outcome)
	if verr != nil {
		s.logger.Debug().
			Str("user_id", userID.String()).
			Str("purpose", string(purpose)).
			Str("outcome", outcome).
			Msg("one-time code rejected")
		return nil, verr
	}
	s.logger.Info().
		Str("user_id", userID.String()).
		Str("purpose", string(purpose)).
		Msg("one-time code verified")
	return result, nil
}

// =============================================================================
// Two-factor and social logins
// =============================================================================

// TwoFactorInput carries a TwoFactor code.
type TwoFactorInput struct {
	Code string
}

// Validate implements dispatch.Validator.
func (in TwoFactorInput) Validate() error { return validateCode(in.Code) }

// EnableTwoFactorInput turns on two-factor login.
type EnableTwoFactorInput struct{ TwoFactorInput }

// DisableTwoFactorInput turns off two-factor login.
type DisableTwoFactorInput struct{ TwoFactorInput }

// RequestKind implements dispatch.Request.
func (EnableTwoFactorInput) RequestKind() dispatch.Kind { return KindEnableTwoFactor }

// RequestKind implements dispatch.Request.
func (DisableTwoFactorInput) RequestKind() dispatch.Kind { return KindDisableTwoFactor }

// EnableTwoFactor verifies a TwoFactor code and enables two-factor login.
func (s *AuthService) EnableTwoFactor(ctx context.Context, p domain.Principal, in EnableTwoFactorInput) (*AccountOutput, error) {
	return s.setTwoFactor(ctx, p, string(KindEnableTwoFactor), in.Code, true)
}

// DisableTwoFactor verifies a TwoFactor code and disables two-factor login.
func (s *AuthService) DisableTwoFactor(ctx context.Context, p domain.Principal, in DisableTwoFactorInput) (*AccountOutput, error) {
	return s.setTwoFactor(ctx, p, string(KindDisableTwoFactor), in.Code, false)
}

func (s *AuthService) setTwoFactor(ctx context.Context, p domain.Principal, op, code string, enabled bool) (*AccountOutput, error) {
	acct, err := s.consume(ctx, op, p.UserID, domain.PurposeTwoFactor, code, func(acct *domain.Account) error {
		acct.TwoFactorEnabled = enabled
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", p.UserID.String()).Bool("enabled", enabled).Msg("two-factor setting changed")
	return &AccountOutput{Account: acct}, nil
}

// LinkSocialLoginInput links an external identity after a device check.
type LinkSocialLoginInput struct {
	Provider string
	Subject  string
	Code     string
}

// RequestKind implements dispatch.Request.
func (LinkSocialLoginInput) RequestKind() dispatch.Kind { return KindLinkSocialLogin }

// Validate implements dispatch.Validator.
func (in LinkSocialLoginInput) Validate() error {
	if strings.TrimSpace(in.Provider) == "" {
		return domain.Invalid("provider", "is required")
	}
	if strings.TrimSpace(in.Subject) == "" {
		return domain.Invalid("subject", "is required")
	}
	return validateCode(in.Code)
}

// LinkSocialLogin verifies a DeviceVerification code and links the provider.
// Linking a provider again replaces its subject.
func (s *AuthService) LinkSocialLogin(ctx context.Context, p domain.Principal, in LinkSocialLoginInput) (*AccountOutput, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	acct, err := s.consume(ctx, string(KindLinkSocialLogin), p.UserID, domain.PurposeDeviceVerification, in.Code, func(acct *domain.Account) error {
		if acct.LinkedProviders == nil {
			acct.LinkedProviders = make(map[string]string)
		}
		acct.LinkedProviders[provider] = in.Subject
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", p.UserID.String()).Str("provider", provider).Msg("social login linked")
	return &AccountOutput{Account: acct}, nil
}

// UnlinkSocialLoginInput removes a linked provider after a device check.
type UnlinkSocialLoginInput struct {
	Provider string
	Code     string
}

// RequestKind implements dispatch.Request.
func (UnlinkSocialLoginInput) RequestKind() dispatch.Kind { return KindUnlinkSocialLogin }

// Validate implements dispatch.Validator.
func (in UnlinkSocialLoginInput) Validate() error {
	if strings.TrimSpace(in.Provider) == "" {
		return domain.Invalid("provider", "is required")
	}
	return validateCode(in.Code)
}

// UnlinkSocialLogin verifies a DeviceVerification code and unlinks the provider.
func (s *AuthService) UnlinkSocialLogin(ctx context.Context, p domain.Principal, in UnlinkSocialLoginInput) (*AccountOutput, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	acct, err := s.consume(ctx, string(KindUnlinkSocialLogin), p.UserID, domain.PurposeDeviceVerification, in.Code, func(acct *domain.Account) error {
		if _, ok := acct.LinkedProviders[provider]; !ok {
			return ErrSocialLoginNotLinked
		}
		delete(acct.LinkedProviders, provider)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", p.UserID.String()).Str("provider", provider).Msg("social login unlinked")
	return &AccountOutput{Account: acct}, nil
}

// =============================================================================
// Standing
// =============================================================================

// SanctionAccountInput suspends or bans an account platform-wide.
type SanctionAccountInput struct {
	UserID uuid.UUID
	Action domain.ModerationAction

	// Until ends a suspension; zero means the policy's default duration.
	Until time.Time
}

// RequestKind implements dispatch.Request.
func (SanctionAccountInput) RequestKind() dispatch.Kind { return KindSanctionAccount }

// Validate implements dispatch.Validator.
func (in SanctionAccountInput) Validate() error {
	if in.UserID == uuid.Nil {
		return domain.Invalid("user_id", "is required")
	}
	if !in.Action.IsSanction() {
		return domain.Invalid("action", "must be user_suspended or user_banned")
	}
	return nil
}

// SanctionAccount records a suspension or ban. A ban is permanent; a later
// suspension never shortens an existing one.
func (s *AuthService) SanctionAccount(ctx context.Context, p domain.Principal, in SanctionAccountInput) (*AccountOutput, error) {
	if err := guard.Authorize(p, guard.SanctionUser, guard.Target{}).Err(); err != nil {
		return nil, err
	}

	var result *domain.Account
	err := s.rt.mutate(ctx, s.logger, string(KindSanctionAccount), []string{lock.Keys.Account(in.UserID)}, func(ctx context.Context) error {
		acct, err := s.loadOrNew(ctx, in.UserID)
		if err != nil {
			return err
		}

		switch in.Action {
		case domain.ActionUserBanned:
			acct.Banned = true
		case domain.ActionUserSuspended:
			until := in.Until.UTC()
			if in.Until.IsZero() {
				until = s.rt.now().Add(s.policy.SuspensionDuration)
			}
			if acct.SuspendedUntil == nil || until.After(*acct.SuspendedUntil) {
				acct.SuspendedUntil = &until
			}
		}

		if err := s.save(ctx, acct); err != nil {
			return err
		}
		result = acct
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", in.UserID.String()).
		Str("actor_id", p.UserID.String()).
		Str("action", string(in.Action)).
		Msg("account sanctioned")
	return &AccountOutput{Account: result}, nil
}

// UnlockAccountInput clears a lockout.
type UnlockAccountInput struct {
	UserID uuid.UUID
}

// RequestKind implements dispatch.Request.
func (UnlockAccountInput) RequestKind() dispatch.Kind { return KindUnlockAccount }

// Validate implements dispatch.Validator.
func (in UnlockAccountInput) Validate() error {
	if in.UserID == uuid.Nil {
		return domain.Invalid("user_id", "is required")
	}
	return nil
}

// UnlockAccount clears lockout state. Administrators only.
func (s *AuthService) UnlockAccount(ctx context.Context, p domain.Principal, in UnlockAccountInput) (*AccountOutput, error) {
	if !p.IsAdministrator() {
		return nil, domain.Denied(domain.DenyInsufficientRole, string(KindUnlockAccount))
	}

	var result *domain.Account
	err := s.rt.mutate(ctx, s.logger, string(KindUnlockAccount), []string{lock.Keys.Account(in.UserID)}, func(ctx context.Context) error {
		acct, err := s.accounts.Get(ctx, in.UserID)
		if err != nil {
			return notFound(err, domain.ErrAccountNotFound)
		}
		acct.ClearLockout()
		if err := s.save(ctx, acct); err != nil {
			return err
		}
		result = acct
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", in.UserID.String()).
		Str("actor_id", p.UserID.String()).
		Msg("account unlocked")
	return &AccountOutput{Account: result}, nil
}

// GetAccountInput reads an account's security state.
type GetAccountInput struct {
	// UserID defaults to the caller.
	UserID uuid.UUID
}

// RequestKind implements dispatch.Request.
func (GetAccountInput) RequestKind() dispatch.Kind { return KindGetAccount }

// GetAccount returns the caller's account, or any account for staff.
func (s *AuthService) GetAccount(ctx context.Context, p domain.Principal, in GetAccountInput) (*AccountOutput, error) {
	userID := in.UserID
	if userID == uuid.Nil {
		userID = p.UserID
	}
	if userID != p.UserID && !p.IsStaff() {
		return nil, domain.Denied(domain.DenyNotOwner, string(KindGetAccount))
	}

	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return nil, notFound(err, domain.ErrAccountNotFound)
	}
	return &AccountOutput{Account: acct}, nil
}
