package domain

import (
	"time"

	"github.com/google/uuid"
)

// OTPPurpose tags what a one-time code may be used for.
type OTPPurpose string

const (
	PurposeLogin              OTPPurpose = "login"
	PurposePasswordReset      OTPPurpose = "password_reset"
	PurposeDeviceVerification OTPPurpose = "device_verification"
	PurposeTwoFactor          OTPPurpose = "two_factor"
)

// Valid reports whether p is a known purpose.
func (p OTPPurpose) Valid() bool {
	switch p {
	case PurposeLogin, PurposePasswordReset, PurposeDeviceVerification, PurposeTwoFactor:
		return true
	}
	return false
}

// OTP is a single-use code. Only its hash is stored.
type OTP struct {
	Purpose    OTPPurpose `json:"purpose"`
	CodeHash   string     `json:"-"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`

	// Attempts counts wrong codes tried against this record.
	Attempts int `json:"attempts"`
}

// IsExpired reports whether the code expired at now.
func (o *OTP) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// IsConsumed reports whether the code was used.
func (o *OTP) IsConsumed() bool {
	return o.ConsumedAt != nil
}

// LockoutPolicy configures failed-login lockout.
type LockoutPolicy struct {
	// Threshold is the number of consecutive failures that locks the account.
	Threshold int

	// Base is the first lockout duration; each further lockout doubles it.
	Base time.Duration

	// Max caps the lockout duration.
	Max time.Duration
}

// DefaultLockoutPolicy returns 5 attempts, 15 minutes doubling up to 24 hours.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Threshold: 5,
		Base:      15 * time.Minute,
		Max:       24 * time.Hour,
	}
}

// Backoff returns the lockout duration after lockoutCount previous lockouts.
func (p LockoutPolicy) Backoff(lockoutCount int) time.Duration {
	d := p.Base
	for i := 0; i < lockoutCount; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Account is the authentication security state of one user.
// Locked is derived from LockoutUntil and never stored separately.
type Account struct {
	UserID           uuid.UUID  `json:"user_id"`
	FailedAttempts   int        `json:"failed_attempts"`
	LockoutUntil     *time.Time `json:"lockout_until,omitempty"`
	LockoutCount     int        `json:"lockout_count"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`

	// LinkedProviders maps a social login provider to the external subject.
	LinkedProviders map[string]string `json:"linked_providers"`

	SuspendedUntil *time.Time `json:"suspended_until,omitempty"`
	Banned         bool       `json:"banned"`

	// OTPs holds at most one code per purpose.
	OTPs map[OTPPurpose]*OTP `json:"-"`

	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"-"`
}

// NewAccount creates an unsaved account in its initial state.
func NewAccount(userID uuid.UUID) *Account {
	return &Account{
		UserID:          userID,
		LinkedProviders: make(map[string]string),
		OTPs:            make(map[OTPPurpose]*OTP),
		UpdatedAt:       time.Now().UTC(),
	}
}

// IsLocked reports whether the account is locked at now.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockoutUntil != nil && now.Before(*a.LockoutUntil)
}

// IsSanctioned reports whether a ban or an unexpired suspension applies.
func (a *Account) IsSanctioned(now time.Time) bool {
	if a.Banned {
		return true
	}
	return a.SuspendedUntil != nil && now.Before(*a.SuspendedUntil)
}

// RecordFailure counts a failed login at now and returns true if this
// failure locked the account. A lockout that has expired starts a new window.
func (a *Account) RecordFailure(now time.Time, policy LockoutPolicy) bool {
	if a.LockoutUntil != nil && !now.Before(*a.LockoutUntil) {
		a.FailedAttempts = 0
		a.LockoutUntil = nil
	}
	a.FailedAttempts++
	a.UpdatedAt = now
	if a.FailedAttempts < policy.Threshold {
		return false
	}
	until := now.Add(policy.Backoff(a.LockoutCount))
	a.LockoutUntil = &until
	a.LockoutCount++
	return true
}

// RecordSuccess resets failure bookkeeping after a successful login.
func (a *Account) RecordSuccess(now time.Time) {
	a.ClearLockout()
	a.UpdatedAt = now
}

// ClearLockout removes any lockout and resets counters.
func (a *Account) ClearLockout() {
	a.FailedAttempts = 0
	a.LockoutCount = 0
	a.LockoutUntil = nil
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := *a
	c.LockoutUntil = cloneTimePtr(a.LockoutUntil)
	c.SuspendedUntil = cloneTimePtr(a.SuspendedUntil)
	c.LinkedProviders = make(map[string]string, len(a.LinkedProviders))
	for k, v := range a.LinkedProviders {
		c.LinkedProviders[k] = v
	}
	c.OTPs = make(map[OTPPurpose]*OTP, len(a.OTPs))
	for k, v := range a.OTPs {
		otp := *v
		otp.ConsumedAt = cloneTimePtr(v.ConsumedAt)
		c.OTPs[k] = &otp
	}
	return &c
}
