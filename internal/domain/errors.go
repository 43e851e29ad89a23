// Package domain contains the core business entities for Agora.
package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the core matches exactly one of these
// with errors.Is; the more specific sentinels below unwrap to their kind.
var (
	// ErrValidation indicates malformed input caught before any state machine runs.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAuthorizationDenied indicates the principal may not perform the action.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrInvalidTransition indicates the state machine rejected the requested move.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConflict indicates a concurrent write collided with this one. Retryable.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrDependencyFailure indicates an external collaborator was unavailable.
	ErrDependencyFailure = errors.New("dependency failure")

	// ErrPartialSuccess marks an operation whose primary transition committed
	// but whose cross-component side effect failed.
	ErrPartialSuccess = errors.New("partial success")
)

// kindError is a specific sentinel that also matches its kind.
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

func newKindError(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

var (
	// ===========================================
	// Not Found
	// ===========================================

	ErrTargetNotFound       = newKindError(ErrNotFound, "vote target not found")
	ErrGroupNotFound        = newKindError(ErrNotFound, "group not found")
	ErrMembershipNotFound   = newKindError(ErrNotFound, "membership not found")
	ErrReportNotFound       = newKindError(ErrNotFound, "report not found")
	ErrConversationNotFound = newKindError(ErrNotFound, "conversation not found")
	ErrMessageNotFound      = newKindError(ErrNotFound, "message not found")
	ErrAccountNotFound      = newKindError(ErrNotFound, "account not found")

	// ===========================================
	// Invalid Transitions
	// ===========================================

	// ErrOwnerMustTransfer indicates the group owner tried to leave or was
	// targeted by a sanction before handing ownership to another member.
	ErrOwnerMustTransfer = newKindError(ErrInvalidTransition, "group owner must transfer ownership first")

	// ErrRoleChangeNotAllowed indicates a role change on a non-active member,
	// on the owner, or to the owner role.
	ErrRoleChangeNotAllowed = newKindError(ErrInvalidTransition, "role change not allowed")

	// ErrTargetOwnerMismatch indicates a target was re-registered with a different owner.
	ErrTargetOwnerMismatch = newKindError(ErrInvalidTransition, "vote target already registered to another owner")

	// ErrParticipantExists indicates the user is already a current conversation participant.
	ErrParticipantExists = newKindError(ErrInvalidTransition, "user is already a participant")

	// ===========================================
	// Authentication
	// ===========================================

	// ErrOTPNotIssued indicates no code was ever issued for the purpose.
	ErrOTPNotIssued = newKindError(ErrAuthorizationDenied, "no one-time code issued")

	// ErrOTPExpired indicates the code passed its expiry before use.
	ErrOTPExpired = newKindError(ErrAuthorizationDenied, "one-time code expired")

	// ErrOTPAlreadyUsed indicates the code was already consumed.
	ErrOTPAlreadyUsed = newKindError(ErrAuthorizationDenied, "one-time code already used")

	// ErrOTPInvalid indicates the supplied code does not match.
	ErrOTPInvalid = newKindError(ErrAuthorizationDenied, "invalid one-time code")

	// ErrOTPAttemptsExceeded indicates too many wrong codes were tried.
	ErrOTPAttemptsExceeded = newKindError(ErrAuthorizationDenied, "too many one-time code attempts")
)

// DenyReason tags why authorization was denied.
type DenyReason string

const (
	DenyNotOwner           DenyReason = "not_owner"
	DenyInsufficientRole   DenyReason = "insufficient_role"
	DenyNotMember          DenyReason = "not_member"
	DenyLocked             DenyReason = "locked"
	DenyAccountSuspended   DenyReason = "account_suspended"
	DenyInvalidCredentials DenyReason = "invalid_credentials"
)

// AccessDeniedError is the AuthorizationDenied error with its reason tag.
type AccessDeniedError struct {
	Reason DenyReason

	// Action is the denied action, if known.
	Action string
}

// Error implements the error interface.
func (e *AccessDeniedError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s: %s (%s)", ErrAuthorizationDenied.Error(), e.Reason, e.Action)
	}
	return fmt.Sprintf("%s: %s", ErrAuthorizationDenied.Error(), e.Reason)
}

// Unwrap returns ErrAuthorizationDenied.
func (e *AccessDeniedError) Unwrap() error {
	return ErrAuthorizationDenied
}

// Denied creates an AccessDeniedError.
func Denied(reason DenyReason, action string) *AccessDeniedError {
	return &AccessDeniedError{Reason: reason, Action: action}
}

// DenyReasonOf extracts the deny reason from err, if any.
func DenyReasonOf(err error) (DenyReason, bool) {
	var denied *AccessDeniedError
	if errors.As(err, &denied) {
		return denied.Reason, true
	}
	return "", false
}

// ValidationError describes a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation.Error(), e.Message)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation.Error(), e.Field, e.Message)
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid creates a ValidationError.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// PartialSuccessError reports a committed primary transition whose side
// effect failed. It is not rolled back; callers reconcile using Cause.
type PartialSuccessError struct {
	// Operation names the side effect that failed.
	Operation string

	// Cause is the side effect's error.
	Cause error
}

// Error implements the error interface.
func (e *PartialSuccessError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", ErrPartialSuccess.Error(), e.Operation, e.Cause)
}

// Unwrap returns ErrPartialSuccess only, so the side effect's kind does not
// make the whole request look fatal.
func (e *PartialSuccessError) Unwrap() error {
	return ErrPartialSuccess
}

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., group or report id).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}

// InvalidTransition builds an ErrInvalidTransition with the from/event pair.
func InvalidTransition(entity string, from, event string) error {
	return NewDomainError(ErrInvalidTransition, fmt.Sprintf("%s cannot %s from %s", entity, event, from), "")
}
