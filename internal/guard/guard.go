// Package guard decides whether a principal may perform an action on a target.
// Decisions are pure functions of their inputs: the caller loads whatever
// state the target needs (owner id, the actor's membership) beforehand.
package guard

import (
	"github.com/google/uuid"

	"github.com/prn-tf/agora/internal/domain"
)

// Action names a guarded operation.
type Action string

const (
	// Own-content actions.
	EditOwnContent   Action = "edit_own_content"
	DeleteOwnContent Action = "delete_own_content"

	// Platform moderation actions.
	ModerateContent Action = "moderate_content"
	ResolveReport   Action = "resolve_report"
	SanctionUser    Action = "sanction_user"

	// Group-role actions.
	ManageMembers     Action = "manage_members"
	SuspendMember     Action = "suspend_member"
	TransferOwnership Action = "transfer_ownership"

	// Conversation participation.
	Participate Action = "participate"
)

// groupRoles lists the group roles allowed to perform each group-role action.
var groupRoles = map[Action][]domain.GroupRole{
	ManageMembers:     {domain.GroupRoleOwner, domain.GroupRoleAdmin},
	SuspendMember:     {domain.GroupRoleOwner, domain.GroupRoleAdmin, domain.GroupRoleModerator},
	TransferOwnership: {domain.GroupRoleOwner},
}

// Target carries the facts a decision depends on.
type Target struct {
	// OwnerID is the content owner for own-content actions.
	OwnerID uuid.UUID

	// Membership is the actor's membership in the group, nil if none.
	Membership *domain.Membership

	// Participant reports whether the actor currently takes part in the conversation.
	Participant bool
}

// Content builds a target for own-content actions.
func Content(ownerID uuid.UUID) Target {
	return Target{OwnerID: ownerID}
}

// Group builds a target for group-role actions from the actor's membership.
func Group(actor *domain.Membership) Target {
	return Target{Membership: actor}
}

// Conversation builds a target for participation checks.
func Conversation(participant bool) Target {
	return Target{Participant: participant}
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  domain.DenyReason
	Action  Action
}

// Err returns nil when allowed and an *domain.AccessDeniedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return domain.Denied(d.Reason, string(d.Action))
}

func allow(action Action) Decision {
	return Decision{Allowed: true, Action: action}
}

func deny(action Action, reason domain.DenyReason) Decision {
	return Decision{Action: action, Reason: reason}
}

// Authorize decides whether p may perform action on target.
func Authorize(p domain.Principal, action Action, target Target) Decision {
	switch action {
	case EditOwnContent:
		if p.UserID == target.OwnerID {
			return allow(action)
		}
		return deny(action, domain.DenyNotOwner)

	case DeleteOwnContent:
		if p.UserID == target.OwnerID || p.IsStaff() {
			return allow(action)
		}
		return deny(action, domain.DenyNotOwner)

	case ModerateContent, ResolveReport, SanctionUser:
		if p.IsStaff() {
			return allow(action)
		}
		return deny(action, domain.DenyInsufficientRole)

	case ManageMembers, SuspendMember, TransferOwnership:
		return authorizeGroupRole(p, action, target.Membership)

	case Participate:
		if target.Participant {
			return allow(action)
		}
		return deny(action, domain.DenyNotMember)
	}

	return deny(action, domain.DenyInsufficientRole)
}

func authorizeGroupRole(p domain.Principal, action Action, actor *domain.Membership) Decision {
	// Transfer is the owner's own act; administrators cannot give away a group.
	if p.IsAdministrator() && action != TransferOwnership {
		return allow(action)
	}
	if actor == nil || actor.Status != domain.StatusActive || actor.UserID != p.UserID {
		return deny(action, domain.DenyNotMember)
	}
	for _, role := range groupRoles[action] {
		if actor.Role == role {
			return allow(action)
		}
	}
	return deny(action, domain.DenyInsufficientRole)
}
