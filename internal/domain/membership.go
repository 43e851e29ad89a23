package domain

import (
	"time"

	"github.com/google/uuid"
)

// GroupPrivacy controls how joins are handled.
type GroupPrivacy string

const (
	// GroupPublic groups activate members on join.
	GroupPublic GroupPrivacy = "public"

	// GroupPrivate groups hold joins as pending until approved.
	GroupPrivate GroupPrivacy = "private"
)

// Valid reports whether p is a known privacy setting.
func (p GroupPrivacy) Valid() bool {
	return p == GroupPublic || p == GroupPrivate
}

// Group is a community group. Members are stored separately as Memberships.
type Group struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	Privacy   GroupPrivacy `json:"privacy"`
	CreatedBy uuid.UUID    `json:"created_by"`
	CreatedAt time.Time    `json:"created_at"`
	Version   int64        `json:"-"`
}

// NewGroup creates an unsaved group.
func NewGroup(name string, privacy GroupPrivacy, createdBy uuid.UUID) *Group {
	return &Group{
		ID:        uuid.New(),
		Name:      name,
		Privacy:   privacy,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
}

// Clone returns a copy.
func (g *Group) Clone() *Group {
	c := *g
	return &c
}

// GroupRole is a member's role within one group.
type GroupRole string

const (
	GroupRoleOwner     GroupRole = "owner"
	GroupRoleAdmin     GroupRole = "admin"
	GroupRoleModerator GroupRole = "moderator"
	GroupRoleMember    GroupRole = "member"
)

// Valid reports whether r is a known group role.
func (r GroupRole) Valid() bool {
	switch r {
	case GroupRoleOwner, GroupRoleAdmin, GroupRoleModerator, GroupRoleMember:
		return true
	}
	return false
}

// MembershipStatus is a member's standing within one group.
type MembershipStatus string

const (
	// StatusNone stands for "no membership record".
	StatusNone      MembershipStatus = ""
	StatusPending   MembershipStatus = "pending"
	StatusActive    MembershipStatus = "active"
	StatusSuspended MembershipStatus = "suspended"
	StatusBanned    MembershipStatus = "banned"
	StatusLeft      MembershipStatus = "left"
)

// MembershipEvent is an input to the membership state machine.
type MembershipEvent string

const (
	EventJoin      MembershipEvent = "join"
	EventApprove   MembershipEvent = "approve"
	EventReject    MembershipEvent = "reject"
	EventLeave     MembershipEvent = "leave"
	EventSuspend   MembershipEvent = "suspend"
	EventBan       MembershipEvent = "ban"
	EventReinstate MembershipEvent = "reinstate"
)

// membershipTransitions is the complete transition table. Join targets
// depend on group privacy and are resolved in NextMembershipStatus.
var membershipTransitions = map[MembershipStatus]map[MembershipEvent]MembershipStatus{
	StatusNone: {
		EventJoin: StatusNone,
	},
	StatusPending: {
		EventApprove: StatusActive,
		EventReject:  StatusLeft,
	},
	StatusActive: {
		EventLeave:   StatusLeft,
		EventSuspend: StatusSuspended,
		EventBan:     StatusBanned,
	},
	StatusSuspended: {
		EventBan:       StatusBanned,
		EventReinstate: StatusActive,
	},
	StatusLeft: {
		EventJoin: StatusNone,
	},
	StatusBanned: {
		EventJoin: StatusNone,
	},
}

// NextMembershipStatus returns the status reached from "from" on event, or
// ErrInvalidTransition if the move is not in the table.
func NextMembershipStatus(from MembershipStatus, event MembershipEvent, privacy GroupPrivacy) (MembershipStatus, error) {
	to, ok := membershipTransitions[from][event]
	if !ok {
		name := string(from)
		if from == StatusNone {
			name = "none"
		}
		return "", InvalidTransition("membership", name, string(event))
	}
	if event == EventJoin {
		if privacy == GroupPrivate {
			return StatusPending, nil
		}
		return StatusActive, nil
	}
	return to, nil
}

// Membership is a user's relationship to a group. There is exactly one
// record per (GroupID, UserID).
type Membership struct {
	GroupID   uuid.UUID        `json:"group_id"`
	UserID    uuid.UUID        `json:"user_id"`
	Role      GroupRole        `json:"role"`
	Status    MembershipStatus `json:"status"`
	JoinedAt  time.Time        `json:"joined_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Version   int64            `json:"-"`
}

// NewMembership creates an unsaved membership.
func NewMembership(groupID, userID uuid.UUID, role GroupRole, status MembershipStatus) *Membership {
	now := time.Now().UTC()
	return &Membership{
		GroupID:   groupID,
		UserID:    userID,
		Role:      role,
		Status:    status,
		JoinedAt:  now,
		UpdatedAt: now,
	}
}

// IsActiveOwner reports whether the membership holds group ownership.
func (m *Membership) IsActiveOwner() bool {
	return m.Role == GroupRoleOwner && m.Status == StatusActive
}

// Apply moves the membership through event. A rejoin resets the role to Member.
func (m *Membership) Apply(event MembershipEvent, privacy GroupPrivacy) error {
	next, err := NextMembershipStatus(m.Status, event, privacy)
	if err != nil {
		return err
	}
	if event == EventJoin {
		m.Role = GroupRoleMember
		m.JoinedAt = time.Now().UTC()
	}
	m.Status = next
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// Clone returns a copy.
func (m *Membership) Clone() *Membership {
	c := *m
	return &c
}
