package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/agora/internal/dispatch"
	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/guard"
	"github.com/prn-tf/agora/internal/lock"
	"github.com/prn-tf/agora/internal/notify"
	"github.com/prn-tf/agora/internal/repository"
)

// Membership request kinds.
const (
	KindCreateGroup       dispatch.Kind = "group.create"
	KindGetGroup          dispatch.Kind = "group.get"
	KindJoinGroup         dispatch.Kind = "membership.join"
	KindLeaveGroup        dispatch.Kind = "membership.leave"
	KindApproveMember     dispatch.Kind = "membership.approve"
	KindRejectMember      dispatch.Kind = "membership.reject"
	KindSuspendMember     dispatch.Kind = "membership.suspend"
	KindBanMember         dispatch.Kind = "membership.ban"
	KindReinstateMember   dispatch.Kind = "membership.reinstate"
	KindChangeRole        dispatch.Kind = "membership.change_role"
	KindTransferOwnership dispatch.Kind = "membership.transfer_ownership"
	KindGetMembership     dispatch.Kind = "membership.get"
	KindListMembers       dispatch.Kind = "membership.list"
)

// MaxGroupNameLength bounds group names.
const MaxGroupNameLength = 100

// MembershipService runs the group membership state machine.
type MembershipService struct {
	groups      repository.GroupRepository
	memberships repository.MembershipRepository
	rt          Runtime
	logger      zerolog.Logger
}

// NewMembershipService creates a new MembershipService.
func NewMembershipService(groups repository.GroupRepository, memberships repository.MembershipRepository, rt Runtime, logger zerolog.Logger) *MembershipService {
	return &MembershipService{
		groups:      groups,
		memberships: memberships,
		rt:          rt,
		logger:      logger.With().Str("service", "membership").Logger(),
	}
}

// MembershipOutput contains a membership after an operation.
type MembershipOutput struct {
	Membership *domain.Membership
}

// roleRank orders group roles for "may act on" checks.
func roleRank(r domain.GroupRole) int {
	switch r {
	case domain.GroupRoleOwner:
		return 4
	case domain.GroupRoleAdmin:
		return 3
	case domain.GroupRoleModerator:
		return 2
	case domain.GroupRoleMember:
		return 1
	}
	return 0
}

func (s *MembershipService) loadGroup(ctx context.Context, id uuid.UUID) (*domain.Group, error) {
	g, err := s.groups.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, domain.ErrGroupNotFound)
	}
	return g, nil
}

// loadMembership returns nil, nil when the user never joined.
func (s *MembershipService) loadMembership(ctx context.Context, groupID, userID uuid.UUID) (*domain.Membership, error) {
	m, err := s.memberships.Get(ctx, repository.MembershipKey{GroupID: groupID, UserID: userID})
	if repository.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return m, nil
}

func (s *MembershipService) committed(m *domain.Membership, event domain.MembershipEvent, actor uuid.UUID) {
	s.rt.Metrics.RecordMembershipTransition(string(event))
	s.logger.Info().
		Str("group_id", m.GroupID.String()).
		Str("user_id", m.UserID.String()).
		Str("actor_id", actor.String()).
		Str("event", string(event)).
		Str("status", string(m.Status)).
		Msg("membership transition")

	if actor != m.UserID {
		s.rt.publish(notify.New(notify.TypeMembershipChanged, m.UserID, map[string]string{
			"group_id": m.GroupID.String(),
			"event":    string(event),
			"status":   string(m.Status),
		}))
	}
}

// =============================================================================
// Groups
// =============================================================================

// CreateGroupInput creates a group owned by the caller.
type CreateGroupInput struct {
	Name    string
	Privacy domain.GroupPrivacy
}

// RequestKind implements dispatch.Request.
func (CreateGroupInput) RequestKind() dispatch.Kind { return KindCreateGroup }

// Validate implements dispatch.Validator.
func (in CreateGroupInput) Validate() error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Invalid("name", "is required")
	}
	if len(name) > MaxGroupNameLength {
		return domain.Invalid("name", "is too long")
	}
	if !in.Privacy.Valid() {
		return domain.Invalid("privacy", "must be public or private")
	}
	return nil
}

// CreateGroupOutput contains the new group and its owner membership.
type CreateGroupOutput struct {
	Group *domain.Group
	Owner *domain.Membership
}

// CreateGroup creates a group with the caller as its active Owner.
func (s *MembershipService) CreateGroup(ctx context.Context, p domain.Principal, in CreateGroupInput) (*CreateGroupOutput, error) {
	group := domain.NewGroup(strings.TrimSpace(in.Name), in.Privacy, p.UserID)
	owner := domain.NewMembership(group.ID, p.UserID, domain.GroupRoleOwner, domain.StatusActive)

	if err := beforeCommit(ctx); err != nil {
		return nil, err
	}
	if err := s.groups.Save(ctx, group); err != nil {
		s.logger.Error().Err(err).Str("group_id", group.ID.String()).Msg("failed to save group")
		return nil, storeErr(err)
	}
	if err := s.memberships.Save(ctx, owner); err != nil {
		s.logger.Error().Err(err).Str("group_id", group.ID.String()).Msg("failed to save owner membership")
		if delErr := s.groups.Delete(context.WithoutCancel(ctx), group.ID); delErr != nil {
			s.logger.Error().Err(delErr).Str("group_id", group.ID.String()).Msg("failed to remove ownerless group")
		}
		return nil, storeErr(err)
	}

	s.logger.Info().
		Str("group_id", group.ID.String()).
		Str("owner_id", p.UserID.String()).
		Str("privacy", string(group.Privacy)).
		Msg("group created")

	return &CreateGroupOutput{Group: group, Owner: owner}, nil
}

// GetGroupInput reads a group.
type GetGroupInput struct {
	GroupID uuid.UUID
}

// RequestKind implements dispatch.Request.
func (GetGroupInput) RequestKind() dispatch.Kind { return KindGetGroup }

// Validate implements dispatch.Validator.
func (in GetGroupInput) Validate() error {
	if in.GroupID == uuid.Nil {
		return domain.Invalid("group_id", "is required")
	}
	return nil
}

// GetGroup returns a group.
func (s *MembershipService) GetGroup(ctx context.Context, p domain.Principal, in GetGroupInput) (*domain.Group, error) {
	return s.loadGroup(ctx, in.GroupID)
}

// =============================================================================
// Join / Leave
// =============================================================================

// JoinGroupInput joins the caller to a group, or rejoins after leaving or a ban.
type JoinGroupInput struct {
	GroupID uuid.UUID
}

// RequestKind implements dispatch.Request.
func (JoinGroupInput) RequestKind() dispatch.Kind { return KindJoinGroup }

// Validate implements dispatch.Validator.
func (in JoinGroupInput) Validate() error {
	if in.GroupID == uuid.Nil {
		return domain.Invalid("group_id", "is required")
	}
	return nil
}

// JoinGroup activates the caller in a public group or queues them in a
// private one.
func (s *MembershipService) JoinGroup(ctx context.Context, p domain.Principal, in JoinGroupInput) (*MembershipOutput, error) {
	var result *domain.Membership

	err := s.rt.mutate(ctx, s.logger, string(KindJoinGroup), []string{lock.Keys.Membership(in.GroupID, p.UserID)}, func(ctx context.Context) error {
		group, err := s.loadGroup(ctx, in.GroupID)
		if err != nil {
			return err
		}
		m, err := s.loadMembership(ctx, in.GroupID, p.UserID)
		if err != nil {
			return err
		}
		if m == nil {
			m = domain.NewMembership(in.GroupID, p.UserID, domain.GroupRoleMember, domain.StatusNone)
		}
		if err := m.Apply(domain.EventJoin, group.Privacy); err != nil {
			return err
		}

		if err := beforeCommit(ctx); err != nil {
			return err
		}
		if err := s.memberships.Save(ctx, m); err != nil {
			return storeErr(err)
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(result, domain.EventJoin, p.UserID)
	return &MembershipOutput{Membership: result}, nil
}

// LeaveGroupInput removes the caller from a group.
type LeaveGroupInput struct {
	GroupID uuid.UUID
}

// RequestKind implements dispatch.Request.
func (LeaveGroupInput) RequestKind() dispatch.Kind { return KindLeaveGroup }

// Validate implements dispatch.Validator.
func (in LeaveGroupInput) Validate() error {
	if in.GroupID == uuid.Nil {
		return domain.Invalid("group_id", "is required")
	}
	return nil
}

// LeaveGroup moves the caller's active membership to Left. The Owner must
// transfer ownership first.
func (s *MembershipService) LeaveGroup(ctx context.Context, p domain.Principal, in LeaveGroupInput) (*MembershipOutput, error) {
	var result *domain.Membership

	err := s.rt.mutate(ctx, s.logger, string(KindLeaveGroup), []string{lock.Keys.Membership(in.GroupID, p.UserID)}, func(ctx context.Context) error {
		group, err := s.loadGroup(ctx, in.GroupID)
		if err != nil {
			return err
		}
		m, err := s.loadMembership(ctx, in.GroupID, p.UserID)
		if err != nil {
			return err
		}
		if m == nil {
			return domain.ErrMembershipNotFound
		}
		if _, err := domain.NextMembershipStatus(m.Status, domain.EventLeave, group.Privacy); err != nil {
			return err
		}
		if m.Role == domain.GroupRoleOwner {
			return domain.ErrOwnerMustTransfer
		}
		if err := m.Apply(domain.EventLeave, group.Privacy); err != nil {
			return err
		}

		if err := beforeCommit(ctx); err != nil {
			return err
		}
		if err := s.memberships.Save(ctx, m); err != nil {
			return storeErr(err)
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(result, domain.EventLeave, p.UserID)
	return &MembershipOutput{Membership: result}, nil
}

// =============================================================================
// Moderator actions on a member
// =============================================================================

// MemberAction identifies the member an action applies to.
type MemberAction struct {
	GroupID uuid.UUID
	UserID  uuid.UUID
}

// Validate implements dispatch.Validator.
func (in MemberAction) Validate() error {
	if in.GroupID == uuid.Nil {
		return domain.Invalid("group_id", "is required")
	}
	if in.UserID == uuid.Nil {
		return domain.Invalid("user_id", "is required")
	}
	return nil
}

// ApproveMemberInput approves a pending join.
type ApproveMemberInput struct{ MemberAction }

// RejectMemberInput rejects a pending join.
type RejectMemberInput struct{ MemberAction }

// SuspendMemberInput suspends an active member.
type SuspendMemberInput struct{ MemberAction }

// BanMemberInput bans an active or suspended member.
type BanMemberInput struct{ MemberAction }

// ReinstateMemberInput lifts a suspension.
type ReinstateMemberInput struct{ MemberAction }

// RequestKind implements dispatch.Request.
func (ApproveMemberInput) RequestKind() dispatch.Kind { return KindApproveMember }

// RequestKind implements dispatch.Request.
func (RejectMemberInput) RequestKind() dispatch.Kind { return KindRejectMember }

// RequestKind implements dispatch.Request.
func (SuspendMemberInput) RequestKind() dispatch.Kind { return KindSuspendMember }

// RequestKind implements dispatch.Request.
func (BanMemberInput) RequestKind() dispatch.Kind { return KindBanMember }

// RequestKind implements dispatch.Request.
func (ReinstateMemberInput) RequestKind() dispatch.Kind { return KindReinstateMember }

// ApproveMember moves a pending membership to Active.
func (s *MembershipService) ApproveMember(ctx context.Context, p domain.Principal, in ApproveMemberInput) (*MembershipOutput, error) {
	return s.transition(ctx, p, in.MemberAction, domain.EventApprove)
}

// RejectMember moves a pending membership to Left.
func (s *MembershipService) RejectMember(ctx context.Context, p domain.Principal, in RejectMemberInput) (*MembershipOutput, error) {
	return s.transition(ctx, p, in.MemberAction, domain.EventReject)
}

// SuspendMember moves an active membership to Suspended.
func (s *MembershipService) SuspendMember(ctx context.Context, p domain.Principal, in SuspendMemberInput) (*MembershipOutput, error) {
	return s.transition(ctx, p, in.MemberAction, domain.EventSuspend)
}

// BanMember moves an active or suspended membership to Banned.
func (s *MembershipService) BanMember(ctx context.Context, p domain.Principal, in BanMemberInput) (*MembershipOutput, error) {
	return s.transition(ctx, p, in.MemberAction, domain.EventBan)
}

// ReinstateMember moves a suspended membership back to Active.
func (s *MembershipService) ReinstateMember(ctx context.Context, p domain.Principal, in ReinstateMemberInput) (*MembershipOutput, error) {
	return s.transition(ctx, p, in.MemberAction, domain.EventReinstate)
}

// eventAction maps a moderator event to the guard action gating it.
var eventAction = map[domain.MembershipEvent]guard.Action{
	domain.EventApprove:   guard.ManageMembers,
	domain.EventReject:    guard.ManageMembers,
	domain.EventSuspend:   guard.SuspendMember,
	domain.EventBan:       guard.ManageMembers,
	domain.EventReinstate: guard.ManageMembers,
}

// transition applies a moderator event. The transition table is consulted
// before any authorization so an impossible move is always InvalidTransition.
func (s *MembershipService) transition(ctx context.Context, p domain.Principal, in MemberAction, event domain.MembershipEvent) (*MembershipOutput, error) {
	var result *domain.Membership

	err := s.rt.mutate(ctx, s.logger, "membership."+string(event), []string{lock.Keys.Membership(in.GroupID, in.UserID)}, func(ctx context.Context) error {
		group, err := s.loadGroup(ctx, in.GroupID)
		if err != nil {
			return err
		}
		target, err := s.loadMembership(ctx, in.GroupID, in.UserID)
		if err != nil {
			return err
		}
		if target == nil {
			return domain.ErrMembershipNotFound
		}

		if _, err := domain.NextMembershipStatus(target.Status, event, group.Privacy); err != nil {
			return err
		}
		if target.Role == domain.GroupRoleOwner && (event == domain.EventSuspend || event == domain.EventBan) {
			return domain.ErrOwnerMustTransfer
		}

		if err := s.authorizeOver(ctx, p, group.ID, target, eventAction[event]); err != nil {
			return err
		}

		if err := target.Apply(event, group.Privacy); err != nil {
			return err
		}
		if err := beforeCommit(ctx); err != nil {
			return err
		}
		if err := s.memberships.Save(ctx, target); err != nil {
			return storeErr(err)
		}
		result = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(result, event, p.UserID)
	return &MembershipOutput{Membership: result}, nil
}

// authorizeOver checks the group-role gate for action and, for group staff,
// that the actor outranks the member acted on.
func (s *MembershipService) authorizeOver(ctx context.Context, p domain.Principal, groupID uuid.UUID, target *domain.Membership, action guard.Action) error {
	var actor *domain.Membership
	if !p.IsAdministrator() {
		var err error
		actor, err = s.loadMembership(ctx, groupID, p.UserID)
		if err != nil {
			return err
		}
	}

	if err := guard.Authorize(p, action, guard.Group(actor)).Err(); err != nil {
		return err
	}
	if actor != nil && target.Status != domain.StatusPending && roleRank(actor.Role) <= roleRank(target.Role) {
		return domain.Denied(domain.DenyInsufficientRole, string(action))
	}
	return nil
}

// =============================================================================
// Roles and ownership
// =============================================================================

// ChangeRoleInput sets a member's group role.
type ChangeRoleInput struct {
	GroupID uuid.UUID
	UserID  uuid.UUID
	Role    domain.GroupRole
}

// RequestKind implements dispatch.Request.
func (ChangeRoleInput) RequestKind() dispatch.Kind { return KindChangeRole }

// Validate implements dispatch.Validator.
func (in ChangeRoleInput) Validate() error {
	if err := (MemberAction{GroupID: in.GroupID, UserID: in.UserID}).Validate(); err != nil {
		return err
	}
	if !in.Role.Valid() {
		return domain.Invalid("role", "must be owner, admin, moderator or member")
	}
	return nil
}

// ChangeRole promotes or demotes an active member. Ownership moves only
// through TransferOwnership, and only the Owner grants or revokes Admin.
func (s *MembershipService) ChangeRole(ctx context.Context, p domain.Principal, in ChangeRoleInput) (*MembershipOutput, error) {
	var result *domain.Membership
	var previous domain.GroupRole

	err := s.rt.mutate(ctx, s.logger, string(KindChangeRole), []string{lock.Keys.Membership(in.GroupID, in.UserID)}, func(ctx context.Context) error {
		group, err := s.loadGroup(ctx, in.GroupID)
		if err != nil {
			return err
		}
		target, err := s.loadMembership(ctx, in.GroupID, in.UserID)
		if err != nil {
			return err
		}
		if target == nil {
			return domain.ErrMembershipNotFound
		}

		if target.Status != domain.StatusActive || target.Role == domain.GroupRoleOwner || in.Role == domain.GroupRoleOwner {
			return domain.ErrRoleChangeNotAllowed
		}

		var actor *domain.Membership
		if !p.IsAdministrator() {
			actor, err = s.loadMembership(ctx, group.ID, p.UserID)
			if err != nil {
				return err
			}
		}
		if err := guard.Authorize(p, guard.ManageMembers, guard.Group(actor)).Err(); err != nil {
			return err
		}
		touchesAdmin := in.Role == domain.GroupRoleAdmin || target.Role == domain.GroupRoleAdmin
		if actor != nil && touchesAdmin && actor.Role != domain.GroupRoleOwner {
			return domain.Denied(domain.DenyInsufficientRole, string(guard.ManageMembers))
		}

		if target.Role == in.Role {
			result = target
			previous = target.Role
			return nil
		}

		previous = target.Role
		target.Role = in.Role
		target.UpdatedAt = s.rt.now()
		if err := beforeCommit(ctx); err != nil {
			return err
		}
		if err := s.memberships.Save(ctx, target); err != nil {
			return storeErr(err)
		}
		result = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	if previous != result.Role {
		s.logger.Info().
			Str("group_id", in.GroupID.String()).
			Str("user_id", in.UserID.String()).
			Str("from", string(previous)).
			Str("to", string(result.Role)).
			Msg("member role changed")
	}
	return &MembershipOutput{Membership: result}, nil
}

// TransferOwnershipInput hands the group to another active member.
type TransferOwnershipInput struct {
	GroupID    uuid.UUID
	NewOwnerID uuid.UUID
}

// RequestKind implements dispatch.Request.
func (TransferOwnershipInput) RequestKind() dispatch.Kind { return KindTransferOwnership }

// Validate implements dispatch.Validator.
func (in TransferOwnershipInput) Validate() error {
	if in.GroupID == uuid.Nil {
		return domain.Invalid("group_id", "is required")
	}
	if in.NewOwnerID == uuid.Nil {
		return domain.Invalid("new_owner_id", "is required")
	}
	return nil
}

// TransferOwnershipOutput contains both affected memberships.
type TransferOwnershipOutput struct {
	PreviousOwner *domain.Membership
	NewOwner      *domain.Membership
}

// TransferOwnership demotes the calling Owner to Admin and promotes the new
// owner in a single atomic write, so the group never has zero or two Owners.
func (s *MembershipService) TransferOwnership(ctx context.Context, p domain.Principal, in TransferOwnershipInput) (*TransferOwnershipOutput, error) {
	if in.NewOwnerID == p.UserID {
		return nil, domain.Invalid("new_owner_id", "must differ from the current owner")
	}

	var out TransferOwnershipOutput
	keys := []string{
		lock.Keys.Membership(in.GroupID, p.UserID),
		lock.Keys.Membership(in.GroupID, in.NewOwnerID),
	}

	err := s.rt.mutate(ctx, s.logger, string(KindTransferOwnership), keys, func(ctx context.Context) error {
		if _, err := s.loadGroup(ctx, in.GroupID); err != nil {
			return err
		}
		current, err := s.loadMembership(ctx, in.GroupID, p.UserID)
		if err != nil {
			return err
		}
		if err := guard.Authorize(p, guard.TransferOwnership, guard.Group(current)).Err(); err != nil {
			return err
		}

		next, err := s.loadMembership(ctx, in.GroupID, in.NewOwnerID)
		if err != nil {
			return err
		}
		if next == nil {
			return domain.ErrMembershipNotFound
		}
		if next.Status != domain.StatusActive {
			return domain.ErrRoleChangeNotAllowed
		}

		now := s.rt.now()
		current.Role = domain.GroupRoleAdmin
		current.UpdatedAt = now
		next.Role = domain.GroupRoleOwner
		next.UpdatedAt = now

		if err := beforeCommit(ctx); err != nil {
			return err
		}
		if err := s.memberships.SaveAll(ctx, current, next); err != nil {
			return storeErr(err)
		}
		out = TransferOwnershipOutput{PreviousOwner: current, NewOwner: next}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("group_id", in.GroupID.String()).
		Str("from", p.UserID.String()).
		Str("to", in.NewOwnerID.String()).
		Msg("group ownership transferred")
	s.rt.publish(notify.New(notify.TypeOwnershipGranted, in.NewOwnerID, map[string]string{
		"group_id": in.GroupID.String(),
	}))

	return &out, nil
}

// =============================================================================
// Queries
// =============================================================================

// GetMembershipInput reads one membership.
type GetMembershipInput struct{ MemberAction }

// RequestKind implements dispatch.Request.
func (GetMembershipInput) RequestKind() dispatch.Kind { return KindGetMembership }

// GetMembership returns a membership.
func (s *MembershipService) GetMembership(ctx context.Context, p domain.Principal, in GetMembershipInput) (*MembershipOutput, error) {
	m, err := s.loadMembership(ctx, in.GroupID, in.UserID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.ErrMembershipNotFound
	}
	return &MembershipOutput{Membership: m}, nil
}

// ListMembersInput lists a group's members.
type ListMembersInput struct {
	GroupID uuid.UUID

	// Status filters the list; empty means Active.
	Status domain.MembershipStatus
}

// RequestKind implements dispatch.Request.
func (ListMembersInput) RequestKind() dispatch.Kind { return KindListMembers }

// Validate implements dispatch.Validator.
func (in ListMembersInput) Validate() error {
	if in.GroupID == uuid.Nil {
		return domain.Invalid("group_id", "is required")
	}
	return nil
}

// ListMembersOutput contains the members.
type ListMembersOutput struct {
	Members []*domain.Membership
}

// ListMembers returns Active members by default. Private groups and
// non-active listings are visible to group members and staff only.
func (s *MembershipService) ListMembers(ctx context.Context, p domain.Principal, in ListMembersInput) (*ListMembersOutput, error) {
	group, err := s.loadGroup(ctx, in.GroupID)
	if err != nil {
		return nil, err
	}
	status := in.Status
	if status == domain.StatusNone {
		status = domain.StatusActive
	}

	if (group.Privacy == domain.GroupPrivate || status != domain.StatusActive) && !p.IsStaff() {
		actor, err := s.loadMembership(ctx, group.ID, p.UserID)
		if err != nil {
			return nil, err
		}
		if actor == nil || actor.Status != domain.StatusActive {
			return nil, domain.Denied(domain.DenyNotMember, "list_members")
		}
	}

	members, err := s.memberships.ListByGroup(ctx, group.ID, status)
	if err != nil {
		return nil, storeErr(err)
	}
	return &ListMembersOutput{Members: members}, nil
}
