package service

import (
	"context"
	"errors"

	"github.com/prn-tf/agora/internal/domain"
)

// Sanctioner applies the standing change a resolved report calls for.
type Sanctioner interface {
	Sanction(ctx context.Context, report *domain.Report) error
}

// StateSanctioner routes sanctions to the membership state machine when the
// report names a group and to account standing otherwise. It acts as the
// system principal.
type StateSanctioner struct {
	members  *MembershipService
	accounts *AuthService
}

// NewStateSanctioner creates a StateSanctioner.
func NewStateSanctioner(members *MembershipService, accounts *AuthService) *StateSanctioner {
	return &StateSanctioner{members: members, accounts: accounts}
}

// Sanction implements Sanctioner.
func (s *StateSanctioner) Sanction(ctx context.Context, report *domain.Report) error {
	if !report.Action.IsSanction() {
		return nil
	}
	if report.ReportedUserID == nil {
		return domain.Invalid("reported_user_id", "is required for a sanction")
	}

	if report.GroupID == nil {
		_, err := s.accounts.SanctionAccount(ctx, domain.SystemPrincipal, SanctionAccountInput{
			UserID: *report.ReportedUserID,
			Action: report.Action,
		})
		return err
	}

	target := MemberAction{GroupID: *report.GroupID, UserID: *report.ReportedUserID}
	want := domain.StatusSuspended
	var err error
	if report.Action == domain.ActionUserBanned {
		want = domain.StatusBanned
		_, err = s.members.BanMember(ctx, domain.SystemPrincipal, BanMemberInput{target})
	} else {
		_, err = s.members.SuspendMember(ctx, domain.SystemPrincipal, SuspendMemberInput{target})
	}
	if err == nil || !errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrOwnerMustTransfer) {
		return err
	}

	// Already in the requested standing, or banned when a suspension was asked.
	current, getErr := s.members.GetMembership(ctx, domain.SystemPrincipal, GetMembershipInput{target})
	if getErr == nil && (current.Membership.Status == want || current.Membership.Status == domain.StatusBanned) {
		return nil
	}
	return err
}

var _ Sanctioner = (*StateSanctioner)(nil)
