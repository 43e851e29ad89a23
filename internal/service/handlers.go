package service

import (
	"github.com/prn-tf/agora/internal/dispatch"
)

// Services groups the state machines exposed through the dispatcher.
type Services struct {
	Votes         *VoteService
	Memberships   *MembershipService
	Moderation    *ModerationService
	Conversations *ConversationService
	Auth          *AuthService
}

// Register binds every request kind to its service method. Nil services are
// skipped. It stops at the first registration error.
func Register(d *dispatch.Dispatcher, svc Services) error {
	var err error
	add := func(kind dispatch.Kind, h dispatch.Handler) {
		if err == nil {
			err = d.Register(kind, h)
		}
	}

	if v := svc.Votes; v != nil {
		add(KindRegisterTarget, dispatch.Handle(v.RegisterTarget))
		add(KindCastVote, dispatch.Handle(v.CastVote))
		add(KindRetractVote, dispatch.Handle(v.RetractVote))
		add(KindGetScore, dispatch.Handle(v.GetScore))
		add(KindDeleteTarget, dispatch.Handle(v.DeleteTarget))
	}

	if m := svc.Memberships; m != nil {
		add(KindCreateGroup, dispatch.Handle(m.CreateGroup))
		add(KindGetGroup, dispatch.Handle(m.GetGroup))
		add(KindJoinGroup, dispatch.Handle(m.JoinGroup))
		add(KindLeaveGroup, dispatch.Handle(m.LeaveGroup))
		add(KindApproveMember, dispatch.Handle(m.ApproveMember))
		add(KindRejectMember, dispatch.Handle(m.RejectMember))
		add(KindSuspendMember, dispatch.Handle(m.SuspendMember))
		add(KindBanMember, dispatch.Handle(m.BanMember))
		add(KindReinstateMember, dispatch.Handle(m.ReinstateMember))
		add(KindChangeRole, dispatch.Handle(m.ChangeRole))
		add(KindTransferOwnership, dispatch.Handle(m.TransferOwnership))
		add(KindGetMembership, dispatch.Handle(m.GetMembership))
		add(KindListMembers, dispatch.Handle(m.ListMembers))
	}

	if r := svc.Moderation; r != nil {
		add(KindSubmitReport, dispatch.Handle(r.SubmitReport))
		add(KindClaimReport, dispatch.Handle(r.ClaimReport))
		add(KindResolveReport, dispatch.Handle(r.ResolveReport))
		add(KindDismissReport, dispatch.Handle(r.DismissReport))
		add(KindGetReport, dispatch.Handle(r.GetReport))
		add(KindListReports, dispatch.Handle(r.ListReports))
	}

	if c := svc.Conversations; c != nil {
		add(KindCreateConversation, dispatch.Handle(c.CreateConversation))
		add(KindGetConversation, dispatch.Handle(c.GetConversation))
		add(KindSendMessage, dispatch.Handle(c.SendMessage))
		add(KindListMessages, dispatch.Handle(c.ListMessages))
		add(KindAddParticipant, dispatch.Handle(c.AddParticipant))
		add(KindLeaveConversation, dispatch.Handle(c.LeaveConversation))
	}

	if a := svc.Auth; a != nil {
		add(KindAttemptLogin, dispatch.Handle(a.AttemptLogin))
		add(KindIssueOTP, dispatch.Handle(a.IssueOTP))
		add(KindVerifyOTP, dispatch.Handle(a.VerifyOTP))
		add(KindEnableTwoFactor, dispatch.Handle(a.EnableTwoFactor))
		add(KindDisableTwoFactor, dispatch.Handle(a.DisableTwoFactor))
		add(KindLinkSocialLogin, dispatch.Handle(a.LinkSocialLogin))
		add(KindUnlinkSocialLogin, dispatch.Handle(a.UnlinkSocialLogin))
		add(KindSanctionAccount, dispatch.Handle(a.SanctionAccount))
		add(KindUnlockAccount, dispatch.Handle(a.UnlockAccount))
		add(KindGetAccount, dispatch.Handle(a.GetAccount))
	}

	return err
}
