package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/pkg/crypto"
	"github.com/prn-tf/agora/internal/repository"
	"github.com/prn-tf/agora/internal/repository/memory"
)

type fakeSanctioner struct {
	err   error
	calls []*domain.Report
}

func (f *fakeSanctioner) Sanction(ctx context.Context, r *domain.Report) error {
	f.calls = append(f.calls, r.Clone())
	return f.err
}

type fakeArchiver struct {
	mu       sync.Mutex
	err      error
	archived []uuid.UUID
}

func (f *fakeArchiver) Archive(ctx context.Context, r *domain.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.archived = append(f.archived, r.ID)
	return nil
}

type moderationFixture struct {
	svc        *ModerationService
	env        *testEnv
	reports    repository.ReportRepository
	sanctioner *fakeSanctioner
	archiver   *fakeArchiver
	reporter   domain.Principal
	mod        domain.Principal
}

func newModerationFixture(t *testing.T) *moderationFixture {
	t.Helper()
	env := newTestEnv(t)
	f := &moderationFixture{
		env:        env,
		reports:    memory.NewReportRepository(),
		sanctioner: &fakeSanctioner{},
		archiver:   &fakeArchiver{},
		reporter:   user(),
		mod:        user(domain.RoleModerator),
	}
	f.svc = NewModerationService(f.reports, f.sanctioner, f.archiver, env.rt, nopLogger)
	return f
}

func (f *moderationFixture) submit(t *testing.T, reported *uuid.UUID) *domain.Report {
	t.Helper()
	out, err := f.svc.SubmitReport(context.Background(), f.reporter, SubmitReportInput{
		ContentType:    "post",
		ContentID:      uuid.NewString(),
		Reason:         "spam",
		ReportedUserID: reported,
	})
	require.NoError(t, err)
	require.Equal(t, domain.ReportPending, out.Report.Status)
	return out.Report
}

func (f *moderationFixture) claim(t *testing.T, id uuid.UUID) {
	t.Helper()
	_, err := f.svc.ClaimReport(context.Background(), f.mod, ClaimReportInput{ReportIDInput{id}})
	require.NoError(t, err)
}

func TestModerationService_ClaimResolve(t *testing.T) {
	f := newModerationFixture(t)
	ctx := context.Background()
	report := f.submit(t, nil)

	f.claim(t, report.ID)

	out, err := f.svc.ResolveReport(ctx, f.mod, ResolveReportInput{ReportIDInput: ReportIDInput{report.ID}, Action: domain.ActionWarning})
	require.NoError(t, err)
	assert.Equal(t, domain.ReportResolved, out.Report.Status)
	assert.Equal(t, domain.ActionWarning, out.Report.Action)
	assert.NotNil(t, out.Report.ClosedAt)

	_, err = f.svc.ResolveReport(ctx, f.mod, ResolveReportInput{ReportIDInput: ReportIDInput{report.ID}, Action: domain.ActionWarning})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "resolving twice")

	assert.Equal(t, []uuid.UUID{report.ID}, f.archiver.archived)
	note, ok := f.env.notes.last("report.closed")
	require.True(t, ok)
	assert.Equal(t, f.reporter.UserID, note.RecipientID)
	assert.Empty(t, f.sanctioner.calls, "a warning is not a sanction")
}

func TestModerationService_Transitions(t *testing.T) {
	ctx := context.Background()

	t.Run("resolve pending", func(t *testing.T) {
		f := newModerationFixture(t)
		r := f.submit(t, nil)
		_, err := f.svc.ResolveReport(ctx, f.mod, ResolveReportInput{ReportIDInput: ReportIDInput{r.ID}, Action: domain.ActionWarning})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("claim twice", func(t *testing.T) {
		f := newModerationFixture(t)
		r := f.submit(t, nil)
		f.claim(t, r.ID)
		_, err := f.svc.ClaimReport(ctx, f.mod, ClaimReportInput{ReportIDInput{r.ID}})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("dismiss keeps action none", func(t *testing.T) {
		f := newModerationFixture(t)
		r := f.submit(t, nil)
		f.claim(t, r.ID)
		out, err := f.svc.DismissReport(ctx, f.mod, DismissReportInput{ReportIDInput: ReportIDInput{r.ID}, Note: "fine"})
		require.NoError(t, err)
		assert.Equal(t, domain.ReportDismissed, out.Report.Status)
		assert.Equal(t, domain.ActionNone, out.Report.Action)

		_, err = f.svc.DismissReport(ctx, f.mod, DismissReportInput{ReportIDInput: ReportIDInput{r.ID}})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestModerationService_Authorization(t *testing.T) {
	ctx := context.Background()
	f := newModerationFixture(t)
	r := f.submit(t, nil)

	_, err := f.svc.ClaimReport(ctx, user(), ClaimReportInput{ReportIDInput{r.ID}})
	assertDenied(t, err, domain.DenyInsufficientRole)

	f.claim(t, r.ID)

	_, err = f.svc.ResolveReport(ctx, user(domain.RoleModerator), ResolveReportInput{ReportIDInput: ReportIDInput{r.ID}, Action: domain.ActionWarning})
	assertDenied(t, err, domain.DenyNotOwner)

	_, err = f.svc.ResolveReport(ctx, user(domain.RoleAdministrator), ResolveReportInput{ReportIDInput: ReportIDInput{r.ID}, Action: domain.ActionContentRemoved})
	require.NoError(t, err, "administrators may resolve reports they did not claim")

	_, err = f.svc.GetReport(ctx, user(), GetReportInput{ReportIDInput{r.ID}})
	assertDenied(t, err, domain.DenyInsufficientRole)

	got, err := f.svc.GetReport(ctx, f.reporter, GetReportInput{ReportIDInput{r.ID}})
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.Report.ID)

	_, err = f.svc.ListReports(ctx, user(), ListReportsInput{})
	assertDenied(t, err, domain.DenyInsufficientRole)
}

func TestModerationService_SanctionFailureIsPartialSuccess(t *testing.T) {
	f := newModerationFixture(t)
	ctx := context.Background()
	f.sanctioner.err = errors.New("membership store unavailable")

	target := uuid.New()
	r := f.submit(t, &target)
	f.claim(t, r.ID)

	out, err := f.svc.ResolveReport(ctx, f.mod, ResolveReportInput{ReportIDInput: ReportIDInput{r.ID}, Action: domain.ActionUserBanned})
	require.ErrorIs(t, err, domain.ErrPartialSuccess)
	var partial *domain.PartialSuccessError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "sanction", partial.Operation)

	require.NotNil(t, out, "the committed resolution is still returned")
	assert.Equal(t, domain.ReportResolved, out.Report.Status)

	stored, err := f.reports.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportResolved, stored.Status)
	assert.Contains(t, stored.SanctionError, "membership store unavailable")
	assert.Len(t, f.sanctioner.calls, 1)
}

func TestModerationService_SanctionNeedsReportedUser(t *testing.T) {
	f := newModerationFixture(t)
	r := f.submit(t, nil)
	f.claim(t, r.ID)

	_, err := f.svc.ResolveReport(context.Background(), f.mod, ResolveReportInput{ReportIDInput: ReportIDInput{r.ID}, Action: domain.ActionUserSuspended})
	assert.ErrorIs(t, err, domain.ErrValidation)

	stored, err := f.reports.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportUnderReview, stored.Status)
}

func TestModerationService_ArchiveFailureIsSwallowed(t *testing.T) {
	f := newModerationFixture(t)
	f.archiver.err = errors.New("bucket missing")
	r := f.submit(t, nil)
	f.claim(t, r.ID)

	_, err := f.svc.DismissReport(context.Background(), f.mod, DismissReportInput{ReportIDInput: ReportIDInput{r.ID}})
	assert.NoError(t, err)
}

func TestModerationService_ListReports(t *testing.T) {
	f := newModerationFixture(t)
	ctx := context.Background()
	first := f.submit(t, nil)
	f.submit(t, nil)
	f.submit(t, nil)
	f.claim(t, first.ID)

	all, err := f.svc.ListReports(ctx, f.mod, ListReportsInput{})
	require.NoError(t, err)
	assert.Len(t, all.Reports, 3)

	pending, err := f.svc.ListReports(ctx, f.mod, ListReportsInput{Status: domain.ReportPending, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, pending.Reports, 1)
	assert.Equal(t, domain.ReportPending, pending.Reports[0].Status)

	assert.ErrorIs(t, ListReportsInput{Status: "weird"}.Validate(), domain.ErrValidation)
}

func TestStateSanctioner(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	members := NewMembershipService(memory.NewGroupRepository(), memory.NewMembershipRepository(), env.rt, nopLogger)
	hasher, err := crypto.NewCodeHasher(4)
	require.NoError(t, err)
	accounts := NewAuthService(memory.NewAccountRepository(), hasher, DefaultAuthPolicy(), env.rt, nopLogger)
	sanctioner := NewStateSanctioner(members, accounts)

	owner := user()
	group, err := members.CreateGroup(ctx, owner, CreateGroupInput{Name: "g", Privacy: domain.GroupPublic})
	require.NoError(t, err)
	offender := user()
	_, err = members.JoinGroup(ctx, offender, JoinGroupInput{GroupID: group.Group.ID})
	require.NoError(t, err)

	report := domain.NewReport(uuid.New(), "post", "1", "abuse")
	report.ReportedUserID = &offender.UserID
	report.GroupID = &group.Group.ID
	report.Action = domain.ActionUserSuspended

	require.NoError(t, sanctioner.Sanction(ctx, report))
	m, err := members.GetMembership(ctx, owner, GetMembershipInput{MemberAction{group.Group.ID, offender.UserID}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuspended, m.Membership.Status)

	require.NoError(t, sanctioner.Sanction(ctx, report), "already suspended counts as applied")

	report.ReportedUserID = &owner.UserID
	assert.ErrorIs(t, sanctioner.Sanction(ctx, report), domain.ErrOwnerMustTransfer)

	platform := domain.NewReport(uuid.New(), "post", "2", "abuse")
	platform.ReportedUserID = &offender.UserID
	platform.Action = domain.ActionUserBanned
	require.NoError(t, sanctioner.Sanction(ctx, platform))

	_, err = accounts.AttemptLogin(ctx, domain.SystemPrincipal, AttemptLoginInput{UserID: offender.UserID, CredentialsValid: true})
	assertDenied(t, err, domain.DenyAccountSuspended)
}
