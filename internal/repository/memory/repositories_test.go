package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/repository"
	"github.com/prn-tf/agora/internal/testutil/repotest"
)

func TestConformance(t *testing.T) {
	repotest.Run(t, func(t *testing.T) *repository.Repositories { return NewRepositories() })
}

func TestTable_OptimisticVersioning(t *testing.T) {
	ctx := context.Background()
	repo := NewGroupRepository()

	g := domain.NewGroup("gophers", domain.GroupPublic, uuid.New())
	require.NoError(t, repo.Save(ctx, g))
	assert.Equal(t, int64(1), g.Version)

	// A second insert of the same id is a conflict.
	dup := g.Clone()
	dup.Version = 0
	assert.ErrorIs(t, repo.Save(ctx, dup), repository.ErrConflict)

	a, err := repo.Get(ctx, g.ID)
	require.NoError(t, err)
	b, err := repo.Get(ctx, g.ID)
	require.NoError(t, err)

	a.Name = "a"
	require.NoError(t, repo.Save(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Name = "b"
	err = repo.Save(ctx, b)
	assert.ErrorIs(t, err, domain.ErrConflict, "stale copy must not overwrite")

	got, err := repo.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)

	require.NoError(t, repo.Delete(ctx, g.ID))
	_, err = repo.Get(ctx, g.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, g.ID), repository.ErrNotFound)
}

func TestTable_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewVoteTargetRepository()

	target := domain.NewVoteTarget(domain.TargetPost, uuid.New(), uuid.New())
	require.NoError(t, repo.Save(ctx, target))

	got, err := repo.Get(ctx, target.Key())
	require.NoError(t, err)
	got.ApplyVote(uuid.New(), domain.VoteUp)

	again, err := repo.Get(ctx, target.Key())
	require.NoError(t, err)
	assert.Empty(t, again.Votes)
	assert.Equal(t, int64(0), again.Score)
}

func TestTable_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := NewAccountRepository()
	err := repo.Save(ctx, domain.NewAccount(uuid.New()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMembershipRepository_SaveAllIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := NewMembershipRepository()
	groupID := uuid.New()

	owner := domain.NewMembership(groupID, uuid.New(), domain.GroupRoleOwner, domain.StatusActive)
	member := domain.NewMembership(groupID, uuid.New(), domain.GroupRoleMember, domain.StatusActive)
	require.NoError(t, repo.SaveAll(ctx, owner, member))

	staleMember := member.Clone()
	member.Role = domain.GroupRoleModerator
	require.NoError(t, repo.Save(ctx, member))

	owner.Role = domain.GroupRoleAdmin
	staleMember.Role = domain.GroupRoleOwner
	err := repo.SaveAll(ctx, owner, staleMember)
	require.ErrorIs(t, err, repository.ErrConflict)

	got, err := repo.Get(ctx, repository.MembershipKey{GroupID: groupID, UserID: owner.UserID})
	require.NoError(t, err)
	assert.Equal(t, domain.GroupRoleOwner, got.Role, "no write may happen when any check fails")
	assert.Equal(t, int64(1), got.Version)
}

func TestMembershipRepository_ListByGroup(t *testing.T) {
	ctx := context.Background()
	repo := NewMembershipRepository()
	groupID := uuid.New()

	base := time.Now().UTC()
	for i, status := range []domain.MembershipStatus{domain.StatusActive, domain.StatusPending, domain.StatusActive} {
		m := domain.NewMembership(groupID, uuid.New(), domain.GroupRoleMember, status)
		m.JoinedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Save(ctx, m))
	}
	require.NoError(t, repo.Save(ctx, domain.NewMembership(uuid.New(), uuid.New(), domain.GroupRoleMember, domain.StatusActive)))

	all, err := repo.ListByGroup(ctx, groupID, domain.StatusNone)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := repo.ListByGroup(ctx, groupID, domain.StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.True(t, active[0].JoinedAt.Before(active[1].JoinedAt))
}

func TestReportRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewReportRepository()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		r := domain.NewReport(uuid.New(), "post", uuid.NewString(), "spam")
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if i == 2 {
			require.NoError(t, r.Claim(uuid.New()))
		}
		require.NoError(t, repo.Save(ctx, r))
	}

	pending, err := repo.List(ctx, repository.ReportFilter{Status: domain.ReportPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	limited, err := repo.List(ctx, repository.ReportFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, base, limited[0].CreatedAt)
}

func TestMessageRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository()
	convID := uuid.New()

	_, err := repo.Last(ctx, convID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	var last *domain.Message
	for i := 0; i < 5; i++ {
		msg := domain.NextMessage(last, convID, uuid.New(), "hi", nil, time.Now())
		require.NoError(t, repo.Append(ctx, msg))
		last = msg
	}

	dup := domain.NextMessage(nil, convID, uuid.New(), "again", nil, time.Now())
	dup.Seq = 3
	assert.ErrorIs(t, repo.Append(ctx, dup), repository.ErrConflict)

	got, err := repo.Last(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Seq)

	page, err := repo.ListBefore(ctx, convID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, []int64{5, 4}, []int64{page[0].Seq, page[1].Seq})

	page, err = repo.ListBefore(ctx, convID, 4, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(3), page[0].Seq)
	assert.Equal(t, int64(1), page[2].Seq)

	byID, err := repo.Get(ctx, last.ID)
	require.NoError(t, err)
	assert.Equal(t, last.Seq, byID.Seq)
}

func TestAccountRepository_PurgeOTPs(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository()
	now := time.Now().UTC()

	acct := domain.NewAccount(uuid.New())
	consumedAt := now.Add(-2 * time.Hour)
	acct.OTPs[domain.PurposeLogin] = &domain.OTP{Purpose: domain.PurposeLogin, ExpiresAt: now.Add(time.Hour), ConsumedAt: &consumedAt}
	acct.OTPs[domain.PurposeTwoFactor] = &domain.OTP{Purpose: domain.PurposeTwoFactor, ExpiresAt: now.Add(-3 * time.Hour)}
	acct.OTPs[domain.PurposePasswordReset] = &domain.OTP{Purpose: domain.PurposePasswordReset, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, repo.Save(ctx, acct))

	removed, err := repo.PurgeOTPs(ctx, now.Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	got, err := repo.Get(ctx, acct.UserID)
	require.NoError(t, err)
	assert.Len(t, got.OTPs, 1)
	assert.Contains(t, got.OTPs, domain.PurposePasswordReset)
	assert.Equal(t, acct.Version, got.Version)
}
