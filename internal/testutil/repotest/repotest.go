// Package repotest holds a behavioural suite every repository driver must pass.
package repotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/repository"
)

// Opener returns an empty set of repositories for one subtest.
type Opener func(t *testing.T) *repository.Repositories

// Run executes the suite against a driver.
func Run(t *testing.T, open Opener) {
	t.Run("VersionedSave", func(t *testing.T) { testVersionedSave(t, open(t)) })
	t.Run("VoteTargets", func(t *testing.T) { testVoteTargets(t, open(t)) })
	t.Run("Memberships", func(t *testing.T) { testMemberships(t, open(t)) })
	t.Run("SaveAllIsAtomic", func(t *testing.T) { testSaveAll(t, open(t)) })
	t.Run("Reports", func(t *testing.T) { testReports(t, open(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, open(t)) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, open(t)) })
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, open(t)) })
	t.Run("PurgeOTPs", func(t *testing.T) { testPurgeOTPs(t, open(t)) })
}

func testVersionedSave(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()

	g := domain.NewGroup("gophers", domain.GroupPublic, uuid.New())
	require.NoError(t, repos.Groups.Save(ctx, g))
	assert.Equal(t, int64(1), g.Version)

	dup := g.Clone()
	dup.Version = 0
	assert.ErrorIs(t, repos.Groups.Save(ctx, dup), domain.ErrConflict)

	a, err := repos.Groups.Get(ctx, g.ID)
	require.NoError(t, err)
	b, err := repos.Groups.Get(ctx, g.ID)
	require.NoError(t, err)

	a.Name = "a"
	require.NoError(t, repos.Groups.Save(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Name = "b"
	assert.ErrorIs(t, repos.Groups.Save(ctx, b), domain.ErrConflict)

	got, err := repos.Groups.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, domain.GroupPublic, got.Privacy)

	missing := domain.NewGroup("ghost", domain.GroupPrivate, uuid.New())
	missing.Version = 3
	assert.ErrorIs(t, repos.Groups.Save(ctx, missing), domain.ErrNotFound)

	require.NoError(t, repos.Groups.Delete(ctx, g.ID))
	_, err = repos.Groups.Get(ctx, g.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repos.Groups.Delete(ctx, g.ID), domain.ErrNotFound)
}

func testVoteTargets(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()

	target := domain.NewVoteTarget(domain.TargetComment, uuid.New(), uuid.New())
	require.NoError(t, repos.Targets.Save(ctx, target))

	up, down := uuid.New(), uuid.New()
	target.ApplyVote(up, domain.VoteUp)
	target.ApplyVote(down, domain.VoteDown)
	target.ApplyVote(uuid.New(), domain.VoteUp)
	require.NoError(t, repos.Targets.Save(ctx, target))

	got, err := repos.Targets.Get(ctx, target.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Score)
	assert.Len(t, got.Votes, 3)
	v, ok := got.VoteOf(down)
	require.True(t, ok)
	assert.Equal(t, domain.VoteDown, v)
	assert.Equal(t, target.OwnerID, got.OwnerID)

	_, err = repos.Targets.Get(ctx, domain.TargetKey{Kind: domain.TargetPost, ID: target.ID})
	assert.ErrorIs(t, err, domain.ErrNotFound, "kind is part of the key")

	require.NoError(t, repos.Targets.Delete(ctx, target.Key()))
	_, err = repos.Targets.Get(ctx, target.Key())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testMemberships(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()

	g := domain.NewGroup("club", domain.GroupPrivate, uuid.New())
	require.NoError(t, repos.Groups.Save(ctx, g))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	owner := domain.NewMembership(g.ID, g.CreatedBy, domain.GroupRoleOwner, domain.StatusActive)
	owner.JoinedAt = base
	pending := domain.NewMembership(g.ID, uuid.New(), domain.GroupRoleMember, domain.StatusPending)
	pending.JoinedAt = base.Add(time.Minute)
	active := domain.NewMembership(g.ID, uuid.New(), domain.GroupRoleModerator, domain.StatusActive)
	active.JoinedAt = base.Add(2 * time.Minute)

	for _, m := range []*domain.Membership{active, owner, pending} {
		require.NoError(t, repos.Memberships.Save(ctx, m))
	}

	all, err := repos.Memberships.ListByGroup(ctx, g.ID, domain.StatusNone)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, owner.UserID, all[0].UserID, "ordered by join time")
	assert.Equal(t, active.UserID, all[2].UserID)

	onlyActive, err := repos.Memberships.ListByGroup(ctx, g.ID, domain.StatusActive)
	require.NoError(t, err)
	assert.Len(t, onlyActive, 2)

	got, err := repos.Memberships.Get(ctx, repository.MembershipKey{GroupID: g.ID, UserID: pending.UserID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.WithinDuration(t, pending.JoinedAt, got.JoinedAt, time.Microsecond)

	_, err = repos.Memberships.Get(ctx, repository.MembershipKey{GroupID: g.ID, UserID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testSaveAll(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()

	g := domain.NewGroup("club", domain.GroupPublic, uuid.New())
	require.NoError(t, repos.Groups.Save(ctx, g))

	owner := domain.NewMembership(g.ID, g.CreatedBy, domain.GroupRoleOwner, domain.StatusActive)
	heir := domain.NewMembership(g.ID, uuid.New(), domain.GroupRoleMember, domain.StatusActive)
	require.NoError(t, repos.Memberships.Save(ctx, owner))
	require.NoError(t, repos.Memberships.Save(ctx, heir))

	// A concurrent writer bumps the heir first.
	concurrent := heir.Clone()
	concurrent.Role = domain.GroupRoleModerator
	require.NoError(t, repos.Memberships.Save(ctx, concurrent))

	owner.Role = domain.GroupRoleAdmin
	heir.Role = domain.GroupRoleOwner
	err := repos.Memberships.SaveAll(ctx, owner, heir)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := repos.Memberships.Get(ctx, repository.MembershipKey{GroupID: g.ID, UserID: owner.UserID})
	require.NoError(t, err)
	assert.Equal(t, domain.GroupRoleOwner, got.Role, "no partial write")
	assert.Equal(t, int64(1), got.Version)

	fresh, err := repos.Memberships.Get(ctx, repository.MembershipKey{GroupID: g.ID, UserID: heir.UserID})
	require.NoError(t, err)
	got.Role = domain.GroupRoleAdmin
	fresh.Role = domain.GroupRoleOwner
	require.NoError(t, repos.Memberships.SaveAll(ctx, got, fresh))
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, int64(3), fresh.Version)
}

func testReports(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		r := domain.NewReport(uuid.New(), "post", uuid.NewString(), "spam")
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		r.UpdatedAt = r.CreatedAt
		if i == 0 {
			reported, group := uuid.New(), uuid.New()
			r.ReportedUserID = &reported
			r.GroupID = &group
		}
		require.NoError(t, repos.Reports.Save(ctx, r))
		ids = append(ids, r.ID)
	}

	first, err := repos.Reports.Get(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, first.ReportedUserID)
	require.NotNil(t, first.GroupID)
	assert.Nil(t, first.ModeratorID)
	assert.Nil(t, first.ClosedAt)

	mod := uuid.New()
	require.NoError(t, first.Claim(mod))
	require.NoError(t, repos.Reports.Save(ctx, first))
	require.NoError(t, first.Resolve(domain.ActionUserBanned, "confirmed"))
	first.SanctionError = "group unavailable"
	require.NoError(t, repos.Reports.Save(ctx, first))

	closed, err := repos.Reports.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, domain.ReportResolved, closed.Status)
	assert.Equal(t, domain.ActionUserBanned, closed.Action)
	assert.Equal(t, "confirmed", closed.Note)
	assert.Equal(t, "group unavailable", closed.SanctionError)
	require.NotNil(t, closed.ModeratorID)
	assert.Equal(t, mod, *closed.ModeratorID)
	assert.NotNil(t, closed.ClosedAt)

	pending, err := repos.Reports.List(ctx, repository.ReportFilter{Status: domain.ReportPending, Limit: 2})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ids[1], pending[0].ID, "oldest first")
	assert.Equal(t, ids[2], pending[1].ID)

	all, err := repos.Reports.List(ctx, repository.ReportFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func testMessages(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	conv := domain.NewConversation(a, domain.ConversationDirect, "", []uuid.UUID{a, b})
	require.NoError(t, repos.Conversations.Save(ctx, conv))

	got, err := repos.Conversations.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.IsParticipant(a))
	assert.True(t, got.IsParticipant(b))

	_, err = repos.Messages.Last(ctx, conv.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var last *domain.Message
	for i := 0; i < 5; i++ {
		msg := domain.NextMessage(last, conv.ID, a, "hello", nil, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, repos.Messages.Append(ctx, msg))
		last = msg
	}

	dup := domain.NextMessage(nil, conv.ID, b, "again", nil, now)
	assert.ErrorIs(t, repos.Messages.Append(ctx, dup), domain.ErrConflict, "seq 1 is taken")

	newest, err := repos.Messages.Last(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), newest.Seq)

	page, err := repos.Messages.ListBefore(ctx, conv.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(5), page[0].Seq)
	assert.Equal(t, int64(4), page[1].Seq)

	page, err = repos.Messages.ListBefore(ctx, conv.ID, 4, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(3), page[0].Seq)
	assert.Equal(t, int64(1), page[2].Seq)

	reply := domain.NextMessage(newest, conv.ID, b, "re", &newest.ID, now.Add(time.Minute))
	require.NoError(t, repos.Messages.Append(ctx, reply))
	stored, err := repos.Messages.Get(ctx, reply.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ReplyTo)
	assert.Equal(t, newest.ID, *stored.ReplyTo)
}

func testConcurrentAppend(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	conv := domain.NewConversation(a, domain.ConversationDirect, "", []uuid.UUID{a, b})
	require.NoError(t, repos.Conversations.Save(ctx, conv))

	const writers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := domain.NextMessage(nil, conv.ID, a, "race", nil, time.Now())
			if err := repos.Messages.Append(ctx, msg); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, domain.ErrConflict)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted, "exactly one writer may claim a sequence number")
}

func testAccounts(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	acct := domain.NewAccount(uuid.New())
	acct.LinkedProviders["github"] = "octocat"
	acct.OTPs[domain.PurposeLogin] = &domain.OTP{
		Purpose:   domain.PurposeLogin,
		CodeHash:  "$2a$04$hash",
		IssuedAt:  now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
	require.NoError(t, repos.Accounts.Save(ctx, acct))

	got, err := repos.Accounts.Get(ctx, acct.UserID)
	require.NoError(t, err)
	assert.Equal(t, "octocat", got.LinkedProviders["github"])
	require.Contains(t, got.OTPs, domain.PurposeLogin)
	assert.Equal(t, "$2a$04$hash", got.OTPs[domain.PurposeLogin].CodeHash)
	assert.False(t, got.IsLocked(now))

	policy := domain.DefaultLockoutPolicy()
	for i := 0; i < policy.Threshold; i++ {
		got.RecordFailure(now, policy)
	}
	consumed := now.Add(time.Minute)
	got.OTPs[domain.PurposeLogin].ConsumedAt = &consumed
	got.OTPs[domain.PurposeLogin].Attempts = 2
	got.TwoFactorEnabled = true
	require.NoError(t, repos.Accounts.Save(ctx, got))

	again, err := repos.Accounts.Get(ctx, acct.UserID)
	require.NoError(t, err)
	assert.True(t, again.IsLocked(now))
	assert.Equal(t, 1, again.LockoutCount)
	assert.True(t, again.TwoFactorEnabled)
	otp := again.OTPs[domain.PurposeLogin]
	require.NotNil(t, otp)
	assert.True(t, otp.IsConsumed())
	assert.Equal(t, 2, otp.Attempts)

	stale := acct.Clone()
	stale.Banned = true
	assert.ErrorIs(t, repos.Accounts.Save(ctx, stale), domain.ErrConflict)
}

func testPurgeOTPs(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	used := now.Add(-48 * time.Hour)

	acct := domain.NewAccount(uuid.New())
	acct.OTPs[domain.PurposeLogin] = &domain.OTP{
		Purpose: domain.PurposeLogin, CodeHash: "a",
		IssuedAt: now.Add(-72 * time.Hour), ExpiresAt: now.Add(-71 * time.Hour),
	}
	acct.OTPs[domain.PurposeTwoFactor] = &domain.OTP{
		Purpose: domain.PurposeTwoFactor, CodeHash: "b",
		IssuedAt: used, ExpiresAt: now.Add(time.Hour), ConsumedAt: &used,
	}
	acct.OTPs[domain.PurposePasswordReset] = &domain.OTP{
		Purpose: domain.PurposePasswordReset, CodeHash: "c",
		IssuedAt: now, ExpiresAt: now.Add(10 * time.Minute),
	}
	require.NoError(t, repos.Accounts.Save(ctx, acct))

	n, err := repos.Accounts.PurgeOTPs(ctx, now.Add(-24*time.Hour), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "limit bounds one batch")

	n, err = repos.Accounts.PurgeOTPs(ctx, now.Add(-24*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repos.Accounts.Get(ctx, acct.UserID)
	require.NoError(t, err)
	assert.Len(t, got.OTPs, 1)
	assert.Contains(t, got.OTPs, domain.PurposePasswordReset)
	assert.Equal(t, int64(1), got.Version, "purging leaves the account version alone")
}
