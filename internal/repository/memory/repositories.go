package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/repository"
)

// NewRepositories creates a full set of in-memory repositories.
func NewRepositories() *repository.Repositories {
	return &repository.Repositories{
		Targets:       NewVoteTargetRepository(),
		Groups:        NewGroupRepository(),
		Memberships:   NewMembershipRepository(),
		Reports:       NewReportRepository(),
		Conversations: NewConversationRepository(),
		Messages:      NewMessageRepository(),
		Accounts:      NewAccountRepository(),
	}
}

// =============================================================================
// Vote Targets
// =============================================================================

type voteTargetRepository struct {
	*table[domain.TargetKey, domain.VoteTarget]
}

// NewVoteTargetRepository creates an in-memory vote target repository.
func NewVoteTargetRepository() repository.VoteTargetRepository {
	return &voteTargetRepository{newTable(
		func(t *domain.VoteTarget) domain.TargetKey { return t.Key() },
		func(t *domain.VoteTarget) *int64 { return &t.Version },
		(*domain.VoteTarget).Clone,
	)}
}

// =============================================================================
// Groups
// =============================================================================

type groupRepository struct {
	*table[uuid.UUID, domain.Group]
}

// NewGroupRepository creates an in-memory group repository.
func NewGroupRepository() repository.GroupRepository {
	return &groupRepository{newTable(
		func(g *domain.Group) uuid.UUID { return g.ID },
		func(g *domain.Group) *int64 { return &g.Version },
		(*domain.Group).Clone,
	)}
}

// =============================================================================
// Memberships
// =============================================================================

type membershipRepository struct {
	*table[repository.MembershipKey, domain.Membership]
}

// NewMembershipRepository creates an in-memory membership repository.
func NewMembershipRepository() repository.MembershipRepository {
	return &membershipRepository{newTable(
		func(m *domain.Membership) repository.MembershipKey {
			return repository.MembershipKey{GroupID: m.GroupID, UserID: m.UserID}
		},
		func(m *domain.Membership) *int64 { return &m.Version },
		(*domain.Membership).Clone,
	)}
}

// SaveAll saves memberships atomically.
func (r *membershipRepository) SaveAll(ctx context.Context, memberships ...*domain.Membership) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range memberships {
		if err := r.check(m); err != nil {
			return err
		}
	}
	for _, m := range memberships {
		r.write(m)
	}
	return nil
}

// ListByGroup returns a group's memberships ordered by join time.
func (r *membershipRepository) ListByGroup(ctx context.Context, groupID uuid.UUID, status domain.MembershipStatus) ([]*domain.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []*domain.Membership
	r.scan(func(m *domain.Membership) {
		if m.GroupID != groupID {
			return
		}
		if status != domain.StatusNone && m.Status != status {
			return
		}
		result = append(result, m.Clone())
	})

	sort.Slice(result, func(i, j int) bool {
		if result[i].JoinedAt.Equal(result[j].JoinedAt) {
			return result[i].UserID.String() < result[j].UserID.String()
		}
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})
	return result, nil
}

// =============================================================================
// Reports
// =============================================================================

type reportRepository struct {
	*table[uuid.UUID, domain.Report]
}

// NewReportRepository creates an in-memory report repository.
func NewReportRepository() repository.ReportRepository {
	return &reportRepository{newTable(
		func(r *domain.Report) uuid.UUID { return r.ID },
		func(r *domain.Report) *int64 { return &r.Version },
		(*domain.Report).Clone,
	)}
}

// List returns reports oldest first.
func (r *reportRepository) List(ctx context.Context, filter repository.ReportFilter) ([]*domain.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []*domain.Report
	r.scan(func(rep *domain.Report) {
		if filter.Status != "" && rep.Status != filter.Status {
			return
		}
		result = append(result, rep.Clone())
	})

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// =============================================================================
// Conversations
// =============================================================================

type conversationRepository struct {
	*table[uuid.UUID, domain.Conversation]
}

// NewConversationRepository creates an in-memory conversation repository.
func NewConversationRepository() repository.ConversationRepository {
	return &conversationRepository{newTable(
		func(c *domain.Conversation) uuid.UUID { return c.ID },
		func(c *domain.Conversation) *int64 { return &c.Version },
		(*domain.Conversation).Clone,
	)}
}

// =============================================================================
// Messages
// =============================================================================

type messageRepository struct {
	mu             sync.RWMutex
	byConversation map[uuid.UUID][]*domain.Message // sorted by Seq
	byID           map[uuid.UUID]*domain.Message
}

// NewMessageRepository creates an in-memory message repository.
func NewMessageRepository() repository.MessageRepository {
	return &messageRepository{
		byConversation: make(map[uuid.UUID][]*domain.Message),
		byID:           make(map[uuid.UUID]*domain.Message),
	}
}

// Append stores a message, rejecting a duplicate Seq.
func (r *messageRepository) Append(ctx context.Context, msg *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.byConversation[msg.ConversationID]
	i := sort.Search(len(log), func(i int) bool { return log[i].Seq >= msg.Seq })
	if i < len(log) && log[i].Seq == msg.Seq {
		return repository.ErrConflict
	}
	if _, exists := r.byID[msg.ID]; exists {
		return repository.ErrConflict
	}

	stored := msg.Clone()
	log = append(log, nil)
	copy(log[i+1:], log[i:])
	log[i] = stored
	r.byConversation[msg.ConversationID] = log
	r.byID[msg.ID] = stored
	return nil
}

// Get loads a message by id.
func (r *messageRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return msg.Clone(), nil
}

// Last returns the newest message of a conversation.
func (r *messageRepository) Last(ctx context.Context, conversationID uuid.UUID) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	log := r.byConversation[conversationID]
	if len(log) == 0 {
		return nil, repository.ErrNotFound
	}
	return log[len(log)-1].Clone(), nil
}

// ListBefore returns messages with Seq < beforeSeq, newest first.
func (r *messageRepository) ListBefore(ctx context.Context, conversationID uuid.UUID, beforeSeq int64, limit int) ([]*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	log := r.byConversation[conversationID]
	end := len(log)
	if beforeSeq > 0 {
		end = sort.Search(len(log), func(i int) bool { return log[i].Seq >= beforeSeq })
	}

	result := make([]*domain.Message, 0, limit)
	for i := end - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, log[i].Clone())
	}
	return result, nil
}

// =============================================================================
// Accounts
// =============================================================================

type accountRepository struct {
	*table[uuid.UUID, domain.Account]
}

// NewAccountRepository creates an in-memory account repository.
func NewAccountRepository() repository.AccountRepository {
	return &accountRepository{newTable(
		func(a *domain.Account) uuid.UUID { return a.UserID },
		func(a *domain.Account) *int64 { return &a.Version },
		(*domain.Account).Clone,
	)}
}

// PurgeOTPs deletes consumed or expired codes older than the cutoff.
// Purging does not bump account versions: code records are not part of the
// state a concurrent writer could have read and acted on.
func (r *accountRepository) PurgeOTPs(ctx context.Context, before time.Time, limit int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for _, acct := range r.rows {
		for purpose, otp := range acct.OTPs {
			if limit > 0 && removed >= int64(limit) {
				return removed, nil
			}
			if purgeable(otp, before) {
				delete(acct.OTPs, purpose)
				removed++
			}
		}
	}
	return removed, nil
}

func purgeable(otp *domain.OTP, before time.Time) bool {
	if otp.ConsumedAt != nil && otp.ConsumedAt.Before(before) {
		return true
	}
	return otp.ExpiresAt.Before(before)
}

var (
	_ repository.VoteTargetRepository   = (*voteTargetRepository)(nil)
	_ repository.GroupRepository        = (*groupRepository)(nil)
	_ repository.MembershipRepository   = (*membershipRepository)(nil)
	_ repository.ReportRepository       = (*reportRepository)(nil)
	_ repository.ConversationRepository = (*conversationRepository)(nil)
	_ repository.MessageRepository      = (*messageRepository)(nil)
	_ repository.AccountRepository      = (*accountRepository)(nil)
)
