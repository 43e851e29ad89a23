package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/repository/memory"
)

func newConversationFixture(t *testing.T, convType domain.ConversationType, others int) (*ConversationService, *testEnv, []domain.Principal, *domain.Conversation) {
	t.Helper()
	env := newTestEnv(t)
	svc := NewConversationService(memory.NewConversationRepository(), memory.NewMessageRepository(), env.rt, nopLogger)

	people := []domain.Principal{user()}
	var ids []uuid.UUID
	for i := 0; i < others; i++ {
		p := user()
		people = append(people, p)
		ids = append(ids, p.UserID)
	}

	out, err := svc.CreateConversation(context.Background(), people[0], CreateConversationInput{Type: convType, Participants: ids})
	require.NoError(t, err)
	return svc, env, people, out.Conversation
}

func send(t *testing.T, svc *ConversationService, p domain.Principal, convID uuid.UUID, content string) *domain.Message {
	t.Helper()
	out, err := svc.SendMessage(context.Background(), p, SendMessageInput{ConversationID: convID, Content: content})
	require.NoError(t, err)
	return out.Message
}

func TestConversationService_CreateDirect(t *testing.T) {
	env := newTestEnv(t)
	svc := NewConversationService(memory.NewConversationRepository(), memory.NewMessageRepository(), env.rt, nopLogger)
	me := user()
	other := uuid.New()

	tests := []struct {
		name    string
		ids     []uuid.UUID
		wantErr bool
	}{
		{"alone", nil, true},
		{"self only", []uuid.UUID{me.UserID}, true},
		{"one other", []uuid.UUID{other}, false},
		{"duplicate other", []uuid.UUID{other, other, me.UserID}, false},
		{"two others", []uuid.UUID{other, uuid.New()}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := svc.CreateConversation(context.Background(), me, CreateConversationInput{Type: domain.ConversationDirect, Participants: tt.ids})
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Len(t, out.Conversation.ActiveParticipants(), 2)
		})
	}
}

func TestConversationService_MessageOrder(t *testing.T) {
	svc, env, people, conv := newConversationFixture(t, domain.ConversationDirect, 1)
	a, b := people[0], people[1]

	m1 := send(t, svc, a, conv.ID, "hi")
	env.clock.Advance(-time.Minute) // clock skew must not reorder SentAt
	m2 := send(t, svc, b, conv.ID, "hello")
	env.clock.Advance(2 * time.Minute)
	m3 := send(t, svc, a, conv.ID, "how are you")

	assert.Equal(t, []int64{1, 2, 3}, []int64{m1.Seq, m2.Seq, m3.Seq})
	assert.False(t, m2.SentAt.Before(m1.SentAt))
	assert.False(t, m3.SentAt.Before(m2.SentAt))

	page, err := svc.ListMessages(context.Background(), a, ListMessagesInput{ConversationID: conv.ID})
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	assert.Equal(t, m3.ID, page.Messages[0].ID)
	assert.Equal(t, m1.ID, page.Messages[2].ID)
	assert.Zero(t, page.NextBefore)

	assert.Len(t, env.notes.ofType("message.sent"), 3)
}

func TestConversationService_Pagination(t *testing.T) {
	svc, _, people, conv := newConversationFixture(t, domain.ConversationGroup, 2)
	for i := 0; i < 7; i++ {
		send(t, svc, people[i%3], conv.ID, "msg")
	}

	var seqs []int64
	cursor := int64(0)
	for {
		page, err := svc.ListMessages(context.Background(), people[0], ListMessagesInput{ConversationID: conv.ID, BeforeSeq: cursor, Limit: 3})
		require.NoError(t, err)
		for _, m := range page.Messages {
			seqs = append(seqs, m.Seq)
		}
		if page.NextBefore == 0 {
			break
		}
		cursor = page.NextBefore
	}
	assert.Equal(t, []int64{7, 6, 5, 4, 3, 2, 1}, seqs)
}

func TestConversationService_ConcurrentSendsGetDistinctSeqs(t *testing.T) {
	svc, _, people, conv := newConversationFixture(t, domain.ConversationGroup, 3)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(p domain.Principal) {
			defer wg.Done()
			_, err := svc.SendMessage(context.Background(), p, SendMessageInput{ConversationID: conv.ID, Content: "x"})
			assert.NoError(t, err)
		}(people[i%len(people)])
	}
	wg.Wait()

	page, err := svc.ListMessages(context.Background(), people[0], ListMessagesInput{ConversationID: conv.ID, Limit: MaxMessagePageSize})
	require.NoError(t, err)
	require.Len(t, page.Messages, n)
	for i, m := range page.Messages {
		assert.Equal(t, int64(n-i), m.Seq)
	}
}

func TestConversationService_NonParticipant(t *testing.T) {
	svc, _, _, conv := newConversationFixture(t, domain.ConversationDirect, 1)
	outsider := user()

	_, err := svc.SendMessage(context.Background(), outsider, SendMessageInput{ConversationID: conv.ID, Content: "hey"})
	assertDenied(t, err, domain.DenyNotMember)

	_, err = svc.ListMessages(context.Background(), outsider, ListMessagesInput{ConversationID: conv.ID})
	assertDenied(t, err, domain.DenyNotMember)
}

func TestConversationService_ReplyTo(t *testing.T) {
	svc, _, people, conv := newConversationFixture(t, domain.ConversationDirect, 1)
	otherSvcConv, err := svc.CreateConversation(context.Background(), people[0], CreateConversationInput{Type: domain.ConversationGroup})
	require.NoError(t, err)

	parent := send(t, svc, people[0], conv.ID, "question")
	foreign := send(t, svc, people[0], otherSvcConv.Conversation.ID, "elsewhere")

	out, err := svc.SendMessage(context.Background(), people[1], SendMessageInput{ConversationID: conv.ID, Content: "answer", ReplyTo: &parent.ID})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, *out.Message.ReplyTo)

	_, err = svc.SendMessage(context.Background(), people[1], SendMessageInput{ConversationID: conv.ID, Content: "x", ReplyTo: &foreign.ID})
	assert.ErrorIs(t, err, domain.ErrValidation)

	missing := uuid.New()
	_, err = svc.SendMessage(context.Background(), people[1], SendMessageInput{ConversationID: conv.ID, Content: "x", ReplyTo: &missing})
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestConversationService_Participants(t *testing.T) {
	ctx := context.Background()
	svc, _, people, conv := newConversationFixture(t, domain.ConversationGroup, 1)
	newcomer := user()

	out, err := svc.AddParticipant(ctx, people[1], AddParticipantInput{ConversationID: conv.ID, UserID: newcomer.UserID})
	require.NoError(t, err)
	assert.True(t, out.Conversation.IsParticipant(newcomer.UserID))

	_, err = svc.AddParticipant(ctx, people[0], AddParticipantInput{ConversationID: conv.ID, UserID: newcomer.UserID})
	assert.ErrorIs(t, err, domain.ErrParticipantExists)

	_, err = svc.LeaveConversation(ctx, newcomer, LeaveConversationInput{ConversationID: conv.ID})
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, newcomer, SendMessageInput{ConversationID: conv.ID, Content: "still here?"})
	assertDenied(t, err, domain.DenyNotMember)

	_, err = svc.AddParticipant(ctx, people[0], AddParticipantInput{ConversationID: conv.ID, UserID: newcomer.UserID})
	require.NoError(t, err, "a participant who left can be added back")

	direct, _, dpeople, dconv := newConversationFixture(t, domain.ConversationDirect, 1)
	_, err = direct.AddParticipant(ctx, dpeople[0], AddParticipantInput{ConversationID: dconv.ID, UserID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSendMessageInput_Validate(t *testing.T) {
	id := uuid.New()
	assert.ErrorIs(t, SendMessageInput{ConversationID: id, Content: "  "}.Validate(), domain.ErrValidation)
	assert.ErrorIs(t, SendMessageInput{Content: "x"}.Validate(), domain.ErrValidation)
	assert.NoError(t, SendMessageInput{ConversationID: id, Content: "x"}.Validate())
}
