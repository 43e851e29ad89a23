package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/agora/internal/dispatch"
	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/guard"
	"github.com/prn-tf/agora/internal/lock"
	"github.com/prn-tf/agora/internal/notify"
	"github.com/prn-tf/agora/internal/repository"
)

// Conversation request kinds.
const (
	KindCreateConversation dispatch.Kind = "conversation.create"
	KindGetConversation    dispatch.Kind = "conversation.get"
	KindSendMessage        dispatch.Kind = "conversation.send_message"
	KindListMessages       dispatch.Kind = "conversation.list_messages"
	KindAddParticipant     dispatch.Kind = "conversation.add_participant"
	KindLeaveConversation  dispatch.Kind = "conversation.leave"
)

// Conversation limits.
const (
	MaxMessageLength            = 10000
	MaxConversationTitleLength  = 200
	MaxConversationParticipants = 500
	DefaultMessagePageSize      = 50
	MaxMessagePageSize          = 200
)

// ConversationService sequences messages within conversations.
type ConversationService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	rt            Runtime
	logger        zerolog.Logger
}

// NewConversationService creates a new ConversationService.
func NewConversationService(conversations repository.ConversationRepository, messages repository.MessageRepository, rt Runtime, logger zerolog.Logger) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		rt:            rt,
		logger:        logger.With().Str("service", "conversation").Logger(),
	}
}

// ConversationOutput contains a conversation.
type ConversationOutput struct {
	Conversation *domain.Conversation
}

func (s *ConversationService) load(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	c, err := s.conversations.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, domain.ErrConversationNotFound)
	}
	return c, nil
}

func participate(p domain.Principal, c *domain.Conversation) error {
	return guard.Authorize(p, guard.Participate, guard.Conversation(c.IsParticipant(p.UserID))).Err()
}

// =============================================================================
// CreateConversation
// =============================================================================

// CreateConversationInput starts a conversation. The caller is always a
// participant.
type CreateConversationInput struct {
	Type         domain.ConversationType
	Title        string
	Participants []uuid.UUID
}

// RequestKind implements dispatch.Request.
func (CreateConversationInput) RequestKind() dispatch.Kind { return KindCreateConversation }

// Validate implements dispatch.Validator.
func (in CreateConversationInput) Validate() error {
	if !in.Type.Valid() {
		return domain.Invalid("type", "must be direct or group")
	}
	if len(in.Title) > MaxConversationTitleLength {
		return domain.Invalid("title", "is too long")
	}
	if len(in.Participants) > MaxConversationParticipants {
		return domain.Invalid("participants", "has too many entries")
	}
	for _, id := range in.Participants {
		if id == uuid.Nil {
			return domain.Invalid("participants", "contains an empty id")
		}
	}
	return nil
}

// CreateConversation creates a conversation. A direct conversation has
// exactly two distinct participants.
func (s *ConversationService) CreateConversation(ctx context.Context, p domain.Principal, in CreateConversationInput) (*ConversationOutput, error) {
	seen := map[uuid.UUID]bool{p.UserID: true}
	ids := []uuid.UUID{p.UserID}
	for _, id := range in.Participants {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if in.Type == domain.ConversationDirect && len(ids) != 2 {
		return nil, domain.Invalid("participants", "direct conversation needs exactly two distinct participants")
	}

	conv := domain.NewConversation(p.UserID, in.Type, strings.TrimSpace(in.Title), ids)
	if err := beforeCommit(ctx); err != nil {
		return nil, err
	}
	if err := s.conversations.Save(ctx, conv); err != nil {
		s.logger.Error().Err(err).Str("conversation_id", conv.ID.String()).Msg("failed to save conversation")
		return nil, storeErr(err)
	}

	s.logger.Info().
		Str("conversation_id", conv.ID.String()).
		Str("type", string(conv.Type)).
		Int("participants", len(ids)).
		Msg("conversation created")
	return &ConversationOutput{Conversation: conv}, nil
}

// GetConversationInput reads a conversation.
type GetConversationInput struct {
	ConversationID uuid.UUID
}

// RequestKind implements dispatch.Request.
func (GetConversationInput) RequestKind() dispatch.Kind { return KindGetConversation }

// Validate implements dispatch.Validator.
func (in GetConversationInput) Validate() error {
	if in.ConversationID == uuid.Nil {
		return domain.Invalid("conversation_id", "is required")
	}
	return nil
}

// GetConversation returns a conversation to its participants.
func (s *ConversationService) GetConversation(ctx context.Context, p domain.Principal, in GetConversationInput) (*ConversationOutput, error) {
	conv, err := s.load(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := participate(p, conv); err != nil {
		return nil, err
	}
	return &ConversationOutput{Conversation: conv}, nil
}

// =============================================================================
// SendMessage
// =============================================================================

// SendMessageInput appends a message.
type SendMessageInput struct {
	ConversationID uuid.UUID
	Content        string
	ReplyTo        *uuid.UUID
}

// RequestKind implements dispatch.Request.
func (SendMessageInput) RequestKind() dispatch.Kind { return KindSendMessage }

// Validate implements dispatch.Validator.
func (in SendMessageInput) Validate() error {
	if in.ConversationID == uuid.Nil {
		return domain.Invalid("conversation_id", "is required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return domain.Invalid("content", "is required")
	}
	if utf8.RuneCountInString(in.Content) > MaxMessageLength {
		return domain.Invalid("content", "is too long")
	}
	return nil
}

// MessageOutput contains an accepted message.
type MessageOutput struct {
	Message *domain.Message
}

// SendMessage assigns the next sequence number and appends the message.
func (s *ConversationService) SendMessage(ctx context.Context, p domain.Principal, in SendMessageInput) (*MessageOutput, error) {
	var (
		msg        *domain.Message
		recipients []uuid.UUID
	)

	err := s.rt.mutate(ctx, s.logger, string(KindSendMessage), []string{lock.Keys.Conversation(in.ConversationID)}, func(ctx context.Context) error {
		conv, err := s.load(ctx, in.ConversationID)
		if err != nil {
			return err
		}
		if err := participate(p, conv); err != nil {
			return err
		}

		if in.ReplyTo != nil {
			parent, err := s.messages.Get(ctx, *in.ReplyTo)
			if err != nil {
				return notFound(err, domain.ErrMessageNotFound)
			}
			if parent.ConversationID != conv.ID {
				return domain.Invalid("reply_to", "must be a message in the same conversation")
			}
		}

		last, err := s.messages.Last(ctx, conv.ID)
		if err != nil && !repository.IsNotFound(err) {
			return storeErr(err)
		}
		next := domain.NextMessage(last, conv.ID, p.UserID, in.Content, in.ReplyTo, s.rt.now())

		if err := beforeCommit(ctx); err != nil {
			return err
		}
		if err := s.messages.Append(ctx, next); err != nil {
			return storeErr(err)
		}
		msg = next
		recipients = conv.ActiveParticipants()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.rt.Metrics.RecordMessage()
	s.logger.Debug().
		Str("conversation_id", msg.ConversationID.String()).
		Int64("seq", msg.Seq).
		Str("sender_id", msg.SenderID.String()).
		Msg("message accepted")

	for _, id := range recipients {
		if id == p.UserID {
			continue
		}
		s.rt.publish(notify.New(notify.TypeMessageSent, id, map[string]string{
			"conversation_id": msg.ConversationID.String(),
			"message_id":      msg.ID.String(),
		}))
	}

	return &MessageOutput{Message: msg}, nil
}

// =============================================================================
// ListMessages
// =============================================================================

// ListMessagesInput pages backwards through a conversation.
type ListMessagesInput struct {
	ConversationID uuid.UUID

	// BeforeSeq is the cursor; zero starts from the newest message.
	BeforeSeq int64
	Limit     int
}

// RequestKind implements dispatch.Request.
func (ListMessagesInput) RequestKind() dispatch.Kind { return KindListMessages }

// Validate implements dispatch.Validator.
func (in ListMessagesInput) Validate() error {
	if in.ConversationID == uuid.Nil {
		return domain.Invalid("conversation_id", "is required")
	}
	if in.BeforeSeq < 0 {
		return domain.Invalid("before_seq", "must not be negative")
	}
	if in.Limit < 0 || in.Limit > MaxMessagePageSize {
		return domain.Invalid("limit", "is out of range")
	}
	return nil
}

// ListMessagesOutput is one page, newest first.
type ListMessagesOutput struct {
	Messages []*domain.Message

	// NextBefore is the cursor for the next page; zero when exhausted.
	NextBefore int64
}

// ListMessages returns messages in descending Seq order.
func (s *ConversationService) ListMessages(ctx context.Context, p domain.Principal, in ListMessagesInput) (*ListMessagesOutput, error) {
	conv, err := s.load(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := participate(p, conv); err != nil {
		return nil, err
	}

	limit := in.Limit
	if limit == 0 {
		limit = DefaultMessagePageSize
	}
	msgs, err := s.messages.ListBefore(ctx, conv.ID, in.BeforeSeq, limit)
	if err != nil {
		return nil, storeErr(err)
	}

	out := &ListMessagesOutput{Messages: msgs}
	if len(msgs) == limit && msgs[len(msgs)-1].Seq > 1 {
		out.NextBefore = msgs[len(msgs)-1].Seq
	}
	return out, nil
}

// =============================================================================
// Participants
// =============================================================================

// AddParticipantInput adds a user to a group conversation.
type AddParticipantInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
}

// RequestKind implements dispatch.Request.
func (AddParticipantInput) RequestKind() dispatch.Kind { return KindAddParticipant }

// Validate implements dispatch.Validator.
func (in AddParticipantInput) Validate() error {
	if in.ConversationID == uuid.Nil {
		return domain.Invalid("conversation_id", "is required")
	}
	if in.UserID == uuid.Nil {
		return domain.Invalid("user_id", "is required")
	}
	return nil
}

// AddParticipant adds or re-adds a user. Any current participant may add
// people to a group conversation; direct conversations are fixed.
func (s *ConversationService) AddParticipant(ctx context.Context, p domain.Principal, in AddParticipantInput) (*ConversationOutput, error) {
	return s.updateParticipants(ctx, p, string(KindAddParticipant), in.ConversationID, func(conv *domain.Conversation) error {
		if conv.Type != domain.ConversationGroup {
			return domain.InvalidTransition("conversation", string(conv.Type), "add_participant")
		}
		if conv.IsParticipant(in.UserID) {
			return domain.ErrParticipantExists
		}
		if len(conv.ActiveParticipants()) >= MaxConversationParticipants {
			return domain.Invalid("participants", "has too many entries")
		}
		conv.Participants[in.UserID] = domain.Participant{JoinedAt: s.rt.now()}
		return nil
	})
}

// LeaveConversationInput removes the caller from a conversation.
type LeaveConversationInput struct {
	ConversationID uuid.UUID
}

// RequestKind implements dispatch.Request.
func (LeaveConversationInput) RequestKind() dispatch.Kind { return KindLeaveConversation }

// Validate implements dispatch.Validator.
func (in LeaveConversationInput) Validate() error {
	if in.ConversationID == uuid.Nil {
		return domain.Invalid("conversation_id", "is required")
	}
	return nil
}

// LeaveConversation marks the caller as having left. History stays.
func (s *ConversationService) LeaveConversation(ctx context.Context, p domain.Principal, in LeaveConversationInput) (*ConversationOutput, error) {
	return s.updateParticipants(ctx, p, string(KindLeaveConversation), in.ConversationID, func(conv *domain.Conversation) error {
		now := s.rt.now()
		part := conv.Participants[p.UserID]
		part.LeftAt = &now
		conv.Participants[p.UserID] = part
		return nil
	})
}

func (s *ConversationService) updateParticipants(ctx context.Context, p domain.Principal, op string, id uuid.UUID, fn func(*domain.Conversation) error) (*ConversationOutput, error) {
	var result *domain.Conversation

	err := s.rt.mutate(ctx, s.logger, op, []string{lock.Keys.Conversation(id)}, func(ctx context.Context) error {
		conv, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := participate(p, conv); err != nil {
			return err
		}
		if err := fn(conv); err != nil {
			return err
		}
		if err := beforeCommit(ctx); err != nil {
			return err
		}
		if err := s.conversations.Save(ctx, conv); err != nil {
			return storeErr(err)
		}
		result = conv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("conversation_id", id.String()).
		Str("actor_id", p.UserID.String()).
		Str("operation", op).
		Msg("conversation participants changed")
	return &ConversationOutput{Conversation: result}, nil
}
