package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConversationType distinguishes one-to-one from multi-party conversations.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// Valid reports whether t is a known conversation type.
func (t ConversationType) Valid() bool {
	return t == ConversationDirect || t == ConversationGroup
}

// Participant is a user's membership in a conversation.
type Participant struct {
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// Conversation holds the participant set. Messages are stored separately.
type Conversation struct {
	ID           uuid.UUID                 `json:"id"`
	Type         ConversationType          `json:"type"`
	Title        string                    `json:"title,omitempty"`
	CreatorID    uuid.UUID                 `json:"creator_id"`
	Participants map[uuid.UUID]Participant `json:"participants"`
	CreatedAt    time.Time                 `json:"created_at"`
	Version      int64                     `json:"-"`
}

// NewConversation creates an unsaved conversation with the given participants.
func NewConversation(creatorID uuid.UUID, convType ConversationType, title string, participants []uuid.UUID) *Conversation {
	now := time.Now().UTC()
	c := &Conversation{
		ID:           uuid.New(),
		Type:         convType,
		Title:        title,
		CreatorID:    creatorID,
		Participants: make(map[uuid.UUID]Participant, len(participants)),
		CreatedAt:    now,
	}
	for _, id := range participants {
		c.Participants[id] = Participant{JoinedAt: now}
	}
	return c
}

// IsParticipant reports whether userID is a current participant.
func (c *Conversation) IsParticipant(userID uuid.UUID) bool {
	p, ok := c.Participants[userID]
	return ok && p.LeftAt == nil
}

// ActiveParticipants returns the current participant ids.
func (c *Conversation) ActiveParticipants() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Participants))
	for id, p := range c.Participants {
		if p.LeftAt == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Participants = make(map[uuid.UUID]Participant, len(c.Participants))
	for id, p := range c.Participants {
		p.LeftAt = cloneTimePtr(p.LeftAt)
		cp.Participants[id] = p
	}
	return &cp
}

// Message is one entry in a conversation's append-only log. Seq is assigned
// at accept time and is strictly increasing within a conversation; SentAt is
// non-decreasing in Seq order.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	Seq            int64      `json:"seq"`
	SenderID       uuid.UUID  `json:"sender_id"`
	Content        string     `json:"content"`
	SentAt         time.Time  `json:"sent_at"`
	ReplyTo        *uuid.UUID `json:"reply_to,omitempty"`
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	c := *m
	c.ReplyTo = cloneUUIDPtr(m.ReplyTo)
	return &c
}

// NextMessage builds the message that follows last (nil for the first one).
// SentAt never goes backwards even if the wall clock does.
func NextMessage(last *Message, conversationID, senderID uuid.UUID, content string, replyTo *uuid.UUID, now time.Time) *Message {
	msg := &Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Seq:            1,
		SenderID:       senderID,
		Content:        content,
		SentAt:         now.UTC(),
		ReplyTo:        cloneUUIDPtr(replyTo),
	}
	if last != nil {
		msg.Seq = last.Seq + 1
		if msg.SentAt.Before(last.SentAt) {
			msg.SentAt = last.SentAt
		}
	}
	return msg
}
