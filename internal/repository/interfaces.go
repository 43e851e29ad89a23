// Package repository defines data access interfaces for Agora.
// These interfaces abstract durable storage, allowing for different implementations
// (PostgreSQL, SQLite, in-memory) while keeping the service layer clean.
//
// Every mutable entity carries a Version. Save inserts when Version is 0 and
// otherwise writes only if the stored version still matches, returning
// ErrConflict when another writer got there first. On success Save bumps the
// entity's Version in place.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/agora/internal/domain"
)

// Store is the generic load/save/delete contract for one entity kind.
type Store[K any, T any] interface {
	// Get loads an entity by key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key K) (*T, error)

	// Save inserts or conditionally updates an entity. Returns ErrConflict on
	// a version mismatch or a duplicate insert.
	Save(ctx context.Context, entity *T) error

	// Delete removes an entity by key. Returns ErrNotFound if absent.
	Delete(ctx context.Context, key K) error
}

// =============================================================================
// Vote Target Repository
// =============================================================================

// VoteTargetRepository stores votable targets together with their vote sets.
// Save writes the score and the vote set as one atomic unit.
type VoteTargetRepository interface {
	Store[domain.TargetKey, domain.VoteTarget]
}

// =============================================================================
// Group and Membership Repositories
// =============================================================================

// GroupRepository stores groups.
type GroupRepository interface {
	Store[uuid.UUID, domain.Group]
}

// MembershipKey identifies a membership.
type MembershipKey struct {
	GroupID uuid.UUID
	UserID  uuid.UUID
}

// MembershipRepository stores group memberships.
type MembershipRepository interface {
	Store[MembershipKey, domain.Membership]

	// SaveAll saves several memberships atomically: either every version
	// check passes and all are written, or none are.
	SaveAll(ctx context.Context, memberships ...*domain.Membership) error

	// ListByGroup returns a group's memberships, optionally filtered by status,
	// ordered by join time.
	ListByGroup(ctx context.Context, groupID uuid.UUID, status domain.MembershipStatus) ([]*domain.Membership, error)
}

// =============================================================================
// Report Repository
// =============================================================================

// ReportFilter selects reports for listing.
type ReportFilter struct {
	// Status filters by status when non-empty.
	Status domain.ReportStatus

	// Limit is the maximum number of reports to return.
	Limit int
}

// ReportRepository stores moderation reports.
type ReportRepository interface {
	Store[uuid.UUID, domain.Report]

	// List returns reports oldest first.
	List(ctx context.Context, filter ReportFilter) ([]*domain.Report, error)
}

// =============================================================================
// Conversation and Message Repositories
// =============================================================================

// ConversationRepository stores conversations and their participants.
type ConversationRepository interface {
	Store[uuid.UUID, domain.Conversation]
}

// MessageRepository stores the append-only message log.
type MessageRepository interface {
	// Append stores a message. Returns ErrConflict if the conversation
	// already has a message with the same Seq.
	Append(ctx context.Context, msg *domain.Message) error

	// Get loads a message by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id uuid.UUID) (*domain.Message, error)

	// Last returns the message with the highest Seq, or ErrNotFound.
	Last(ctx context.Context, conversationID uuid.UUID) (*domain.Message, error)

	// ListBefore returns up to limit messages with Seq < beforeSeq in
	// descending Seq order. beforeSeq <= 0 means "from the newest".
	ListBefore(ctx context.Context, conversationID uuid.UUID, beforeSeq int64, limit int) ([]*domain.Message, error)
}

// =============================================================================
// Account Repository
// =============================================================================

// AccountRepository stores authentication security state and one-time codes.
type AccountRepository interface {
	Store[uuid.UUID, domain.Account]

	// PurgeOTPs deletes one-time code records that were consumed or expired
	// before the cutoff. Returns the number removed.
	PurgeOTPs(ctx context.Context, before time.Time, limit int) (int64, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	Targets       VoteTargetRepository
	Groups        GroupRepository
	Memberships   MembershipRepository
	Reports       ReportRepository
	Conversations ConversationRepository
	Messages      MessageRepository
	Accounts      AccountRepository
}
