package domain

import (
	"time"

	"github.com/google/uuid"
)

// TargetKind identifies what a vote applies to.
type TargetKind string

const (
	TargetPost    TargetKind = "post"
	TargetComment TargetKind = "comment"
)

// Valid reports whether k is a known target kind.
func (k TargetKind) Valid() bool {
	return k == TargetPost || k == TargetComment
}

// VoteValue is a single vote. Its integer value is its score contribution.
type VoteValue int8

const (
	VoteUp   VoteValue = 1
	VoteDown VoteValue = -1
)

// Valid reports whether v is Up or Down.
func (v VoteValue) Valid() bool {
	return v == VoteUp || v == VoteDown
}

// String returns "up" or "down".
func (v VoteValue) String() string {
	switch v {
	case VoteUp:
		return "up"
	case VoteDown:
		return "down"
	}
	return "none"
}

// ParseVoteValue parses "up" or "down".
func ParseVoteValue(s string) (VoteValue, bool) {
	switch s {
	case "up":
		return VoteUp, true
	case "down":
		return VoteDown, true
	}
	return 0, false
}

// TargetKey identifies a votable target.
type TargetKey struct {
	Kind TargetKind
	ID   uuid.UUID
}

// String returns "<kind>:<id>".
func (k TargetKey) String() string {
	return string(k.Kind) + ":" + k.ID.String()
}

// VoteTarget is a post or comment with its aggregate score and vote set.
// Score always equals the sum of Votes; it is recomputed after every change.
type VoteTarget struct {
	Kind    TargetKind `json:"kind"`
	ID      uuid.UUID  `json:"id"`
	OwnerID uuid.UUID  `json:"owner_id"`
	Score   int64      `json:"score"`

	// Votes holds at most one entry per voter.
	Votes map[uuid.UUID]VoteValue `json:"-"`

	// Version is the optimistic-concurrency token; 0 means never saved.
	Version int64 `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewVoteTarget creates an unsaved target with score 0.
func NewVoteTarget(kind TargetKind, id, ownerID uuid.UUID) *VoteTarget {
	now := time.Now().UTC()
	return &VoteTarget{
		Kind:      kind,
		ID:        id,
		OwnerID:   ownerID,
		Votes:     make(map[uuid.UUID]VoteValue),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Key returns the target's key.
func (t *VoteTarget) Key() TargetKey {
	return TargetKey{Kind: t.Kind, ID: t.ID}
}

// VoteOf returns the voter's current vote.
func (t *VoteTarget) VoteOf(voter uuid.UUID) (VoteValue, bool) {
	v, ok := t.Votes[voter]
	return v, ok
}

// ApplyVote records voter's vote. Casting the value already held is a no-op;
// casting the opposite value replaces it. Returns whether anything changed.
func (t *VoteTarget) ApplyVote(voter uuid.UUID, value VoteValue) bool {
	if current, ok := t.Votes[voter]; ok && current == value {
		return false
	}
	if t.Votes == nil {
		t.Votes = make(map[uuid.UUID]VoteValue)
	}
	t.Votes[voter] = value
	t.Recompute()
	return true
}

// RetractVote removes voter's vote. Returns whether anything changed.
func (t *VoteTarget) RetractVote(voter uuid.UUID) bool {
	if _, ok := t.Votes[voter]; !ok {
		return false
	}
	delete(t.Votes, voter)
	t.Recompute()
	return true
}

// Recompute sets Score from the vote set.
func (t *VoteTarget) Recompute() {
	var score int64
	for _, v := range t.Votes {
		score += int64(v)
	}
	t.Score = score
	t.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy.
func (t *VoteTarget) Clone() *VoteTarget {
	c := *t
	c.Votes = make(map[uuid.UUID]VoteValue, len(t.Votes))
	for k, v := range t.Votes {
		c.Votes[k] = v
	}
	return &c
}
