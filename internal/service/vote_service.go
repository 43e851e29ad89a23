package service

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/agora/internal/dispatch"
	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/guard"
	"github.com/prn-tf/agora/internal/lock"
	"github.com/prn-tf/agora/internal/notify"
	"github.com/prn-tf/agora/internal/repository"
)

// Vote request kinds.
const (
	KindRegisterTarget dispatch.Kind = "vote.register_target"
	KindCastVote       dispatch.Kind = "vote.cast"
	KindRetractVote    dispatch.Kind = "vote.retract"
	KindGetScore       dispatch.Kind = "vote.get_score"
	KindDeleteTarget   dispatch.Kind = "vote.delete_target"
)

// VoteService keeps each target's score equal to the sum of its votes.
type VoteService struct {
	targets repository.VoteTargetRepository
	rt      Runtime
	logger  zerolog.Logger
}

// NewVoteService creates a new VoteService.
func NewVoteService(targets repository.VoteTargetRepository, rt Runtime, logger zerolog.Logger) *VoteService {
	return &VoteService{
		targets: targets,
		rt:      rt,
		logger:  logger.With().Str("service", "vote").Logger(),
	}
}

func validateTargetKey(kind domain.TargetKind, id uuid.UUID) error {
	if !kind.Valid() {
		return domain.Invalid("kind", "must be post or comment")
	}
	if id == uuid.Nil {
		return domain.Invalid("target_id", "is required")
	}
	return nil
}

// =============================================================================
// RegisterTarget
// =============================================================================

// RegisterTargetInput registers a post or comment as votable.
type RegisterTargetInput struct {
	Kind     domain.TargetKind
	TargetID uuid.UUID

	// OwnerID defaults to the caller.
	OwnerID uuid.UUID
}

// RequestKind implements dispatch.Request.
func (RegisterTargetInput) RequestKind() dispatch.Kind { return KindRegisterTarget }

// Validate implements dispatch.Validator.
func (in RegisterTargetInput) Validate() error {
	return validateTargetKey(in.Kind, in.TargetID)
}

// RegisterTargetOutput contains the registered target.
type RegisterTargetOutput struct {
	Target  *domain.VoteTarget
	Created bool
}

// RegisterTarget creates a target at score 0. Registering the same target
// for the same owner again returns the existing one.
func (s *VoteService) RegisterTarget(ctx context.Context, p domain.Principal, in RegisterTargetInput) (*RegisterTargetOutput, error) {
	if in.OwnerID == uuid.Nil {
		in.OwnerID = p.UserID
	}
	if !p.IsStaff() {
		if err := guard.Authorize(p, guard.EditOwnContent, guard.Content(in.OwnerID)).Err(); err != nil {
			return nil, err
		}
	}

	key := domain.TargetKey{Kind: in.Kind, ID: in.TargetID}
	var out RegisterTargetOutput

	err := s.rt.mutate(ctx, s.logger, string(KindRegisterTarget), []string{lock.Keys.VoteTarget(key)}, func(ctx context.Context) error {
		existing, err := s.targets.Get(ctx, key)
		if err == nil {
			if existing.OwnerID != in.OwnerID {
				return domain.ErrTargetOwnerMismatch
			}
			out = RegisterTargetOutput{Target: existing}
			return nil
		}
		if !repository.IsNotFound(err) {
			return storeErr(err)
		}

		target := domain.NewVoteTarget(in.Kind, in.TargetID, in.OwnerID)
		if err := beforeCommit(ctx); err != nil {
			return err
		}
		if err := s.targets.Save(ctx, target); err != nil {
			return storeErr(err)
		}
		out = RegisterTargetOutput{Target: target, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Created {
		s.logger.Info().
			Str("target", key.String()).
			Str("owner_id", in.OwnerID.String()).
			Msg("vote target registered")
	}
	return &out, nil
}

// =============================================================================
// CastVote / RetractVote
// =============================================================================

// CastVoteInput casts the caller's vote on a target.
type CastVoteInput struct {
	Kind     domain.TargetKind
	TargetID uuid.UUID
	Value    domain.VoteValue
}

// RequestKind implements dispatch.Request.
func (CastVoteInput) RequestKind() dispatch.Kind { return KindCastVote }

// Validate implements dispatch.Validator.
func (in CastVoteInput) Validate() error {
	if err := validateTargetKey(in.Kind, in.TargetID); err != nil {
		return err
	}
	if !in.Value.Valid() {
		return domain.Invalid("value", "must be up or down")
	}
	return nil
}

// RetractVoteInput removes the caller's vote from a target.
type RetractVoteInput struct {
	Kind     domain.TargetKind
	TargetID uuid.UUID
}

// RequestKind implements dispatch.Request.
func (RetractVoteInput) RequestKind() dispatch.Kind { return KindRetractVote }

// Validate implements dispatch.Validator.
func (in RetractVoteInput) Validate() error {
	return validateTargetKey(in.Kind, in.TargetID)
}

// VoteOutput contains the target's score after a vote operation.
type VoteOutput struct {
	Score int64

	// Changed is false when the operation was a no-op.
	Changed bool

	// Previous is the caller's vote before the operation, 0 if none.
	Previous domain.VoteValue
}

// CastVote records the caller's vote and returns the new score. Casting the
// value already held changes nothing; casting the opposite value flips it.
func (s *VoteService) CastVote(ctx context.Context, p domain.Principal, in CastVoteInput) (*VoteOutput, error) {
	key := domain.TargetKey{Kind: in.Kind, ID: in.TargetID}
	out, ownerID, err := s.applyVote(ctx, key, string(KindCastVote), func(t *domain.VoteTarget) bool {
		return t.ApplyVote(p.UserID, in.Value)
	}, p.UserID)
	if err != nil {
		return nil, err
	}

	if out.Changed {
		s.rt.Metrics.RecordVote(string(in.Kind), in.Value.String())
		s.logger.Info().
			Str("target", key.String()).
			Str("voter_id", p.UserID.String()).
			Str("value", in.Value.String()).
			Int64("score", out.Score).
			Msg("vote cast")

		if ownerID != p.UserID {
			s.rt.publish(notify.New(notify.TypeVoteCast, ownerID, map[string]string{
				"target_kind": string(in.Kind),
				"target_id":   in.TargetID.String(),
				"score":       strconv.FormatInt(out.Score, 10),
			}))
		}
	}
	return out, nil
}

// RetractVote removes the caller's vote. Retracting an absent vote is a no-op.
func (s *VoteService) RetractVote(ctx context.Context, p domain.Principal, in RetractVoteInput) (*VoteOutput, error) {
	key := domain.TargetKey{Kind: in.Kind, ID: in.TargetID}
	out, _, err := s.applyVote(ctx, key, string(KindRetractVote), func(t *domain.VoteTarget) bool {
		return t.RetractVote(p.UserID)
	}, p.UserID)
	if err != nil {
		return nil, err
	}

	if out.Changed {
		s.logger.Info().
			Str("target", key.String()).
			Str("voter_id", p.UserID.String()).
			Int64("score", out.Score).
			Msg("vote retracted")
	}
	return out, nil
}

// applyVote loads the target, applies change and saves the target with its
// vote set as one versioned write.
func (s *VoteService) applyVote(ctx context.Context, key domain.TargetKey, op string, change func(*domain.VoteTarget) bool, voter uuid.UUID) (*VoteOutput, uuid.UUID, error) {
	var out VoteOutput
	var ownerID uuid.UUID

	err := s.rt.mutate(ctx, s.logger, op, []string{lock.Keys.VoteTarget(key)}, func(ctx context.Context) error {
		target, err := s.targets.Get(ctx, key)
		if err != nil {
			return notFound(err, domain.ErrTargetNotFound)
		}
		ownerID = target.OwnerID
		previous, _ := target.VoteOf(voter)

		if !change(target) {
			out = VoteOutput{Score: target.Score, Previous: previous}
			return nil
		}

		if err := beforeCommit(ctx); err != nil {
			return err
		}
		if err := s.targets.Save(ctx, target); err != nil {
			return storeErr(err)
		}
		out = VoteOutput{Score: target.Score, Changed: true, Previous: previous}
		return nil
	})
	if err != nil {
		return nil, uuid.Nil, err
	}
	return &out, ownerID, nil
}

// =============================================================================
// GetScore
// =============================================================================

// GetScoreInput reads a target's score.
type GetScoreInput struct {
	Kind     domain.TargetKind
	TargetID uuid.UUID
}

// RequestKind implements dispatch.Request.
func (GetScoreInput) RequestKind() dispatch.Kind { return KindGetScore }

// Validate implements dispatch.Validator.
func (in GetScoreInput) Validate() error {
	return validateTargetKey(in.Kind, in.TargetID)
}

// ScoreOutput contains a target's score and the caller's own vote.
type ScoreOutput struct {
	Score     int64
	VoteCount int
	MyVote    domain.VoteValue
}

// GetScore returns the current score.
func (s *VoteService) GetScore(ctx context.Context, p domain.Principal, in GetScoreInput) (*ScoreOutput, error) {
	target, err := s.targets.Get(ctx, domain.TargetKey{Kind: in.Kind, ID: in.TargetID})
	if err != nil {
		return nil, notFound(err, domain.ErrTargetNotFound)
	}
	mine, _ := target.VoteOf(p.UserID)
	return &ScoreOutput{
		Score:     target.Score,
		VoteCount: len(target.Votes),
		MyVote:    mine,
	}, nil
}

// =============================================================================
// DeleteTarget
// =============================================================================

// DeleteTargetInput removes a target and its votes.
type DeleteTargetInput struct {
	Kind     domain.TargetKind
	TargetID uuid.UUID
}

// RequestKind implements dispatch.Request.
func (DeleteTargetInput) RequestKind() dispatch.Kind { return KindDeleteTarget }

// Validate implements dispatch.Validator.
func (in DeleteTargetInput) Validate() error {
	return validateTargetKey(in.Kind, in.TargetID)
}

// DeleteTargetOutput is empty on success.
type DeleteTargetOutput struct{}

// DeleteTarget removes a target. Allowed for its owner and for staff.
func (s *VoteService) DeleteTarget(ctx context.Context, p domain.Principal, in DeleteTargetInput) (*DeleteTargetOutput, error) {
	key := domain.TargetKey{Kind: in.Kind, ID: in.TargetID}

	err := s.rt.mutate(ctx, s.logger, string(KindDeleteTarget), []string{lock.Keys.VoteTarget(key)}, func(ctx context.Context) error {
		target, err := s.targets.Get(ctx, key)
		if err != nil {
			return notFound(err, domain.ErrTargetNotFound)
		}
		if err := guard.Authorize(p, guard.DeleteOwnContent, guard.Content(target.OwnerID)).Err(); err != nil {
			return err
		}
		if err := beforeCommit(ctx); err != nil {
			return err
		}
		return notFound(s.targets.Delete(ctx, key), domain.ErrTargetNotFound)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("target", key.String()).
		Str("actor_id", p.UserID.String()).
		Msg("vote target deleted")
	return &DeleteTargetOutput{}, nil
}
