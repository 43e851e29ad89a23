package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReportStatus is the moderation report lifecycle state.
type ReportStatus string

const (
	ReportPending     ReportStatus = "pending"
	ReportUnderReview ReportStatus = "under_review"
	ReportResolved    ReportStatus = "resolved"
	ReportDismissed   ReportStatus = "dismissed"
)

// Valid reports whether s is a known status.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportPending, ReportUnderReview, ReportResolved, ReportDismissed:
		return true
	}
	return false
}

// IsClosed reports whether no further transitions are possible.
func (s ReportStatus) IsClosed() bool {
	return s == ReportResolved || s == ReportDismissed
}

// ModerationAction is the outcome recorded when a report is resolved.
type ModerationAction string

const (
	ActionNone           ModerationAction = "none"
	ActionWarning        ModerationAction = "warning"
	ActionContentRemoved ModerationAction = "content_removed"
	ActionUserSuspended  ModerationAction = "user_suspended"
	ActionUserBanned     ModerationAction = "user_banned"
)

// Valid reports whether a is a known action.
func (a ModerationAction) Valid() bool {
	switch a {
	case ActionNone, ActionWarning, ActionContentRemoved, ActionUserSuspended, ActionUserBanned:
		return true
	}
	return false
}

// IsSanction reports whether the action affects the reported user's standing.
func (a ModerationAction) IsSanction() bool {
	return a == ActionUserSuspended || a == ActionUserBanned
}

// ReportEvent is an input to the moderation workflow.
type ReportEvent string

const (
	ReportEventClaim   ReportEvent = "claim"
	ReportEventResolve ReportEvent = "resolve"
	ReportEventDismiss ReportEvent = "dismiss"
)

var reportTransitions = map[ReportStatus]map[ReportEvent]ReportStatus{
	ReportPending: {
		ReportEventClaim: ReportUnderReview,
	},
	ReportUnderReview: {
		ReportEventResolve: ReportResolved,
		ReportEventDismiss: ReportDismissed,
	},
}

// NextReportStatus returns the status reached from "from" on event.
func NextReportStatus(from ReportStatus, event ReportEvent) (ReportStatus, error) {
	to, ok := reportTransitions[from][event]
	if !ok {
		return "", InvalidTransition("report", string(from), string(event))
	}
	return to, nil
}

// Report is a user-submitted moderation report.
type Report struct {
	ID             uuid.UUID        `json:"id"`
	ReporterID     uuid.UUID        `json:"reporter_id"`
	ReportedUserID *uuid.UUID       `json:"reported_user_id,omitempty"`
	GroupID        *uuid.UUID       `json:"group_id,omitempty"`
	ContentType    string           `json:"content_type"`
	ContentID      string           `json:"content_id"`
	Reason         string           `json:"reason"`
	Status         ReportStatus     `json:"status"`
	ModeratorID    *uuid.UUID       `json:"moderator_id,omitempty"`
	Action         ModerationAction `json:"action"`
	Note           string           `json:"note,omitempty"`

	// SanctionError records a failed sanction side effect for reconciliation.
	SanctionError string `json:"sanction_error,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	Version   int64      `json:"-"`
}

// NewReport creates an unsaved pending report.
func NewReport(reporterID uuid.UUID, contentType, contentID, reason string) *Report {
	now := time.Now().UTC()
	return &Report{
		ID:          uuid.New(),
		ReporterID:  reporterID,
		ContentType: contentType,
		ContentID:   contentID,
		Reason:      reason,
		Status:      ReportPending,
		Action:      ActionNone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Claim moves the report under review by moderatorID.
func (r *Report) Claim(moderatorID uuid.UUID) error {
	next, err := NextReportStatus(r.Status, ReportEventClaim)
	if err != nil {
		return err
	}
	r.Status = next
	r.ModeratorID = &moderatorID
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Resolve closes the report with action. The action is set exactly once.
func (r *Report) Resolve(action ModerationAction, note string) error {
	if action == ActionNone || !action.Valid() {
		return Invalid("action", "is required to resolve a report")
	}
	next, err := NextReportStatus(r.Status, ReportEventResolve)
	if err != nil {
		return err
	}
	r.close(next)
	r.Action = action
	r.Note = note
	return nil
}

// Dismiss closes the report without action.
func (r *Report) Dismiss(note string) error {
	next, err := NextReportStatus(r.Status, ReportEventDismiss)
	if err != nil {
		return err
	}
	r.close(next)
	r.Action = ActionNone
	r.Note = note
	return nil
}

func (r *Report) close(status ReportStatus) {
	now := time.Now().UTC()
	r.Status = status
	r.UpdatedAt = now
	r.ClosedAt = &now
}

// ClaimedBy reports whether userID claimed the report.
func (r *Report) ClaimedBy(userID uuid.UUID) bool {
	return r.ModeratorID != nil && *r.ModeratorID == userID
}

// Clone returns a deep copy.
func (r *Report) Clone() *Report {
	c := *r
	c.ReportedUserID = cloneUUIDPtr(r.ReportedUserID)
	c.GroupID = cloneUUIDPtr(r.GroupID)
	c.ModeratorID = cloneUUIDPtr(r.ModeratorID)
	c.ClosedAt = cloneTimePtr(r.ClosedAt)
	return &c
}

func cloneUUIDPtr(p *uuid.UUID) *uuid.UUID {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
