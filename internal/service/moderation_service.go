package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/agora/internal/archive"
	"github.com/prn-tf/agora/internal/dispatch"
	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/guard"
	"github.com/prn-tf/agora/internal/lock"
	"github.com/prn-tf/agora/internal/notify"
	"github.com/prn-tf/agora/internal/repository"
)

// Moderation request kinds.
const (
	KindSubmitReport  dispatch.Kind = "moderation.submit_report"
	KindClaimReport   dispatch.Kind = "moderation.claim_report"
	KindResolveReport dispatch.Kind = "moderation.resolve_report"
	KindDismissReport dispatch.Kind = "moderation.dismiss_report"
	KindGetReport     dispatch.Kind = "moderation.get_report"
	KindListReports   dispatch.Kind = "moderation.list_reports"
)

// Report listing bounds.
const (
	DefaultReportListLimit = 50
	MaxReportListLimit     = 500
	MaxReportReasonLength  = 2000
)

// ModerationService runs the report workflow.
type ModerationService struct {
	reports    repository.ReportRepository
	sanctioner Sanctioner
	archiver   archive.Archiver
	rt         Runtime
	logger     zerolog.Logger
}

// NewModerationService creates a new ModerationService. A nil archiver
// disables archival.
func NewModerationService(reports repository.ReportRepository, sanctioner Sanctioner, archiver archive.Archiver, rt Runtime, logger zerolog.Logger) *ModerationService {
	if archiver == nil {
		archiver = archive.Noop{}
	}
	return &ModerationService{
		reports:    reports,
		sanctioner: sanctioner,
		archiver:   archiver,
		rt:         rt,
		logger:     logger.With().Str("service", "moderation").Logger(),
	}
}

// ReportOutput contains a report after an operation.
type ReportOutput struct {
	Report *domain.Report
}

// ReportIDInput identifies a report.
type ReportIDInput struct {
	ReportID uuid.UUID
}

// Validate implements dispatch.Validator.
func (in ReportIDInput) Validate() error {
	if in.ReportID == uuid.Nil {
		return domain.Invalid("report_id", "is required")
	}
	return nil
}

// =============================================================================
// SubmitReport
// =============================================================================

// SubmitReportInput files a report against a piece of content.
type SubmitReportInput struct {
	ContentType    string
	ContentID      string
	Reason         string
	ReportedUserID *uuid.UUID
	GroupID        *uuid.UUID
}

// RequestKind implements dispatch.Request.
func (SubmitReportInput) RequestKind() dispatch.Kind { return KindSubmitReport }

// Validate implements dispatch.Validator.
func (in SubmitReportInput) Validate() error {
	if strings.TrimSpace(in.ContentType) == "" {
		return domain.Invalid("content_type", "is required")
	}
	if strings.TrimSpace(in.ContentID) == "" {
		return domain.Invalid("content_id", "is required")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return domain.Invalid("reason", "is required")
	}
	if len(in.Reason) > MaxReportReasonLength {
		return domain.Invalid("reason", "is too long")
	}
	return nil
}

// SubmitReport files a Pending report. Duplicate reports are accepted.
func (s *ModerationService) SubmitReport(ctx context.Context, p domain.Principal, in SubmitReportInput) (*ReportOutput, error) {
	report := domain.NewReport(p.UserID, strings.TrimSpace(in.ContentType), strings.TrimSpace(in.ContentID), strings.TrimSpace(in.Reason))
	report.ReportedUserID = in.ReportedUserID
	report.GroupID = in.GroupID

	if err := beforeCommit(ctx); err != nil {
		return nil, err
	}
	if err := s.reports.Save(ctx, report); err != nil {
		s.logger.Error().Err(err).Str("report_id", report.ID.String()).Msg("failed to save report")
		return nil, storeErr(err)
	}

	s.rt.Metrics.RecordReportTransition("submit")
	s.logger.Info().
		Str("report_id", report.ID.String()).
		Str("reporter_id", p.UserID.String()).
		Str("content_type", report.ContentType).
		Msg("report submitted")

	return &ReportOutput{Report: report}, nil
}

// =============================================================================
// Claim / Resolve / Dismiss
// =============================================================================

// ClaimReportInput takes a Pending report under review.
type ClaimReportInput struct{ ReportIDInput }

// RequestKind implements dispatch.Request.
func (ClaimReportInput) RequestKind() dispatch.Kind { return KindClaimReport }

// ClaimReport moves a Pending report under review by the caller.
func (s *ModerationService) ClaimReport(ctx context.Context, p domain.Principal, in ClaimReportInput) (*ReportOutput, error) {
	if err := guard.Authorize(p, guard.ModerateContent, guard.Target{}).Err(); err != nil {
		return nil, err
	}

	report, err := s.update(ctx, string(KindClaimReport), in.ReportID, func(r *domain.Report) error {
		return r.Claim(p.UserID)
	})
	if err != nil {
		return nil, err
	}

	s.rt.Metrics.RecordReportTransition(string(domain.ReportEventClaim))
	s.logger.Info().
		Str("report_id", report.ID.String()).
		Str("moderator_id", p.UserID.String()).
		Msg("report claimed")
	return &ReportOutput{Report: report}, nil
}

// ResolveReportInput closes a report with an action.
type ResolveReportInput struct {
	ReportIDInput
	Action domain.ModerationAction
	Note   string
}

// RequestKind implements dispatch.Request.
func (ResolveReportInput) RequestKind() dispatch.Kind { return KindResolveReport }

// Validate implements dispatch.Validator.
func (in ResolveReportInput) Validate() error {
	if err := in.ReportIDInput.Validate(); err != nil {
		return err
	}
	if !in.Action.Valid() || in.Action == domain.ActionNone {
		return domain.Invalid("action", "is required to resolve a report")
	}
	return nil
}

// ResolveReport closes a report under review. Only the claiming moderator
// or an administrator may resolve it. A sanction runs after the report is
// saved; if it fails the resolution stands and a PartialSuccessError is
// returned together with the output.
func (s *ModerationService) ResolveReport(ctx context.Context, p domain.Principal, in ResolveReportInput) (*ReportOutput, error) {
	if err := guard.Authorize(p, guard.ResolveReport, guard.Target{}).Err(); err != nil {
		return nil, err
	}

	report, err := s.update(ctx, string(KindResolveReport), in.ReportID, func(r *domain.Report) error {
		if _, err := domain.NextReportStatus(r.Status, domain.ReportEventResolve); err != nil {
			return err
		}
		if err := s.checkClaim(p, r); err != nil {
			return err
		}
		if in.Action.IsSanction() && r.ReportedUserID == nil {
			return domain.Invalid("action", "needs a reported user")
		}
		return r.Resolve(in.Action, in.Note)
	})
	if err != nil {
		return nil, err
	}

	s.rt.Metrics.RecordReportTransition(string(domain.ReportEventResolve))
	s.logger.Info().
		Str("report_id", report.ID.String()).
		Str("moderator_id", p.UserID.String()).
		Str("action", string(report.Action)).
		Msg("report resolved")

	var partial error
	if report.Action.IsSanction() {
		partial = s.sanction(ctx, report)
	}
	s.closed(ctx, report)

	return &ReportOutput{Report: report}, partial
}

// DismissReportInput closes a report without action.
type DismissReportInput struct {
	ReportIDInput
	Note string
}

// RequestKind implements dispatch.Request.
func (DismissReportInput) RequestKind() dispatch.Kind { return KindDismissReport }

// DismissReport closes a report under review with no action.
func (s *ModerationService) DismissReport(ctx context.Context, p domain.Principal, in DismissReportInput) (*ReportOutput, error) {
	if err := guard.Authorize(p, guard.ResolveReport, guard.Target{}).Err(); err != nil {
		return nil, err
	}

	report, err := s.update(ctx, string(KindDismissReport), in.ReportID, func(r *domain.Report) error {
		if _, err := domain.NextReportStatus(r.Status, domain.ReportEventDismiss); err != nil {
			return err
		}
		if err := s.checkClaim(p, r); err != nil {
			return err
		}
		return r.Dismiss(in.Note)
	})
	if err != nil {
		return nil, err
	}

	s.rt.Metrics.RecordReportTransition(string(domain.ReportEventDismiss))
	s.logger.Info().
		Str("report_id", report.ID.String()).
		Str("moderator_id", p.UserID.String()).
		Msg("report dismissed")

	s.closed(ctx, report)
	return &ReportOutput{Report: report}, nil
}

func (s *ModerationService) checkClaim(p domain.Principal, r *domain.Report) error {
	if r.ClaimedBy(p.UserID) || p.IsAdministrator() {
		return nil
	}
	return domain.Denied(domain.DenyNotOwner, string(guard.ResolveReport))
}

// update loads a report under its lock, applies fn and saves it.
func (s *ModerationService) update(ctx context.Context, op string, id uuid.UUID, fn func(*domain.Report) error) (*domain.Report, error) {
	var result *domain.Report
	err := s.rt.mutate(ctx, s.logger, op, []string{lock.Keys.Report(id)}, func(ctx context.Context) error {
		r, err := s.reports.Get(ctx, id)
		if err != nil {
			return notFound(err, domain.ErrReportNotFound)
		}
		if err := fn(r); err != nil {
			return err
		}
		if err := beforeCommit(ctx); err != nil {
			return err
		}
		if err := s.reports.Save(ctx, r); err != nil {
			return storeErr(err)
		}
		result = r
		return nil
	})
	return result, err
}

// sanction applies the report's sanction and records a failure on the
// report for later reconciliation.
func (s *ModerationService) sanction(ctx context.Context, report *domain.Report) error {
	ctx = context.WithoutCancel(ctx)

	err := s.sanctioner.Sanction(ctx, report)
	if err == nil {
		return nil
	}

	s.rt.Metrics.RecordSanctionFailure()
	s.logger.Error().
		Err(err).
		Str("report_id", report.ID.String()).
		Str("action", string(report.Action)).
		Msg("sanction failed, report needs reconciliation")

	report.SanctionError = err.Error()
	saved, saveErr := s.update(ctx, "moderation.record_sanction_error", report.ID, func(r *domain.Report) error {
		r.SanctionError = report.SanctionError
		return nil
	})
	if saveErr != nil {
		s.logger.Error().Err(saveErr).Str("report_id", report.ID.String()).Msg("failed to record sanction error")
	} else {
		*report = *saved
	}

	return &domain.PartialSuccessError{Operation: "sanction", Cause: err}
}

// closed archives the report and tells the reporter. Both are best effort.
func (s *ModerationService) closed(ctx context.Context, report *domain.Report) {
	ctx = context.WithoutCancel(ctx)

	if err := s.archiver.Archive(ctx, report); err != nil {
		s.rt.Metrics.RecordArchiveFailure()
		s.logger.Warn().Err(err).Str("report_id", report.ID.String()).Msg("failed to archive report")
	}

	s.rt.publish(notify.New(notify.TypeReportClosed, report.ReporterID, map[string]string{
		"report_id": report.ID.String(),
		"status":    string(report.Status),
		"action":    string(report.Action),
	}))
}

// =============================================================================
// Queries
// =============================================================================

// GetReportInput reads a report.
type GetReportInput struct{ ReportIDInput }

// RequestKind implements dispatch.Request.
func (GetReportInput) RequestKind() dispatch.Kind { return KindGetReport }

// GetReport returns a report to staff or to its reporter.
func (s *ModerationService) GetReport(ctx context.Context, p domain.Principal, in GetReportInput) (*ReportOutput, error) {
	report, err := s.reports.Get(ctx, in.ReportID)
	if err != nil {
		return nil, notFound(err, domain.ErrReportNotFound)
	}
	if report.ReporterID != p.UserID && !p.IsStaff() {
		return nil, domain.Denied(domain.DenyInsufficientRole, string(KindGetReport))
	}
	return &ReportOutput{Report: report}, nil
}

// ListReportsInput lists reports for staff.
type ListReportsInput struct {
	// Status filters when non-empty.
	Status domain.ReportStatus
	Limit  int
}

// RequestKind implements dispatch.Request.
func (ListReportsInput) RequestKind() dispatch.Kind { return KindListReports }

// Validate implements dispatch.Validator.
func (in ListReportsInput) Validate() error {
	if in.Status != "" && !in.Status.Valid() {
		return domain.Invalid("status", "is unknown")
	}
	if in.Limit < 0 || in.Limit > MaxReportListLimit {
		return domain.Invalid("limit", "is out of range")
	}
	return nil
}

// ListReportsOutput contains reports oldest first.
type ListReportsOutput struct {
	Reports []*domain.Report
}

// ListReports returns reports, oldest first.
func (s *ModerationService) ListReports(ctx context.Context, p domain.Principal, in ListReportsInput) (*ListReportsOutput, error) {
	if err := guard.Authorize(p, guard.ModerateContent, guard.Target{}).Err(); err != nil {
		return nil, err
	}

	limit := in.Limit
	if limit == 0 {
		limit = DefaultReportListLimit
	}
	reports, err := s.reports.List(ctx, repository.ReportFilter{Status: in.Status, Limit: limit})
	if err != nil {
		return nil, storeErr(err)
	}
	return &ListReportsOutput{Reports: reports}, nil
}
