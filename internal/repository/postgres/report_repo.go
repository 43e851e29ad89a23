package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/repository"
)

// reportRepository implements repository.ReportRepository.
type reportRepository struct {
	db *DB
}

// NewReportRepository creates a new PostgreSQL report repository.
func NewReportRepository(db *DB) repository.ReportRepository {
	return &reportRepository{db: db}
}

const reportColumns = `id, reporter_id, reported_user_id, group_id, content_type, content_id, reason,
	status, moderator_id, action, note, sanction_error, created_at, updated_at, closed_at, version`

// Get retrieves a report by ID.
func (r *reportRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Report, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	rep, err := scanReport(row)
	if err != nil {
		return nil, readErr("get report", err)
	}
	return rep, nil
}

// Save inserts a report or updates it if its version still matches.
func (r *reportRepository) Save(ctx context.Context, rep *domain.Report) error {
	if rep.Version == 0 {
		_, err := r.db.Pool.Exec(ctx, `
			INSERT INTO reports (`+reportColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1)
		`,
			rep.ID, rep.ReporterID, rep.ReportedUserID, rep.GroupID,
			rep.ContentType, rep.ContentID, rep.Reason,
			string(rep.Status), rep.ModeratorID, string(rep.Action), rep.Note, rep.SanctionError,
			rep.CreatedAt, rep.UpdatedAt, rep.ClosedAt,
		)
		if err != nil {
			return writeErr("insert report", err)
		}
	} else {
		tag, err := r.db.Pool.Exec(ctx, `
			UPDATE reports
			SET status = $1, moderator_id = $2, action = $3, note = $4, sanction_error = $5,
				updated_at = $6, closed_at = $7, version = version + 1
			WHERE id = $8 AND version = $9
		`,
			string(rep.Status), rep.ModeratorID, string(rep.Action), rep.Note, rep.SanctionError,
			rep.UpdatedAt, rep.ClosedAt,
			rep.ID, rep.Version,
		)
		err = guarded(ctx, r.db.Pool, "update report", tag, err, `SELECT 1 FROM reports WHERE id = $1`, rep.ID)
		if err != nil {
			return err
		}
	}

	rep.Version++
	return nil
}

// Delete removes a report.
func (r *reportRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
	return deleted("delete report", tag, err)
}

// List returns reports oldest first.
func (r *reportRepository) List(ctx context.Context, filter repository.ReportFilter) ([]*domain.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` WHERE status = $%d`, len(args))
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var result []*domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		result = append(result, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}

	return result, nil
}

func scanReport(row pgx.Row) (*domain.Report, error) {
	rep := &domain.Report{}
	var status, action string

	err := row.Scan(
		&rep.ID,
		&rep.ReporterID,
		&rep.ReportedUserID,
		&rep.GroupID,
		&rep.ContentType,
		&rep.ContentID,
		&rep.Reason,
		&status,
		&rep.ModeratorID,
		&action,
		&rep.Note,
		&rep.SanctionError,
		&rep.CreatedAt,
		&rep.UpdatedAt,
		&rep.ClosedAt,
		&rep.Version,
	)
	if err != nil {
		return nil, err
	}

	rep.Status = domain.ReportStatus(status)
	rep.Action = domain.ModerationAction(action)
	return rep, nil
}
