package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/repository"
)

// reportRepository implements repository.ReportRepository for SQLite.
type reportRepository struct {
	db *DB
}

// NewReportRepository creates a new SQLite report repository.
func NewReportRepository(db *DB) repository.ReportRepository {
	return &reportRepository{db: db}
}

const reportColumns = `id, reporter_id, reported_user_id, group_id, content_type, content_id, reason,
	status, moderator_id, action, note, sanction_error, created_at, updated_at, closed_at, version`

// Get retrieves a report by ID.
func (r *reportRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Report, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	rep, err := scanReport(row)
	if err != nil {
		return nil, readErr("get report", err)
	}
	return rep, nil
}

// Save inserts a report or updates it if its version still matches.
func (r *reportRepository) Save(ctx context.Context, rep *domain.Report) error {
	if rep.Version == 0 {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO reports (`+reportColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		`,
			rep.ID, rep.ReporterID, nullUUID(rep.ReportedUserID), nullUUID(rep.GroupID),
			rep.ContentType, rep.ContentID, rep.Reason,
			string(rep.Status), nullUUID(rep.ModeratorID), string(rep.Action), rep.Note, rep.SanctionError,
			formatTime(rep.CreatedAt), formatTime(rep.UpdatedAt), nullTime(rep.ClosedAt),
		)
		if err != nil {
			return writeErr("insert report", err)
		}
	} else {
		res, err := r.db.ExecContext(ctx, `
			UPDATE reports
			SET status = ?, moderator_id = ?, action = ?, note = ?, sanction_error = ?,
				updated_at = ?, closed_at = ?, version = version + 1
			WHERE id = ? AND version = ?
		`,
			string(rep.Status), nullUUID(rep.ModeratorID), string(rep.Action), rep.Note, rep.SanctionError,
			formatTime(rep.UpdatedAt), nullTime(rep.ClosedAt),
			rep.ID, rep.Version,
		)
		err = guarded(ctx, r.db, "update report", res, err, `SELECT 1 FROM reports WHERE id = ?`, rep.ID)
		if err != nil {
			return err
		}
	}

	rep.Version++
	return nil
}

// Delete removes a report.
func (r *reportRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	return deleted("delete report", res, err)
}

// List returns reports oldest first.
func (r *reportRepository) List(ctx context.Context, filter repository.ReportFilter) ([]*domain.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
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

func scanReport(row rowScanner) (*domain.Report, error) {
	rep := &domain.Report{}
	var reportedUserID, groupID, moderatorID, closedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&rep.ID,
		&rep.ReporterID,
		&reportedUserID,
		&groupID,
		&rep.ContentType,
		&rep.ContentID,
		&rep.Reason,
		&rep.Status,
		&moderatorID,
		&rep.Action,
		&rep.Note,
		&rep.SanctionError,
		&createdAt,
		&updatedAt,
		&closedAt,
		&rep.Version,
	)
	if err != nil {
		return nil, err
	}

	if rep.ReportedUserID, err = parseNullUUID(reportedUserID); err != nil {
		return nil, err
	}
	if rep.GroupID, err = parseNullUUID(groupID); err != nil {
		return nil, err
	}
	if rep.ModeratorID, err = parseNullUUID(moderatorID); err != nil {
		return nil, err
	}
	if rep.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rep.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if rep.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return nil, err
	}
	return rep, nil
}
