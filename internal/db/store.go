package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartward/backend/internal/models"
)

//go:embed schema.sql
var schema string

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schema)
	return err
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const issueColumns = `id, title, description, category, priority, status, hostel_id, block_id, room_number,
	reporter_id, assignee_id, is_public, ai_category, ai_priority, ai_confidence, similar_issue_ids,
	duplicate_of, duplicate_count, duplicate_reporters, is_duplicate_master, is_deleted,
	reported_at, assigned_at, resolved_at, closed_at, updated_at`

func scanIssue(row pgx.Row) (models.Issue, error) {
	var (
		i          models.Issue
		category   string
		priority   string
		status     string
		aiCategory string
		aiPriority string
	)
	err := row.Scan(
		&i.ID, &i.Title, &i.Description, &category, &priority, &status, &i.HostelID, &i.BlockID, &i.RoomNumber,
		&i.ReporterID, &i.AssigneeID, &i.IsPublic, &aiCategory, &aiPriority, &i.AIConfidence, &i.SimilarIssueIDs,
		&i.DuplicateOf, &i.DuplicateCount, &i.DuplicateReporters, &i.IsDuplicateMaster, &i.IsDeleted,
		&i.ReportedAt, &i.AssignedAt, &i.ResolvedAt, &i.ClosedAt, &i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Issue{}, ErrNotFound
		}
		return models.Issue{}, err
	}
	i.Category = models.Category(category)
	i.Priority = models.Priority(priority)
	i.Status = models.Status(status)
	i.AICategory = models.Category(aiCategory)
	i.AIPriority = models.Priority(aiPriority)
	return i, nil
}

func collectIssues(rows pgx.Rows) ([]models.Issue, error) {
	defer rows.Close()
	var out []models.Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func insertHistory(ctx context.Context, tx pgx.Tx, issueID string, status models.Status, actorID, remarks string, at time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO issue_status_history (id, issue_id, status, updated_by, remarks, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, uuid.NewString(), issueID, string(status), actorID, remarks, at)
	return err
}

func insertIssue(ctx context.Context, tx pgx.Tx, issue models.Issue) error {
	similar := issue.SimilarIssueIDs
	if similar == nil {
		similar = []string{}
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO issues (id, title, description, category, priority, status, hostel_id, block_id, room_number,
			reporter_id, assignee_id, is_public, ai_category, ai_priority, ai_confidence, similar_issue_ids,
			duplicate_of, reported_at, assigned_at, resolved_at, closed_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	`, issue.ID, issue.Title, issue.Description, string(issue.Category), string(issue.Priority), string(issue.Status),
		issue.HostelID, issue.BlockID, issue.RoomNumber, issue.ReporterID, issue.AssigneeID, issue.IsPublic,
		string(issue.AICategory), string(issue.AIPriority), issue.AIConfidence, similar,
		issue.DuplicateOf, issue.ReportedAt, issue.AssignedAt, issue.ResolvedAt, issue.ClosedAt, issue.UpdatedAt)
	return err
}

func (s *Store) CreateIssue(ctx context.Context, issue models.Issue, actorID string) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if err := insertIssue(ctx, tx, issue); err != nil {
			return err
		}
		return insertHistory(ctx, tx, issue.ID, issue.Status, actorID, "Issue reported", issue.ReportedAt)
	})
}

// CreateDuplicateIssue inserts issue already closed as a duplicate of
// link.MasterID and bumps the master's counters in the same transaction.
// Nothing is written when the master is gone or is itself a duplicate.
func (s *Store) CreateDuplicateIssue(ctx context.Context, issue models.Issue, link models.DuplicateLink) (models.Issue, error) {
	var master models.Issue
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		target, err := s.lockIssue(ctx, tx, link.MasterID)
		if err != nil {
			return err
		}
		if target.DuplicateOf != nil {
			return ErrAlreadyLinked
		}

		closed := issue
		closed.Status = models.StatusClosed
		closed.DuplicateOf = &link.MasterID
		closed.ClosedAt = &link.At
		closed.AssigneeID, closed.AssignedAt = nil, nil
		if err := insertIssue(ctx, tx, closed); err != nil {
			return err
		}
		if err := insertHistory(ctx, tx, issue.ID, models.StatusReported, issue.ReporterID, "Issue reported", issue.ReportedAt); err != nil {
			return err
		}
		if err := insertHistory(ctx, tx, issue.ID, models.StatusClosed, link.ActorID, link.Remarks, link.At); err != nil {
			return err
		}
		master, err = bumpMaster(ctx, tx, link)
		return err
	})
	return master, err
}

func (s *Store) GetIssue(ctx context.Context, id string) (models.Issue, error) {
	return scanIssue(s.Pool.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1 AND NOT is_deleted`, id))
}

func (s *Store) ListIssues(ctx context.Context, f models.IssueFilter) ([]models.Issue, error) {
	limit, offset := f.Limit, f.Offset
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + issueColumns + ` FROM issues`
	args := []any{}
	wheres := []string{"NOT is_deleted"}
	if f.HostelID != "" {
		args = append(args, f.HostelID)
		wheres = append(wheres, fmt.Sprintf("hostel_id = $%d", len(args)))
	}
	if f.Category != "" {
		args = append(args, string(f.Category))
		wheres = append(wheres, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		wheres = append(wheres, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Priority != "" {
		args = append(args, string(f.Priority))
		wheres = append(wheres, fmt.Sprintf("priority = $%d", len(args)))
	}
	query += " WHERE " + strings.Join(wheres, " AND ")
	query += " ORDER BY reported_at DESC, id ASC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectIssues(rows)
}

func openStatusArgs() []string {
	out := make([]string, 0, len(models.OpenStatuses))
	for _, st := range models.OpenStatuses {
		out = append(out, string(st))
	}
	return out
}

func (s *Store) ListDuplicateCandidates(ctx context.Context, f models.CandidateFilter) ([]models.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues
		WHERE hostel_id = $1 AND category = $2 AND reported_at >= $3 AND status = ANY($4)
			AND duplicate_of IS NULL AND NOT is_deleted`
	args := []any{f.HostelID, string(f.Category), f.ReportedAt, openStatusArgs()}
	if f.BlockID != nil {
		args = append(args, *f.BlockID)
		query += fmt.Sprintf(" AND block_id = $%d", len(args))
	}
	query += " ORDER BY reported_at DESC"

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectIssues(rows)
}

func (s *Store) FindOpenIssueByTitle(ctx context.Context, hostelID, title string) (*models.Issue, error) {
	i, err := scanIssue(s.Pool.QueryRow(ctx, `
		SELECT `+issueColumns+` FROM issues
		WHERE hostel_id = $1 AND lower(btrim(title)) = lower(btrim($2)) AND status = ANY($3)
			AND duplicate_of IS NULL AND NOT is_deleted
		ORDER BY reported_at ASC
		LIMIT 1
	`, hostelID, title, openStatusArgs()))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (s *Store) lockIssue(ctx context.Context, tx pgx.Tx, id string) (models.Issue, error) {
	return scanIssue(tx.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1 AND NOT is_deleted FOR UPDATE`, id))
}

// lockIssues locks the rows in id order so that two transactions touching
// the same pair cannot deadlock.
func (s *Store) lockIssues(ctx context.Context, tx pgx.Tx, ids ...string) (map[string]models.Issue, error) {
	rows, err := tx.Query(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ANY($1) AND NOT is_deleted ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	list, err := collectIssues(rows)
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.Issue, len(list))
	for _, i := range list {
		out[i.ID] = i
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, ErrNotFound
		}
	}
	return out, nil
}

func (s *Store) UpdateStaffWorkload(ctx context.Context, tx pgx.Tx, staffID string, delta int) error {
	_, err := tx.Exec(ctx, `UPDATE staff SET current_workload = GREATEST(current_workload + $1, 0), updated_at = NOW() WHERE id = $2`, delta, staffID)
	return err
}

func (s *Store) recomputePerformance(ctx context.Context, tx pgx.Tx, staffID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE staff SET
			total_issues_handled = perf.n,
			avg_resolution_time = perf.avg_hours,
			updated_at = NOW()
		FROM (
			SELECT COUNT(*) AS n,
				AVG(EXTRACT(EPOCH FROM (resolved_at - assigned_at)) / 3600.0) AS avg_hours
			FROM issues
			WHERE assignee_id = $1 AND status IN ('RESOLVED', 'CLOSED')
				AND resolved_at IS NOT NULL AND assigned_at IS NOT NULL
		) perf
		WHERE staff.id = $1 AND perf.n > 0
	`, staffID)
	return err
}

func (s *Store) AssignIssue(ctx context.Context, a models.Assignment) (models.Issue, error) {
	var out models.Issue
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		issue, err := s.lockIssue(ctx, tx, a.IssueID)
		if err != nil {
			return err
		}
		if !assignable(issue.Status) {
			return ErrStatusChanged
		}

		var active bool
		if err := tx.QueryRow(ctx, `SELECT is_active FROM staff WHERE id = $1 FOR UPDATE`, a.StaffID).Scan(&active); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if !active {
			return ErrStaffInactive
		}

		prev := issue.AssigneeID
		if prev == nil || *prev != a.StaffID {
			if err := s.UpdateStaffWorkload(ctx, tx, a.StaffID, 1); err != nil {
				return err
			}
			if prev != nil {
				if err := s.UpdateStaffWorkload(ctx, tx, *prev, -1); err != nil {
					return err
				}
			}
		}

		out, err = scanIssue(tx.QueryRow(ctx, `
			UPDATE issues SET status = $1, assignee_id = $2, assigned_at = $3, updated_at = $3
			WHERE id = $4
			RETURNING `+issueColumns,
			string(models.StatusAssigned), a.StaffID, a.At, a.IssueID))
		if err != nil {
			return err
		}
		return insertHistory(ctx, tx, a.IssueID, models.StatusAssigned, a.ActorID, a.Remarks, a.At)
	})
	return out, err
}

func (s *Store) TransitionIssue(ctx context.Context, ch models.StatusChange) (models.Issue, error) {
	var out models.Issue
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		issue, err := s.lockIssue(ctx, tx, ch.IssueID)
		if err != nil {
			return err
		}
		if issue.Status != ch.From {
			return ErrStatusChanged
		}

		assignee := issue.AssigneeID
		applyStatusChange(&issue, ch)

		out, err = scanIssue(tx.QueryRow(ctx, `
			UPDATE issues SET status = $1, assignee_id = $2, assigned_at = $3, resolved_at = $4, closed_at = $5, updated_at = $6
			WHERE id = $7
			RETURNING `+issueColumns,
			string(issue.Status), issue.AssigneeID, issue.AssignedAt, issue.ResolvedAt, issue.ClosedAt, issue.UpdatedAt, issue.ID))
		if err != nil {
			return err
		}

		if assignee != nil {
			if ch.WorkloadDelta != 0 {
				if err := s.UpdateStaffWorkload(ctx, tx, *assignee, ch.WorkloadDelta); err != nil {
					return err
				}
			}
			if ch.Recompute {
				if err := s.recomputePerformance(ctx, tx, *assignee); err != nil {
					return err
				}
			}
		}
		return insertHistory(ctx, tx, ch.IssueID, ch.To, ch.ActorID, ch.Remarks, ch.At)
	})
	return out, err
}

func (s *Store) LinkDuplicate(ctx context.Context, link models.DuplicateLink) (models.Issue, error) {
	var master models.Issue
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		locked, err := s.lockIssues(ctx, tx, link.IssueID, link.MasterID)
		if err != nil {
			return err
		}
		dup, target := locked[link.IssueID], locked[link.MasterID]
		if dup.DuplicateOf != nil || target.DuplicateOf != nil {
			return ErrAlreadyLinked
		}

		if dup.AssigneeID != nil && dup.Status.IsOpen() {
			if err := s.UpdateStaffWorkload(ctx, tx, *dup.AssigneeID, -1); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE issues SET duplicate_of = $1, status = $2, closed_at = $3, updated_at = $3
			WHERE id = $4
		`, link.MasterID, string(models.StatusClosed), link.At, link.IssueID); err != nil {
			return err
		}

		master, err = bumpMaster(ctx, tx, link)
		if err != nil {
			return err
		}
		return insertHistory(ctx, tx, link.IssueID, models.StatusClosed, link.ActorID, link.Remarks, link.At)
	})
	return master, err
}

func bumpMaster(ctx context.Context, tx pgx.Tx, link models.DuplicateLink) (models.Issue, error) {
	return scanIssue(tx.QueryRow(ctx, `
		UPDATE issues SET
			duplicate_count = duplicate_count + 1,
			duplicate_reporters = CASE
				WHEN $1 = ANY(duplicate_reporters) THEN duplicate_reporters
				ELSE array_append(duplicate_reporters, $1)
			END,
			is_duplicate_master = TRUE,
			updated_at = $2
		WHERE id = $3
		RETURNING `+issueColumns,
		link.ReporterID, link.At, link.MasterID))
}

func (s *Store) ListStatusHistory(ctx context.Context, issueID string) ([]models.StatusHistory, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, issue_id, status, updated_by, remarks, created_at
		FROM issue_status_history WHERE issue_id = $1 ORDER BY created_at ASC, id ASC
	`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StatusHistory
	for rows.Next() {
		var (
			h      models.StatusHistory
			status string
		)
		if err := rows.Scan(&h.ID, &h.IssueID, &status, &h.UpdatedBy, &h.Remarks, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Status = models.Status(status)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) ListDuplicates(ctx context.Context, masterID string) ([]models.Issue, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+issueColumns+` FROM issues WHERE duplicate_of = $1 AND NOT is_deleted ORDER BY reported_at ASC`, masterID)
	if err != nil {
		return nil, err
	}
	return collectIssues(rows)
}

// SoftDeleteIssue hides the issue from lists and duplicate pools. An open
// assignment releases the assignee's workload.
func (s *Store) SoftDeleteIssue(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		issue, err := s.lockIssue(ctx, tx, id)
		if err != nil {
			return err
		}
		if issue.AssigneeID != nil && issue.Status.IsOpen() {
			if err := s.UpdateStaffWorkload(ctx, tx, *issue.AssigneeID, -1); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx, `UPDATE issues SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1`, id)
		return err
	})
}
