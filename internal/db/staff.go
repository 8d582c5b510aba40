package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/smartward/backend/internal/models"
)

const staffColumns = `id, full_name, role, phone, email, expertise_categories, assigned_hostels, assigned_blocks,
	current_workload, total_issues_handled, avg_resolution_time, satisfaction_score, is_active, updated_at`

func scanStaff(row pgx.Row) (models.Staff, error) {
	var (
		m         models.Staff
		role      string
		expertise []string
	)
	err := row.Scan(&m.ID, &m.FullName, &role, &m.Phone, &m.Email, &expertise, &m.HostelIDs, &m.BlockIDs,
		&m.CurrentWorkload, &m.TotalIssuesHandled, &m.AvgResolutionTime, &m.SatisfactionScore, &m.IsActive, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Staff{}, ErrNotFound
		}
		return models.Staff{}, err
	}
	m.Role = models.StaffRole(role)
	m.ExpertiseTags = make([]models.Category, 0, len(expertise))
	for _, c := range expertise {
		m.ExpertiseTags = append(m.ExpertiseTags, models.Category(c))
	}
	return m, nil
}

func (s *Store) InsertStaff(ctx context.Context, staff []models.Staff) (int64, error) {
	rows := make([][]any, 0, len(staff))
	for _, m := range staff {
		expertise := make([]string, 0, len(m.ExpertiseTags))
		for _, c := range m.ExpertiseTags {
			expertise = append(expertise, string(c))
		}
		rows = append(rows, []any{m.ID, m.FullName, string(m.Role), m.Phone, m.Email, expertise, nonNil(m.HostelIDs), nonNil(m.BlockIDs),
			m.CurrentWorkload, m.TotalIssuesHandled, m.AvgResolutionTime, m.SatisfactionScore, m.IsActive, m.UpdatedAt})
	}
	return s.Pool.CopyFrom(ctx, pgx.Identifier{"staff"}, []string{"id", "full_name", "role", "phone", "email", "expertise_categories",
		"assigned_hostels", "assigned_blocks", "current_workload", "total_issues_handled", "avg_resolution_time",
		"satisfaction_score", "is_active", "updated_at"}, pgx.CopyFromRows(rows))
}

func (s *Store) GetStaff(ctx context.Context, id string) (models.Staff, error) {
	return scanStaff(s.Pool.QueryRow(ctx, `SELECT `+staffColumns+` FROM staff WHERE id = $1`, id))
}

// ListStaff returns staff whose expertise covers f.Category or whose role is
// one of f.Roles. With neither set every staff member matches.
func (s *Store) ListStaff(ctx context.Context, f models.StaffFilter) ([]models.Staff, error) {
	query := `SELECT ` + staffColumns + ` FROM staff`
	var args []any
	var wheres []string
	if f.ActiveOnly {
		wheres = append(wheres, "is_active")
	}
	var match []string
	if f.Category != "" {
		args = append(args, string(f.Category))
		match = append(match, fmt.Sprintf("$%d = ANY(expertise_categories)", len(args)))
	}
	if len(f.Roles) > 0 {
		roles := make([]string, 0, len(f.Roles))
		for _, r := range f.Roles {
			roles = append(roles, string(r))
		}
		args = append(args, roles)
		match = append(match, fmt.Sprintf("role = ANY($%d)", len(args)))
	}
	if len(match) > 0 {
		wheres = append(wheres, "("+strings.Join(match, " OR ")+")")
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY current_workload ASC, id ASC"

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Staff
	for rows.Next() {
		m, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) UpsertUser(ctx context.Context, u models.User) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO users (id, full_name, role, hostel_id, is_active)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			role = EXCLUDED.role,
			hostel_id = EXCLUDED.hostel_id,
			is_active = EXCLUDED.is_active
	`, u.ID, u.FullName, u.Role, u.HostelID, u.IsActive)
	return err
}

func (s *Store) ListManagementUserIDs(ctx context.Context, hostelID string) ([]string, error) {
	query := `SELECT id FROM users WHERE role IN ('MANAGEMENT', 'ADMIN') AND is_active`
	var args []any
	if hostelID != "" {
		args = append(args, hostelID)
		query += " AND hostel_id = $1"
	}
	query += " ORDER BY id"

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) InsertNotification(ctx context.Context, n models.Notification) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, entity_type, entity_id, is_read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, n.ID, n.UserID, n.Type, n.Title, n.Message, n.EntityType, n.EntityID, n.IsRead, n.CreatedAt)
	return err
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
