package assignments

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecoloimp/ecoloimp/internal/shared"
)

// Repository persists assignments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectAssignment = `SELECT a.id, a.technician_id, u.name, a.created_by, a.request, a.observations, a.status,
	a.estimated_minutes, a.actual_minutes, a.assigned_at, a.started_at, a.finished_at, a.updated_at
FROM assignments a JOIN users u ON u.id = a.technician_id`

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	err := row.Scan(&a.ID, &a.TechnicianID, &a.TechnicianName, &a.CreatedBy, &a.Request, &a.Observations, &a.Status,
		&a.EstimatedMinutes, &a.ActualMinutes, &a.AssignedAt, &a.StartedAt, &a.FinishedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, shared.ErrNotFound
	}
	return a, err
}

// List returns one page of assignments, newest first, and the total count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Assignment, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.TechnicianID != 0 {
		args = append(args, filter.TechnicianID)
		conds = append(conds, "a.technician_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, "a.status = $"+strconv.Itoa(len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM assignments a`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	rows, err := r.pool.Query(ctx, selectAssignment+where+
		` ORDER BY a.assigned_at DESC, a.id DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Get fetches one assignment.
func (r *Repository) Get(ctx context.Context, id int64) (Assignment, error) {
	return scanAssignment(r.pool.QueryRow(ctx, selectAssignment+` WHERE a.id = $1`, id))
}

// Create inserts an assignment after checking the technician.
func (r *Repository) Create(ctx context.Context, a Assignment) (Assignment, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND role = $2 AND is_active)`,
		a.TechnicianID, shared.RoleTecnico).Scan(&ok)
	if err != nil {
		return Assignment{}, err
	}
	if !ok {
		return Assignment{}, ErrNotTechnician
	}
	var id int64
	err = r.pool.QueryRow(ctx, `INSERT INTO assignments (technician_id, created_by, request, observations, status, estimated_minutes, assigned_at, updated_at)
VALUES ($1, $2, $3, '', $4, $5, $6, $6) RETURNING id`,
		a.TechnicianID, a.CreatedBy, a.Request, a.Status, a.EstimatedMinutes, a.AssignedAt).Scan(&id)
	if err != nil {
		return Assignment{}, err
	}
	return r.Get(ctx, id)
}

// Update stores a's mutable fields when the row still carries
// expectedUpdatedAt, otherwise it returns shared.ErrConflict.
func (r *Repository) Update(ctx context.Context, a Assignment, expectedUpdatedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE assignments SET observations = $2, status = $3, actual_minutes = $4,
	started_at = $5, finished_at = $6, updated_at = $7
WHERE id = $1 AND updated_at = $8`,
		a.ID, a.Observations, a.Status, a.ActualMinutes, a.StartedAt, a.FinishedAt, a.UpdatedAt, expectedUpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConflict
	}
	return nil
}
