package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads audit_logs.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func timelineWhere(f TimelineFilters) (string, []any) {
	clauses := []string{"a.occurred_at >= $1", "a.occurred_at < $2"}
	args := []any{f.From, f.To}
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.ActorID > 0 {
		add("a.actor_id = $%d", f.ActorID)
	}
	if f.Entity != "" {
		add("a.entity = $%d", f.Entity)
	}
	if f.Action != "" {
		add("a.action = $%d", f.Action)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

const timelineSelect = `SELECT a.occurred_at, a.actor_id, COALESCE(u.name, ''), a.action, a.entity, a.entity_id, a.meta
FROM audit_logs a
LEFT JOIN users u ON u.id = a.actor_id
`

func scanRow(row pgx.CollectableRow) (TimelineRow, error) {
	var (
		out  TimelineRow
		meta []byte
	)
	if err := row.Scan(&out.At, &out.ActorID, &out.ActorName, &out.Action, &out.Entity, &out.EntityID, &meta); err != nil {
		return TimelineRow{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &out.Meta); err != nil {
			return TimelineRow{}, fmt.Errorf("audit: decode meta: %w", err)
		}
	}
	return out, nil
}

// Window returns up to limit rows starting at offset, newest first.
func (r *PGRepository) Window(ctx context.Context, f TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	where, args := timelineWhere(f)
	args = append(args, limit, offset)
	query := timelineSelect + where + fmt.Sprintf(" ORDER BY a.occurred_at DESC, a.id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRow)
}

// All returns every matching row up to limit, oldest first.
func (r *PGRepository) All(ctx context.Context, f TimelineFilters, limit int) ([]TimelineRow, error) {
	where, args := timelineWhere(f)
	args = append(args, limit)
	query := timelineSelect + where + fmt.Sprintf(" ORDER BY a.occurred_at, a.id LIMIT $%d", len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRow)
}
