package reports

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads report aggregates from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const usageQuery = `SELECT e.id, e.brand || ' ' || e.model || ' (' || e.serial || ')', e.area, count(*),
	sum(c.prints - c.prev_prints), sum(c.scans - c.prev_scans), sum(c.copies - c.prev_copies),
	max(c.counted_on)
FROM counter_readings c
JOIN equipment e ON e.id = c.equipment_id
WHERE c.counted_on BETWEEN $1 AND $2
GROUP BY e.id, e.brand, e.model, e.serial, e.area
ORDER BY sum(c.prints - c.prev_prints) DESC, e.id`

// EquipmentUsage sums the usage recorded by readings inside rng.
func (r *Repository) EquipmentUsage(ctx context.Context, rng Range) ([]EquipmentUsage, error) {
	rows, err := r.pool.Query(ctx, usageQuery, rng.From, rng.To)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (EquipmentUsage, error) {
		var u EquipmentUsage
		err := row.Scan(&u.EquipmentID, &u.Label, &u.Area, &u.Readings,
			&u.Usage.Prints, &u.Usage.Scans, &u.Usage.Copies, &u.LastCountAt)
		return u, err
	})
}
