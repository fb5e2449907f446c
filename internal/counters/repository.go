package counters

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecoloimp/ecoloimp/internal/platform/db"
	"github.com/ecoloimp/ecoloimp/internal/shared"
)

const idempotencyModule = "counters"

// Repository persists equipment and counter readings in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations that run inside a transaction.
type TxRepository interface {
	Claim(ctx context.Context, key string) error
	GetEquipmentForUpdate(ctx context.Context, id int64) (Equipment, error)
	SetLastCounters(ctx context.Context, equipmentID int64, c Counters, at *time.Time) error
	InsertReading(ctx context.Context, r Reading) (int64, error)
	UpdateReading(ctx context.Context, r Reading) error
	DeleteReading(ctx context.Context, id int64) error
	// Neighbours returns the readings just before and after r on the same
	// equipment, ordered by date then id.
	Neighbours(ctx context.Context, r Reading) (prev, next *Reading, err error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const equipmentColumns = `id, serial, inventory_code, brand, model, kind, area, status, color,
	last_prints, last_scans, last_copies, last_count_at`

func scanEquipment(row pgx.Row) (Equipment, error) {
	var e Equipment
	err := row.Scan(&e.ID, &e.Serial, &e.InventoryCode, &e.Brand, &e.Model, &e.Kind, &e.Area, &e.Status, &e.Color,
		&e.Last.Prints, &e.Last.Scans, &e.Last.Copies, &e.LastCountAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return e, shared.ErrNotFound
	}
	return e, err
}

const selectReading = `SELECT c.id, c.equipment_id, e.brand || ' ' || e.model || ' (' || e.serial || ')', c.technician_id, u.name,
	c.counted_on, c.prints, c.scans, c.copies, c.prev_prints, c.prev_scans, c.prev_copies,
	c.state, c.needs_maintenance, c.notes, c.created_at
FROM counter_readings c
JOIN equipment e ON e.id = c.equipment_id
JOIN users u ON u.id = c.technician_id`

func scanReading(row pgx.Row) (Reading, error) {
	var r Reading
	err := row.Scan(&r.ID, &r.EquipmentID, &r.EquipmentLabel, &r.TechnicianID, &r.TechnicianName,
		&r.CountedOn, &r.Current.Prints, &r.Current.Scans, &r.Current.Copies,
		&r.Previous.Prints, &r.Previous.Scans, &r.Previous.Copies,
		&r.State, &r.NeedsMaintenance, &r.Notes, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r, shared.ErrNotFound
	}
	return r, err
}

func collectReadings(rows pgx.Rows) ([]Reading, error) {
	defer rows.Close()
	var out []Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListEquipment returns active equipment ordered by brand and model.
func (r *Repository) ListEquipment(ctx context.Context) ([]Equipment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+equipmentColumns+` FROM equipment WHERE status <> 'baja' ORDER BY brand, model, serial`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Equipment
	for rows.Next() {
		e, err := scanEquipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEquipment fetches one equipment.
func (r *Repository) GetEquipment(ctx context.Context, id int64) (Equipment, error) {
	return scanEquipment(r.pool.QueryRow(ctx, `SELECT `+equipmentColumns+` FROM equipment WHERE id = $1`, id))
}

// GetReading fetches one reading.
func (r *Repository) GetReading(ctx context.Context, id int64) (Reading, error) {
	return scanReading(r.pool.QueryRow(ctx, selectReading+` WHERE c.id = $1`, id))
}

func readingWhere(filter ReadingFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.EquipmentID != 0 {
		add("c.equipment_id = ?", filter.EquipmentID)
	}
	if filter.TechnicianID != 0 {
		add("c.technician_id = ?", filter.TechnicianID)
	}
	if !filter.From.IsZero() {
		add("c.counted_on >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		add("c.counted_on <= ?", filter.To)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListReadings returns one page of readings, newest first, and the total.
func (r *Repository) ListReadings(ctx context.Context, filter ReadingFilter) ([]Reading, int, error) {
	where, args := readingWhere(filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM counter_readings c`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	rows, err := r.pool.Query(ctx, selectReading+where+
		` ORDER BY c.counted_on DESC, c.id DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectReadings(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (t *txRepo) Claim(ctx context.Context, key string) error {
	return shared.Claim(ctx, t.tx, key, idempotencyModule)
}

func (t *txRepo) GetEquipmentForUpdate(ctx context.Context, id int64) (Equipment, error) {
	return scanEquipment(t.tx.QueryRow(ctx, `SELECT `+equipmentColumns+` FROM equipment WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) SetLastCounters(ctx context.Context, equipmentID int64, c Counters, at *time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE equipment SET last_prints = $2, last_scans = $3, last_copies = $4, last_count_at = $5 WHERE id = $1`,
		equipmentID, c.Prints, c.Scans, c.Copies, at)
	return err
}

func (t *txRepo) InsertReading(ctx context.Context, r Reading) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO counter_readings (equipment_id, technician_id, counted_on, prints, scans, copies,
	prev_prints, prev_scans, prev_copies, state, needs_maintenance, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		r.EquipmentID, r.TechnicianID, r.CountedOn, r.Current.Prints, r.Current.Scans, r.Current.Copies,
		r.Previous.Prints, r.Previous.Scans, r.Previous.Copies, r.State, r.NeedsMaintenance, r.Notes, r.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateReading(ctx context.Context, r Reading) error {
	tag, err := t.tx.Exec(ctx, `UPDATE counter_readings SET prints = $2, scans = $3, copies = $4,
	prev_prints = $5, prev_scans = $6, prev_copies = $7, state = $8, needs_maintenance = $9, notes = $10
WHERE id = $1`,
		r.ID, r.Current.Prints, r.Current.Scans, r.Current.Copies,
		r.Previous.Prints, r.Previous.Scans, r.Previous.Copies, r.State, r.NeedsMaintenance, r.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) DeleteReading(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM counter_readings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) Neighbours(ctx context.Context, r Reading) (*Reading, *Reading, error) {
	prev, err := t.neighbour(ctx, r, `(c.counted_on, c.id) < ($2, $3) ORDER BY c.counted_on DESC, c.id DESC`)
	if err != nil {
		return nil, nil, err
	}
	next, err := t.neighbour(ctx, r, `(c.counted_on, c.id) > ($2, $3) ORDER BY c.counted_on ASC, c.id ASC`)
	if err != nil {
		return nil, nil, err
	}
	return prev, next, nil
}

func (t *txRepo) neighbour(ctx context.Context, r Reading, clause string) (*Reading, error) {
	got, err := scanReading(t.tx.QueryRow(ctx, selectReading+` WHERE c.equipment_id = $1 AND `+clause+` LIMIT 1`,
		r.EquipmentID, r.CountedOn, r.ID))
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &got, nil
}
