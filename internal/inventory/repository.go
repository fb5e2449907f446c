package inventory

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecoloimp/ecoloimp/internal/platform/db"
	"github.com/ecoloimp/ecoloimp/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetPartForUpdate(ctx context.Context, id int64) (Part, error)
	SetStock(ctx context.Context, id int64, stock int) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
}

type txRepo struct {
	db shared.DBTX
}

// NewTxRepository binds the stock operations to db, usually an open
// transaction owned by another module.
func NewTxRepository(db shared.DBTX) TxRepository {
	return &txRepo{db: db}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx})
	})
}

const partColumns = `id, code, name, description, price_cents, stock, min_stock, updated_at`

func scanPart(row pgx.Row) (Part, error) {
	var p Part
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.PriceCents, &p.Stock, &p.MinStock, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, shared.ErrNotFound
	}
	return p, err
}

// ListParts returns one page of parts ordered by name and the total count.
func (r *Repository) ListParts(ctx context.Context, filter PartFilter) ([]Part, int, error) {
	var (
		conds []string
		args  []any
	)
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		conds = append(conds, "(code ILIKE $1 OR name ILIKE $1)")
	}
	if filter.LowStockOnly {
		conds = append(conds, "stock <= min_stock")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM parts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	rows, err := r.pool.Query(ctx, `SELECT `+partColumns+` FROM parts`+where+
		` ORDER BY name, id LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var parts []Part
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, 0, err
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return parts, total, nil
}

// GetPart fetches a part by id.
func (r *Repository) GetPart(ctx context.Context, id int64) (Part, error) {
	return scanPart(r.pool.QueryRow(ctx, `SELECT `+partColumns+` FROM parts WHERE id = $1`, id))
}

// ListMovements returns the latest stock card entries of a part.
func (r *Repository) ListMovements(ctx context.Context, partID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, part_id, movement_type, qty, balance, ref_module, ref_id, note, actor_id, posted_at
FROM stock_movements WHERE part_id = $1 ORDER BY posted_at DESC, id DESC LIMIT $2`, partID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Movement, error) {
		var m Movement
		var typ string
		err := row.Scan(&m.ID, &m.PartID, &typ, &m.Qty, &m.Balance, &m.RefModule, &m.RefID, &m.Note, &m.ActorID, &m.PostedAt)
		m.Type = MovementType(typ)
		return m, err
	})
}

func (r *txRepo) GetPartForUpdate(ctx context.Context, id int64) (Part, error) {
	return scanPart(r.db.QueryRow(ctx, `SELECT `+partColumns+` FROM parts WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) SetStock(ctx context.Context, id int64, stock int) error {
	_, err := r.db.Exec(ctx, `UPDATE parts SET stock = $2, updated_at = NOW() WHERE id = $1`, id, stock)
	return err
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO stock_movements (part_id, movement_type, qty, balance, ref_module, ref_id, note, actor_id, posted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		m.PartID, string(m.Type), m.Qty, m.Balance, m.RefModule, m.RefID, m.Note, m.ActorID, m.PostedAt).Scan(&id)
	return id, err
}
