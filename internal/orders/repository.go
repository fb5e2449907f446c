package orders

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecoloimp/ecoloimp/internal/inventory"
	"github.com/ecoloimp/ecoloimp/internal/platform/db"
	"github.com/ecoloimp/ecoloimp/internal/shared"
)

// Repository persists part orders in PostgreSQL.
type Repository struct {
	pool      *pgxpool.Pool
	approvals *shared.ApprovalRecorder
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, approvals: shared.NewApprovalRecorder()}
}

// TxRepository exposes the operations that run inside a transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Order, error)
	Insert(ctx context.Context, o Order) (int64, error)
	SetDecision(ctx context.Context, o Order) error
	RecordApproval(ctx context.Context, log shared.ApprovalLog) error
	// Stock binds inventory operations to the same transaction.
	Stock() inventory.TxRepository
}

type txRepo struct {
	tx        pgx.Tx
	approvals *shared.ApprovalRecorder
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, approvals: r.approvals})
	})
}

const selectOrder = `SELECT o.id, o.technician_id, u.name, o.part_id, p.code, p.name, o.assignment_id,
	o.requested_qty, o.approved_qty, o.reason, o.urgency, o.status, o.admin_notes,
	o.requested_at, o.decided_at, o.decided_by
FROM part_orders o
JOIN users u ON u.id = o.technician_id
JOIN parts p ON p.id = o.part_id`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.TechnicianID, &o.TechnicianName, &o.PartID, &o.PartCode, &o.PartName, &o.AssignmentID,
		&o.RequestedQty, &o.ApprovedQty, &o.Reason, &o.Urgency, &o.Status, &o.AdminNotes,
		&o.RequestedAt, &o.DecidedAt, &o.DecidedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return o, shared.ErrNotFound
	}
	return o, err
}

// List returns one page of orders, pending first then newest, and the total.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.TechnicianID != 0 {
		args = append(args, filter.TechnicianID)
		conds = append(conds, "o.technician_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, "o.status = $"+strconv.Itoa(len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM part_orders o`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	rows, err := r.pool.Query(ctx, selectOrder+where+
		` ORDER BY (o.status = 'pendiente') DESC, o.requested_at DESC, o.id DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Get fetches one order.
func (r *Repository) Get(ctx context.Context, id int64) (Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, selectOrder+` WHERE o.id = $1`, id))
}

// History returns the approval trail of an order.
func (r *Repository) History(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	return r.approvals.List(ctx, r.pool, approvalModule, id)
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, selectOrder+` WHERE o.id = $1 FOR UPDATE OF o`, id))
}

func (t *txRepo) Insert(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO part_orders (technician_id, part_id, assignment_id, requested_qty, reason, urgency, status, requested_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		o.TechnicianID, o.PartID, o.AssignmentID, o.RequestedQty, o.Reason, o.Urgency, o.Status, o.RequestedAt).Scan(&id)
	return id, err
}

func (t *txRepo) SetDecision(ctx context.Context, o Order) error {
	tag, err := t.tx.Exec(ctx, `UPDATE part_orders SET status = $2, approved_qty = $3, admin_notes = $4, decided_at = $5, decided_by = $6
WHERE id = $1`, o.ID, o.Status, o.ApprovedQty, o.AdminNotes, o.DecidedAt, o.DecidedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) RecordApproval(ctx context.Context, log shared.ApprovalLog) error {
	return t.approvals.Record(ctx, t.tx, log)
}

func (t *txRepo) Stock() inventory.TxRepository {
	return inventory.NewTxRepository(t.tx)
}
