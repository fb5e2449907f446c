package rbac

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads and writes the catalog tables.
type Repository interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes used by seeding.
type TxRepository interface {
	UpsertRole(ctx context.Context, role Role) error
	UpsertPermission(ctx context.Context, perm Permission) error
	ReplaceGrants(ctx context.Context, grants []Grant) error
}

// PGRepository is the Postgres implementation of Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Snapshot reads roles, permissions and grants in one repeatable-read transaction.
func (r *PGRepository) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, name, level, description, created_at FROM roles ORDER BY level`)
		if err != nil {
			return err
		}
		snap.Roles, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Role, error) {
			var role Role
			err := row.Scan(&role.ID, &role.Name, &role.Level, &role.Description, &role.CreatedAt)
			return role, err
		})
		if err != nil {
			return err
		}

		rows, err = tx.Query(ctx, `SELECT id, name, domain, description FROM permissions ORDER BY domain, name`)
		if err != nil {
			return err
		}
		snap.Permissions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Permission, error) {
			var perm Permission
			err := row.Scan(&perm.ID, &perm.Name, &perm.Domain, &perm.Description)
			return perm, err
		})
		if err != nil {
			return err
		}

		rows, err = tx.Query(ctx, `SELECT r.name, p.name
FROM role_permissions rp
JOIN roles r ON r.id = rp.role_id
JOIN permissions p ON p.id = rp.permission_id`)
		if err != nil {
			return err
		}
		snap.Grants, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Grant, error) {
			var g Grant
			err := row.Scan(&g.Role, &g.Permission)
			return g, err
		})
		return err
	})
	return snap, err
}

// WithTx runs fn inside a transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) UpsertRole(ctx context.Context, role Role) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO roles (name, level, description) VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET level = EXCLUDED.level, description = EXCLUDED.description`,
		role.Name, role.Level, role.Description)
	return err
}

func (t *pgTx) UpsertPermission(ctx context.Context, perm Permission) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO permissions (name, domain, description) VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET domain = EXCLUDED.domain, description = EXCLUDED.description`,
		perm.Name, perm.Domain, perm.Description)
	return err
}

func (t *pgTx) ReplaceGrants(ctx context.Context, grants []Grant) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM role_permissions`); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, g := range grants {
		batch.Queue(`INSERT INTO role_permissions (role_id, permission_id)
SELECT r.id, p.id FROM roles r, permissions p WHERE r.name = $1 AND p.name = $2`, g.Role, g.Permission)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}
