package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-learn/odyssey-learn/internal/platform/db"
	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
)

// ErrRoleNotFound indicates a missing role.
var ErrRoleNotFound = fmt.Errorf("role %w", httpx.ErrNotFound)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleSelect = `SELECT r.id, r.name, r.remarks, r.is_active, r.created_at, r.updated_at,
	COALESCE(array_agg(p.code ORDER BY p.code) FILTER (WHERE p.code IS NOT NULL), '{}')
FROM roles r
LEFT JOIN role_permissions rp ON rp.role_id = r.id
LEFT JOIN permissions p ON p.id = rp.permission_id`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Remarks, &role.IsActive, &role.CreatedAt, &role.UpdatedAt, &role.Permissions)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrRoleNotFound
	}
	return role, err
}

// ListRoles returns all roles.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, roleSelect+` GROUP BY r.id ORDER BY r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// GetRole fetches a role with its permissions.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, roleSelect+` WHERE r.id = $1 GROUP BY r.id`, id))
}

// CreateRole inserts a role and its permissions in one transaction.
func (r *Repository) CreateRole(ctx context.Context, in Input) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO roles (name, remarks, is_active) VALUES ($1, $2, $3) RETURNING id`,
			in.Name, in.Remarks, in.IsActive == nil || *in.IsActive).Scan(&id)
		if err != nil {
			return mapWriteError(err)
		}
		return replacePermissions(ctx, tx, id, in.PermissionIDs)
	})
	return id, err
}

// UpdateRole updates a role and replaces its permissions when ids are supplied.
func (r *Repository) UpdateRole(ctx context.Context, id int64, in Input) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE roles SET name = $2, remarks = $3, is_active = COALESCE($4, is_active), updated_at = now()
WHERE id = $1`, id, in.Name, in.Remarks, in.IsActive)
		if err != nil {
			return mapWriteError(err)
		}
		if tag.RowsAffected() == 0 {
			return ErrRoleNotFound
		}
		if in.PermissionIDs == nil {
			return nil
		}
		return replacePermissions(ctx, tx, id, in.PermissionIDs)
	})
}

// ActiveOptions lists active roles for dropdowns.
func (r *Repository) ActiveOptions(ctx context.Context) ([]Option, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM roles WHERE is_active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Option])
}

func replacePermissions(ctx context.Context, tx pgx.Tx, roleID int64, permissionIDs []int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`, roleID, permissionIDs)
	return mapWriteError(err)
}

func mapWriteError(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err):
		return httpx.NewFieldError("name", "role with this name already exists.")
	case db.IsForeignKeyViolation(err):
		return httpx.NewFieldError("permission_ids", "Invalid pk - object does not exist.")
	}
	return err
}
