package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-learn/odyssey-learn/internal/platform/db"
	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
	"github.com/odyssey-learn/odyssey-learn/internal/shared"
)

// ErrUserNotFound indicates a missing user row.
var ErrUserNotFound = fmt.Errorf("user %w", httpx.ErrNotFound)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, full_name, user_type, is_active, is_superuser, is_blocked, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.UserType, &u.IsActive, &u.IsSuperuser, &u.IsBlocked, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

// ListUsers returns one page of users.
func (r *Repository) ListUsers(ctx context.Context, limit, offset int) ([]User, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// GetUser fetches a user by id.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// DirectPermissionCodes returns the codes granted to the user directly.
func (r *Repository) DirectPermissionCodes(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.code FROM user_permissions up
JOIN permissions p ON p.id = up.permission_id
WHERE up.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// UserRoles returns the user's roles with their permission codes.
func (r *Repository) UserRoles(ctx context.Context, userID int64) ([]rbac.Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.id, r.name, r.remarks, r.is_active, r.created_at, r.updated_at,
	COALESCE(array_agg(p.code ORDER BY p.code) FILTER (WHERE p.code IS NOT NULL), '{}')
FROM user_roles ur
JOIN roles r ON r.id = ur.role_id
LEFT JOIN role_permissions rp ON rp.role_id = r.id
LEFT JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1
GROUP BY r.id
ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []rbac.Role{}
	for rows.Next() {
		var role rbac.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Remarks, &role.IsActive, &role.CreatedAt, &role.UpdatedAt, &role.Permissions); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpsertSuperuser creates the account or promotes an existing one with the same email.
func (r *Repository) UpsertSuperuser(ctx context.Context, email, fullName, passwordHash string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `INSERT INTO users (email, full_name, password_hash, user_type, is_active, is_superuser)
VALUES ($1, $2, $3, 'ADMIN', TRUE, TRUE)
ON CONFLICT (email) DO UPDATE
SET full_name = EXCLUDED.full_name, password_hash = EXCLUDED.password_hash,
	user_type = 'ADMIN', is_active = TRUE, is_superuser = TRUE, updated_at = now()
RETURNING `+userColumns, email, fullName, passwordHash))
}

// ReplaceAccess swaps the user's direct roles and permissions atomically and
// records entry in the audit log within the same transaction.
func (r *Repository) ReplaceAccess(ctx context.Context, userID int64, access Access, entry shared.AuditLog) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrUserNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, userID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_id)
SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`, userID, access.RoleIDs); err != nil {
			return unknownReference("roles", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO user_permissions (user_id, permission_id)
SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`, userID, access.PermissionIDs); err != nil {
			return unknownReference("permissions", err)
		}
		return shared.RecordAudit(ctx, tx, entry)
	})
}

func unknownReference(field string, err error) error {
	if db.IsForeignKeyViolation(err) {
		return httpx.NewFieldError(field, "Invalid pk - object does not exist.")
	}
	return err
}
