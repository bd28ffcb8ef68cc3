package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-learn/odyssey-learn/internal/platform/db"
)

// Repository persists the permission catalog in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithCatalogTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithCatalogTx(ctx context.Context, fn func(context.Context, CatalogStore) error) error {
	if r == nil {
		return errors.New("rbac repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &catalogStore{tx: tx})
	})
}

// ListPermissions returns permissions ordered by code, optionally restricted to a category.
func (r *Repository) ListPermissions(ctx context.Context, categoryID *int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.code, p.name, p.category_id, COALESCE(c.name, ''), p.created_at
FROM permissions p
LEFT JOIN permission_categories c ON c.id = p.category_id
WHERE $1::bigint IS NULL OR p.category_id = $1
ORDER BY p.code`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms := []Permission{}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.CategoryID, &p.CategoryName, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ListCategories returns categories ordered by name.
func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at FROM permission_categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	categories := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

type catalogStore struct {
	tx pgx.Tx
}

func (s *catalogStore) EnsureCategories(ctx context.Context, names []string) (int64, error) {
	tag, err := s.tx.Exec(ctx, `INSERT INTO permission_categories (name)
SELECT unnest($1::text[])
ON CONFLICT (name) DO NOTHING`, names)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *catalogStore) CategoryIDs(ctx context.Context, names []string) (map[string]int64, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, name FROM permission_categories WHERE name = ANY($1::text[])`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make(map[string]int64, len(names))
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		ids[name] = id
	}
	return ids, rows.Err()
}

func (s *catalogStore) EnsurePermissions(ctx context.Context, seeds []PermissionSeed, categoryIDs map[string]int64) (int64, error) {
	codes := make([]string, len(seeds))
	names := make([]string, len(seeds))
	categories := make([]*int64, len(seeds))
	for i, seed := range seeds {
		codes[i] = seed.Code
		names[i] = seed.Name
		if id, ok := categoryIDs[seed.Category]; ok {
			categories[i] = &id
		}
	}
	tag, err := s.tx.Exec(ctx, `INSERT INTO permissions (code, name, category_id)
SELECT * FROM unnest($1::text[], $2::text[], $3::bigint[])
ON CONFLICT (code) DO NOTHING`, codes, names, categories)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *catalogStore) PermissionIDsWithPrefix(ctx context.Context, prefix string) ([]int64, error) {
	rows, err := s.tx.Query(ctx, `SELECT id FROM permissions WHERE starts_with(code, $1) ORDER BY id`, prefix)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *catalogStore) EnsureRole(ctx context.Context, name, remarks string, active bool) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO roles (name, remarks, is_active)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET updated_at = now()
RETURNING id`, name, remarks, active).Scan(&id)
	return id, err
}

func (s *catalogStore) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := s.tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	_, err := s.tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
SELECT $1, unnest($2::bigint[])
ON CONFLICT DO NOTHING`, roleID, permissionIDs)
	return err
}

func (s *catalogStore) GrantAllToSuperusers(ctx context.Context) (int64, error) {
	roles, err := s.tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_id)
SELECT u.id, r.id FROM users u CROSS JOIN roles r
WHERE u.is_superuser
ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, err
	}
	perms, err := s.tx.Exec(ctx, `INSERT INTO user_permissions (user_id, permission_id)
SELECT u.id, p.id FROM users u CROSS JOIN permissions p
WHERE u.is_superuser
ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, err
	}
	return roles.RowsAffected() + perms.RowsAffected(), nil
}
