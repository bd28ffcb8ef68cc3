package rbac

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-learn/odyssey-learn/internal/shared"
)

// Support role seeded by Bootstrap.
const (
	SupportRoleName    = "SUPPORT"
	SupportRoleRemarks = "This Role is dedicated to VIEW Permissions Only"
)

// CatalogStore is the storage surface used by the bootstrap, bound to one transaction.
type CatalogStore interface {
	// EnsureCategories inserts missing categories in one statement and returns how many were created.
	EnsureCategories(ctx context.Context, names []string) (int64, error)
	CategoryIDs(ctx context.Context, names []string) (map[string]int64, error)
	// EnsurePermissions inserts missing codes and returns how many were created.
	EnsurePermissions(ctx context.Context, seeds []PermissionSeed, categoryIDs map[string]int64) (int64, error)
	PermissionIDsWithPrefix(ctx context.Context, prefix string) ([]int64, error)
	// EnsureRole returns the id of the named role, creating it when absent.
	EnsureRole(ctx context.Context, name, remarks string, active bool) (int64, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	// GrantAllToSuperusers adds every role and permission to each superuser and returns the rows added.
	GrantAllToSuperusers(ctx context.Context) (int64, error)
}

// CatalogTx runs fn inside a single all-or-nothing transaction.
type CatalogTx interface {
	WithCatalogTx(ctx context.Context, fn func(context.Context, CatalogStore) error) error
}

// SyncResult counts rows created by Synchronize.
type SyncResult struct {
	CategoriesCreated  int64
	PermissionsCreated int64
}

// BootstrapResult summarises a Bootstrap run.
type BootstrapResult struct {
	SyncResult
	SupportPermissions int
	SuperuserGrants    int64
}

// Synchronize creates the categories and permission codes of def that do not exist yet.
// It never deletes anything.
func Synchronize(ctx context.Context, store CatalogStore, def Definition) (SyncResult, error) {
	seeds, err := def.Seeds()
	if err != nil {
		return SyncResult{}, err
	}
	if len(seeds) == 0 {
		return SyncResult{}, nil
	}

	names := Categories(seeds)
	created, err := store.EnsureCategories(ctx, names)
	if err != nil {
		return SyncResult{}, fmt.Errorf("rbac: ensure categories: %w", err)
	}
	ids, err := store.CategoryIDs(ctx, names)
	if err != nil {
		return SyncResult{}, fmt.Errorf("rbac: load categories: %w", err)
	}
	perms, err := store.EnsurePermissions(ctx, seeds, ids)
	if err != nil {
		return SyncResult{}, fmt.Errorf("rbac: ensure permissions: %w", err)
	}
	return SyncResult{CategoriesCreated: created, PermissionsCreated: perms}, nil
}

// Bootstrap synchronizes the catalog, snapshots the support role and grants everything
// to superusers in one transaction. Failures are logged and returned.
func Bootstrap(ctx context.Context, tx CatalogTx, def Definition, logger *slog.Logger) (BootstrapResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var result BootstrapResult
	err := tx.WithCatalogTx(ctx, func(ctx context.Context, store CatalogStore) error {
		sync, err := Synchronize(ctx, store, def)
		if err != nil {
			return err
		}
		result.SyncResult = sync

		roleID, err := store.EnsureRole(ctx, SupportRoleName, SupportRoleRemarks, true)
		if err != nil {
			return fmt.Errorf("rbac: ensure support role: %w", err)
		}
		viewIDs, err := store.PermissionIDsWithPrefix(ctx, "can_"+shared.ActionView+"_")
		if err != nil {
			return fmt.Errorf("rbac: list view permissions: %w", err)
		}
		if err := store.ReplaceRolePermissions(ctx, roleID, viewIDs); err != nil {
			return fmt.Errorf("rbac: set support permissions: %w", err)
		}
		result.SupportPermissions = len(viewIDs)

		grants, err := store.GrantAllToSuperusers(ctx)
		if err != nil {
			return fmt.Errorf("rbac: grant superusers: %w", err)
		}
		result.SuperuserGrants = grants
		return nil
	})
	if err != nil {
		logger.Error("rbac bootstrap failed", slog.Any("error", err))
		return BootstrapResult{}, err
	}
	logger.Info("rbac bootstrap complete",
		slog.Int64("categories_created", result.CategoriesCreated),
		slog.Int64("permissions_created", result.PermissionsCreated),
		slog.Int("support_permissions", result.SupportPermissions),
		slog.Int64("superuser_grants", result.SuperuserGrants))
	return result, nil
}
