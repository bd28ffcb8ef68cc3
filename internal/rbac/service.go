package rbac

import "context"

// CatalogReader exposes read access to the permission catalog.
type CatalogReader interface {
	ListPermissions(ctx context.Context, categoryID *int64) ([]Permission, error)
	ListCategories(ctx context.Context) ([]Category, error)
}

// Service orchestrates catalog reads.
type Service struct {
	repo CatalogReader
}

// NewService constructs a Service backed by the provided repository.
func NewService(repo CatalogReader) *Service {
	return &Service{repo: repo}
}

// ListPermissions returns permissions, optionally filtered by category.
func (s *Service) ListPermissions(ctx context.Context, categoryID *int64) ([]Permission, error) {
	return s.repo.ListPermissions(ctx, categoryID)
}

// ListCategories returns all permission categories.
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.repo.ListCategories(ctx)
}

// DropdownOption is the compact shape used by selection widgets.
type DropdownOption struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// PermissionDropdown lists every permission as a dropdown option.
func (s *Service) PermissionDropdown(ctx context.Context) ([]DropdownOption, error) {
	perms, err := s.repo.ListPermissions(ctx, nil)
	if err != nil {
		return nil, err
	}
	options := make([]DropdownOption, 0, len(perms))
	for _, p := range perms {
		options = append(options, DropdownOption{ID: p.ID, Name: p.Name, Code: p.Code})
	}
	return options, nil
}
