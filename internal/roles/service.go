package roles

import (
	"context"
	"strings"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, in Input) (int64, error)
	UpdateRole(ctx context.Context, id int64, in Input) error
	ActiveOptions(ctx context.Context) ([]Option, error)
}

// Service handles role business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole returns one role.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// Dropdown lists active roles.
func (s *Service) Dropdown(ctx context.Context) ([]Option, error) {
	return s.repo.ActiveOptions(ctx)
}

// CreateRole inserts a role with its permission set.
func (s *Service) CreateRole(ctx context.Context, in Input) (Role, error) {
	in = normalize(in)
	if in.PermissionIDs == nil {
		in.PermissionIDs = []int64{}
	}
	id, err := s.repo.CreateRole(ctx, in)
	if err != nil {
		return Role{}, err
	}
	return s.repo.GetRole(ctx, id)
}

// UpdateRole changes a role. A nil PermissionIDs keeps the current permission set.
func (s *Service) UpdateRole(ctx context.Context, id int64, in Input) (Role, error) {
	if err := s.repo.UpdateRole(ctx, id, normalize(in)); err != nil {
		return Role{}, err
	}
	return s.repo.GetRole(ctx, id)
}

func normalize(in Input) Input {
	in.Name = strings.TrimSpace(in.Name)
	in.Remarks = strings.TrimSpace(in.Remarks)
	if in.PermissionIDs != nil {
		seen := make(map[int64]struct{}, len(in.PermissionIDs))
		ids := make([]int64, 0, len(in.PermissionIDs))
		for _, id := range in.PermissionIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		in.PermissionIDs = ids
	}
	return in
}
