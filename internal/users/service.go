package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
	"github.com/odyssey-learn/odyssey-learn/internal/shared"
)

// AuditActionReplaceAccess is the audit action written by SetAccess.
const AuditActionReplaceAccess = "user.access.replace"

// ErrInactive indicates the account is disabled or blocked.
var ErrInactive = fmt.Errorf("account inactive: %w", httpx.ErrUnauthorized)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, limit, offset int) ([]User, int, error)
	GetUser(ctx context.Context, id int64) (User, error)
	DirectPermissionCodes(ctx context.Context, userID int64) ([]string, error)
	UserRoles(ctx context.Context, userID int64) ([]rbac.Role, error)
	UpsertSuperuser(ctx context.Context, email, fullName, passwordHash string) (User, error)
	ReplaceAccess(ctx context.Context, userID int64, access Access, entry shared.AuditLog) error
}

// Service handles user business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListUsers returns one page of users.
func (s *Service) ListUsers(ctx context.Context, page, perPage int) ([]User, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	users, total, err := s.repo.ListUsers(ctx, p.PerPage, p.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return users, shared.NewPagination(p.Page, p.PerPage, total), nil
}

// LoadPrincipal reads the user with its direct grants and roles. Nothing is cached:
// every call reflects the current role and permission state.
func (s *Service) LoadPrincipal(ctx context.Context, userID int64) (rbac.Principal, error) {
	subject, err := s.loadSubject(ctx, userID)
	if err != nil {
		return nil, err
	}
	return subject, nil
}

func (s *Service) loadSubject(ctx context.Context, userID int64) (*rbac.Subject, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInactive
		}
		return nil, err
	}
	if !user.CanSignIn() {
		return nil, ErrInactive
	}
	direct, err := s.repo.DirectPermissionCodes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("users: direct permissions: %w", err)
	}
	roles, err := s.repo.UserRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("users: roles: %w", err)
	}
	return &rbac.Subject{
		UserID:    user.ID,
		Email:     user.Email,
		Type:      user.UserType,
		Superuser: user.IsSuperuser,
		Direct:    rbac.NewPermissionSet(direct...),
		RoleList:  roles,
	}, nil
}

// Profile returns the account of userID with its resolved permissions.
func (s *Service) Profile(ctx context.Context, userID int64) (Profile, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	subject, err := s.loadSubject(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	roles := make([]string, 0, len(subject.RoleList))
	for _, role := range subject.RoleList {
		roles = append(roles, role.Name)
	}
	return Profile{User: user, Roles: roles, EffectivePermissions: subject.EffectivePermissions().Sorted()}, nil
}

// CreateSuperuser hashes password with bcrypt and creates or promotes the account.
func (s *Service) CreateSuperuser(ctx context.Context, email, fullName, password string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	fields := httpx.FieldErrors{}
	if _, err := mail.ParseAddress(email); err != nil {
		fields.Add("email", "Enter a valid email address.")
	}
	if len(password) < 8 {
		fields.Add("password", "Ensure this field has at least 8 characters.")
	}
	if len(fields) > 0 {
		return User{}, fields
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	return s.repo.UpsertSuperuser(ctx, email, strings.TrimSpace(fullName), string(hash))
}

// SetAccess replaces the direct roles and permissions of a user. The principal
// on ctx is recorded as the actor.
func (s *Service) SetAccess(ctx context.Context, userID int64, access Access) error {
	access.RoleIDs = uniqueIDs(access.RoleIDs)
	access.PermissionIDs = uniqueIDs(access.PermissionIDs)
	entry := shared.AuditLog{
		ActorID:  rbac.PrincipalFromContext(ctx).ID(),
		Action:   AuditActionReplaceAccess,
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
		Meta: map[string]any{
			"role_ids":       access.RoleIDs,
			"permission_ids": access.PermissionIDs,
		},
	}
	return s.repo.ReplaceAccess(ctx, userID, access, entry)
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
