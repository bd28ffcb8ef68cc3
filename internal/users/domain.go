package users

import (
	"time"

	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
)

// User represents a user account for management.
type User struct {
	ID          int64         `json:"id"`
	Email       string        `json:"email"`
	FullName    string        `json:"full_name"`
	UserType    rbac.UserType `json:"user_type"`
	IsActive    bool          `json:"is_active"`
	IsSuperuser bool          `json:"is_superuser"`
	IsBlocked   bool          `json:"is_blocked"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// CanSignIn reports whether the account may act as a principal.
func (u User) CanSignIn() bool {
	return u.IsActive && !u.IsBlocked
}

// Access is the direct grant set of a user.
type Access struct {
	RoleIDs       []int64 `json:"roles" validate:"dive,gt=0"`
	PermissionIDs []int64 `json:"permissions" validate:"dive,gt=0"`
}

// Profile is the caller's own account plus the permissions it currently resolves to.
type Profile struct {
	User
	Roles                []string `json:"roles"`
	EffectivePermissions []string `json:"effective_permissions"`
}
