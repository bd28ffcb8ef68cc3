package roles

import "github.com/odyssey-learn/odyssey-learn/internal/rbac"

// Role is the admin view of a role; permissions are listed by code.
type Role = rbac.Role

// Input is the payload for creating or updating a role.
type Input struct {
	Name          string  `json:"name" validate:"required,max=150"`
	Remarks       string  `json:"remarks" validate:"max=500"`
	IsActive      *bool   `json:"is_active"`
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}

// Option is the dropdown shape of an active role.
type Option struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
