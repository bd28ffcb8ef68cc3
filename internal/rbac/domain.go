package rbac

import "time"

// UserType classifies accounts for the role predicates.
type UserType string

const (
	UserTypeAdmin      UserType = "ADMIN"
	UserTypeStudent    UserType = "STUDENT"
	UserTypeInstructor UserType = "INSTRUCTOR"
)

// Valid reports whether t is a known user type.
func (t UserType) Valid() bool {
	switch t {
	case UserTypeAdmin, UserTypeStudent, UserTypeInstructor:
		return true
	}
	return false
}

// Category groups permissions for display only.
type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Permission represents an atomic capability identified by its code.
type Permission struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	CategoryID   *int64    `json:"category_id,omitempty"`
	CategoryName string    `json:"category_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Role is a named bundle of permission codes.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Remarks     string    `json:"remarks"`
	IsActive    bool      `json:"is_active"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Principal describes the actor a request runs as.
type Principal interface {
	ID() int64
	IsAuthenticated() bool
	IsSuperuser() bool
	UserType() UserType
	DirectPermissions() PermissionSet
	Roles() []Role
	// EffectivePermissions is the union of direct grants and every role's permissions.
	EffectivePermissions() PermissionSet
}

// Subject is the Principal implementation loaded from storage.
type Subject struct {
	UserID    int64
	Email     string
	Type      UserType
	Superuser bool
	Direct    PermissionSet
	RoleList  []Role
}

var _ Principal = (*Subject)(nil)

func (s *Subject) ID() int64 {
	return s.UserID
}

func (s *Subject) IsAuthenticated() bool {
	return s != nil && s.UserID > 0
}

func (s *Subject) IsSuperuser() bool {
	return s != nil && s.Superuser
}

func (s *Subject) UserType() UserType {
	return s.Type
}

func (s *Subject) DirectPermissions() PermissionSet {
	return s.Direct.Clone()
}

func (s *Subject) Roles() []Role {
	out := make([]Role, len(s.RoleList))
	copy(out, s.RoleList)
	return out
}

// EffectivePermissions recomputes the union on every call.
func (s *Subject) EffectivePermissions() PermissionSet {
	set := s.Direct.Clone()
	for _, role := range s.RoleList {
		set.Add(role.Permissions...)
	}
	return set
}

type anonymous struct{}

// Anonymous is the principal of requests without credentials.
var Anonymous Principal = anonymous{}

func (anonymous) ID() int64 {
	return 0
}

func (anonymous) IsAuthenticated() bool {
	return false
}

func (anonymous) IsSuperuser() bool {
	return false
}

func (anonymous) UserType() UserType {
	return ""
}

func (anonymous) DirectPermissions() PermissionSet {
	return PermissionSet{}
}

func (anonymous) Roles() []Role {
	return nil
}

func (anonymous) EffectivePermissions() PermissionSet {
	return PermissionSet{}
}
