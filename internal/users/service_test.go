package users

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
	"github.com/odyssey-learn/odyssey-learn/internal/shared"
)

type memoryRepo struct {
	users  map[int64]User
	hashes map[int64]string
	direct map[int64][]string
	roles  map[int64][]rbac.Role
	access map[int64]Access
	audit  []shared.AuditLog
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users:  map[int64]User{},
		hashes: map[int64]string{},
		direct: map[int64][]string{},
		roles:  map[int64][]rbac.Role{},
		access: map[int64]Access{},
	}
}

func (m *memoryRepo) ListUsers(_ context.Context, limit, offset int) ([]User, int, error) {
	var out []User
	for id := int64(1); id <= m.nextID; id++ {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memoryRepo) GetUser(_ context.Context, id int64) (User, error) {
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *memoryRepo) DirectPermissionCodes(_ context.Context, id int64) ([]string, error) {
	return m.direct[id], nil
}

func (m *memoryRepo) UserRoles(_ context.Context, id int64) ([]rbac.Role, error) {
	return m.roles[id], nil
}

func (m *memoryRepo) UpsertSuperuser(_ context.Context, email, fullName, hash string) (User, error) {
	for id, u := range m.users {
		if u.Email == email {
			u.IsSuperuser, u.IsActive, u.UserType, u.FullName = true, true, rbac.UserTypeAdmin, fullName
			m.users[id] = u
			m.hashes[id] = hash
			return u, nil
		}
	}
	m.nextID++
	u := User{ID: m.nextID, Email: email, FullName: fullName, UserType: rbac.UserTypeAdmin, IsActive: true, IsSuperuser: true}
	m.users[u.ID] = u
	m.hashes[u.ID] = hash
	return u, nil
}

func (m *memoryRepo) ReplaceAccess(_ context.Context, id int64, access Access, entry shared.AuditLog) error {
	if _, ok := m.users[id]; !ok {
		return ErrUserNotFound
	}
	m.access[id] = access
	m.audit = append(m.audit, entry)
	return nil
}

func (m *memoryRepo) add(u User) User {
	m.nextID++
	u.ID = m.nextID
	m.users[u.ID] = u
	return u
}

func TestLoadPrincipalResolvesEffectivePermissions(t *testing.T) {
	repo := newMemoryRepo()
	u := repo.add(User{Email: "s@example.com", UserType: rbac.UserTypeStudent, IsActive: true})
	repo.direct[u.ID] = []string{"can_view_courses"}
	repo.roles[u.ID] = []rbac.Role{{Name: "author", Permissions: []string{"can_update_courses"}}}

	svc := NewService(repo)
	p, err := svc.LoadPrincipal(context.Background(), u.ID)
	require.NoError(t, err)
	require.True(t, p.IsAuthenticated())
	require.Equal(t, rbac.UserTypeStudent, p.UserType())

	d, err := rbac.Authorize(p, http.MethodPatch, rbac.CRUD("courses"))
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// Revoking the role is visible on the next load.
	repo.roles[u.ID] = nil
	p, err = svc.LoadPrincipal(context.Background(), u.ID)
	require.NoError(t, err)
	d, err = rbac.Authorize(p, http.MethodPatch, rbac.CRUD("courses"))
	require.NoError(t, err)
	require.False(t, d.Allowed)
}

func TestLoadPrincipalRejectsInactiveAccounts(t *testing.T) {
	repo := newMemoryRepo()
	blocked := repo.add(User{Email: "b@example.com", IsActive: true, IsBlocked: true})
	inactive := repo.add(User{Email: "i@example.com"})
	svc := NewService(repo)

	for _, id := range []int64{blocked.ID, inactive.ID, 999} {
		_, err := svc.LoadPrincipal(context.Background(), id)
		require.ErrorIs(t, err, httpx.ErrUnauthorized)
	}
}

func TestCreateSuperuserHashesAndPromotes(t *testing.T) {
	repo := newMemoryRepo()
	existing := repo.add(User{Email: "admin@example.com", UserType: rbac.UserTypeInstructor, IsActive: true})
	svc := NewService(repo)

	u, err := svc.CreateSuperuser(context.Background(), " Admin@Example.com ", "Admin", "s3cret-pass")
	require.NoError(t, err)
	require.Equal(t, existing.ID, u.ID)
	require.True(t, u.IsSuperuser)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.hashes[u.ID]), []byte("s3cret-pass")))

	_, err = svc.CreateSuperuser(context.Background(), "nope", "", "short")
	var fields httpx.FieldErrors
	require.ErrorAs(t, err, &fields)
	require.Contains(t, fields, "email")
	require.Contains(t, fields, "password")
}

func TestSetAccessDeduplicates(t *testing.T) {
	repo := newMemoryRepo()
	u := repo.add(User{Email: "x@example.com", IsActive: true})
	svc := NewService(repo)

	ctx := rbac.ContextWithPrincipal(context.Background(), &rbac.Subject{UserID: 77, Superuser: true})
	require.NoError(t, svc.SetAccess(ctx, u.ID, Access{RoleIDs: []int64{2, 2, 3}, PermissionIDs: []int64{5}}))
	require.Equal(t, []int64{2, 3}, repo.access[u.ID].RoleIDs)
	require.Len(t, repo.audit, 1)
	require.Equal(t, int64(77), repo.audit[0].ActorID)
	require.Equal(t, AuditActionReplaceAccess, repo.audit[0].Action)
	require.Equal(t, []int64{2, 3}, repo.audit[0].Meta["role_ids"])
	require.ErrorIs(t, svc.SetAccess(context.Background(), 404, Access{}), httpx.ErrNotFound)
}

func TestListUsersPaginates(t *testing.T) {
	repo := newMemoryRepo()
	for i := 0; i < 5; i++ {
		repo.add(User{Email: "u@example.com"})
	}
	users, page, err := NewService(repo).ListUsers(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, int64(3), users[0].ID)
	require.Equal(t, 3, page.TotalPages)
}
