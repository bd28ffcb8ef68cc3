package rbac

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalogNaming(t *testing.T) {
	require.Equal(t, "can_view_permission_category", Code("view", "permission_category"))
	require.Equal(t, "Permission Category", CategoryName("permission_category"))
	require.Equal(t, "Can Update Custom User", ReadableName("update", "custom_user"))
}

func TestSeedsSortedAndDeduplicated(t *testing.T) {
	def := Definition{
		"a": {"courses": {"view", "create", "view"}},
		"b": {"courses": {"VIEW"}},
	}
	seeds, err := def.Seeds()
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	require.Equal(t, "can_create_courses", seeds[0].Code)
	require.Equal(t, "can_view_courses", seeds[1].Code)
	require.Equal(t, []string{"Courses"}, Categories(seeds))
}

func TestSeedsRejectBadResourceNames(t *testing.T) {
	for _, resource := range []string{"", "Courses", "my-course", "_x"} {
		_, err := Definition{"": {resource: {"view"}}}.Seeds()
		require.Error(t, err, resource)
	}
}

func TestLoadDefinitionYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
authentication:
  roles: [create, view, update]
"":
  quizzes:
    - view
`), 0o600))

	def, err := LoadDefinition(path)
	require.NoError(t, err)
	require.Equal(t, []string{"view"}, def[""]["quizzes"])
	require.Len(t, def["authentication"]["roles"], 3)

	_, err = LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
