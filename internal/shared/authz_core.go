package shared

// Resource names used to build permission codes of the form can_<action>_<resource>.
const (
	ResourceCustomUser         = "custom_user"
	ResourcePermissionCategory = "permission_category"
	ResourceCustomPermission   = "custom_permission"
	ResourceRoles              = "roles"

	ResourceCourses     = "courses"
	ResourceLessons     = "lessons"
	ResourceEnrollments = "enrollments"
	ResourceProgress    = "progress"
)

// CRUD actions recognised by the permission catalog.
const (
	ActionCreate = "create"
	ActionView   = "view"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// LearningResources lists the resources of the learning domain.
func LearningResources() []string {
	return []string{
		ResourceCourses,
		ResourceLessons,
		ResourceEnrollments,
		ResourceProgress,
	}
}
