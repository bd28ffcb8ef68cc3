package course

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
	"github.com/odyssey-learn/odyssey-learn/internal/shared"
)

const (
	msgUnknownCourse   = "Invalid pk - object does not exist."
	msgNotPublished    = "You can only enroll in published courses."
	msgAlreadyEnrolled = "You are already enrolled in this course."
	msgNotCourseOwner  = "You can only add lessons to your own courses."
	msgDuplicateOrders = "Duplicate lesson order values in the request."
	msgOrderTaken      = "A lesson with this order already exists in the course."
	msgOrdersTakenFmt  = "Lessons with these order values already exist in the course: %v"
)

// RepositoryPort is the persistence surface the service needs.
type RepositoryPort interface {
	ListCourses(ctx context.Context, filter CourseFilter, limit, offset int) ([]Course, int, error)
	GetCourse(ctx context.Context, id int64) (Course, error)
	CreateCourse(ctx context.Context, instructorID int64, in CourseInput) (Course, error)
	UpdateCourse(ctx context.Context, id int64, upd CourseUpdate) (Course, error)
	ListLessons(ctx context.Context, courseID int64) ([]Lesson, error)
	GetLesson(ctx context.Context, id int64) (Lesson, error)
	ExistingOrders(ctx context.Context, courseID int64, orders []int, excludeLessonID int64) ([]int, error)
	CreateLessons(ctx context.Context, courseID int64, inputs []LessonInput) ([]Lesson, error)
	UpdateLesson(ctx context.Context, id int64, upd LessonUpdate) (Lesson, error)
	SoftDeleteLesson(ctx context.Context, id int64) error
	CreateEnrollment(ctx context.Context, studentID, courseID int64) (EnrollmentProgress, error)
	GetEnrollment(ctx context.Context, id int64) (EnrollmentProgress, error)
	ListEnrollments(ctx context.Context, filter EnrollmentFilter) ([]EnrollmentProgress, error)
	CompletedLessonIDs(ctx context.Context, enrollmentID int64) ([]int64, error)
	IsEnrolled(ctx context.Context, studentID, courseID int64) (bool, error)
}

// Service implements course, lesson and enrollment rules.
type Service struct {
	repo RepositoryPort
}

// NewService constructs Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// visibleCourses: instructors see their own courses, everyone else sees published ones.
func visibleCourses(p rbac.Principal) CourseFilter {
	if p.IsAuthenticated() && p.UserType() == rbac.UserTypeInstructor {
		return CourseFilter{InstructorID: p.ID()}
	}
	return CourseFilter{PublishedOnly: true}
}

// ListCourses returns the page of courses visible to p.
func (s *Service) ListCourses(ctx context.Context, p rbac.Principal, page, perPage int) ([]Course, shared.Pagination, error) {
	pagination := shared.NewPagination(page, perPage, 0)
	courses, total, err := s.repo.ListCourses(ctx, visibleCourses(p), pagination.PerPage, pagination.Offset())
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list courses: %w", err)
	}
	return courses, shared.NewPagination(pagination.Page, pagination.PerPage, total), nil
}

// GetCourse returns a course when p may see it.
func (s *Service) GetCourse(ctx context.Context, p rbac.Principal, id int64) (Course, error) {
	c, err := s.repo.GetCourse(ctx, id)
	if err != nil {
		return Course{}, err
	}
	filter := visibleCourses(p)
	if (filter.InstructorID != 0 && c.InstructorID != filter.InstructorID) || (filter.PublishedOnly && !c.IsPublished()) {
		return Course{}, ErrCourseNotFound
	}
	return c, nil
}

// CreateCourse creates a course owned by the instructor p.
func (s *Service) CreateCourse(ctx context.Context, p rbac.Principal, in CourseInput) (Course, error) {
	if in.Status == "" {
		in.Status = StatusDraft
	}
	return s.repo.CreateCourse(ctx, p.ID(), in)
}

// UpdateCourse changes a course. Ownership is enforced by the route predicates.
func (s *Service) UpdateCourse(ctx context.Context, id int64, upd CourseUpdate) (Course, error) {
	return s.repo.UpdateCourse(ctx, id, upd)
}

// CourseOwner returns the instructor id of a course.
func (s *Service) CourseOwner(ctx context.Context, courseID int64) (int64, error) {
	c, err := s.repo.GetCourse(ctx, courseID)
	if err != nil {
		return 0, err
	}
	return c.InstructorID, nil
}

// LessonOwner returns the instructor id of the course a lesson belongs to.
func (s *Service) LessonOwner(ctx context.Context, lessonID int64) (int64, error) {
	l, err := s.repo.GetLesson(ctx, lessonID)
	if err != nil {
		return 0, err
	}
	return s.CourseOwner(ctx, l.CourseID)
}

// IsEnrolled reports whether the student is enrolled in the course.
func (s *Service) IsEnrolled(ctx context.Context, studentID, courseID int64) (bool, error) {
	return s.repo.IsEnrolled(ctx, studentID, courseID)
}

// ListLessons returns the lessons of a course ordered by order.
func (s *Service) ListLessons(ctx context.Context, courseID int64) ([]Lesson, error) {
	if _, err := s.repo.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return s.repo.ListLessons(ctx, courseID)
}

// GetLesson returns one lesson.
func (s *Service) GetLesson(ctx context.Context, id int64) (Lesson, error) {
	return s.repo.GetLesson(ctx, id)
}

// CreateLessons adds lessons to a course owned by p. Order values must be unique
// in the request and must not collide with existing lessons.
func (s *Service) CreateLessons(ctx context.Context, p rbac.Principal, courseID int64, in BulkLessonInput) ([]Lesson, error) {
	c, err := s.repo.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if c.InstructorID != p.ID() {
		return nil, httpx.NewFieldError("course", msgNotCourseOwner)
	}
	seen := make(map[int]struct{}, len(in.Lessons))
	orders := make([]int, 0, len(in.Lessons))
	for _, l := range in.Lessons {
		if _, dup := seen[l.Order]; dup {
			return nil, httpx.NewFieldError("order", msgDuplicateOrders)
		}
		seen[l.Order] = struct{}{}
		orders = append(orders, l.Order)
	}
	taken, err := s.repo.ExistingOrders(ctx, courseID, orders, 0)
	if err != nil {
		return nil, fmt.Errorf("check lesson orders: %w", err)
	}
	if len(taken) > 0 {
		sort.Ints(taken)
		return nil, httpx.NewFieldError("order", fmt.Sprintf(msgOrdersTakenFmt, taken))
	}
	return s.repo.CreateLessons(ctx, courseID, in.Lessons)
}

// UpdateLesson changes a lesson, keeping order unique within its course.
func (s *Service) UpdateLesson(ctx context.Context, id int64, upd LessonUpdate) (Lesson, error) {
	l, err := s.repo.GetLesson(ctx, id)
	if err != nil {
		return Lesson{}, err
	}
	if upd.Order != nil && *upd.Order != l.Order {
		taken, err := s.repo.ExistingOrders(ctx, l.CourseID, []int{*upd.Order}, l.ID)
		if err != nil {
			return Lesson{}, fmt.Errorf("check lesson order: %w", err)
		}
		if len(taken) > 0 {
			return Lesson{}, httpx.NewFieldError("order", msgOrderTaken)
		}
	}
	return s.repo.UpdateLesson(ctx, id, upd)
}

// DeleteLesson soft deletes a lesson. Existing completions are kept.
func (s *Service) DeleteLesson(ctx context.Context, id int64) error {
	return s.repo.SoftDeleteLesson(ctx, id)
}

// Enroll enrolls the student p into a published course.
func (s *Service) Enroll(ctx context.Context, p rbac.Principal, in EnrollmentInput) (EnrollmentProgress, error) {
	c, err := s.repo.GetCourse(ctx, in.CourseID)
	if errors.Is(err, httpx.ErrNotFound) {
		return EnrollmentProgress{}, httpx.NewFieldError("course", msgUnknownCourse)
	}
	if err != nil {
		return EnrollmentProgress{}, err
	}
	if !c.IsPublished() {
		return EnrollmentProgress{}, httpx.NewFieldError("course", msgNotPublished)
	}
	enrolled, err := s.repo.IsEnrolled(ctx, p.ID(), c.ID)
	if err != nil {
		return EnrollmentProgress{}, fmt.Errorf("check enrollment: %w", err)
	}
	if enrolled {
		return EnrollmentProgress{}, httpx.NewFieldError("course", msgAlreadyEnrolled)
	}
	return s.repo.CreateEnrollment(ctx, p.ID(), c.ID)
}

// visibleEnrollments: students see their own, instructors see those in their courses.
func visibleEnrollments(p rbac.Principal) (EnrollmentFilter, bool) {
	if !p.IsAuthenticated() {
		return EnrollmentFilter{}, false
	}
	switch p.UserType() {
	case rbac.UserTypeStudent:
		return EnrollmentFilter{StudentID: p.ID()}, true
	case rbac.UserTypeInstructor:
		return EnrollmentFilter{InstructorID: p.ID()}, true
	}
	return EnrollmentFilter{}, false
}

// ListEnrollments returns the enrollments visible to p with their progress figures.
func (s *Service) ListEnrollments(ctx context.Context, p rbac.Principal) ([]EnrollmentProgress, error) {
	filter, ok := visibleEnrollments(p)
	if !ok {
		return []EnrollmentProgress{}, nil
	}
	out, err := s.repo.ListEnrollments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return out, nil
}

// GetEnrollment returns an enrollment visible to p with its completed lesson ids.
func (s *Service) GetEnrollment(ctx context.Context, p rbac.Principal, id int64) (EnrollmentProgress, error) {
	e, err := s.repo.GetEnrollment(ctx, id)
	if err != nil {
		return EnrollmentProgress{}, err
	}
	filter, ok := visibleEnrollments(p)
	if !ok || (filter.StudentID != 0 && e.StudentID != filter.StudentID) {
		return EnrollmentProgress{}, ErrEnrollmentNotFound
	}
	if filter.InstructorID != 0 {
		owner, err := s.CourseOwner(ctx, e.CourseID)
		if err != nil {
			return EnrollmentProgress{}, err
		}
		if owner != filter.InstructorID {
			return EnrollmentProgress{}, ErrEnrollmentNotFound
		}
	}
	ids, err := s.repo.CompletedLessonIDs(ctx, id)
	if err != nil {
		return EnrollmentProgress{}, fmt.Errorf("completed lessons: %w", err)
	}
	e.CompletedLessonIDs = ids
	return e, nil
}
