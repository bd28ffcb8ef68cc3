package course

import (
	"context"
	"net/http"

	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
)

// OwnsCourse passes when the principal is the instructor of the {courseID} course.
func (s *Service) OwnsCourse() rbac.Predicate {
	return rbac.Owner("You can only manage your own courses.", func(ctx context.Context, r *http.Request) (int64, error) {
		id, err := httpx.IDParam(r, "courseID")
		if err != nil {
			return 0, err
		}
		return s.CourseOwner(ctx, id)
	})
}

// OwnsLesson passes when the principal is the instructor of the course holding {lessonID}.
func (s *Service) OwnsLesson() rbac.Predicate {
	return rbac.Owner("You can only manage lessons of your own courses.", func(ctx context.Context, r *http.Request) (int64, error) {
		id, err := httpx.IDParam(r, "lessonID")
		if err != nil {
			return 0, err
		}
		return s.LessonOwner(ctx, id)
	})
}

// EnrolledInCourse passes when the principal is enrolled in the {courseID} course.
func (s *Service) EnrolledInCourse() rbac.Predicate {
	return rbac.Exists("You are not enrolled in this course.", func(ctx context.Context, p rbac.Principal, r *http.Request) (bool, error) {
		id, err := httpx.IDParam(r, "courseID")
		if err != nil {
			return false, err
		}
		return s.IsEnrolled(ctx, p.ID(), id)
	})
}

// EnrolledInLessonCourse passes when the principal is enrolled in the course holding {lessonID}.
func (s *Service) EnrolledInLessonCourse() rbac.Predicate {
	return rbac.Exists("You are not enrolled in this course.", func(ctx context.Context, p rbac.Principal, r *http.Request) (bool, error) {
		id, err := httpx.IDParam(r, "lessonID")
		if err != nil {
			return false, err
		}
		l, err := s.repo.GetLesson(ctx, id)
		if err != nil {
			return false, err
		}
		return s.IsEnrolled(ctx, p.ID(), l.CourseID)
	})
}
