package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-learn/odyssey-learn/internal/course"
	"github.com/odyssey-learn/odyssey-learn/internal/platform/db"
	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
)

// RepositoryPort is the persistence surface of the completion service.
type RepositoryPort interface {
	InTx(ctx context.Context, fn func(Tx, *db.Hooks) error) error
	EnrollmentOwner(ctx context.Context, enrollmentID int64) (int64, error)
	ListCompletions(ctx context.Context, enrollmentID int64) ([]Completion, error)
}

// Notifier schedules the downstream course-completed notification.
type Notifier interface {
	EnqueueCourseCompleted(ctx context.Context, enrollmentID int64) error
}

// Observer records completion outcomes.
type Observer interface {
	ObserveCompletion(outcome string)
}

// Metric outcomes besides the rejection reasons.
const (
	OutcomeCompleted       = "completed"
	OutcomeCourseCompleted = "course_completed"
	OutcomeRetryable       = "retryable"
	OutcomeError           = "error"
)

// Service applies lesson completions.
type Service struct {
	repo     RepositoryPort
	notifier Notifier
	observer Observer
	logger   *slog.Logger
}

// NewService constructs Service. observer may be nil.
func NewService(repo RepositoryPort, notifier Notifier, observer Observer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, notifier: notifier, observer: observer, logger: logger}
}

// CompleteLesson records that p finished lessonID under enrollmentID.
//
// Validation runs inside the transaction after the enrollment row is locked, so
// concurrent calls for one enrollment observe each other's committed
// completions. The unique (enrollment, lesson) constraint still backs the
// already-completed check. When the completion finishes the course the
// enrollment is marked completed in the same transaction and the notification
// is enqueued only after commit.
func (s *Service) CompleteLesson(ctx context.Context, p rbac.Principal, enrollmentID, lessonID int64) (Completion, error) {
	var out Completion
	err := s.repo.InTx(ctx, func(tx Tx, hooks *db.Hooks) error {
		out = Completion{}
		enrollment, err := tx.LockEnrollment(ctx, enrollmentID)
		if errors.Is(err, httpx.ErrNotFound) {
			return rejectEnrollment()
		}
		if err != nil {
			return fmt.Errorf("lock enrollment: %w", err)
		}
		if !p.IsAuthenticated() || enrollment.StudentID != p.ID() {
			return rejectForeignEnrollment()
		}

		lesson, err := tx.GetLesson(ctx, lessonID)
		if errors.Is(err, httpx.ErrNotFound) {
			return rejectLesson(ReasonLessonNotFound, msgLessonNotFound)
		}
		if err != nil {
			return fmt.Errorf("load lesson: %w", err)
		}
		if lesson.CourseID != enrollment.CourseID {
			return rejectLesson(ReasonWrongCourse, msgWrongCourse)
		}

		done, err := tx.HasCompletion(ctx, enrollment.ID, lesson.ID)
		if err != nil {
			return fmt.Errorf("check completion: %w", err)
		}
		if done {
			return rejectLesson(ReasonAlreadyCompleted, msgAlreadyCompleted)
		}

		lessons, err := tx.CourseLessons(ctx, enrollment.CourseID)
		if err != nil {
			return fmt.Errorf("load course lessons: %w", err)
		}
		completed, err := tx.CompletedLessonIDs(ctx, enrollment.ID)
		if err != nil {
			return fmt.Errorf("load completed lessons: %w", err)
		}
		if err := checkPrerequisites(lessons, completed, lesson.ID); err != nil {
			return err
		}

		c, err := tx.InsertCompletion(ctx, enrollment.ID, lesson.ID)
		if errors.Is(err, ErrDuplicateCompletion) {
			s.logger.Info("completion rejected by constraint",
				slog.Int64("enrollment_id", enrollment.ID),
				slog.Int64("lesson_id", lesson.ID),
				slog.String("constraint", db.ConstraintName(err)))
			return rejectLesson(ReasonAlreadyCompleted, msgAlreadyCompleted)
		}
		if err != nil {
			return fmt.Errorf("insert completion: %w", err)
		}
		c.LessonTitle = lesson.Title

		count, err := tx.CountCompletions(ctx, enrollment.ID)
		if err != nil {
			return fmt.Errorf("count completions: %w", err)
		}
		if total := len(lessons); total > 0 && count >= total && !enrollment.IsCompleted {
			if _, err := tx.MarkEnrollmentCompleted(ctx, enrollment.ID); err != nil {
				return fmt.Errorf("mark enrollment completed: %w", err)
			}
			c.EnrollmentCompleted = true
			hooks.AfterCommit(func(ctx context.Context) {
				s.notifyCourseCompleted(ctx, enrollment.ID)
			})
		}
		out = c
		return nil
	})
	s.observe(out, err)
	if err != nil {
		return Completion{}, err
	}
	return out, nil
}

// checkPrerequisites locates lessonID in the ordered lessons and requires every
// earlier lesson to be completed.
func checkPrerequisites(lessons []course.Lesson, completed []int64, lessonID int64) error {
	position := -1
	for i, l := range lessons {
		if l.ID == lessonID {
			position = i
			break
		}
	}
	if position < 0 {
		return rejectLesson(ReasonNotInCourse, msgNotInCourse)
	}
	done := make(map[int64]struct{}, len(completed))
	for _, id := range completed {
		done[id] = struct{}{}
	}
	var missing []int64
	for _, l := range lessons[:position] {
		if _, ok := done[l.ID]; !ok {
			missing = append(missing, l.ID)
		}
	}
	if len(missing) > 0 {
		return rejectOutOfOrder(missing)
	}
	return nil
}

func (s *Service) notifyCourseCompleted(ctx context.Context, enrollmentID int64) {
	if s.notifier == nil {
		return
	}
	// The request context may already be cancelled once the response is written.
	ctx = context.WithoutCancel(ctx)
	if err := s.notifier.EnqueueCourseCompleted(ctx, enrollmentID); err != nil {
		s.logger.Error("enqueue course completed notification",
			slog.Int64("enrollment_id", enrollmentID), slog.Any("error", err))
		return
	}
	s.logger.Info("course completed", slog.Int64("enrollment_id", enrollmentID))
}

func (s *Service) observe(c Completion, err error) {
	if s.observer == nil {
		return
	}
	var rej *RejectionError
	switch {
	case err == nil && c.EnrollmentCompleted:
		s.observer.ObserveCompletion(OutcomeCourseCompleted)
	case err == nil:
		s.observer.ObserveCompletion(OutcomeCompleted)
	case errors.As(err, &rej):
		s.observer.ObserveCompletion(rej.Reason)
	case db.IsRetryable(err):
		s.observer.ObserveCompletion(OutcomeRetryable)
	default:
		s.observer.ObserveCompletion(OutcomeError)
	}
}

// ListCompletions returns the completions of an enrollment owned by p, newest first.
func (s *Service) ListCompletions(ctx context.Context, p rbac.Principal, enrollmentID int64) ([]Completion, error) {
	owner, err := s.repo.EnrollmentOwner(ctx, enrollmentID)
	if errors.Is(err, httpx.ErrNotFound) {
		return nil, rejectEnrollment()
	}
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if owner != p.ID() {
		return nil, rejectForeignEnrollment()
	}
	out, err := s.repo.ListCompletions(ctx, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	return out, nil
}
