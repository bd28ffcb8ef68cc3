package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-learn/odyssey-learn/internal/course"
	"github.com/odyssey-learn/odyssey-learn/internal/platform/db"
	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
)

type completionKey struct {
	enrollment int64
	lesson     int64
}

type memoryState struct {
	enrollments map[int64]course.Enrollment
	lessons     map[int64]course.Lesson
	deleted     map[int64]bool
	completions map[completionKey]Completion
	nextID      int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		enrollments: make(map[int64]course.Enrollment, len(s.enrollments)),
		lessons:     s.lessons,
		deleted:     s.deleted,
		completions: make(map[completionKey]Completion, len(s.completions)),
		nextID:      s.nextID,
	}
	for k, v := range s.enrollments {
		out.enrollments[k] = v
	}
	for k, v := range s.completions {
		out.completions[k] = v
	}
	return out
}

// memoryRepo serializes transactions with one mutex, standing in for the
// enrollment row lock, and discards writes when fn fails.
type memoryRepo struct {
	mu    sync.Mutex
	state memoryState

	// hideCompletions makes HasCompletion miss rows so the insert path hits the unique check.
	hideCompletions bool
	failCommit      error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{
		enrollments: map[int64]course.Enrollment{},
		lessons:     map[int64]course.Lesson{},
		deleted:     map[int64]bool{},
		completions: map[completionKey]Completion{},
	}}
}

func (m *memoryRepo) InTx(ctx context.Context, fn func(Tx, *db.Hooks) error) error {
	m.mu.Lock()
	work := m.state.clone()
	hooks := &db.Hooks{}
	err := fn(&memoryTx{repo: m, state: &work}, hooks)
	if err == nil && m.failCommit != nil {
		err = m.failCommit
	}
	if err == nil {
		m.state = work
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	hooks.Run(ctx)
	return nil
}

func (m *memoryRepo) EnrollmentOwner(_ context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.state.enrollments[id]
	if !ok {
		return 0, course.ErrEnrollmentNotFound
	}
	return e.StudentID, nil
}

func (m *memoryRepo) ListCompletions(_ context.Context, enrollmentID int64) ([]Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Completion{}
	for k, c := range m.state.completions {
		if k.enrollment == enrollmentID {
			c.LessonTitle = m.state.lessons[k.lesson].Title
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memoryRepo) completionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.completions)
}

func (m *memoryRepo) enrollment(id int64) course.Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.enrollments[id]
}

type memoryTx struct {
	repo  *memoryRepo
	state *memoryState
}

func (t *memoryTx) LockEnrollment(_ context.Context, id int64) (course.Enrollment, error) {
	e, ok := t.state.enrollments[id]
	if !ok {
		return course.Enrollment{}, course.ErrEnrollmentNotFound
	}
	return e, nil
}

func (t *memoryTx) GetLesson(_ context.Context, id int64) (course.Lesson, error) {
	l, ok := t.state.lessons[id]
	if !ok {
		return course.Lesson{}, course.ErrLessonNotFound
	}
	return l, nil
}

func (t *memoryTx) HasCompletion(_ context.Context, enrollmentID, lessonID int64) (bool, error) {
	if t.repo.hideCompletions {
		return false, nil
	}
	_, ok := t.state.completions[completionKey{enrollmentID, lessonID}]
	return ok, nil
}

func (t *memoryTx) CourseLessons(_ context.Context, courseID int64) ([]course.Lesson, error) {
	var out []course.Lesson
	for id, l := range t.state.lessons {
		if l.CourseID == courseID && !t.state.deleted[id] {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (t *memoryTx) CompletedLessonIDs(_ context.Context, enrollmentID int64) ([]int64, error) {
	var out []int64
	for k := range t.state.completions {
		if k.enrollment == enrollmentID && !t.repo.hideCompletions {
			out = append(out, k.lesson)
		}
	}
	return out, nil
}

func (t *memoryTx) InsertCompletion(_ context.Context, enrollmentID, lessonID int64) (Completion, error) {
	key := completionKey{enrollmentID, lessonID}
	if _, ok := t.state.completions[key]; ok {
		return Completion{}, duplicateCompletion(&pgconn.PgError{Code: "23505", ConstraintName: completionConstraint})
	}
	t.state.nextID++
	c := Completion{ID: t.state.nextID, EnrollmentID: enrollmentID, LessonID: lessonID, CompletedAt: time.Now()}
	t.state.completions[key] = c
	return c, nil
}

func (t *memoryTx) CountCompletions(_ context.Context, enrollmentID int64) (int, error) {
	n := 0
	for k := range t.state.completions {
		if k.enrollment == enrollmentID {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) MarkEnrollmentCompleted(_ context.Context, enrollmentID int64) (time.Time, error) {
	e := t.state.enrollments[enrollmentID]
	now := time.Now()
	e.IsCompleted, e.CompletedAt = true, &now
	t.state.enrollments[enrollmentID] = e
	return now, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (n *recordingNotifier) EnqueueCourseCompleted(_ context.Context, enrollmentID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, enrollmentID)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *countingObserver) ObserveCompletion(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[outcome]++
}

const (
	studentID  = 10
	courseID   = 100
	enrollment = 1000
)

// fixture builds a course with lessons of the given orders (ids 1..n) and one enrollment.
func fixture(orders ...int) *memoryRepo {
	repo := newMemoryRepo()
	for i, order := range orders {
		id := int64(i + 1)
		repo.state.lessons[id] = course.Lesson{ID: id, CourseID: courseID, Title: fmt.Sprintf("L%d", order), Order: order}
	}
	repo.state.enrollments[enrollment] = course.Enrollment{ID: enrollment, StudentID: studentID, CourseID: courseID}
	return repo
}

func newTestService(repo *memoryRepo, notifier Notifier, observer Observer) *Service {
	return NewService(repo, notifier, observer, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func owner() rbac.Principal {
	return &rbac.Subject{UserID: studentID, Type: rbac.UserTypeStudent}
}

func TestCompletionScenario(t *testing.T) {
	repo := fixture(1, 2)
	notifier := &recordingNotifier{}
	svc := newTestService(repo, notifier, nil)
	ctx := context.Background()

	_, err := svc.CompleteLesson(ctx, owner(), enrollment, 2)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, ReasonOutOfOrder, rej.Reason)
	require.Equal(t, []int64{1}, rej.MissingLessonIDs)
	require.Equal(t, "You must complete previous lessons first. Uncompleted lesson IDs: [1]", rej.Message)

	c, err := svc.CompleteLesson(ctx, owner(), enrollment, 1)
	require.NoError(t, err)
	require.Equal(t, "L1", c.LessonTitle)
	require.False(t, c.EnrollmentCompleted)
	require.False(t, repo.enrollment(enrollment).IsCompleted)
	require.Zero(t, notifier.count())

	c, err = svc.CompleteLesson(ctx, owner(), enrollment, 2)
	require.NoError(t, err)
	require.True(t, c.EnrollmentCompleted)
	e := repo.enrollment(enrollment)
	require.True(t, e.IsCompleted)
	require.NotNil(t, e.CompletedAt)
	require.Equal(t, []int64{enrollment}, notifier.calls)
}

func TestOutOfOrderNamesEveryMissingLesson(t *testing.T) {
	repo := fixture(1, 2, 3)
	svc := newTestService(repo, &recordingNotifier{}, nil)

	_, err := svc.CompleteLesson(context.Background(), owner(), enrollment, 3)
	require.True(t, IsRejection(err, ReasonOutOfOrder))
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, []int64{1, 2}, rej.MissingLessonIDs)
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Zero(t, repo.completionCount())
}

func TestCompletionRejections(t *testing.T) {
	repo := fixture(1, 2)
	repo.state.lessons[50] = course.Lesson{ID: 50, CourseID: 999, Title: "elsewhere", Order: 1}
	repo.state.deleted[2] = true
	svc := newTestService(repo, &recordingNotifier{}, nil)
	ctx := context.Background()

	cases := []struct {
		name         string
		principal    rbac.Principal
		enrollmentID int64
		lessonID     int64
		reason       string
		field        string
	}{
		{"missing enrollment", owner(), 404, 1, ReasonEnrollment, "enrollment"},
		{"foreign enrollment", &rbac.Subject{UserID: 11, Type: rbac.UserTypeStudent}, enrollment, 1, ReasonEnrollmentNotOwned, "enrollment"},
		{"anonymous", rbac.Anonymous, enrollment, 1, ReasonEnrollmentNotOwned, "enrollment"},
		{"missing lesson", owner(), enrollment, 77, ReasonLessonNotFound, "lesson"},
		{"other course", owner(), enrollment, 50, ReasonWrongCourse, "lesson"},
		{"deleted lesson", owner(), enrollment, 2, ReasonNotInCourse, "lesson"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CompleteLesson(ctx, tc.principal, tc.enrollmentID, tc.lessonID)
			var rej *RejectionError
			require.ErrorAs(t, err, &rej)
			require.Equal(t, tc.reason, rej.Reason)
			require.Contains(t, rej.Fields(), tc.field)
		})
	}

	_, err := svc.CompleteLesson(ctx, owner(), 404, 1)
	require.ErrorIs(t, err, httpx.ErrNotFound)
	_, err = svc.CompleteLesson(ctx, &rbac.Subject{UserID: 11, Type: rbac.UserTypeStudent}, enrollment, 1)
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.CompleteLesson(ctx, owner(), enrollment, 1)
	require.NoError(t, err)
	_, err = svc.CompleteLesson(ctx, owner(), enrollment, 1)
	require.True(t, IsRejection(err, ReasonAlreadyCompleted))
}

func TestDeletedLessonDoesNotBlockCompletion(t *testing.T) {
	repo := fixture(1, 2, 3)
	repo.state.deleted[2] = true
	notifier := &recordingNotifier{}
	svc := newTestService(repo, notifier, nil)
	ctx := context.Background()

	_, err := svc.CompleteLesson(ctx, owner(), enrollment, 1)
	require.NoError(t, err)
	c, err := svc.CompleteLesson(ctx, owner(), enrollment, 3)
	require.NoError(t, err)
	require.True(t, c.EnrollmentCompleted)
	require.Equal(t, 1, notifier.count())
}

func TestUniqueViolationReportsAlreadyCompleted(t *testing.T) {
	repo := fixture(1)
	svc := newTestService(repo, &recordingNotifier{}, nil)
	ctx := context.Background()

	_, err := svc.CompleteLesson(ctx, owner(), enrollment, 1)
	require.NoError(t, err)

	repo.hideCompletions = true
	_, err = svc.CompleteLesson(ctx, owner(), enrollment, 1)
	require.True(t, IsRejection(err, ReasonAlreadyCompleted))
	require.Equal(t, 1, repo.completionCount())
}

func TestDuplicateCompletionMatchesConstraint(t *testing.T) {
	err := duplicateCompletion(&pgconn.PgError{Code: "23505", ConstraintName: completionConstraint})
	require.ErrorIs(t, err, ErrDuplicateCompletion)
	require.Equal(t, completionConstraint, db.ConstraintName(err))

	other := &pgconn.PgError{Code: "23505", ConstraintName: "enrollments_student_course_key"}
	require.NotErrorIs(t, duplicateCompletion(other), ErrDuplicateCompletion)
	require.NotErrorIs(t, duplicateCompletion(errors.New("conn reset")), ErrDuplicateCompletion)
}

func TestRollbackSkipsNotification(t *testing.T) {
	repo := fixture(1)
	repo.failCommit = errors.New("commit failed")
	notifier := &recordingNotifier{}
	svc := newTestService(repo, notifier, nil)

	_, err := svc.CompleteLesson(context.Background(), owner(), enrollment, 1)
	require.Error(t, err)
	require.Zero(t, notifier.count())
	require.Zero(t, repo.completionCount())
	require.False(t, repo.enrollment(enrollment).IsCompleted)
}

func TestNotifierFailureKeepsCompletion(t *testing.T) {
	repo := fixture(1)
	notifier := &recordingNotifier{err: errors.New("redis down")}
	svc := newTestService(repo, notifier, nil)

	c, err := svc.CompleteLesson(context.Background(), owner(), enrollment, 1)
	require.NoError(t, err)
	require.True(t, c.EnrollmentCompleted)
	require.True(t, repo.enrollment(enrollment).IsCompleted)
	require.Equal(t, 1, notifier.count())
}

func TestConcurrentCompletionsOfSameLesson(t *testing.T) {
	const attempts = 16
	repo := fixture(1)
	notifier := &recordingNotifier{}
	observer := &countingObserver{}
	svc := newTestService(repo, notifier, observer)

	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			_, err := svc.CompleteLesson(context.Background(), owner(), enrollment, 1)
			if err != nil && !IsRejection(err, ReasonAlreadyCompleted) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, 1, repo.completionCount())
	require.Equal(t, 1, notifier.count())
	require.Equal(t, map[string]int{OutcomeCourseCompleted: 1, ReasonAlreadyCompleted: attempts - 1}, observer.outcomes)
}

func TestRetryableErrorsPassThrough(t *testing.T) {
	repo := fixture(1)
	repo.failCommit = fmt.Errorf("%w: lock timeout", db.ErrRetryable)
	observer := &countingObserver{}
	svc := newTestService(repo, &recordingNotifier{}, observer)

	_, err := svc.CompleteLesson(context.Background(), owner(), enrollment, 1)
	require.ErrorIs(t, err, db.ErrRetryable)
	require.Equal(t, 1, observer.outcomes[OutcomeRetryable])
}

func TestListCompletionsNewestFirst(t *testing.T) {
	repo := fixture(1, 2)
	svc := newTestService(repo, &recordingNotifier{}, nil)
	ctx := context.Background()
	for _, id := range []int64{1, 2} {
		_, err := svc.CompleteLesson(ctx, owner(), enrollment, id)
		require.NoError(t, err)
	}

	list, err := svc.ListCompletions(ctx, owner(), enrollment)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, int64(2), list[0].LessonID)
	require.Equal(t, "L2", list[0].LessonTitle)

	_, err = svc.ListCompletions(ctx, &rbac.Subject{UserID: 11, Type: rbac.UserTypeStudent}, enrollment)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}
