package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-learn/odyssey-learn/internal/course"
	jobmetrics "github.com/odyssey-learn/odyssey-learn/internal/jobs"
	"github.com/odyssey-learn/odyssey-learn/internal/shared"
)

type stubEnrollments map[int64]course.EnrollmentProgress

func (s stubEnrollments) GetEnrollment(_ context.Context, id int64) (course.EnrollmentProgress, error) {
	e, ok := s[id]
	if !ok {
		return course.EnrollmentProgress{}, course.ErrEnrollmentNotFound
	}
	return e, nil
}

type recordingAnnouncer struct {
	calls []int64
	err   error
}

func (a *recordingAnnouncer) AnnounceCourseCompleted(_ context.Context, e course.EnrollmentProgress) error {
	a.calls = append(a.calls, e.ID)
	return a.err
}

func newClaims(t *testing.T) (*shared.IdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewIdempotencyStore(client, 0), mr
}

func completedTask(t *testing.T, enrollmentID int64) *asynq.Task {
	t.Helper()
	task, err := NewCourseCompletedTask(enrollmentID)
	require.NoError(t, err)
	return task
}

func completed(id int64) course.EnrollmentProgress {
	return course.EnrollmentProgress{Enrollment: course.Enrollment{ID: id, StudentName: "Sam", CourseTitle: "Go", IsCompleted: true}}
}

func TestCourseCompletedTaskPayload(t *testing.T) {
	task := completedTask(t, 42)
	require.Equal(t, TaskCourseCompleted, task.Type())
	var payload CourseCompletedPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, int64(42), payload.EnrollmentID)
	_, err := uuid.Parse(payload.EventID)
	require.NoError(t, err)

	_, err = NewCourseCompletedTask(0)
	require.Error(t, err)
}

func TestCourseCompletedJobIsIdempotent(t *testing.T) {
	claims, mr := newClaims(t)
	announcer := &recordingAnnouncer{}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	job := NewCourseCompletedJob(stubEnrollments{7: completed(7)}, claims, announcer, logger, metrics)

	require.NoError(t, job.Handle(context.Background(), completedTask(t, 7)))
	require.NoError(t, job.Handle(context.Background(), completedTask(t, 7)))
	require.Equal(t, []int64{7}, announcer.calls)
	require.True(t, mr.Exists(shared.CourseCompletedKey(7)))
	require.Equal(t, 30*24*time.Hour, mr.TTL(shared.CourseCompletedKey(7)))
}

func TestCourseCompletedJobSkipsRetryForMissingEnrollment(t *testing.T) {
	claims, _ := newClaims(t)
	announcer := &recordingAnnouncer{}
	job := NewCourseCompletedJob(stubEnrollments{8: {Enrollment: course.Enrollment{ID: 8}}}, claims, announcer, nil, nil)

	err := job.Handle(context.Background(), completedTask(t, 404))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), completedTask(t, 8))
	require.ErrorIs(t, err, asynq.SkipRetry, "unfinished enrollments are never announced")

	err = job.Handle(context.Background(), asynq.NewTask(TaskCourseCompleted, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, announcer.calls)
}

func TestCourseCompletedJobReleasesClaimOnFailure(t *testing.T) {
	claims, mr := newClaims(t)
	announcer := &recordingAnnouncer{err: errors.New("smtp down")}
	job := NewCourseCompletedJob(stubEnrollments{9: completed(9)}, claims, announcer, nil, nil)

	err := job.Handle(context.Background(), completedTask(t, 9))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
	require.False(t, mr.Exists(shared.CourseCompletedKey(9)))

	announcer.err = nil
	require.NoError(t, job.Handle(context.Background(), completedTask(t, 9)))
	require.Equal(t, []int64{9, 9}, announcer.calls)
}

func TestCourseCompletedJobRecordsMetrics(t *testing.T) {
	claims, _ := newClaims(t)
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := NewCourseCompletedJob(stubEnrollments{3: completed(3)}, claims, &recordingAnnouncer{}, nil, metrics)

	require.NoError(t, job.Handle(context.Background(), completedTask(t, 3)))
	require.NoError(t, job.Handle(context.Background(), completedTask(t, 3)))

	count, err := testutil.GatherAndCount(registry, "odyssey_course_completed_notifications_total")
	require.NoError(t, err)
	require.Equal(t, 2, count, "announced and duplicate series")
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "id"}, f.err
}

func (f *fakeEnqueuer) Close() error {
	return nil
}

func TestClientTreatsTaskIDConflictAsQueued(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	client := NewClientWith(enqueuer)
	require.NoError(t, client.EnqueueCourseCompleted(context.Background(), 5))
	require.Len(t, enqueuer.tasks, 1)
	require.Equal(t, TaskCourseCompleted, enqueuer.tasks[0].Type())

	enqueuer.err = asynq.ErrTaskIDConflict
	require.NoError(t, client.EnqueueCourseCompleted(context.Background(), 5))

	enqueuer.err = errors.New("redis unreachable")
	require.Error(t, client.EnqueueCourseCompleted(context.Background(), 5))
}

type stubCompleted []int64

func (s stubCompleted) CompletedEnrollmentIDs(context.Context, time.Time) ([]int64, error) {
	return s, nil
}

type recordingEnqueuer struct {
	ids  []int64
	fail map[int64]bool
}

func (r *recordingEnqueuer) EnqueueCourseCompleted(_ context.Context, id int64) error {
	r.ids = append(r.ids, id)
	if r.fail[id] {
		return errors.New("enqueue failed")
	}
	return nil
}

func TestCompletionSweepReenqueues(t *testing.T) {
	enqueuer := &recordingEnqueuer{}
	job := NewCompletionSweepJob(stubCompleted{1, 2, 3}, enqueuer, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	task, err := NewCompletionSweepTask(0)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{1, 2, 3}, enqueuer.ids)

	enqueuer = &recordingEnqueuer{fail: map[int64]bool{2: true}}
	job.Enqueuer = enqueuer
	require.Error(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{1, 2, 3}, enqueuer.ids)
}
