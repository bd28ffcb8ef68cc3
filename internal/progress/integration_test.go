//go:build integration

package progress

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
	"github.com/odyssey-learn/odyssey-learn/migrations"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("odyssey_learn"),
		postgres.WithUsername("odyssey"),
		postgres.WithPassword("odyssey"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, migrations.Apply(ctx, pool))
	return pool
}

// seed creates an instructor, a student, a published course with lessonCount
// lessons and one enrollment. It returns the student, enrollment and lesson ids.
func seed(t *testing.T, pool *pgxpool.Pool, lessonCount int) (int64, int64, []int64) {
	t.Helper()
	ctx := context.Background()
	var instructorID, studentID, courseID, enrollmentID int64
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO users (email, full_name, user_type) VALUES ('i@example.com', 'Ina', 'INSTRUCTOR') RETURNING id`).Scan(&instructorID))
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO users (email, full_name, user_type) VALUES ('s@example.com', 'Sam', 'STUDENT') RETURNING id`).Scan(&studentID))
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO courses (title, status, instructor_id) VALUES ('Go', 'PUBLISHED', $1) RETURNING id`, instructorID).Scan(&courseID))
	lessons := make([]int64, 0, lessonCount)
	for i := 1; i <= lessonCount; i++ {
		var id int64
		require.NoError(t, pool.QueryRow(ctx, `INSERT INTO lessons (course_id, title, "order") VALUES ($1, 'L', $2) RETURNING id`, courseID, i).Scan(&id))
		lessons = append(lessons, id)
	}
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO enrollments (student_id, course_id) VALUES ($1, $2) RETURNING id`, studentID, courseID).Scan(&enrollmentID))
	return studentID, enrollmentID, lessons
}

func TestConcurrentCompletionAgainstPostgres(t *testing.T) {
	const attempts = 24
	pool := setupPostgres(t)
	studentID, enrollmentID, lessons := seed(t, pool, 1)
	notifier := &recordingNotifier{}
	svc := NewService(NewRepository(pool, 5*time.Second), notifier, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	principal := &rbac.Subject{UserID: studentID, Type: rbac.UserTypeStudent}

	var (
		g         errgroup.Group
		successes = make(chan struct{}, attempts)
	)
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			_, err := svc.CompleteLesson(context.Background(), principal, enrollmentID, lessons[0])
			if err == nil {
				successes <- struct{}{}
				return nil
			}
			if IsRejection(err, ReasonAlreadyCompleted) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	close(successes)
	require.Len(t, successes, 1)

	var rows int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT count(*) FROM lesson_completions WHERE enrollment_id = $1`, enrollmentID).Scan(&rows))
	require.Equal(t, 1, rows)

	var completed bool
	var completedAt *time.Time
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT is_completed, completed_at FROM enrollments WHERE id = $1`, enrollmentID).Scan(&completed, &completedAt))
	require.True(t, completed)
	require.NotNil(t, completedAt)
	require.Equal(t, 1, notifier.count())
}

func TestOrderedCompletionAgainstPostgres(t *testing.T) {
	pool := setupPostgres(t)
	studentID, enrollmentID, lessons := seed(t, pool, 3)
	svc := NewService(NewRepository(pool, 5*time.Second), &recordingNotifier{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	principal := &rbac.Subject{UserID: studentID, Type: rbac.UserTypeStudent}
	ctx := context.Background()

	_, err := svc.CompleteLesson(ctx, principal, enrollmentID, lessons[2])
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, lessons[:2], rej.MissingLessonIDs)

	for _, id := range lessons {
		_, err := svc.CompleteLesson(ctx, principal, enrollmentID, id)
		require.NoError(t, err)
	}
	list, err := svc.ListCompletions(ctx, principal, enrollmentID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, lessons[2], list[0].LessonID)
}
