package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-learn/odyssey-learn/internal/course"
	jobmetrics "github.com/odyssey-learn/odyssey-learn/internal/jobs"
	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
	"github.com/odyssey-learn/odyssey-learn/internal/shared"
)

// EnrollmentLoader loads an enrollment with its course and student names.
type EnrollmentLoader interface {
	GetEnrollment(ctx context.Context, id int64) (course.EnrollmentProgress, error)
}

// Claimer guards side effects against repeated deliveries.
type Claimer interface {
	Claim(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

// Announcer delivers the course-completed side effect.
type Announcer interface {
	AnnounceCourseCompleted(ctx context.Context, enrollment course.EnrollmentProgress) error
}

// LogAnnouncer announces completions through the structured log.
type LogAnnouncer struct {
	Logger *slog.Logger
}

// AnnounceCourseCompleted logs the completion.
func (a LogAnnouncer) AnnounceCourseCompleted(_ context.Context, e course.EnrollmentProgress) error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("student completed course",
		slog.Int64("enrollment_id", e.ID),
		slog.String("student", e.StudentName),
		slog.String("course", e.CourseTitle))
	return nil
}

// CourseCompletedJob consumes TaskCourseCompleted.
type CourseCompletedJob struct {
	Enrollments EnrollmentLoader
	Claims      Claimer
	Announcer   Announcer
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewCourseCompletedJob initialises the consumer.
func NewCourseCompletedJob(enrollments EnrollmentLoader, claims Claimer, announcer Announcer, logger *slog.Logger, metrics *jobmetrics.Metrics) *CourseCompletedJob {
	if logger == nil {
		logger = slog.Default()
	}
	if announcer == nil {
		announcer = LogAnnouncer{Logger: logger}
	}
	return &CourseCompletedJob{Enrollments: enrollments, Claims: claims, Announcer: announcer, Logger: logger, Metrics: metrics}
}

// Handle processes one notification. Redeliveries of an already handled
// enrollment are acknowledged without repeating the side effect.
func (j *CourseCompletedJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil {
		return errors.New("course completed: handler not configured")
	}
	var payload CourseCompletedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.EnrollmentID <= 0 {
		return fmt.Errorf("course completed: bad payload: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskCourseCompleted)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.Logger.With(
		slog.Int64("enrollment_id", payload.EnrollmentID),
		slog.String("event_id", payload.EventID),
	)

	enrollment, err := j.Enrollments.GetEnrollment(ctx, payload.EnrollmentID)
	if errors.Is(err, httpx.ErrNotFound) {
		logger.Warn("enrollment vanished before notification")
		j.Metrics.CountNotification("skipped")
		return fmt.Errorf("course completed: enrollment %d: %w", payload.EnrollmentID, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("course completed: load enrollment: %w", err)
	}
	if !enrollment.IsCompleted {
		logger.Warn("notification for unfinished enrollment")
		j.Metrics.CountNotification("skipped")
		return fmt.Errorf("course completed: enrollment %d not completed: %w", payload.EnrollmentID, asynq.SkipRetry)
	}

	key := shared.CourseCompletedKey(enrollment.ID)
	if err := j.Claims.Claim(ctx, key); err != nil {
		if errors.Is(err, shared.ErrAlreadyProcessed) {
			logger.Info("course completion already handled")
			j.Metrics.CountNotification("duplicate")
			return nil
		}
		return fmt.Errorf("course completed: claim: %w", err)
	}
	if err := j.Announcer.AnnounceCourseCompleted(ctx, enrollment); err != nil {
		if releaseErr := j.Claims.Release(ctx, key); releaseErr != nil {
			logger.Error("release claim", slog.Any("error", releaseErr))
		}
		return fmt.Errorf("course completed: announce: %w", err)
	}
	j.Metrics.CountNotification("announced")
	return nil
}

// CompletedEnrollmentLister lists enrollments completed since a point in time.
type CompletedEnrollmentLister interface {
	CompletedEnrollmentIDs(ctx context.Context, since time.Time) ([]int64, error)
}

// CourseCompletedEnqueuer schedules course-completed notifications.
type CourseCompletedEnqueuer interface {
	EnqueueCourseCompleted(ctx context.Context, enrollmentID int64) error
}

// CompletionSweepJob re-enqueues notifications for recent completions so an
// enqueue lost after commit is eventually delivered. Task ids and the consumer
// claim keep the sweep free of duplicate side effects.
type CompletionSweepJob struct {
	Enrollments CompletedEnrollmentLister
	Enqueuer    CourseCompletedEnqueuer
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	clock       func() time.Time
}

// NewCompletionSweepJob initialises the sweep handler.
func NewCompletionSweepJob(enrollments CompletedEnrollmentLister, enqueuer CourseCompletedEnqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *CompletionSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionSweepJob{
		Enrollments: enrollments,
		Enqueuer:    enqueuer,
		Logger:      logger,
		Metrics:     metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sweep.
func (j *CompletionSweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil {
		return errors.New("completion sweep: handler not configured")
	}
	var payload CompletionSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("completion sweep: bad payload: %w", asynq.SkipRetry)
	}
	if payload.WindowHours <= 0 {
		payload.WindowHours = 24
	}

	tracker := j.Metrics.Track(TaskCompletionSweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	since := j.clock().Add(-time.Duration(payload.WindowHours) * time.Hour)
	ids, err := j.Enrollments.CompletedEnrollmentIDs(ctx, since)
	if err != nil {
		return fmt.Errorf("completion sweep: list: %w", err)
	}
	var failed int
	for _, id := range ids {
		if err := j.Enqueuer.EnqueueCourseCompleted(ctx, id); err != nil {
			failed++
			j.Logger.Error("completion sweep enqueue", slog.Int64("enrollment_id", id), slog.Any("error", err))
		}
	}
	j.Logger.Info("completion sweep finished",
		slog.Int("window_hours", payload.WindowHours),
		slog.Int("enrollments", len(ids)),
		slog.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("completion sweep: %d of %d enqueues failed", failed, len(ids))
	}
	return nil
}
