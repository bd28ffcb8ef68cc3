package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-learn/odyssey-learn/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCourseCompleted notifies that an enrollment finished its course.
	TaskCourseCompleted = "course:completed"
	// TaskCompletionSweep re-enqueues notifications for recently completed enrollments.
	TaskCompletionSweep = "course:completed:sweep"

	courseCompletedMaxRetry = 5
	// courseCompletedRetention keeps finished tasks around so their ids keep deduplicating.
	courseCompletedRetention = 24 * time.Hour
)

// CourseCompletedPayload is the body of TaskCourseCompleted.
type CourseCompletedPayload struct {
	EventID      string `json:"event_id"`
	EnrollmentID int64  `json:"enrollment_id"`
}

// NewCourseCompletedTask builds the notification task for an enrollment. The
// task id is derived from the enrollment so repeated enqueues collapse.
func NewCourseCompletedTask(enrollmentID int64) (*asynq.Task, error) {
	if enrollmentID <= 0 {
		return nil, fmt.Errorf("jobs: invalid enrollment id %d", enrollmentID)
	}
	data, err := json.Marshal(CourseCompletedPayload{EventID: uuid.NewString(), EnrollmentID: enrollmentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCourseCompleted, data,
		asynq.TaskID(shared.CourseCompletedTaskID(enrollmentID)),
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(courseCompletedMaxRetry),
		asynq.Retention(courseCompletedRetention),
	), nil
}

// CompletionSweepPayload configures TaskCompletionSweep.
type CompletionSweepPayload struct {
	WindowHours int `json:"window_hours"`
}

// NewCompletionSweepTask builds the periodic sweep task.
func NewCompletionSweepTask(windowHours int) (*asynq.Task, error) {
	data, err := json.Marshal(CompletionSweepPayload{WindowHours: windowHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCompletionSweep, data), nil
}
