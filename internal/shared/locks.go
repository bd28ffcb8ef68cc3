package shared

import "fmt"

// CourseCompletedKey builds the redis key guarding the course completion side effects.
func CourseCompletedKey(enrollmentID int64) string {
	return fmt.Sprintf("course:completed:%d", enrollmentID)
}

// CourseCompletedTaskID is the asynq task id used to collapse duplicate enqueues.
func CourseCompletedTaskID(enrollmentID int64) string {
	return fmt.Sprintf("course-completed:%d", enrollmentID)
}
