package progress

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
)

// Completion records that a student finished a lesson under an enrollment.
type Completion struct {
	ID           int64     `json:"id"`
	EnrollmentID int64     `json:"enrollment"`
	LessonID     int64     `json:"lesson"`
	LessonTitle  string    `json:"lesson_title"`
	CompletedAt  time.Time `json:"completed_at"`

	// EnrollmentCompleted is set when this completion finished the course.
	EnrollmentCompleted bool `json:"enrollment_completed"`
}

// CompleteInput is the body of a completion request.
type CompleteInput struct {
	LessonID int64 `json:"lesson" validate:"required,gt=0"`
}

// Rejection reasons, also used as metric outcomes.
const (
	ReasonEnrollment         = "enrollment_not_found"
	ReasonEnrollmentNotOwned = "enrollment_not_owned"
	ReasonLessonNotFound     = "lesson_not_found"
	ReasonWrongCourse        = "wrong_course"
	ReasonAlreadyCompleted   = "already_completed"
	ReasonNotInCourse        = "not_in_course"
	ReasonOutOfOrder         = "out_of_order"
)

const (
	msgEnrollment         = "Enrollment not found."
	msgEnrollmentNotOwned = "This enrollment does not belong to you."
	msgLessonNotFound     = "Lesson not found."
	msgWrongCourse        = "This lesson does not belong to the enrolled course."
	msgAlreadyCompleted   = "You have already completed this lesson."
	msgNotInCourse        = "This lesson does not exist in the course."
	msgOutOfOrderFmt      = "You must complete previous lessons first. Uncompleted lesson IDs: %v"
)

// RejectionError is a domain-rule violation of the completion state machine.
// It unwraps to httpx.ErrNotFound for a missing enrollment and to
// httpx.ErrValidation otherwise.
type RejectionError struct {
	Reason           string
	Field            string
	Message          string
	MissingLessonIDs []int64
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("progress: %s: %s", e.Field, e.Message)
}

func (e *RejectionError) Unwrap() error {
	if e.Reason == ReasonEnrollment {
		return httpx.ErrNotFound
	}
	return httpx.ErrValidation
}

// Fields renders the rejection as field-keyed messages.
func (e *RejectionError) Fields() httpx.FieldErrors {
	return httpx.NewFieldError(e.Field, e.Message)
}

// Status is the HTTP status of the rejection.
func (e *RejectionError) Status() int {
	if e.Reason == ReasonEnrollment {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func rejectEnrollment() *RejectionError {
	return &RejectionError{Reason: ReasonEnrollment, Field: "enrollment", Message: msgEnrollment}
}

func rejectForeignEnrollment() *RejectionError {
	return &RejectionError{Reason: ReasonEnrollmentNotOwned, Field: "enrollment", Message: msgEnrollmentNotOwned}
}

func rejectLesson(reason, message string) *RejectionError {
	return &RejectionError{Reason: reason, Field: "lesson", Message: message}
}

func rejectOutOfOrder(missing []int64) *RejectionError {
	return &RejectionError{
		Reason:           ReasonOutOfOrder,
		Field:            "lesson",
		Message:          fmt.Sprintf(msgOutOfOrderFmt, missing),
		MissingLessonIDs: missing,
	}
}

// IsRejection reports whether err is a RejectionError with the given reason.
func IsRejection(err error, reason string) bool {
	var rej *RejectionError
	return errors.As(err, &rej) && rej.Reason == reason
}
