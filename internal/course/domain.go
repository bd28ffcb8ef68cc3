package course

import (
	"math"
	"time"
)

// Status is the publication state of a course.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
)

// Course is a unit of teaching owned by one instructor.
type Course struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Status       Status    `json:"status"`
	InstructorID int64     `json:"instructor"`
	TotalLessons int       `json:"total_lessons"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsPublished reports whether students may enroll.
func (c Course) IsPublished() bool {
	return c.Status == StatusPublished
}

// Lesson belongs to one course; Order defines the completion sequence.
type Lesson struct {
	ID          int64     `json:"id"`
	CourseID    int64     `json:"course"`
	CourseTitle string    `json:"course_title,omitempty"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Order       int       `json:"order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Enrollment links a student to a course.
type Enrollment struct {
	ID          int64      `json:"id"`
	StudentID   int64      `json:"student"`
	StudentName string     `json:"student_name"`
	CourseID    int64      `json:"course"`
	CourseTitle string     `json:"course_title"`
	IsCompleted bool       `json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// EnrollmentProgress is the enrollment plus its completion figures.
type EnrollmentProgress struct {
	Enrollment
	TotalLessons          int     `json:"total_lessons"`
	CompletedLessonsCount int     `json:"completed_lessons_count"`
	CompletionPercentage  float64 `json:"completion_percentage"`
	CompletedLessonIDs    []int64 `json:"completed_lesson_ids,omitempty"`
}

// CompletionPercentage is completed/total as a percentage rounded to two decimals, 0 without lessons.
func CompletionPercentage(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(completed)/float64(total)*100*100) / 100
}

// CourseInput creates a course.
type CourseInput struct {
	Title       string `json:"title" validate:"required,max=255"`
	Description string `json:"description"`
	Status      Status `json:"status" validate:"omitempty,oneof=DRAFT PUBLISHED"`
}

// CourseUpdate changes the supplied fields of a course.
type CourseUpdate struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description"`
	Status      *Status `json:"status" validate:"omitempty,oneof=DRAFT PUBLISHED"`
}

// LessonInput is one lesson of a bulk create request.
type LessonInput struct {
	Title   string `json:"title" validate:"required,max=255"`
	Content string `json:"content"`
	Order   int    `json:"order" validate:"gte=0"`
}

// BulkLessonInput creates several lessons of one course at once.
type BulkLessonInput struct {
	Lessons []LessonInput `json:"lesson" validate:"required,min=1,dive"`
}

// LessonUpdate changes the supplied fields of a lesson.
type LessonUpdate struct {
	Title   *string `json:"title" validate:"omitempty,min=1,max=255"`
	Content *string `json:"content"`
	Order   *int    `json:"order" validate:"omitempty,gte=0"`
}

// EnrollmentInput enrolls the caller into a course.
type EnrollmentInput struct {
	CourseID int64 `json:"course" validate:"required,gt=0"`
}
