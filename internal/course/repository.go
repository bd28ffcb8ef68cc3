package course

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-learn/odyssey-learn/internal/platform/db"
	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
)

var (
	// ErrCourseNotFound indicates a missing course.
	ErrCourseNotFound = fmt.Errorf("course %w", httpx.ErrNotFound)
	// ErrLessonNotFound indicates a missing or deleted lesson.
	ErrLessonNotFound = fmt.Errorf("lesson %w", httpx.ErrNotFound)
	// ErrEnrollmentNotFound indicates a missing enrollment.
	ErrEnrollmentNotFound = fmt.Errorf("enrollment %w", httpx.ErrNotFound)
)

// CourseFilter narrows course listings. Zero values mean no restriction.
type CourseFilter struct {
	InstructorID  int64
	PublishedOnly bool
}

// EnrollmentFilter narrows enrollment listings. Zero values mean no restriction.
type EnrollmentFilter struct {
	StudentID    int64
	InstructorID int64
}

// Repository persists courses, lessons and enrollments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const courseSelect = `SELECT c.id, c.title, c.description, c.status, c.instructor_id,
	(SELECT count(*) FROM lessons l WHERE l.course_id = c.id AND l.deleted_at IS NULL),
	c.created_at, c.updated_at
FROM courses c`

func scanCourse(row pgx.Row) (Course, error) {
	var c Course
	err := row.Scan(&c.ID, &c.Title, &c.Description, &c.Status, &c.InstructorID, &c.TotalLessons, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Course{}, ErrCourseNotFound
	}
	return c, err
}

// ListCourses returns one page of courses, newest first.
func (r *Repository) ListCourses(ctx context.Context, filter CourseFilter, limit, offset int) ([]Course, int, error) {
	where := ` WHERE ($1::bigint = 0 OR c.instructor_id = $1) AND (NOT $2 OR c.status = 'PUBLISHED')`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM courses c`+where, filter.InstructorID, filter.PublishedOnly).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, courseSelect+where+` ORDER BY c.created_at DESC, c.id DESC LIMIT $3 OFFSET $4`,
		filter.InstructorID, filter.PublishedOnly, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	courses := []Course{}
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, 0, err
		}
		courses = append(courses, c)
	}
	return courses, total, rows.Err()
}

// GetCourse fetches a course by id.
func (r *Repository) GetCourse(ctx context.Context, id int64) (Course, error) {
	return scanCourse(r.pool.QueryRow(ctx, courseSelect+` WHERE c.id = $1`, id))
}

// CreateCourse inserts a course owned by instructorID.
func (r *Repository) CreateCourse(ctx context.Context, instructorID int64, in CourseInput) (Course, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO courses (title, description, status, instructor_id)
VALUES ($1, $2, $3, $4) RETURNING id`, in.Title, in.Description, in.Status, instructorID).Scan(&id)
	if err != nil {
		return Course{}, err
	}
	return r.GetCourse(ctx, id)
}

// UpdateCourse applies the non-nil fields of upd.
func (r *Repository) UpdateCourse(ctx context.Context, id int64, upd CourseUpdate) (Course, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE courses SET
	title = COALESCE($2, title),
	description = COALESCE($3, description),
	status = COALESCE($4, status),
	updated_at = now()
WHERE id = $1`, id, upd.Title, upd.Description, upd.Status)
	if err != nil {
		return Course{}, err
	}
	if tag.RowsAffected() == 0 {
		return Course{}, ErrCourseNotFound
	}
	return r.GetCourse(ctx, id)
}

const lessonSelect = `SELECT l.id, l.course_id, c.title, l.title, l.content, l."order", l.created_at, l.updated_at
FROM lessons l JOIN courses c ON c.id = l.course_id`

func scanLesson(row pgx.Row) (Lesson, error) {
	var l Lesson
	err := row.Scan(&l.ID, &l.CourseID, &l.CourseTitle, &l.Title, &l.Content, &l.Order, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lesson{}, ErrLessonNotFound
	}
	return l, err
}

// ListLessons returns the non-deleted lessons of a course in completion order.
func (r *Repository) ListLessons(ctx context.Context, courseID int64) ([]Lesson, error) {
	rows, err := r.pool.Query(ctx, lessonSelect+` WHERE l.course_id = $1 AND l.deleted_at IS NULL ORDER BY l."order", l.created_at`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lessons := []Lesson{}
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

// GetLesson fetches a non-deleted lesson.
func (r *Repository) GetLesson(ctx context.Context, id int64) (Lesson, error) {
	return scanLesson(r.pool.QueryRow(ctx, lessonSelect+` WHERE l.id = $1 AND l.deleted_at IS NULL`, id))
}

// ExistingOrders returns which of orders are already taken in the course, ignoring excludeLessonID.
func (r *Repository) ExistingOrders(ctx context.Context, courseID int64, orders []int, excludeLessonID int64) ([]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT "order" FROM lessons
WHERE course_id = $1 AND deleted_at IS NULL AND "order" = ANY($2::int[]) AND id <> $3
ORDER BY "order"`, courseID, orders, excludeLessonID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

// CreateLessons inserts all lessons in one transaction.
func (r *Repository) CreateLessons(ctx context.Context, courseID int64, inputs []LessonInput) ([]Lesson, error) {
	ids := make([]int64, 0, len(inputs))
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, in := range inputs {
			var id int64
			err := tx.QueryRow(ctx, `INSERT INTO lessons (course_id, title, content, "order")
VALUES ($1, $2, $3, $4) RETURNING id`, courseID, in.Title, in.Content, in.Order).Scan(&id)
			if err != nil {
				return orderConflict(err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	lessons := make([]Lesson, 0, len(ids))
	for _, id := range ids {
		l, err := r.GetLesson(ctx, id)
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	return lessons, nil
}

// UpdateLesson applies the non-nil fields of upd.
func (r *Repository) UpdateLesson(ctx context.Context, id int64, upd LessonUpdate) (Lesson, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE lessons SET
	title = COALESCE($2, title),
	content = COALESCE($3, content),
	"order" = COALESCE($4, "order"),
	updated_at = now()
WHERE id = $1 AND deleted_at IS NULL`, id, upd.Title, upd.Content, upd.Order)
	if err != nil {
		return Lesson{}, orderConflict(err)
	}
	if tag.RowsAffected() == 0 {
		return Lesson{}, ErrLessonNotFound
	}
	return r.GetLesson(ctx, id)
}

// SoftDeleteLesson hides a lesson; its completions stay untouched.
func (r *Repository) SoftDeleteLesson(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE lessons SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLessonNotFound
	}
	return nil
}

const enrollmentSelect = `SELECT e.id, e.student_id, u.full_name, e.course_id, c.title, e.is_completed, e.completed_at, e.created_at, e.updated_at,
	(SELECT count(*) FROM lessons l WHERE l.course_id = e.course_id AND l.deleted_at IS NULL),
	(SELECT count(*) FROM lesson_completions lc WHERE lc.enrollment_id = e.id)
FROM enrollments e
JOIN users u ON u.id = e.student_id
JOIN courses c ON c.id = e.course_id`

func scanEnrollment(row pgx.Row) (EnrollmentProgress, error) {
	var e EnrollmentProgress
	err := row.Scan(&e.ID, &e.StudentID, &e.StudentName, &e.CourseID, &e.CourseTitle, &e.IsCompleted, &e.CompletedAt,
		&e.CreatedAt, &e.UpdatedAt, &e.TotalLessons, &e.CompletedLessonsCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return EnrollmentProgress{}, ErrEnrollmentNotFound
	}
	e.CompletionPercentage = CompletionPercentage(e.CompletedLessonsCount, e.TotalLessons)
	return e, err
}

// CreateEnrollment enrolls studentID into courseID.
func (r *Repository) CreateEnrollment(ctx context.Context, studentID, courseID int64) (EnrollmentProgress, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO enrollments (student_id, course_id) VALUES ($1, $2) RETURNING id`, studentID, courseID).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return EnrollmentProgress{}, httpx.NewFieldError("course", msgAlreadyEnrolled)
		}
		return EnrollmentProgress{}, err
	}
	return r.GetEnrollment(ctx, id)
}

// GetEnrollment fetches an enrollment with its progress counts.
func (r *Repository) GetEnrollment(ctx context.Context, id int64) (EnrollmentProgress, error) {
	return scanEnrollment(r.pool.QueryRow(ctx, enrollmentSelect+` WHERE e.id = $1`, id))
}

// ListEnrollments returns enrollments with their progress counts, newest first.
func (r *Repository) ListEnrollments(ctx context.Context, filter EnrollmentFilter) ([]EnrollmentProgress, error) {
	rows, err := r.pool.Query(ctx, enrollmentSelect+`
WHERE ($1::bigint = 0 OR e.student_id = $1) AND ($2::bigint = 0 OR c.instructor_id = $2)
ORDER BY e.created_at DESC, e.id DESC`, filter.StudentID, filter.InstructorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []EnrollmentProgress{}
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CompletedLessonIDs lists the lessons completed under an enrollment.
func (r *Repository) CompletedLessonIDs(ctx context.Context, enrollmentID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT lesson_id FROM lesson_completions WHERE enrollment_id = $1 ORDER BY created_at, id`, enrollmentID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// CompletedEnrollmentIDs lists enrollments that reached completion at or after since.
func (r *Repository) CompletedEnrollmentIDs(ctx context.Context, since time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM enrollments WHERE is_completed AND completed_at >= $1 ORDER BY completed_at`, since)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// IsEnrolled reports whether studentID is enrolled in courseID.
func (r *Repository) IsEnrolled(ctx context.Context, studentID, courseID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2)`, studentID, courseID).Scan(&ok)
	return ok, err
}

func orderConflict(err error) error {
	if db.IsUniqueViolation(err) {
		return httpx.NewFieldError("order", msgOrderTaken)
	}
	return err
}
