package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-learn/odyssey-learn/internal/course"
	"github.com/odyssey-learn/odyssey-learn/internal/platform/db"
)

// ErrDuplicateCompletion is returned when the (enrollment, lesson) unique constraint rejects an insert.
var ErrDuplicateCompletion = errors.New("progress: completion already exists")

const completionConstraint = "lesson_completions_enrollment_lesson_key"

// Tx is the transactional view the completion state machine runs against.
type Tx interface {
	// LockEnrollment loads the enrollment holding an exclusive row lock until the transaction ends.
	LockEnrollment(ctx context.Context, id int64) (course.Enrollment, error)
	// GetLesson loads a lesson, including soft-deleted ones.
	GetLesson(ctx context.Context, id int64) (course.Lesson, error)
	HasCompletion(ctx context.Context, enrollmentID, lessonID int64) (bool, error)
	// CourseLessons returns the non-deleted lessons of a course ordered by order.
	CourseLessons(ctx context.Context, courseID int64) ([]course.Lesson, error)
	CompletedLessonIDs(ctx context.Context, enrollmentID int64) ([]int64, error)
	InsertCompletion(ctx context.Context, enrollmentID, lessonID int64) (Completion, error)
	CountCompletions(ctx context.Context, enrollmentID int64) (int, error)
	MarkEnrollmentCompleted(ctx context.Context, enrollmentID int64) (time.Time, error)
}

// Repository persists lesson completions in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository. lockTimeout bounds the wait for the enrollment row lock.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

// InTx runs fn in a read committed transaction. Hooks registered by fn run after commit.
func (r *Repository) InTx(ctx context.Context, fn func(Tx, *db.Hooks) error) error {
	opts := db.TxOptions{IsoLevel: pgx.ReadCommitted, LockTimeout: r.lockTimeout}
	return db.WithTxOptions(ctx, r.pool, opts, func(tx pgx.Tx, hooks *db.Hooks) error {
		return fn(&pgTx{tx: tx}, hooks)
	})
}

// EnrollmentOwner returns the student id of an enrollment.
func (r *Repository) EnrollmentOwner(ctx context.Context, enrollmentID int64) (int64, error) {
	var studentID int64
	err := r.pool.QueryRow(ctx, `SELECT student_id FROM enrollments WHERE id = $1`, enrollmentID).Scan(&studentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, course.ErrEnrollmentNotFound
	}
	return studentID, err
}

// ListCompletions returns the completions of an enrollment, newest first.
func (r *Repository) ListCompletions(ctx context.Context, enrollmentID int64) ([]Completion, error) {
	rows, err := r.pool.Query(ctx, `SELECT lc.id, lc.enrollment_id, lc.lesson_id, l.title, lc.created_at
FROM lesson_completions lc
JOIN lessons l ON l.id = lc.lesson_id
WHERE lc.enrollment_id = $1
ORDER BY lc.created_at DESC, lc.id DESC`, enrollmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Completion{}
	for rows.Next() {
		var c Completion
		if err := rows.Scan(&c.ID, &c.EnrollmentID, &c.LessonID, &c.LessonTitle, &c.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockEnrollment(ctx context.Context, id int64) (course.Enrollment, error) {
	var e course.Enrollment
	err := t.tx.QueryRow(ctx, `SELECT id, student_id, course_id, is_completed, completed_at, created_at, updated_at
FROM enrollments WHERE id = $1 FOR UPDATE`, id).
		Scan(&e.ID, &e.StudentID, &e.CourseID, &e.IsCompleted, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return course.Enrollment{}, course.ErrEnrollmentNotFound
	}
	return e, err
}

func (t *pgTx) GetLesson(ctx context.Context, id int64) (course.Lesson, error) {
	var l course.Lesson
	err := t.tx.QueryRow(ctx, `SELECT id, course_id, title, "order" FROM lessons WHERE id = $1`, id).
		Scan(&l.ID, &l.CourseID, &l.Title, &l.Order)
	if errors.Is(err, pgx.ErrNoRows) {
		return course.Lesson{}, course.ErrLessonNotFound
	}
	return l, err
}

func (t *pgTx) HasCompletion(ctx context.Context, enrollmentID, lessonID int64) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM lesson_completions WHERE enrollment_id = $1 AND lesson_id = $2)`,
		enrollmentID, lessonID).Scan(&ok)
	return ok, err
}

func (t *pgTx) CourseLessons(ctx context.Context, courseID int64) ([]course.Lesson, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, course_id, title, "order" FROM lessons
WHERE course_id = $1 AND deleted_at IS NULL ORDER BY "order", id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []course.Lesson
	for rows.Next() {
		var l course.Lesson
		if err := rows.Scan(&l.ID, &l.CourseID, &l.Title, &l.Order); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) CompletedLessonIDs(ctx context.Context, enrollmentID int64) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `SELECT lesson_id FROM lesson_completions WHERE enrollment_id = $1`, enrollmentID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (t *pgTx) InsertCompletion(ctx context.Context, enrollmentID, lessonID int64) (Completion, error) {
	c := Completion{EnrollmentID: enrollmentID, LessonID: lessonID}
	err := t.tx.QueryRow(ctx, `INSERT INTO lesson_completions (enrollment_id, lesson_id) VALUES ($1, $2)
RETURNING id, created_at`, enrollmentID, lessonID).Scan(&c.ID, &c.CompletedAt)
	if err != nil {
		return Completion{}, duplicateCompletion(err)
	}
	return c, nil
}

// duplicateCompletion maps a violation of the completion key to ErrDuplicateCompletion.
func duplicateCompletion(err error) error {
	if db.IsUniqueViolation(err) && db.ConstraintName(err) == completionConstraint {
		return fmt.Errorf("%w: %w", ErrDuplicateCompletion, err)
	}
	return err
}

func (t *pgTx) CountCompletions(ctx context.Context, enrollmentID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT count(*) FROM lesson_completions WHERE enrollment_id = $1`, enrollmentID).Scan(&n)
	return n, err
}

func (t *pgTx) MarkEnrollmentCompleted(ctx context.Context, enrollmentID int64) (time.Time, error) {
	var at time.Time
	err := t.tx.QueryRow(ctx, `UPDATE enrollments SET is_completed = true, completed_at = now(), updated_at = now()
WHERE id = $1 AND NOT is_completed RETURNING completed_at`, enrollmentID).Scan(&at)
	return at, err
}
