package enrollment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"enrollment-service/internal/metrics"

	"github.com/uptrace/bun"
)

// Repository is the bun-backed store of students, courses and
// enrollments. Calls made on the Repository handed to RunInTx's callback
// share one transaction.
type Repository interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
	Ping(ctx context.Context) error

	CreateStudent(ctx context.Context, student *Student) error
	GetStudentByID(ctx context.Context, id int64) (*Student, error)
	GetStudentByRoll(ctx context.Context, roll string) (*Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	UpdateStudent(ctx context.Context, student *Student) error
	DeleteStudent(ctx context.Context, id int64) error

	CreateCourse(ctx context.Context, course *Course) error
	GetCourseByID(ctx context.Context, id int64) (*Course, error)
	GetCourseByCode(ctx context.Context, code string) (*Course, error)
	ListCourses(ctx context.Context) ([]Course, error)
	UpdateCourse(ctx context.Context, course *Course) error
	DeleteCourse(ctx context.Context, id int64) error

	CreateEnrollments(ctx context.Context, studentID int64, courseIDs []int64) error
	FindEnrollment(ctx context.Context, studentID, courseID int64) (*Enrollment, error)
	DeleteEnrollment(ctx context.Context, id int64) error
	DeleteEnrollmentsByStudent(ctx context.Context, studentID int64) (int64, error)
	DeleteEnrollmentsByCourse(ctx context.Context, courseID int64) (int64, error)
	CoursesForStudent(ctx context.Context, studentID int64) ([]Course, error)
	StudentsForCourse(ctx context.Context, courseID int64) ([]Student, error)
}

type repository struct {
	db      *bun.DB
	conn    bun.IDB
	metrics *metrics.Metrics
}

func NewRepository(db *bun.DB, m *metrics.Metrics) Repository {
	return &repository{
		db:      db,
		conn:    db,
		metrics: m,
	}
}

func (r *repository) record(ctx context.Context, operation, table string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	// a missing row is an expected outcome, not a query error
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	r.metrics.Database.RecordQuery(ctx, operation, table, time.Since(start), err)
}

func (r *repository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &repository{db: r.db, conn: tx, metrics: r.metrics})
	})
}

func (r *repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *repository) CreateStudent(ctx context.Context, student *Student) error {
	start := time.Now()
	_, err := r.conn.NewInsert().Model(student).Returning("*").Exec(ctx)
	r.record(ctx, "insert", "students", start, err)
	return err
}

func (r *repository) GetStudentByID(ctx context.Context, id int64) (*Student, error) {
	start := time.Now()
	student := new(Student)
	err := r.conn.NewSelect().Model(student).Where("s.student_id = ?", id).Scan(ctx)
	r.record(ctx, "select", "students", start, err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return student, nil
}

func (r *repository) GetStudentByRoll(ctx context.Context, roll string) (*Student, error) {
	start := time.Now()
	student := new(Student)
	err := r.conn.NewSelect().Model(student).Where("s.roll_number = ?", roll).Scan(ctx)
	r.record(ctx, "select", "students", start, err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return student, nil
}

func (r *repository) ListStudents(ctx context.Context) ([]Student, error) {
	start := time.Now()
	students := make([]Student, 0)
	err := r.conn.NewSelect().Model(&students).Order("s.student_id ASC").Scan(ctx)
	r.record(ctx, "select", "students", start, err)
	return students, err
}

func (r *repository) UpdateStudent(ctx context.Context, student *Student) error {
	start := time.Now()
	result, err := r.conn.NewUpdate().
		Model(student).
		Column("roll_number", "first_name", "last_name").
		WherePK().
		Exec(ctx)
	r.record(ctx, "update", "students", start, err)

	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrStudentNotFound
	}
	return nil
}

func (r *repository) DeleteStudent(ctx context.Context, id int64) error {
	start := time.Now()
	result, err := r.conn.NewDelete().Model((*Student)(nil)).Where("student_id = ?", id).Exec(ctx)
	r.record(ctx, "delete", "students", start, err)

	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrStudentNotFound
	}
	return nil
}

func (r *repository) CreateCourse(ctx context.Context, course *Course) error {
	start := time.Now()
	_, err := r.conn.NewInsert().Model(course).Returning("*").Exec(ctx)
	r.record(ctx, "insert", "courses", start, err)
	return err
}

func (r *repository) GetCourseByID(ctx context.Context, id int64) (*Course, error) {
	start := time.Now()
	course := new(Course)
	err := r.conn.NewSelect().Model(course).Where("c.course_id = ?", id).Scan(ctx)
	r.record(ctx, "select", "courses", start, err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, err
	}
	return course, nil
}

func (r *repository) GetCourseByCode(ctx context.Context, code string) (*Course, error) {
	start := time.Now()
	course := new(Course)
	err := r.conn.NewSelect().Model(course).Where("c.course_code = ?", code).Scan(ctx)
	r.record(ctx, "select", "courses", start, err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, err
	}
	return course, nil
}

func (r *repository) ListCourses(ctx context.Context) ([]Course, error) {
	start := time.Now()
	courses := make([]Course, 0)
	err := r.conn.NewSelect().Model(&courses).Order("c.course_id ASC").Scan(ctx)
	r.record(ctx, "select", "courses", start, err)
	return courses, err
}

func (r *repository) UpdateCourse(ctx context.Context, course *Course) error {
	start := time.Now()
	result, err := r.conn.NewUpdate().
		Model(course).
		Column("course_name", "course_description").
		WherePK().
		Exec(ctx)
	r.record(ctx, "update", "courses", start, err)

	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrCourseNotFound
	}
	return nil
}

func (r *repository) DeleteCourse(ctx context.Context, id int64) error {
	start := time.Now()
	result, err := r.conn.NewDelete().Model((*Course)(nil)).Where("course_id = ?", id).Exec(ctx)
	r.record(ctx, "delete", "courses", start, err)

	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrCourseNotFound
	}
	return nil
}

func (r *repository) CreateEnrollments(ctx context.Context, studentID int64, courseIDs []int64) error {
	if len(courseIDs) == 0 {
		return nil
	}

	enrollments := make([]Enrollment, 0, len(courseIDs))
	for _, courseID := range courseIDs {
		enrollments = append(enrollments, Enrollment{StudentID: studentID, CourseID: courseID})
	}

	start := time.Now()
	_, err := r.conn.NewInsert().Model(&enrollments).Exec(ctx)
	r.record(ctx, "insert", "enrollments", start, err)
	return err
}

// FindEnrollment returns the oldest enrollment of the pair, or nil when
// the student is not enrolled in the course.
func (r *repository) FindEnrollment(ctx context.Context, studentID, courseID int64) (*Enrollment, error) {
	start := time.Now()
	enrollment := new(Enrollment)
	err := r.conn.NewSelect().
		Model(enrollment).
		Where("e.student_id = ?", studentID).
		Where("e.course_id = ?", courseID).
		Order("e.enrollment_id ASC").
		Limit(1).
		Scan(ctx)
	r.record(ctx, "select", "enrollments", start, err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return enrollment, nil
}

func (r *repository) DeleteEnrollment(ctx context.Context, id int64) error {
	start := time.Now()
	_, err := r.conn.NewDelete().Model((*Enrollment)(nil)).Where("enrollment_id = ?", id).Exec(ctx)
	r.record(ctx, "delete", "enrollments", start, err)
	return err
}

func (r *repository) DeleteEnrollmentsByStudent(ctx context.Context, studentID int64) (int64, error) {
	return r.deleteEnrollmentsWhere(ctx, "student_id = ?", studentID)
}

func (r *repository) DeleteEnrollmentsByCourse(ctx context.Context, courseID int64) (int64, error) {
	return r.deleteEnrollmentsWhere(ctx, "course_id = ?", courseID)
}

func (r *repository) deleteEnrollmentsWhere(ctx context.Context, query string, id int64) (int64, error) {
	start := time.Now()
	result, err := r.conn.NewDelete().Model((*Enrollment)(nil)).Where(query, id).Exec(ctx)
	r.record(ctx, "delete", "enrollments", start, err)

	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *repository) CoursesForStudent(ctx context.Context, studentID int64) ([]Course, error) {
	start := time.Now()
	enrolled := r.conn.NewSelect().
		Model((*Enrollment)(nil)).
		ColumnExpr("e.course_id").
		Where("e.student_id = ?", studentID)

	courses := make([]Course, 0)
	err := r.conn.NewSelect().
		Model(&courses).
		Where("c.course_id IN (?)", enrolled).
		Order("c.course_id ASC").
		Scan(ctx)
	r.record(ctx, "select", "courses", start, err)
	return courses, err
}

func (r *repository) StudentsForCourse(ctx context.Context, courseID int64) ([]Student, error) {
	start := time.Now()
	enrolled := r.conn.NewSelect().
		Model((*Enrollment)(nil)).
		ColumnExpr("e.student_id").
		Where("e.course_id = ?", courseID)

	students := make([]Student, 0)
	err := r.conn.NewSelect().
		Model(&students).
		Where("s.student_id IN (?)", enrolled).
		Order("s.student_id ASC").
		Scan(ctx)
	r.record(ctx, "select", "students", start, err)
	return students, err
}
