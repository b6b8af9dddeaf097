package enrollment_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"enrollment-service/internal/enrollment"
	"enrollment-service/internal/metrics"
	"enrollment-service/testing/testdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProducer struct {
	mu     sync.Mutex
	events []enrollment.Event
	err    error
}

func (p *recordingProducer) SendMessage(_ context.Context, key string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	event := value.(enrollment.Event)
	if key != event.Type {
		return errors.New("key does not match event type")
	}
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingProducer) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

func (p *recordingProducer) reset(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
	p.err = err
}

func countEnrollments(t *testing.T, pg *testdb.PostgresContainer, where string, args ...interface{}) int {
	t.Helper()

	q := pg.DB.NewSelect().Model((*enrollment.Enrollment)(nil))
	if where != "" {
		q = q.Where(where, args...)
	}
	n, err := q.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestEnrollmentService_Shared(t *testing.T) {
	pgContainer := testdb.SetupSharedPostgres(t)
	defer pgContainer.Cleanup(t)

	pgContainer.RunMigrations(t, enrollment.Models(), enrollment.Indexes()...)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	producer := &recordingProducer{}
	repo := enrollment.NewRepository(pgContainer.DB, metrics.NewMock())
	service := enrollment.NewService(repo, producer, metrics.NewMock(), logger)
	ctx := context.Background()

	reset := func(t *testing.T) {
		testdb.CleanupTables(t, pgContainer.DB, "enrollments", "students", "courses")
		producer.reset(nil)
	}

	mustCourse := func(t *testing.T, code, name string) *enrollment.Course {
		t.Helper()
		c, err := service.CreateCourse(ctx, enrollment.CourseInput{Code: code, Name: name})
		require.NoError(t, err)
		return c
	}

	t.Run("CreateStudent_WithEnrollments", func(t *testing.T) {
		reset(t)
		algebra := mustCourse(t, "C1", "Algebra")
		physics := mustCourse(t, "C2", "Physics")

		created, err := service.CreateStudent(ctx, enrollment.StudentInput{
			Roll:      "R1",
			FirstName: "Ann",
			LastName:  "Lee",
			CourseIDs: []int64{algebra.ID, physics.ID},
		})
		require.NoError(t, err)
		assert.NotZero(t, created.ID)

		detail, err := service.GetStudentDetail(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "R1", detail.Student.RollNumber)
		assert.Equal(t, "Ann", detail.Student.FirstName)
		assert.Equal(t, "Lee", detail.Student.LastName)
		assert.Equal(t, []int64{algebra.ID, physics.ID}, detail.CourseIDs())
		assert.Contains(t, producer.types(), enrollment.EventStudentCreated)
	})

	t.Run("CreateStudent_LastNameOptional", func(t *testing.T) {
		reset(t)

		created, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R1", FirstName: "Ann"})
		require.NoError(t, err)
		assert.Equal(t, "", created.LastName)

		detail, err := service.GetStudentDetail(ctx, created.ID)
		require.NoError(t, err)
		assert.NotNil(t, detail.Courses)
		assert.Empty(t, detail.Courses)
	})

	t.Run("CreateStudent_DuplicateRoll", func(t *testing.T) {
		reset(t)
		course := mustCourse(t, "C1", "Algebra")

		_, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R1", FirstName: "Ann"})
		require.NoError(t, err)
		producer.reset(nil)

		_, err = service.CreateStudent(ctx, enrollment.StudentInput{
			Roll:      "R1",
			FirstName: "Bob",
			CourseIDs: []int64{course.ID},
		})
		assert.ErrorIs(t, err, enrollment.ErrRollNumberExists)
		assert.ErrorIs(t, err, enrollment.ErrConflict)

		students, err := service.ListStudents(ctx)
		require.NoError(t, err)
		assert.Len(t, students, 1)
		assert.Equal(t, 0, countEnrollments(t, pgContainer, ""))
		assert.Empty(t, producer.types())
	})

	t.Run("CreateStudent_UnknownCourseRollsBack", func(t *testing.T) {
		reset(t)
		course := mustCourse(t, "C1", "Algebra")

		_, err := service.CreateStudent(ctx, enrollment.StudentInput{
			Roll:      "R1",
			FirstName: "Ann",
			CourseIDs: []int64{course.ID, 9999},
		})
		assert.ErrorIs(t, err, enrollment.ErrCourseNotFound)

		students, err := service.ListStudents(ctx)
		require.NoError(t, err)
		assert.Empty(t, students)
		assert.Equal(t, 0, countEnrollments(t, pgContainer, ""))
	})

	t.Run("CreateStudent_MissingFirstName", func(t *testing.T) {
		reset(t)

		_, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R1", FirstName: "   "})
		assert.ErrorIs(t, err, enrollment.ErrInvalidInput)
	})

	t.Run("UpdateStudent_ClearEnrollments", func(t *testing.T) {
		reset(t)
		a := mustCourse(t, "A", "Algebra")
		b := mustCourse(t, "B", "Biology")

		ann, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R1", FirstName: "Ann", CourseIDs: []int64{a.ID, b.ID}})
		require.NoError(t, err)
		bob, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R2", FirstName: "Bob", CourseIDs: []int64{a.ID}})
		require.NoError(t, err)

		updated, err := service.UpdateStudent(ctx, ann.ID, enrollment.StudentInput{FirstName: "Anna", CourseIDs: nil})
		require.NoError(t, err)
		assert.Equal(t, "Anna", updated.FirstName)
		assert.Equal(t, "R1", updated.RollNumber)

		assert.Equal(t, 0, countEnrollments(t, pgContainer, "student_id = ?", ann.ID))
		assert.Equal(t, 1, countEnrollments(t, pgContainer, "student_id = ?", bob.ID))
	})

	t.Run("UpdateStudent_ReplacesSet", func(t *testing.T) {
		reset(t)
		a := mustCourse(t, "A", "Algebra")
		b := mustCourse(t, "B", "Biology")
		c := mustCourse(t, "C", "Chemistry")

		ann, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R1", FirstName: "Ann", CourseIDs: []int64{a.ID, b.ID}})
		require.NoError(t, err)

		_, err = service.UpdateStudent(ctx, ann.ID, enrollment.StudentInput{FirstName: "Ann", CourseIDs: []int64{b.ID, c.ID}})
		require.NoError(t, err)

		detail, err := service.GetStudentDetail(ctx, ann.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{b.ID, c.ID}, detail.CourseIDs())
	})

	t.Run("UpdateStudent_ChangeRoll", func(t *testing.T) {
		reset(t)

		ann, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R1", FirstName: "Ann"})
		require.NoError(t, err)
		_, err = service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R2", FirstName: "Bob"})
		require.NoError(t, err)

		_, err = service.UpdateStudent(ctx, ann.ID, enrollment.StudentInput{Roll: "R2", FirstName: "Ann"})
		assert.ErrorIs(t, err, enrollment.ErrRollNumberExists)

		updated, err := service.UpdateStudent(ctx, ann.ID, enrollment.StudentInput{Roll: "R9", FirstName: "Ann"})
		require.NoError(t, err)
		assert.Equal(t, "R9", updated.RollNumber)
	})

	t.Run("UpdateStudent_NotFound", func(t *testing.T) {
		reset(t)

		_, err := service.UpdateStudent(ctx, 42, enrollment.StudentInput{FirstName: "Ghost"})
		assert.ErrorIs(t, err, enrollment.ErrStudentNotFound)
		assert.ErrorIs(t, err, enrollment.ErrNotFound)
	})

	t.Run("DeleteStudent_Cascades", func(t *testing.T) {
		reset(t)
		a := mustCourse(t, "A", "Algebra")

		ann, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R1", FirstName: "Ann", CourseIDs: []int64{a.ID}})
		require.NoError(t, err)
		bob, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R2", FirstName: "Bob", CourseIDs: []int64{a.ID}})
		require.NoError(t, err)

		require.NoError(t, service.DeleteStudent(ctx, ann.ID))

		_, err = service.GetStudentDetail(ctx, ann.ID)
		assert.ErrorIs(t, err, enrollment.ErrStudentNotFound)
		assert.Equal(t, 0, countEnrollments(t, pgContainer, "student_id = ?", ann.ID))

		bobDetail, err := service.GetStudentDetail(ctx, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{a.ID}, bobDetail.CourseIDs())

		courses, err := service.ListCourses(ctx)
		require.NoError(t, err)
		assert.Len(t, courses, 1)
	})

	t.Run("DeleteStudent_NotFound", func(t *testing.T) {
		reset(t)

		err := service.DeleteStudent(ctx, 7)
		assert.ErrorIs(t, err, enrollment.ErrStudentNotFound)
	})

	t.Run("DeleteCourse_Cascades", func(t *testing.T) {
		reset(t)
		a := mustCourse(t, "A", "Algebra")
		b := mustCourse(t, "B", "Biology")

		ann, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R1", FirstName: "Ann", CourseIDs: []int64{a.ID, b.ID}})
		require.NoError(t, err)

		require.NoError(t, service.DeleteCourse(ctx, a.ID))

		detail, err := service.GetStudentDetail(ctx, ann.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{b.ID}, detail.CourseIDs())
		assert.Equal(t, 0, countEnrollments(t, pgContainer, "course_id = ?", a.ID))

		_, err = service.GetCourseDetail(ctx, a.ID)
		assert.ErrorIs(t, err, enrollment.ErrCourseNotFound)
	})

	t.Run("DeleteCourse_NotFound", func(t *testing.T) {
		reset(t)

		assert.ErrorIs(t, service.DeleteCourse(ctx, 3), enrollment.ErrCourseNotFound)
	})

	t.Run("CreateCourse_DuplicateCode", func(t *testing.T) {
		reset(t)
		mustCourse(t, "C1", "Algebra")

		_, err := service.CreateCourse(ctx, enrollment.CourseInput{Code: "C1", Name: "Other"})
		assert.ErrorIs(t, err, enrollment.ErrCourseCodeExists)
		assert.ErrorIs(t, err, enrollment.ErrConflict)

		courses, err := service.ListCourses(ctx)
		require.NoError(t, err)
		assert.Len(t, courses, 1)
	})

	t.Run("UpdateCourse", func(t *testing.T) {
		reset(t)
		c := mustCourse(t, "C1", "Algebra")

		updated, err := service.UpdateCourse(ctx, c.ID, enrollment.CourseInput{Name: "Linear Algebra", Description: "Vectors"})
		require.NoError(t, err)
		assert.Equal(t, "C1", updated.Code)
		assert.Equal(t, "Linear Algebra", updated.Name)
		assert.Equal(t, "Vectors", updated.Description)

		_, err = service.UpdateCourse(ctx, 999, enrollment.CourseInput{Name: "x"})
		assert.ErrorIs(t, err, enrollment.ErrCourseNotFound)
	})

	t.Run("GetCourseDetail", func(t *testing.T) {
		reset(t)
		c := mustCourse(t, "C1", "Algebra")

		ann, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R1", FirstName: "Ann", CourseIDs: []int64{c.ID}})
		require.NoError(t, err)
		_, err = service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R2", FirstName: "Bob"})
		require.NoError(t, err)

		detail, err := service.GetCourseDetail(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "Algebra", detail.Course.Name)
		require.Len(t, detail.Students, 1)
		assert.Equal(t, ann.ID, detail.Students[0].ID)
	})

	t.Run("Withdraw", func(t *testing.T) {
		reset(t)
		a := mustCourse(t, "A", "Algebra")
		b := mustCourse(t, "B", "Biology")

		ann, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R1", FirstName: "Ann", CourseIDs: []int64{a.ID, b.ID}})
		require.NoError(t, err)
		producer.reset(nil)

		require.NoError(t, service.Withdraw(ctx, ann.ID, a.ID))

		detail, err := service.GetStudentDetail(ctx, ann.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{b.ID}, detail.CourseIDs())
		assert.Equal(t, []string{enrollment.EventEnrollmentWithdrawn}, producer.types())
	})

	t.Run("Withdraw_NoMatchIsNoop", func(t *testing.T) {
		reset(t)
		a := mustCourse(t, "A", "Algebra")
		b := mustCourse(t, "B", "Biology")

		ann, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R1", FirstName: "Ann", CourseIDs: []int64{a.ID}})
		require.NoError(t, err)
		producer.reset(nil)

		require.NoError(t, service.Withdraw(ctx, ann.ID, b.ID))
		require.NoError(t, service.Withdraw(ctx, 12345, a.ID))

		assert.Equal(t, 1, countEnrollments(t, pgContainer, ""))
		assert.Empty(t, producer.types())
	})

	t.Run("Withdraw_DuplicateRemovesOne", func(t *testing.T) {
		reset(t)
		a := mustCourse(t, "A", "Algebra")

		ann, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R1", FirstName: "Ann", CourseIDs: []int64{a.ID, a.ID}})
		require.NoError(t, err)
		require.Equal(t, 2, countEnrollments(t, pgContainer, "student_id = ?", ann.ID))

		detail, err := service.GetStudentDetail(ctx, ann.ID)
		require.NoError(t, err)
		assert.Len(t, detail.Courses, 1)

		require.NoError(t, service.Withdraw(ctx, ann.ID, a.ID))
		assert.Equal(t, 1, countEnrollments(t, pgContainer, "student_id = ?", ann.ID))
	})

	t.Run("ListStudents_OrderedByID", func(t *testing.T) {
		reset(t)

		for _, roll := range []string{"R3", "R1", "R2"} {
			_, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: roll, FirstName: "S" + roll})
			require.NoError(t, err)
		}

		students, err := service.ListStudents(ctx)
		require.NoError(t, err)
		require.Len(t, students, 3)
		assert.Equal(t, "R3", students[0].RollNumber)
		assert.Equal(t, "R1", students[1].RollNumber)
		assert.Equal(t, "R2", students[2].RollNumber)
		assert.Less(t, students[0].ID, students[1].ID)
		assert.Less(t, students[1].ID, students[2].ID)
	})

	t.Run("PublishFailureKeepsCommit", func(t *testing.T) {
		reset(t)
		producer.reset(errors.New("broker down"))

		created, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R1", FirstName: "Ann"})
		require.NoError(t, err)

		_, err = service.GetStudentDetail(ctx, created.ID)
		assert.NoError(t, err)
	})

	t.Run("WorkedExample", func(t *testing.T) {
		reset(t)

		ann, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R1", FirstName: "Ann"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), ann.ID)

		algebra, err := service.CreateCourse(ctx, enrollment.CourseInput{Code: "C1", Name: "Algebra"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), algebra.ID)

		_, err = service.UpdateStudent(ctx, 1, enrollment.StudentInput{FirstName: "Ann", CourseIDs: []int64{1}})
		require.NoError(t, err)

		detail, err := service.GetStudentDetail(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), detail.Student.ID)
		assert.Equal(t, []int64{1}, detail.CourseIDs())

		require.NoError(t, service.DeleteCourse(ctx, 1))

		detail, err = service.GetStudentDetail(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), detail.Student.ID)
		assert.Empty(t, detail.Courses)
	})
}
