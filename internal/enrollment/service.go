package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"enrollment-service/internal/metrics"
)

// Producer publishes committed domain events (NATS or Kafka).
type Producer interface {
	SendMessage(ctx context.Context, key string, value interface{}) error
}

// NopProducer drops every event. Used when messaging is disabled.
type NopProducer struct{}

func (NopProducer) SendMessage(context.Context, string, interface{}) error { return nil }

// Service is the enrollment data service. Every mutation is one unit of
// work: either all of its writes are visible or none are.
type Service interface {
	CreateStudent(ctx context.Context, in StudentInput) (*Student, error)
	UpdateStudent(ctx context.Context, id int64, in StudentInput) (*Student, error)
	DeleteStudent(ctx context.Context, id int64) error
	GetStudentDetail(ctx context.Context, id int64) (*StudentDetail, error)
	ListStudents(ctx context.Context) ([]Student, error)

	CreateCourse(ctx context.Context, in CourseInput) (*Course, error)
	UpdateCourse(ctx context.Context, id int64, in CourseInput) (*Course, error)
	DeleteCourse(ctx context.Context, id int64) error
	GetCourseDetail(ctx context.Context, id int64) (*CourseDetail, error)
	ListCourses(ctx context.Context) ([]Course, error)

	Withdraw(ctx context.Context, studentID, courseID int64) error
}

type service struct {
	repo     Repository
	producer Producer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, producer Producer, m *metrics.Metrics, logger *slog.Logger) Service {
	if producer == nil {
		producer = NopProducer{}
	}
	if m == nil {
		m = metrics.NewMock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		repo:     repo,
		producer: producer,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *service) CreateStudent(ctx context.Context, in StudentInput) (*Student, error) {
	in = in.trimmed()
	if in.Roll == "" || in.FirstName == "" {
		return nil, fmt.Errorf("%w: roll number and first name are required", ErrInvalidInput)
	}

	student := &Student{
		RollNumber: in.Roll,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
	}

	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		// friendly error only, the unique constraint is the real guard
		if err := ensureRollFree(ctx, tx, in.Roll, 0); err != nil {
			return err
		}
		if err := tx.CreateStudent(ctx, student); err != nil {
			return classify(err, ErrRollNumberExists, nil)
		}
		if err := tx.CreateEnrollments(ctx, student.ID, in.CourseIDs); err != nil {
			return classify(err, nil, ErrCourseNotFound)
		}
		return nil
	})
	if err != nil {
		s.recordConflict(ctx, err, "roll_number")
		return nil, err
	}

	s.logger.InfoContext(ctx, "student created",
		"student_id", student.ID, "roll_number", student.RollNumber, "courses", len(in.CourseIDs))
	s.metrics.Enrollment.RecordStudentMutation(ctx, "create")
	s.publish(ctx, Event{Type: EventStudentCreated, StudentID: student.ID, CourseIDs: in.CourseIDs})

	return student, nil
}

func (s *service) UpdateStudent(ctx context.Context, id int64, in StudentInput) (*Student, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	in = in.trimmed()
	if in.FirstName == "" {
		return nil, fmt.Errorf("%w: first name is required", ErrInvalidInput)
	}

	var student *Student
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		student, err = tx.GetStudentByID(ctx, id)
		if err != nil {
			return err
		}

		if in.Roll != "" && in.Roll != student.RollNumber {
			if err := ensureRollFree(ctx, tx, in.Roll, id); err != nil {
				return err
			}
			student.RollNumber = in.Roll
		}
		student.FirstName = in.FirstName
		student.LastName = in.LastName

		if err := tx.UpdateStudent(ctx, student); err != nil {
			return classify(err, ErrRollNumberExists, nil)
		}

		// full replace, not a diff against the previous set
		if _, err := tx.DeleteEnrollmentsByStudent(ctx, id); err != nil {
			return err
		}
		if err := tx.CreateEnrollments(ctx, id, in.CourseIDs); err != nil {
			return classify(err, nil, ErrCourseNotFound)
		}
		return nil
	})
	if err != nil {
		s.recordConflict(ctx, err, "roll_number")
		return nil, err
	}

	s.logger.InfoContext(ctx, "student updated", "student_id", id, "courses", len(in.CourseIDs))
	s.metrics.Enrollment.RecordStudentMutation(ctx, "update")
	s.publish(ctx, Event{Type: EventStudentUpdated, StudentID: id, CourseIDs: in.CourseIDs})

	return student, nil
}

func (s *service) DeleteStudent(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}

	var removed int64
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.GetStudentByID(ctx, id); err != nil {
			return err
		}

		var err error
		removed, err = tx.DeleteEnrollmentsByStudent(ctx, id)
		if err != nil {
			return err
		}
		return tx.DeleteStudent(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "student deleted", "student_id", id, "enrollments_removed", removed)
	s.metrics.Enrollment.RecordStudentMutation(ctx, "delete")
	s.publish(ctx, Event{Type: EventStudentDeleted, StudentID: id})

	return nil
}

func (s *service) GetStudentDetail(ctx context.Context, id int64) (*StudentDetail, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}

	student, err := s.repo.GetStudentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	courses, err := s.repo.CoursesForStudent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load courses of student %d: %w", id, err)
	}

	return &StudentDetail{Student: *student, Courses: courses}, nil
}

func (s *service) ListStudents(ctx context.Context) ([]Student, error) {
	return s.repo.ListStudents(ctx)
}

func (s *service) CreateCourse(ctx context.Context, in CourseInput) (*Course, error) {
	in = in.trimmed()
	if in.Code == "" || in.Name == "" {
		return nil, fmt.Errorf("%w: course code and name are required", ErrInvalidInput)
	}

	course := &Course{
		Code:        in.Code,
		Name:        in.Name,
		Description: in.Description,
	}

	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		_, err := tx.GetCourseByCode(ctx, in.Code)
		switch {
		case err == nil:
			return ErrCourseCodeExists
		case !errors.Is(err, ErrCourseNotFound):
			return err
		}
		return classify(tx.CreateCourse(ctx, course), ErrCourseCodeExists, nil)
	})
	if err != nil {
		s.recordConflict(ctx, err, "course_code")
		return nil, err
	}

	s.logger.InfoContext(ctx, "course created", "course_id", course.ID, "course_code", course.Code)
	s.metrics.Enrollment.RecordCourseMutation(ctx, "create")
	s.publish(ctx, Event{Type: EventCourseCreated, CourseID: course.ID})

	return course, nil
}

func (s *service) UpdateCourse(ctx context.Context, id int64, in CourseInput) (*Course, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	in = in.trimmed()
	if in.Name == "" {
		return nil, fmt.Errorf("%w: course name is required", ErrInvalidInput)
	}

	var course *Course
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		course, err = tx.GetCourseByID(ctx, id)
		if err != nil {
			return err
		}

		course.Name = in.Name
		course.Description = in.Description
		return tx.UpdateCourse(ctx, course)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "course updated", "course_id", id)
	s.metrics.Enrollment.RecordCourseMutation(ctx, "update")
	s.publish(ctx, Event{Type: EventCourseUpdated, CourseID: id})

	return course, nil
}

func (s *service) DeleteCourse(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}

	var removed int64
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.GetCourseByID(ctx, id); err != nil {
			return err
		}

		var err error
		removed, err = tx.DeleteEnrollmentsByCourse(ctx, id)
		if err != nil {
			return err
		}
		return tx.DeleteCourse(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "course deleted", "course_id", id, "enrollments_removed", removed)
	s.metrics.Enrollment.RecordCourseMutation(ctx, "delete")
	s.publish(ctx, Event{Type: EventCourseDeleted, CourseID: id})

	return nil
}

func (s *service) GetCourseDetail(ctx context.Context, id int64) (*CourseDetail, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}

	course, err := s.repo.GetCourseByID(ctx, id)
	if err != nil {
		return nil, err
	}

	students, err := s.repo.StudentsForCourse(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load students of course %d: %w", id, err)
	}

	return &CourseDetail{Course: *course, Students: students}, nil
}

func (s *service) ListCourses(ctx context.Context) ([]Course, error) {
	return s.repo.ListCourses(ctx)
}

// Withdraw removes one enrollment of the pair. Nothing happens when the
// student is not enrolled in the course.
func (s *service) Withdraw(ctx context.Context, studentID, courseID int64) error {
	if studentID <= 0 || courseID <= 0 {
		return ErrInvalidInput
	}

	withdrawn := false
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		enrollment, err := tx.FindEnrollment(ctx, studentID, courseID)
		if err != nil || enrollment == nil {
			return err
		}

		withdrawn = true
		return tx.DeleteEnrollment(ctx, enrollment.ID)
	})
	if err != nil {
		return err
	}

	if !withdrawn {
		s.logger.DebugContext(ctx, "withdraw matched no enrollment", "student_id", studentID, "course_id", courseID)
		return nil
	}

	s.logger.InfoContext(ctx, "student withdrawn from course", "student_id", studentID, "course_id", courseID)
	s.metrics.Enrollment.RecordWithdrawal(ctx)
	s.publish(ctx, Event{Type: EventEnrollmentWithdrawn, StudentID: studentID, CourseID: courseID})

	return nil
}

func ensureRollFree(ctx context.Context, tx Repository, roll string, selfID int64) error {
	existing, err := tx.GetStudentByRoll(ctx, roll)
	switch {
	case errors.Is(err, ErrStudentNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != selfID:
		return ErrRollNumberExists
	}
	return nil
}

// publish is best-effort: the unit of work is already committed.
func (s *service) publish(ctx context.Context, event Event) {
	event.OccurredAt = s.now().UTC()

	start := time.Now()
	err := s.producer.SendMessage(ctx, event.Type, event)
	s.metrics.Messaging.RecordPublish(ctx, event.Type, time.Since(start), err)

	if err != nil {
		s.logger.WarnContext(ctx, "failed to publish event", "type", event.Type, "error", err)
	}
}

func (s *service) recordConflict(ctx context.Context, err error, key string) {
	if errors.Is(err, ErrConflict) {
		s.logger.InfoContext(ctx, "duplicate business key rejected", "key", key)
		s.metrics.Enrollment.RecordConflict(ctx, key)
	}
}

func (in StudentInput) trimmed() StudentInput {
	in.Roll = strings.TrimSpace(in.Roll)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	return in
}

func (in CourseInput) trimmed() CourseInput {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	return in
}
