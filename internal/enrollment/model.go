package enrollment

import (
	"time"

	"enrollment-service/internal/db"

	"github.com/uptrace/bun"
)

type Student struct {
	bun.BaseModel `bun:"table:students,alias:s"`

	ID         int64  `bun:"student_id,pk,autoincrement" json:"id"`
	RollNumber string `bun:"roll_number,unique,notnull" json:"rollNumber"`
	FirstName  string `bun:"first_name,notnull" json:"firstName"`
	LastName   string `bun:"last_name,notnull,default:''" json:"lastName"`
}

type Course struct {
	bun.BaseModel `bun:"table:courses,alias:c"`

	ID          int64  `bun:"course_id,pk,autoincrement" json:"id"`
	Code        string `bun:"course_code,unique,notnull" json:"code"`
	Name        string `bun:"course_name,notnull" json:"name"`
	Description string `bun:"course_description,notnull,default:''" json:"description"`
}

// Enrollment links one student to one course. The same pair may appear
// more than once.
type Enrollment struct {
	bun.BaseModel `bun:"table:enrollments,alias:e"`

	ID        int64 `bun:"enrollment_id,pk,autoincrement" json:"id"`
	StudentID int64 `bun:"student_id,notnull" json:"studentId"`
	CourseID  int64 `bun:"course_id,notnull" json:"courseId"`

	Student *Student `bun:"rel:belongs-to,join:student_id=student_id" json:"-"`
	Course  *Course  `bun:"rel:belongs-to,join:course_id=course_id" json:"-"`
}

type StudentDetail struct {
	Student Student  `json:"student"`
	Courses []Course `json:"courses"`
}

// CourseIDs returns the ids of the courses in d.
func (d *StudentDetail) CourseIDs() []int64 {
	ids := make([]int64, 0, len(d.Courses))
	for _, c := range d.Courses {
		ids = append(ids, c.ID)
	}
	return ids
}

type CourseDetail struct {
	Course   Course    `json:"course"`
	Students []Student `json:"students"`
}

type StudentInput struct {
	Roll      string
	FirstName string
	LastName  string
	CourseIDs []int64
}

type CourseInput struct {
	Code        string
	Name        string
	Description string
}

// Event types published after a committed mutation.
const (
	EventStudentCreated      = "student.created"
	EventStudentUpdated      = "student.updated"
	EventStudentDeleted      = "student.deleted"
	EventCourseCreated       = "course.created"
	EventCourseUpdated       = "course.updated"
	EventCourseDeleted       = "course.deleted"
	EventEnrollmentWithdrawn = "enrollment.withdrawn"
)

type Event struct {
	Type       string    `json:"type"`
	StudentID  int64     `json:"studentId,omitempty"`
	CourseID   int64     `json:"courseId,omitempty"`
	CourseIDs  []int64   `json:"courseIds,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Models lists the tables in creation order.
func Models() []interface{} {
	return []interface{}{
		(*Student)(nil),
		(*Course)(nil),
		(*Enrollment)(nil),
	}
}

func Indexes() []db.Index {
	return []db.Index{
		{Model: (*Enrollment)(nil), Name: "enrollments_student_id_idx", Columns: []string{"student_id"}},
		{Model: (*Enrollment)(nil), Name: "enrollments_course_id_idx", Columns: []string{"course_id"}},
	}
}
