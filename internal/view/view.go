package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"enrollment-service/internal/enrollment"
)

//go:embed templates/*.html
var templatesFS embed.FS

type Page string

const (
	PageIndex         Page = "index"
	PageStudentCreate Page = "student_create"
	PageStudentUpdate Page = "student_update"
	PageStudentDetail Page = "student_detail"
	PageCourses       Page = "courses"
	PageCourseCreate  Page = "course_create"
	PageCourseUpdate  Page = "course_update"
	PageCourseDetail  Page = "course_detail"
	PageAlreadyExists Page = "already_exists"
	PageError         Page = "error"
)

var pages = []Page{
	PageIndex,
	PageStudentCreate,
	PageStudentUpdate,
	PageStudentDetail,
	PageCourses,
	PageCourseCreate,
	PageCourseUpdate,
	PageCourseDetail,
	PageAlreadyExists,
	PageError,
}

// Renderer turns a page and its data into an HTML response.
type Renderer interface {
	Render(w http.ResponseWriter, status int, page Page, data interface{}) error
}

type IndexData struct {
	Students []enrollment.Student
}

type StudentFormData struct {
	Student  *enrollment.Student
	Courses  []enrollment.Course
	Enrolled map[int64]bool
	Error    string
}

type StudentDetailData struct {
	Detail *enrollment.StudentDetail
}

type CoursesData struct {
	Courses []enrollment.Course
}

type CourseFormData struct {
	Course *enrollment.Course
	Error  string
}

type CourseDetailData struct {
	Detail *enrollment.CourseDetail
}

type AlreadyExistsData struct {
	Message string
	BackURL string
}

type ErrorData struct {
	Status  int
	Title   string
	Message string
}

type HTMLRenderer struct {
	templates map[Page]*template.Template
}

func NewHTMLRenderer() (*HTMLRenderer, error) {
	templates := make(map[Page]*template.Template, len(pages))
	for _, page := range pages {
		tmpl, err := template.New("layout.html").ParseFS(templatesFS,
			"templates/layout.html",
			fmt.Sprintf("templates/%s.html", page),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", page, err)
		}
		templates[page] = tmpl
	}
	return &HTMLRenderer{templates: templates}, nil
}

// Render executes the page fully before writing, so a template error
// never leaves a half-written response behind.
func (r *HTMLRenderer) Render(w http.ResponseWriter, status int, page Page, data interface{}) error {
	tmpl, ok := r.templates[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", page, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
