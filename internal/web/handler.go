package web

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"enrollment-service/internal/enrollment"
	"enrollment-service/internal/httputil"
	"enrollment-service/internal/view"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler serves the server-rendered pages. It calls the enrollment
// service and hands plain page data to the renderer.
type Handler struct {
	service  enrollment.Service
	renderer view.Renderer
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(service enrollment.Service, renderer view.Renderer, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		renderer: renderer,
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/", h.Index)

	router.Route("/student", func(r chi.Router) {
		r.Get("/create", h.NewStudent)
		r.Post("/create", h.CreateStudent)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.StudentDetail)
			r.Get("/update", h.EditStudent)
			r.Post("/update", h.UpdateStudent)
			r.Get("/delete", h.DeleteStudent)
			r.Post("/delete", h.DeleteStudent)
			r.Post("/withdraw/{courseID}", h.Withdraw)
		})
	})

	router.Get("/courses", h.Courses)

	router.Route("/course", func(r chi.Router) {
		r.Get("/create", h.NewCourse)
		r.Post("/create", h.CreateCourse)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.CourseDetail)
			r.Get("/update", h.EditCourse)
			r.Post("/update", h.UpdateCourse)
			r.Get("/delete", h.DeleteCourse)
			r.Post("/delete", h.DeleteCourse)
		})
	})
}

type studentForm struct {
	Roll      string `validate:"required"`
	FirstName string `validate:"required"`
	LastName  string
	CourseIDs []int64
}

type studentUpdateForm struct {
	Roll      string
	FirstName string `validate:"required"`
	LastName  string
	CourseIDs []int64
}

type courseForm struct {
	Code        string `validate:"required"`
	Name        string `validate:"required"`
	Description string
}

type courseUpdateForm struct {
	Name        string `validate:"required"`
	Description string
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	students, err := h.service.ListStudents(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err, "/")
		return
	}
	h.render(w, r, http.StatusOK, view.PageIndex, view.IndexData{Students: students})
}

func (h *Handler) NewStudent(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.ListCourses(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err, "/")
		return
	}
	h.render(w, r, http.StatusOK, view.PageStudentCreate, view.StudentFormData{Courses: courses})
}

func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "The form could not be read.")
		return
	}

	courseIDs, err := parseIDs(r.PostForm["courses"])
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "Invalid course selection.")
		return
	}

	form := studentForm{
		Roll:      strings.TrimSpace(r.PostForm.Get("roll")),
		FirstName: strings.TrimSpace(r.PostForm.Get("f_name")),
		LastName:  strings.TrimSpace(r.PostForm.Get("l_name")),
		CourseIDs: courseIDs,
	}
	if err := h.validate.Struct(&form); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "Roll number and first name are required.")
		return
	}

	h.logger.InfoContext(r.Context(), "creating student", "roll_number", form.Roll)
	_, err = h.service.CreateStudent(r.Context(), enrollment.StudentInput{
		Roll:      form.Roll,
		FirstName: form.FirstName,
		LastName:  form.LastName,
		CourseIDs: form.CourseIDs,
	})
	if err != nil {
		h.handleServiceError(w, r, err, "/student/create")
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) StudentDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IDParam(r, "id")
	if !ok {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "Invalid student ID.")
		return
	}

	detail, err := h.service.GetStudentDetail(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err, "/")
		return
	}
	h.render(w, r, http.StatusOK, view.PageStudentDetail, view.StudentDetailData{Detail: detail})
}

func (h *Handler) EditStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IDParam(r, "id")
	if !ok {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "Invalid student ID.")
		return
	}

	detail, err := h.service.GetStudentDetail(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err, "/")
		return
	}

	courses, err := h.service.ListCourses(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err, "/")
		return
	}

	enrolled := make(map[int64]bool, len(detail.Courses))
	for _, courseID := range detail.CourseIDs() {
		enrolled[courseID] = true
	}

	h.render(w, r, http.StatusOK, view.PageStudentUpdate, view.StudentFormData{
		Student:  &detail.Student,
		Courses:  courses,
		Enrolled: enrolled,
	})
}

func (h *Handler) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IDParam(r, "id")
	if !ok {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "Invalid student ID.")
		return
	}

	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "The form could not be read.")
		return
	}

	courseIDs, err := parseIDs(r.PostForm["courses"])
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "Invalid course selection.")
		return
	}

	form := studentUpdateForm{
		Roll:      strings.TrimSpace(r.PostForm.Get("roll")),
		FirstName: strings.TrimSpace(r.PostForm.Get("f_name")),
		LastName:  strings.TrimSpace(r.PostForm.Get("l_name")),
		CourseIDs: courseIDs,
	}
	if err := h.validate.Struct(&form); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "First name is required.")
		return
	}

	h.logger.InfoContext(r.Context(), "updating student", "student_id", id)
	_, err = h.service.UpdateStudent(r.Context(), id, enrollment.StudentInput{
		Roll:      form.Roll,
		FirstName: form.FirstName,
		LastName:  form.LastName,
		CourseIDs: form.CourseIDs,
	})
	if err != nil {
		h.handleServiceError(w, r, err, fmt.Sprintf("/student/%d/update", id))
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IDParam(r, "id")
	if !ok {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "Invalid student ID.")
		return
	}

	h.logger.InfoContext(r.Context(), "deleting student", "student_id", id)
	if err := h.service.DeleteStudent(r.Context(), id); err != nil {
		h.handleServiceError(w, r, err, "/")
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	studentID, ok := httputil.IDParam(r, "id")
	if !ok {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "Invalid student ID.")
		return
	}
	courseID, ok := httputil.IDParam(r, "courseID")
	if !ok {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "Invalid course ID.")
		return
	}

	if err := h.service.Withdraw(r.Context(), studentID, courseID); err != nil {
		h.handleServiceError(w, r, err, "/")
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/student/%d", studentID), http.StatusSeeOther)
}

func (h *Handler) Courses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.ListCourses(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err, "/")
		return
	}
	h.render(w, r, http.StatusOK, view.PageCourses, view.CoursesData{Courses: courses})
}

func (h *Handler) NewCourse(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, view.PageCourseCreate, view.CourseFormData{})
}

func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "The form could not be read.")
		return
	}

	form := courseForm{
		Code:        strings.TrimSpace(r.PostForm.Get("code")),
		Name:        strings.TrimSpace(r.PostForm.Get("c_name")),
		Description: strings.TrimSpace(r.PostForm.Get("desc")),
	}
	if err := h.validate.Struct(&form); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "Course code and name are required.")
		return
	}

	h.logger.InfoContext(r.Context(), "creating course", "course_code", form.Code)
	_, err := h.service.CreateCourse(r.Context(), enrollment.CourseInput{
		Code:        form.Code,
		Name:        form.Name,
		Description: form.Description,
	})
	if err != nil {
		h.handleServiceError(w, r, err, "/course/create")
		return
	}

	http.Redirect(w, r, "/courses", http.StatusSeeOther)
}

func (h *Handler) CourseDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IDParam(r, "id")
	if !ok {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "Invalid course ID.")
		return
	}

	detail, err := h.service.GetCourseDetail(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err, "/courses")
		return
	}
	h.render(w, r, http.StatusOK, view.PageCourseDetail, view.CourseDetailData{Detail: detail})
}

func (h *Handler) EditCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IDParam(r, "id")
	if !ok {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "Invalid course ID.")
		return
	}

	detail, err := h.service.GetCourseDetail(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err, "/courses")
		return
	}
	h.render(w, r, http.StatusOK, view.PageCourseUpdate, view.CourseFormData{Course: &detail.Course})
}

func (h *Handler) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IDParam(r, "id")
	if !ok {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "Invalid course ID.")
		return
	}

	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "The form could not be read.")
		return
	}

	form := courseUpdateForm{
		Name:        strings.TrimSpace(r.PostForm.Get("c_name")),
		Description: strings.TrimSpace(r.PostForm.Get("desc")),
	}
	if err := h.validate.Struct(&form); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "Course name is required.")
		return
	}

	h.logger.InfoContext(r.Context(), "updating course", "course_id", id)
	_, err := h.service.UpdateCourse(r.Context(), id, enrollment.CourseInput{
		Name:        form.Name,
		Description: form.Description,
	})
	if err != nil {
		h.handleServiceError(w, r, err, "/courses")
		return
	}

	http.Redirect(w, r, "/courses", http.StatusSeeOther)
}

func (h *Handler) DeleteCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IDParam(r, "id")
	if !ok {
		h.renderError(w, r, http.StatusBadRequest, "Bad request", "Invalid course ID.")
		return
	}

	h.logger.InfoContext(r.Context(), "deleting course", "course_id", id)
	if err := h.service.DeleteCourse(r.Context(), id); err != nil {
		h.handleServiceError(w, r, err, "/courses")
		return
	}

	http.Redirect(w, r, "/courses", http.StatusSeeOther)
}

// handleServiceError renders the outcome for a failed service call.
// Conflicts get the dedicated "already exists" page linking to backURL.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error, backURL string) {
	switch {
	case errors.Is(err, enrollment.ErrConflict):
		h.logger.InfoContext(r.Context(), "conflict", "error", err)
		h.render(w, r, http.StatusConflict, view.PageAlreadyExists, view.AlreadyExistsData{
			Message: conflictMessage(err),
			BackURL: backURL,
		})
	case errors.Is(err, enrollment.ErrNotFound):
		h.logger.InfoContext(r.Context(), "not found", "error", err)
		h.renderError(w, r, http.StatusNotFound, "Not found", capitalize(err.Error())+".")
	case errors.Is(err, enrollment.ErrInvalidInput):
		h.logger.InfoContext(r.Context(), "invalid input", "error", err)
		h.renderError(w, r, http.StatusBadRequest, "Bad request", capitalize(err.Error())+".")
	default:
		h.logger.ErrorContext(r.Context(), "internal error", "error", err, "path", r.URL.Path)
		h.renderError(w, r, http.StatusInternalServerError, "Internal server error", "Something went wrong.")
	}
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int, title, message string) {
	h.render(w, r, status, view.PageError, view.ErrorData{
		Status:  status,
		Title:   title,
		Message: message,
	})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page view.Page, data interface{}) {
	if err := h.renderer.Render(w, status, page, data); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to render page", "page", page, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, enrollment.ErrRollNumberExists):
		return "A student with this roll number already exists."
	case errors.Is(err, enrollment.ErrCourseCodeExists):
		return "A course with this code already exists."
	}
	return "This record already exists."
}

func parseIDs(values []string) ([]int64, error) {
	ids := make([]int64, 0, len(values))
	for _, v := range values {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: course id %q", enrollment.ErrInvalidInput, v)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
