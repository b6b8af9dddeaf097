package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"enrollment-service/internal/enrollment"
	"enrollment-service/internal/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	service  enrollment.Service
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(service enrollment.Service, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/students", h.ListStudents)
	router.Post("/students", h.CreateStudent)
	router.Get("/students/{id}", h.GetStudent)
	router.Put("/students/{id}", h.UpdateStudent)
	router.Delete("/students/{id}", h.DeleteStudent)
	router.Delete("/students/{id}/courses/{courseID}", h.Withdraw)

	router.Get("/courses", h.ListCourses)
	router.Post("/courses", h.CreateCourse)
	router.Get("/courses/{id}", h.GetCourse)
	router.Put("/courses/{id}", h.UpdateCourse)
	router.Delete("/courses/{id}", h.DeleteCourse)
}

type CreateStudentRequest struct {
	RollNumber string  `json:"rollNumber" validate:"required"`
	FirstName  string  `json:"firstName" validate:"required"`
	LastName   string  `json:"lastName"`
	CourseIDs  []int64 `json:"courseIds"`
}

// UpdateStudentRequest replaces the student's enrollments with CourseIDs.
// An empty RollNumber keeps the current one.
type UpdateStudentRequest struct {
	RollNumber string  `json:"rollNumber"`
	FirstName  string  `json:"firstName" validate:"required"`
	LastName   string  `json:"lastName"`
	CourseIDs  []int64 `json:"courseIds"`
}

type CreateCourseRequest struct {
	Code        string `json:"code" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

type UpdateCourseRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (h *Handler) decode(r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return false
	}
	return h.validate.Struct(dst) == nil
}

func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.service.ListStudents(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, students)
}

func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if !h.decode(r, &req) {
		httputil.RespondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	h.logger.InfoContext(r.Context(), "creating student", "roll_number", req.RollNumber)
	student, err := h.service.CreateStudent(r.Context(), enrollment.StudentInput{
		Roll:      req.RollNumber,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		CourseIDs: req.CourseIDs,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.RespondWithJSON(w, http.StatusCreated, student)
}

func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IDParam(r, "id")
	if !ok {
		httputil.RespondWithError(w, http.StatusBadRequest, "Invalid student ID")
		return
	}

	detail, err := h.service.GetStudentDetail(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, detail)
}

func (h *Handler) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IDParam(r, "id")
	if !ok {
		httputil.RespondWithError(w, http.StatusBadRequest, "Invalid student ID")
		return
	}

	var req UpdateStudentRequest
	if !h.decode(r, &req) {
		httputil.RespondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	h.logger.InfoContext(r.Context(), "updating student", "student_id", id)
	student, err := h.service.UpdateStudent(r.Context(), id, enrollment.StudentInput{
		Roll:      req.RollNumber,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		CourseIDs: req.CourseIDs,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.RespondWithJSON(w, http.StatusOK, student)
}

func (h *Handler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IDParam(r, "id")
	if !ok {
		httputil.RespondWithError(w, http.StatusBadRequest, "Invalid student ID")
		return
	}

	h.logger.InfoContext(r.Context(), "deleting student", "student_id", id)
	if err := h.service.DeleteStudent(r.Context(), id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	studentID, ok := httputil.IDParam(r, "id")
	if !ok {
		httputil.RespondWithError(w, http.StatusBadRequest, "Invalid student ID")
		return
	}
	courseID, ok := httputil.IDParam(r, "courseID")
	if !ok {
		httputil.RespondWithError(w, http.StatusBadRequest, "Invalid course ID")
		return
	}

	if err := h.service.Withdraw(r.Context(), studentID, courseID); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.ListCourses(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, courses)
}

func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var req CreateCourseRequest
	if !h.decode(r, &req) {
		httputil.RespondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	h.logger.InfoContext(r.Context(), "creating course", "course_code", req.Code)
	course, err := h.service.CreateCourse(r.Context(), enrollment.CourseInput{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.RespondWithJSON(w, http.StatusCreated, course)
}

func (h *Handler) GetCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IDParam(r, "id")
	if !ok {
		httputil.RespondWithError(w, http.StatusBadRequest, "Invalid course ID")
		return
	}

	detail, err := h.service.GetCourseDetail(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, detail)
}

func (h *Handler) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IDParam(r, "id")
	if !ok {
		httputil.RespondWithError(w, http.StatusBadRequest, "Invalid course ID")
		return
	}

	var req UpdateCourseRequest
	if !h.decode(r, &req) {
		httputil.RespondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	h.logger.InfoContext(r.Context(), "updating course", "course_id", id)
	course, err := h.service.UpdateCourse(r.Context(), id, enrollment.CourseInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.RespondWithJSON(w, http.StatusOK, course)
}

func (h *Handler) DeleteCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IDParam(r, "id")
	if !ok {
		httputil.RespondWithError(w, http.StatusBadRequest, "Invalid course ID")
		return
	}

	h.logger.InfoContext(r.Context(), "deleting course", "course_id", id)
	if err := h.service.DeleteCourse(r.Context(), id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, enrollment.ErrNotFound):
		h.logger.InfoContext(r.Context(), "not found", "error", err)
		httputil.RespondWithError(w, http.StatusNotFound, capitalize(err.Error()))
	case errors.Is(err, enrollment.ErrConflict):
		h.logger.InfoContext(r.Context(), "conflict", "error", err)
		httputil.RespondWithError(w, http.StatusConflict, capitalize(err.Error()))
	case errors.Is(err, enrollment.ErrInvalidInput):
		h.logger.InfoContext(r.Context(), "invalid input", "error", err)
		httputil.RespondWithError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "internal error", "error", err)
		httputil.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
