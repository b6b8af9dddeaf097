package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"enrollment-service/internal/api"
	"enrollment-service/internal/enrollment"
	"enrollment-service/internal/messaging"
	"enrollment-service/internal/metrics"
	"enrollment-service/testing/testdb"
	"enrollment-service/testing/testnats"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doJSON(t *testing.T, router http.Handler, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAPIHandler_Shared(t *testing.T) {
	pgContainer := testdb.SetupSharedPostgres(t)
	defer pgContainer.Cleanup(t)

	natsContainer := testnats.SetupSharedNATS(t)
	defer natsContainer.Cleanup(t)

	pgContainer.RunMigrations(t, enrollment.Models(), enrollment.Indexes()...)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	producer, err := messaging.NewProducer(natsContainer.URL, "enrollment.test", logger)
	require.NoError(t, err)
	defer producer.Close()

	repo := enrollment.NewRepository(pgContainer.DB, metrics.NewMock())
	service := enrollment.NewService(repo, producer, metrics.NewMock(), logger)

	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		api.NewHandler(service, logger).RegisterRoutes(r)
	})

	nc := natsContainer.Connect(t)
	ctx := context.Background()

	reset := func(t *testing.T) {
		testdb.CleanupTables(t, pgContainer.DB, "enrollments", "students", "courses")
	}

	t.Run("CreateStudent_PublishesEvent", func(t *testing.T) {
		reset(t)

		received := make(chan *nats.Msg, 1)
		sub, err := nc.Subscribe("enrollment.test.student.created", func(msg *nats.Msg) {
			received <- msg
		})
		require.NoError(t, err)
		defer sub.Unsubscribe()
		require.NoError(t, nc.Flush())

		course, err := service.CreateCourse(ctx, enrollment.CourseInput{Code: "C1", Name: "Algebra"})
		require.NoError(t, err)

		w := doJSON(t, router, http.MethodPost, "/api/students", api.CreateStudentRequest{
			RollNumber: "R1",
			FirstName:  "Ann",
			CourseIDs:  []int64{course.ID},
		})
		require.Equal(t, http.StatusCreated, w.Code)

		var student enrollment.Student
		require.NoError(t, json.NewDecoder(w.Body).Decode(&student))
		assert.Equal(t, "R1", student.RollNumber)
		assert.NotZero(t, student.ID)

		select {
		case msg := <-received:
			var event enrollment.Event
			require.NoError(t, json.Unmarshal(msg.Data, &event))
			assert.Equal(t, enrollment.EventStudentCreated, event.Type)
			assert.Equal(t, student.ID, event.StudentID)
			assert.Equal(t, []int64{course.ID}, event.CourseIDs)
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for student.created event")
		}
	})

	t.Run("CreateStudent_Validation", func(t *testing.T) {
		reset(t)

		w := doJSON(t, router, http.MethodPost, "/api/students", map[string]string{"rollNumber": "R1"})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		req := httptest.NewRequest(http.MethodPost, "/api/students", bytes.NewBufferString("{not json"))
		w = httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("CreateStudent_Conflict", func(t *testing.T) {
		reset(t)
		_, err := service.CreateStudent(ctx, enrollment.StudentInput{Roll: "R1", FirstName: "Ann"})
		require.NoError(t, err)

		w := doJSON(t, router, http.MethodPost, "/api/students", api.CreateStudentRequest{
			RollNumber: "R1",
			FirstName:  "Bob",
		})
		assert.Equal(t, http.StatusConflict, w.Code)

		var resp map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Contains(t, resp["error"], "already exists")
	})

	t.Run("GetStudent", func(t *testing.T) {
		reset(t)
		course, err := service.CreateCourse(ctx, enrollment.CourseInput{Code: "C1", Name: "Algebra"})
		require.NoError(t, err)
		student, err := service.CreateStudent(ctx, enrollment.StudentInput{
			Roll: "R1", FirstName: "Ann", CourseIDs: []int64{course.ID},
		})
		require.NoError(t, err)

		w := doJSON(t, router, http.MethodGet, "/api/students/"+strconv.FormatInt(student.ID, 10), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var detail enrollment.StudentDetail
		require.NoError(t, json.NewDecoder(w.Body).Decode(&detail))
		assert.Equal(t, "Ann", detail.Student.FirstName)
		require.Len(t, detail.Courses, 1)
		assert.Equal(t, "C1", detail.Courses[0].Code)

		w = doJSON(t, router, http.MethodGet, "/api/students/999999", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = doJSON(t, router, http.MethodGet, "/api/students/0", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("UpdateStudent", func(t *testing.T) {
		reset(t)
		c1, err := service.CreateCourse(ctx, enrollment.CourseInput{Code: "C1", Name: "Algebra"})
		require.NoError(t, err)
		c2, err := service.CreateCourse(ctx, enrollment.CourseInput{Code: "C2", Name: "Biology"})
		require.NoError(t, err)
		student, err := service.CreateStudent(ctx, enrollment.StudentInput{
			Roll: "R1", FirstName: "Ann", CourseIDs: []int64{c1.ID},
		})
		require.NoError(t, err)

		w := doJSON(t, router, http.MethodPut, "/api/students/"+strconv.FormatInt(student.ID, 10), api.UpdateStudentRequest{
			FirstName: "Anna",
			LastName:  "Lee",
			CourseIDs: []int64{c2.ID},
		})
		require.Equal(t, http.StatusOK, w.Code)

		detail, err := service.GetStudentDetail(ctx, student.ID)
		require.NoError(t, err)
		assert.Equal(t, "Anna", detail.Student.FirstName)
		assert.Equal(t, "Lee", detail.Student.LastName)
		assert.Equal(t, []int64{c2.ID}, detail.CourseIDs())
	})

	t.Run("WithdrawAndDelete", func(t *testing.T) {
		reset(t)
		course, err := service.CreateCourse(ctx, enrollment.CourseInput{Code: "C1", Name: "Algebra"})
		require.NoError(t, err)
		student, err := service.CreateStudent(ctx, enrollment.StudentInput{
			Roll: "R1", FirstName: "Ann", CourseIDs: []int64{course.ID},
		})
		require.NoError(t, err)

		sid := strconv.FormatInt(student.ID, 10)
		cid := strconv.FormatInt(course.ID, 10)

		w := doJSON(t, router, http.MethodDelete, "/api/students/"+sid+"/courses/"+cid, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		detail, err := service.GetStudentDetail(ctx, student.ID)
		require.NoError(t, err)
		assert.Empty(t, detail.Courses)

		w = doJSON(t, router, http.MethodDelete, "/api/students/"+sid, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = doJSON(t, router, http.MethodDelete, "/api/students/"+sid, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Courses", func(t *testing.T) {
		reset(t)

		w := doJSON(t, router, http.MethodPost, "/api/courses", api.CreateCourseRequest{
			Code: "C1", Name: "Algebra", Description: "Linear",
		})
		require.Equal(t, http.StatusCreated, w.Code)

		var course enrollment.Course
		require.NoError(t, json.NewDecoder(w.Body).Decode(&course))
		cid := strconv.FormatInt(course.ID, 10)

		w = doJSON(t, router, http.MethodPost, "/api/courses", api.CreateCourseRequest{Code: "C1", Name: "Other"})
		assert.Equal(t, http.StatusConflict, w.Code)

		w = doJSON(t, router, http.MethodPut, "/api/courses/"+cid, api.UpdateCourseRequest{Name: "Geometry"})
		require.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, router, http.MethodGet, "/api/courses", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var courses []enrollment.Course
		require.NoError(t, json.NewDecoder(w.Body).Decode(&courses))
		require.Len(t, courses, 1)
		assert.Equal(t, "Geometry", courses[0].Name)
		assert.Equal(t, "C1", courses[0].Code)

		w = doJSON(t, router, http.MethodGet, "/api/courses/"+cid, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var detail enrollment.CourseDetail
		require.NoError(t, json.NewDecoder(w.Body).Decode(&detail))
		assert.Empty(t, detail.Students)

		w = doJSON(t, router, http.MethodDelete, "/api/courses/"+cid, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = doJSON(t, router, http.MethodGet, "/api/courses/"+cid, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
