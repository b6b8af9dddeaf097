package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"enrollment-service/internal/health"
	"enrollment-service/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(checks map[string]health.Check) chi.Router {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	router := chi.NewRouter()
	health.NewHandler(checks, metrics.NewMock().Health, logger).RegisterRoutes(router)
	return router
}

func TestHealthHandler(t *testing.T) {
	t.Run("Health", func(t *testing.T) {
		router := setupRouter(nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})

	t.Run("Ready_AllUp", func(t *testing.T) {
		router := setupRouter(map[string]health.Check{
			"postgres": func(context.Context) error { return nil },
		})

		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp health.HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "ready", resp.Status)
		assert.Equal(t, "up", resp.Checks["postgres"])
	})

	t.Run("Ready_DatabaseDown", func(t *testing.T) {
		router := setupRouter(map[string]health.Check{
			"postgres": func(context.Context) error { return errors.New("connection refused") },
			"nats":     func(context.Context) error { return nil },
		})

		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var resp health.HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "unavailable", resp.Status)
		assert.Equal(t, "down", resp.Checks["postgres"])
		assert.Equal(t, "up", resp.Checks["nats"])
	})
}
