package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"enrollment-service/internal/httputil"
	"enrollment-service/internal/metrics"

	"github.com/go-chi/chi/v5"
)

const checkTimeout = 2 * time.Second

// Check probes one dependency. A nil error means it is reachable.
type Check func(ctx context.Context) error

type Handler struct {
	checks  map[string]Check
	metrics *metrics.HealthMetrics
	logger  *slog.Logger
}

func NewHandler(checks map[string]Check, m *metrics.HealthMetrics, logger *slog.Logger) *Handler {
	return &Handler{
		checks:  checks,
		metrics: m,
		logger:  logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.Health)
	router.Get("/ready", h.Ready)
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.RespondWithJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready runs every dependency check and reports 503 if any fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	status := http.StatusOK
	resp := HealthResponse{Status: "ready", Checks: make(map[string]string, len(h.checks))}

	for name, check := range h.checks {
		start := time.Now()
		err := check(ctx)
		h.metrics.RecordDependencyCheck(ctx, name, time.Since(start), err)

		if err != nil {
			h.logger.WarnContext(ctx, "readiness check failed", "dependency", name, "error", err)
			resp.Checks[name] = "down"
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "up"
	}

	httputil.RespondWithJSON(w, status, resp)
}
