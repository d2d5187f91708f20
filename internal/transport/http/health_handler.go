package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db      Pinger
	version string
	logger  *slog.Logger
}

// NewHealthHandler creates a health handler. db may be nil when no
// database is configured, in which case readiness only reports the
// process itself.
func NewHealthHandler(db Pinger, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		version: version,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthResponse is the body returned by the probe endpoints.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Routes returns a chi router for the health endpoints.
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Live)
	r.Get("/live", h.Live)
	r.Get("/ready", h.Ready)
	return r
}

// Live handles GET /healthz/live. It answers as long as the process
// is serving requests.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
	})
}

// Ready handles GET /healthz/ready. Readiness includes a database
// ping so load balancers stop routing before the store is usable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	status := "ok"
	httpStatus := http.StatusOK

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "readiness database ping failed",
				slog.String("error", err.Error()))
			checks["database"] = "unavailable"
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	render.Status(r, httpStatus)
	render.JSON(w, r, HealthResponse{
		Status:    status,
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}
