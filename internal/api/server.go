// ABOUTME: HTTP admission surface: enqueue plus read-side ops queries.
// ABOUTME: Thin validation layer over the queue engine; envelopes are {ok:true, …} / {ok:false, error:<code>}.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nickskupien/sunset-sunrise-predictor/internal/queue"
	"github.com/nickskupien/sunset-sunrise-predictor/internal/telemetry"
)

const serviceName = "sunset-sunrise-predictor"

// Server holds the dependencies for the HTTP layer.
type Server struct {
	queue       *queue.Queue
	rateLimiter *ipRateLimiter
}

// NewServer creates a Server over the queue engine.
func NewServer(q *queue.Queue) *Server {
	// 10 enqueues per second per IP, burst of 20 — generous for interactive
	// producers, still bounds a runaway client.
	return &Server{
		queue:       q,
		rateLimiter: newIPRateLimiter(10, 20, 15*time.Minute),
	}
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// 1 MB body limit bounds enqueue payload size.
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)

	r.Get("/health", srv.healthHandler)
	r.Get("/db/health", srv.dbHealthHandler)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.With(srv.enqueueRateLimit).Post("/", srv.enqueueHandler)
		r.Get("/", srv.listJobsHandler)
		r.Get("/{id}", srv.getJobHandler)
		r.Get("/{id}/runs", srv.listRunsHandler)
	})

	return r
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON: encode failed", "error", err)
	}
}

// writeError writes the {ok:false, error:<code>} envelope.
func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": code})
}

func epochMS(t time.Time) int64 { return t.UnixMilli() }

// healthHandler reports process liveness without touching the database.
func (srv *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": serviceName,
		"time":    epochMS(time.Now()),
	})
}

// dbHealthHandler round-trips the database and reports its clock. 503 when
// the pool is unreachable.
func (srv *Server) dbHealthHandler(w http.ResponseWriter, r *http.Request) {
	var dbTime time.Time
	if err := srv.queue.Pool().QueryRow(r.Context(), "SELECT now()").Scan(&dbTime); err != nil {
		slog.WarnContext(r.Context(), "db health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "db_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"dbTime": epochMS(dbTime),
		"time":   epochMS(time.Now()),
	})
}
