// Package api provides the HTTP server for Quill: the client-facing streak
// endpoints, the SSE celebration feed, and the secret-guarded sweep trigger.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/quillworks/quill/internal/app/streak"
	"github.com/quillworks/quill/internal/app/sweep"
	"github.com/quillworks/quill/internal/health"
	"github.com/quillworks/quill/internal/infra/signal"
	"github.com/quillworks/quill/internal/infra/sqlite"
)

// Server is the Quill HTTP API server.
type Server struct {
	store          *sqlite.DB
	streaks        *streak.Service
	sweeper        *sweep.Job
	hub            *signal.Hub
	log            *logrus.Logger
	validate       *validator.Validate
	checker        *health.Checker
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(store *sqlite.DB, streaks *streak.Service, sweeper *sweep.Job, hub *signal.Hub, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	return &Server{
		store:    store,
		streaks:  streaks,
		sweeper:  sweeper,
		hub:      hub,
		log:      log,
		validate: validator.New(),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealth attaches a health checker whose results back /health.
func (s *Server) SetHealth(c *health.Checker) { s.checker = c }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api/users/{userID}", func(r chi.Router) {
		r.Post("/sessions", s.handleLogSession)
		r.Put("/profile", s.handlePutProfile)
		r.Get("/streak", s.handleStreakSummary)
		r.Post("/streak/recompute", s.handleRecompute)
		r.Get("/recovery", s.handleGetRecovery)
		r.Post("/recovery", s.handleResolveRecovery)
		r.Get("/celebrations", s.handleCelebrations)
	})

	// Scheduler trigger — shared secret, not a user-facing route.
	r.Post("/internal/sweep", s.handleSweep)

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// handleHealth reports liveness. With a checker attached the per-check
// results are included and failures turn the status to degraded with 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	status := "ok"
	code := http.StatusOK
	if !s.checker.IsHealthy() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": s.checker.Statuses(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with a machine-readable code.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": msg,
		},
	})
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Sweep-Secret")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
