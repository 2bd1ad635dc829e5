package adapthttp

import (
	"context"
	"log/slog"
	"net/http"

	"weightsvc/internal/app"
	"weightsvc/internal/metrics"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the driving HTTP adapter that routes requests to application
// services.
type Server struct {
	measurements *app.MeasurementService
	users        *app.UserService
	store        Pinger
	metrics      *metrics.Sink
	logger       *slog.Logger
}

// New creates a Server wired to the given application services. store backs
// the health endpoint.
func New(ms *app.MeasurementService, us *app.UserService, store Pinger, m *metrics.Sink, logger *slog.Logger) *Server {
	if m == nil {
		m = metrics.Nop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		measurements: ms,
		users:        us,
		store:        store,
		metrics:      m,
		logger:       logger.With("component", "http"),
	}
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /health", s.handleHealth)

	api.HandleFunc("POST /users", s.handleCreateUser)
	api.HandleFunc("GET /users/{tgId}", s.handleGetUser)

	api.HandleFunc("POST /measurements", s.handleAddMeasurementByTgID)
	api.HandleFunc("POST /measurements/{tgId}", s.handleAddMeasurement)
	api.HandleFunc("GET /measurements/user/{tgId}", s.handleUserMeasurements)
	api.HandleFunc("GET /measurements/{id}", s.handleGetMeasurement)
	api.HandleFunc("DELETE /measurements/{id}", s.handleDeleteMeasurement)

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))

	return s.loggingMiddleware(withNoCache(root))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.WarnContext(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
