// Package httpapi is the transport surface of the delivery core: queue
// registration, the long-poll events endpoint, explicit cleanup, and
// the internal notify ingress used by the message-path collaborators.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-relay/runtime"
)

const (
	// DefaultPollTimeout applies when a poll does not specify one;
	// MaxPollTimeout caps what a client may ask for so a single request
	// never outlives typical proxy idle limits.
	DefaultPollTimeout = 60 * time.Second
	MaxPollTimeout     = 90 * time.Second
)

type Server struct {
	log         *slog.Logger
	manager     *runtime.QueueManager
	dispatcher  *runtime.Dispatcher
	pollTimeout time.Duration
}

func NewServer(log *slog.Logger, manager *runtime.QueueManager, dispatcher *runtime.Dispatcher) *Server {
	return &Server{
		log:         log,
		manager:     manager,
		dispatcher:  dispatcher,
		pollTimeout: DefaultPollTimeout,
	}
}

// Routes assembles the API router. The internal routes are meant to be
// reachable only from the trusted network segment; authentication of
// end users happens in the gateway, which forwards the user ID.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "X-User-ID", "X-Realm-ID"},
	}))
	r.Use(s.requestLogger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events/register", s.handleRegister)
		r.Get("/events", s.handleGetEvents)
		r.Delete("/events", s.handleCleanup)

		r.Route("/internal", func(r chi.Router) {
			r.Post("/notify", s.handleNotify)
			r.Post("/restart", s.handleRestart)
		})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}
