package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chat-relay/observability"
)

// requestLogger emits one structured log line per request and feeds the
// HTTP metrics. The route pattern (not the raw path) labels the
// metrics, so long-poll query strings don't explode cardinality.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		duration := time.Since(start)
		observability.HTTPRequestsTotal.
			WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		observability.HTTPRequestDuration.
			WithLabelValues(r.Method, route).Observe(duration.Seconds())

		s.log.Debug("Request handled",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"duration", duration)
	})
}
