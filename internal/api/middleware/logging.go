package middleware

import (
	"net/http"
	"time"

	"github.com/example/shop-checkout/internal/metrics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// StatusRecorder remembers the status code written by the handler.
type StatusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *StatusRecorder) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *StatusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *StatusRecorder) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// routePattern is the matched chi pattern, or "unmatched" for 404s.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// Logger writes one access log line per request and records request metrics.
// It must run inside chi's RequestID middleware and outside auth so that the
// user id, when present, is read after the handler chain returns.
func Logger(logger zerolog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &StatusRecorder{ResponseWriter: w}
			holder := &claimsHolder{}
			next.ServeHTTP(rec, r.WithContext(withHolder(r.Context(), holder)))

			elapsed := time.Since(start)
			route := routePattern(r)
			m.ObserveRequest(route, rec.Status(), elapsed)

			ev := logger.Info()
			if rec.Status() >= http.StatusInternalServerError {
				ev = logger.Error()
			}
			ev.Str("request_id", chimw.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", route).
				Int("status", rec.Status()).
				Dur("duration", elapsed).
				Str("user_id", holder.userID).
				Msg("request completed")
		})
	}
}
