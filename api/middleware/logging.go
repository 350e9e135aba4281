package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parkez/parkez-backend/pkg/logger"
)

// RequestObserver receives one sample per finished request.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, took time.Duration)
}

// Logging writes one access line per request and feeds obs. Probe and scrape
// traffic is logged at debug level.
func Logging(logg *logger.Logger, obs RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			took := time.Since(start)
			status := rec.statusOrOK()
			route := routeLabel(r)
			if obs != nil {
				obs.ObserveRequest(r.Method, route, status, took)
			}
			if logg == nil {
				return
			}
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method":      r.Method,
				"route":       route,
				"path":        r.URL.Path,
				"status":      status,
				"bytes":       rec.bytes,
				"duration_ms": took.Milliseconds(),
			})
			if isProbe(r.URL.Path) {
				logg.Debug(ctx, "http.access")
				return
			}
			logg.Info(ctx, "http.access")
		})
	}
}

// routeLabel is read after the handler ran, when chi has resolved the full pattern.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" && !strings.HasSuffix(p, "/*") {
			return p
		}
	}
	return "unmatched"
}

func isProbe(path string) bool {
	return strings.HasPrefix(path, "/health/") || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) statusOrOK() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
