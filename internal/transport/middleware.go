package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/ratelimit"
)

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// observe records request counts and latencies per route template.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		h.metrics.ObserveRequest(route, r.Method, rec.code, started)
	})
}

// rateLimit smooths the request rate with a leaky bucket. Requests wait
// rather than fail.
func rateLimit(rps int) mux.MiddlewareFunc {
	rl := ratelimit.New(rps)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rl.Take()
			next.ServeHTTP(w, r)
		})
	}
}
