// Package middleware provides the HTTP middleware of the search API: request
// ids, Prometheus metrics, rate limiting, CORS and request timeouts.
package middleware

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/metrics"
)

// otherRoute labels every path outside the known route set.
const otherRoute = "other"

// Metrics records request count, latency and the in-flight gauge. Paths
// not listed in routes share the "other" label so scanners cannot blow up
// the series count. A nil m leaves handlers untouched.
func Metrics(m *metrics.Metrics, routes ...string) func(http.Handler) http.Handler {
	known := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		known[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			start := time.Now()
			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if _, ok := known[route]; !ok {
				route = otherRoute
			}
			m.ObserveHTTP(r.Method, route, rec.code(), time.Since(start).Seconds())
		})
	}
}

// recorder remembers the first status written.
type recorder struct {
	http.ResponseWriter
	status int
}

func (rw *recorder) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *recorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

func (rw *recorder) code() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}
