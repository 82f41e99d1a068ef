package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/collision-estimator/internal/metrics"
)

const apiKeyHeader = "x-api-key"

// withAPIKey rejects requests whose x-api-key matches none of keys. With
// no keys configured every request is allowed.
func withAPIKey(keys [][]byte, next http.Handler) http.Handler {
	if len(keys) == 0 {
		log.Warn().Msg("No API keys configured, authentication disabled")
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(apiKeyHeader))
		if len(got) == 0 {
			httpError(w, http.StatusUnauthorized, "missing API key")
			return
		}
		ok := 0
		for _, k := range keys {
			ok |= subtle.ConstantTimeCompare(got, k)
		}
		if ok != 1 {
			log.Warn().Str("path", r.URL.Path).Msg("Blocked request: invalid API key")
			httpError(w, http.StatusForbidden, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// withMetrics emits per-request EMF metrics keyed by the matched route
// pattern, which keeps the endpoint dimension low-cardinality.
func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sr, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.Op("http").
			Dimension("Endpoint", endpoint).
			Duration("RequestLatencyMs", time.Since(start)).
			Count("RequestCount").
			Property("method", r.Method).
			Property("statusCode", sr.statusCode).
			Property("path", r.URL.Path).
			Flush()
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sr.statusCode).
			Dur("elapsed", time.Since(start)).
			Msg("Request served")
	})
}
