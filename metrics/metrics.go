// Package metrics holds the Prometheus collectors of the messages API.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "realtime_messages_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	MessagesPosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_messages_posted_total",
			Help: "Total messages created",
		},
	)

	// Thread polls answered from Redis ("hit") or Postgres ("miss").
	ThreadCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_thread_cache_total",
			Help: "Thread cache lookups by result",
		},
		[]string{"result"},
	)
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware records request counts and durations.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := NormalizePath(r.URL.Path)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// NormalizePath replaces ids in path with placeholders to bound label
// cardinality.
func NormalizePath(path string) string {
	const messages = "/api/realtime-messages/"
	switch {
	case strings.HasPrefix(path, messages+"latest/"):
		return messages + "latest/:userID"
	case strings.HasPrefix(path, messages):
		switch strings.Count(strings.Trim(strings.TrimPrefix(path, messages), "/"), "/") {
		case 0:
			return messages + ":userID"
		case 2:
			return messages + ":userID/:otherUserID/:adID"
		}
		return "other"
	case strings.HasPrefix(path, "/api/users/"):
		return "/api/users/:username"
	case path == "/api/realtime-messages":
		return path
	}
	return "other"
}
