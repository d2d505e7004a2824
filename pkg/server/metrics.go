package server

import (
	"hash"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datapilot_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "datapilot_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datapilot_uploads_total",
		Help: "CSV uploads by outcome.",
	}, []string{"outcome"})

	questionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datapilot_questions_total",
		Help: "Questions answered by routed query type.",
	}, []string{"query_type"})
)

// responseWriter captures the status code for metrics and audit. When
// hash is set, response bytes are folded into it as they are written.
type responseWriter struct {
	http.ResponseWriter
	status int
	hash   hash.Hash
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	if w.hash != nil {
		w.hash.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// metricsMiddleware records request counts and latency per chi route
// pattern, so path parameters do not explode the label space.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w}

		next.ServeHTTP(rw, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := rw.status
		if status == 0 {
			status = http.StatusOK
		}

		requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
