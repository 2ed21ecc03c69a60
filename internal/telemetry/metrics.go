package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_relay"

// Metrics records reply and cleanup outcomes on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	replies      *prometheus.CounterVec
	replySeconds *prometheus.HistogramVec
	pollAttempts prometheus.Histogram
	cleanups     *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies by mode and outcome code.",
		}, []string{"mode", "outcome"}),
		replySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_duration_seconds",
			Help:      "Time from request to reply or error.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"mode"}),
		pollAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_poll_attempts",
			Help:      "Status checks performed per thread-mode job.",
			Buckets:   prometheus.LinearBuckets(1, 5, 8),
		}),
		cleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "container_cleanups_total",
			Help:      "Thread deletions by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP responses by route and status code.",
		}, []string{"route", "code"}),
	}
	m.registry.MustRegister(m.replies, m.replySeconds, m.pollAttempts, m.cleanups, m.httpRequests)
	return m
}

func (m *Metrics) ObserveReply(mode, outcome string, pollAttempts int, elapsed time.Duration) {
	m.replies.WithLabelValues(mode, outcome).Inc()
	m.replySeconds.WithLabelValues(mode).Observe(elapsed.Seconds())
	if pollAttempts > 0 {
		m.pollAttempts.Observe(float64(pollAttempts))
	}
}

func (m *Metrics) ObserveCleanup(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.cleanups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(route string, status int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
