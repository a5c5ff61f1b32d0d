// Package metrics holds the prometheus collectors exposed at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service collectors. A nil *Metrics is valid and
// records nothing, so components can run without instrumentation in tests.
type Metrics struct {
	Marks           *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	RateLimited     prometheus.Counter
	AuditWritten    prometheus.Counter
	RequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Marks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vision",
			Name:      "attendance_marks_total",
			Help:      "Attendance mark attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vision",
			Name:      "session_transitions_total",
			Help:      "Applied session state transitions by target state.",
		}, []string{"to"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vision",
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		AuditWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vision",
			Name:      "audit_entries_written_total",
			Help:      "System log entries persisted.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vision",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
	reg.MustRegister(m.Marks, m.Transitions, m.RateLimited, m.AuditWritten, m.RequestDuration)
	return m
}

// Mark counts one attendance attempt. Outcomes: created, already_marked,
// updated, not_found, error.
func (m *Metrics) Mark(method, outcome string) {
	if m == nil {
		return
	}
	m.Marks.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) RateLimit() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func (m *Metrics) Audit() {
	if m == nil {
		return
	}
	m.AuditWritten.Inc()
}

// ObserveRequest records one request latency. Unmatched routes should be
// passed as an empty route to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(d.Seconds())
}
