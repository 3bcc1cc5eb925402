// Package metrics exposes Prometheus collectors for qualification decisions
// and buildout workflow transitions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is what the engine and workflow report to. A nil *Metrics is a
// valid Recorder that records nothing.
type Recorder interface {
	ObserveCheck(status string, duration time.Duration)
	CheckFailed(reason string)
	RequestOpened(origin string)
	RequestTransition(to string)
	ProjectUpdated(status string)
}

type Metrics struct {
	checksTotal      *prometheus.CounterVec
	checkErrors      *prometheus.CounterVec
	checkDuration    prometheus.Histogram
	requestsOpened   *prometheus.CounterVec
	requestTransited *prometheus.CounterVec
	projectUpdates   *prometheus.CounterVec
}

// New creates the collectors under namespace and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry().
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qualification_checks_total",
			Help:      "Qualification checks persisted, by resulting status.",
		}, []string{"status"}),
		checkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qualification_check_errors_total",
			Help:      "Qualification checks that failed before a record was written.",
		}, []string{"reason"}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "qualification_check_duration_seconds",
			Help:      "Time spent matching and deciding a qualification check.",
			Buckets:   prometheus.DefBuckets,
		}),
		requestsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buildout_requests_opened_total",
			Help:      "Buildout requests created, by origin (system or operator).",
		}, []string{"origin"}),
		requestTransited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buildout_request_transitions_total",
			Help:      "Buildout request status transitions, by target status.",
		}, []string{"to"}),
		projectUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buildout_project_updates_total",
			Help:      "Buildout update log entries appended, by project status.",
		}, []string{"status"}),
	}

	reg.MustRegister(m.checksTotal, m.checkErrors, m.checkDuration, m.requestsOpened, m.requestTransited, m.projectUpdates)
	return m
}

func (m *Metrics) ObserveCheck(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(status).Inc()
	m.checkDuration.Observe(d.Seconds())
}

func (m *Metrics) CheckFailed(reason string) {
	if m == nil {
		return
	}
	m.checkErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) RequestOpened(origin string) {
	if m == nil {
		return
	}
	m.requestsOpened.WithLabelValues(origin).Inc()
}

func (m *Metrics) RequestTransition(to string) {
	if m == nil {
		return
	}
	m.requestTransited.WithLabelValues(to).Inc()
}

func (m *Metrics) ProjectUpdated(status string) {
	if m == nil {
		return
	}
	m.projectUpdates.WithLabelValues(status).Inc()
}
