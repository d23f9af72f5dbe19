// Package metrics exposes Prometheus collectors for the survey service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/soaringjerry/recipesurvey/internal/services"
)

const namespace = "recipe_survey"

// Metrics holds the survey collectors. It implements services.SessionObserver
// and the HTTP observer used by the middleware package.
type Metrics struct {
	SessionsStarted  *prometheus.CounterVec
	Duplicates       prometheus.Counter
	StepsSubmitted   *prometheus.CounterVec
	AttentionChecks  *prometheus.CounterVec
	SessionsFinished *prometheus.CounterVec
	Conflicts        *prometheus.CounterVec
	SessionsSwept    prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

var _ services.SessionObserver = (*Metrics)(nil)

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions started, by whether an existing session was resumed.",
		}, []string{"outcome"}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_participants_total",
			Help:      "New sessions created for a study-platform ID that already had one.",
		}),
		StepsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_submitted_total",
			Help:      "Accepted step submissions by step and timing flag.",
		}, []string{"step", "timing"}),
		AttentionChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attention_checks_total",
			Help:      "Attention check answers by check and result.",
		}, []string{"check", "result"}),
		SessionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Sessions reaching a terminal status.",
		}, []string{"status"}),
		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submission_conflicts_total",
			Help:      "Submissions rejected because a concurrent write won.",
		}, []string{"step"}),
		SessionsSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Idle sessions expired by the background sweep.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) SessionStarted(resumed bool) {
	outcome := "created"
	if resumed {
		outcome = "resumed"
	}
	m.SessionsStarted.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DuplicateDetected() { m.Duplicates.Inc() }

func (m *Metrics) StepSubmitted(step services.Step, timing services.TimingFlag) {
	m.StepsSubmitted.WithLabelValues(step.String(), string(timing)).Inc()
}

func (m *Metrics) AttentionChecked(check string, passed bool) {
	result := "failed"
	if passed {
		result = "passed"
	}
	m.AttentionChecks.WithLabelValues(check, result).Inc()
}

func (m *Metrics) SessionFinished(status services.Status) {
	m.SessionsFinished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) Conflict(step services.Step) {
	m.Conflicts.WithLabelValues(step.String()).Inc()
}

// Swept records the result of one expiry sweep.
func (m *Metrics) Swept(n int) {
	m.SessionsSwept.Add(float64(n))
}

// ObserveHTTP records one finished request. route is the registered pattern,
// never the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
