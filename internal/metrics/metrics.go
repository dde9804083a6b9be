package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal    *prometheus.CounterVec
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	activeRuns   prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tfgate",
				Name:      "runs_total",
				Help:      "Pipeline runs by trigger kind and outcome.",
			},
			[]string{"trigger", "outcome"},
		),
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tfgate",
				Name:      "tasks_total",
				Help:      "Finished tasks by stage, environment and status.",
			},
			[]string{"stage", "environment", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tfgate",
				Name:      "task_duration_seconds",
				Help:      "Wall time of dispatched tasks.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
			},
			[]string{"stage"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tfgate",
				Name:      "active_runs",
				Help:      "Runs currently executing.",
			},
		),
	}
	m.registry.MustRegister(m.runsTotal, m.tasksTotal, m.taskDuration, m.activeRuns)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunFinished records a terminal run. started reports whether RunStarted was
// called for it; invalid runs never start.
func (m *Metrics) RunFinished(trigger, outcome string, started bool) {
	if m == nil {
		return
	}
	if started {
		m.activeRuns.Dec()
	}
	m.runsTotal.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) TaskFinished(stage, env, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(stage, env, status).Inc()
	if elapsed > 0 {
		m.taskDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
