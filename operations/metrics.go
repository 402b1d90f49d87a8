package operations

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives pipeline measurements.
type Metrics interface {
	ObserveStage(stage Stage, d time.Duration)
	IncDeployments(status string, failedStage Stage)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) ObserveStage(Stage, time.Duration) {}
func (NoopMetrics) IncDeployments(string, Stage)      {}

// PromMetrics exports pipeline counters and stage latencies to Prometheus.
type PromMetrics struct {
	deployments   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

// NewPromMetrics registers the pipeline collectors with reg.
func NewPromMetrics(namespace string, reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Deployments by terminal status and failed stage",
		}, []string{"status", "stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
	}
	reg.MustRegister(m.deployments, m.stageDuration)
	return m
}

func (m *PromMetrics) ObserveStage(stage Stage, d time.Duration) {
	m.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (m *PromMetrics) IncDeployments(status string, failedStage Stage) {
	m.deployments.WithLabelValues(status, string(failedStage)).Inc()
}
