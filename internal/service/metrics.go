package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics счётчики движка расписаний. nil-значение ничего не считает.
type Metrics struct {
	generated          prometheus.Counter
	transitions        *prometheus.CounterVec
	sideEffectFailures *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		generated: factory.NewCounter(prometheus.CounterOpts{
			Name: "class_instances_generated_total",
			Help: "Class instances created from recurring schedules.",
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "class_transitions_total",
			Help: "Committed lifecycle transitions by action.",
		}, []string{"action"}),
		sideEffectFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "side_effect_failures_total",
			Help: "Failed meeting provider and notifier calls.",
		}, []string{"collaborator"}),
	}
}

func (m *Metrics) instancesGenerated(n int) {
	if m == nil || n == 0 {
		return
	}
	m.generated.Add(float64(n))
}

func (m *Metrics) transition(action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action).Inc()
}

func (m *Metrics) sideEffectFailed(collaborator string) {
	if m == nil {
		return
	}
	m.sideEffectFailures.WithLabelValues(collaborator).Inc()
}
