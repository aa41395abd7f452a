package episode

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what the runner does.
type Metrics struct {
	// Actions counts applied actions. Labels: kind (discrete, navigation, manipulation)
	Actions *prometheus.CounterVec
	// Skills counts agent steps by skill verb.
	Skills *prometheus.CounterVec
	// Episodes counts finished episodes. Labels: result (success, failure)
	Episodes *prometheus.CounterVec
	// Duration observes episode wall time in seconds.
	Duration prometheus.Histogram
}

// NewMetrics registers the runner metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Actions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stretch",
				Subsystem: "agent",
				Name:      "actions_total",
				Help:      "Total number of actions applied to the robot",
			},
			[]string{"kind"},
		),
		Skills: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stretch",
				Subsystem: "agent",
				Name:      "skill_steps_total",
				Help:      "Total number of agent steps by skill",
			},
			[]string{"skill"},
		),
		Episodes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stretch",
				Subsystem: "agent",
				Name:      "episodes_total",
				Help:      "Total number of finished episodes by result",
			},
			[]string{"result"},
		),
		Duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "stretch",
				Subsystem: "agent",
				Name:      "episode_duration_seconds",
				Help:      "Duration of episodes in seconds",
				Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
			},
		),
	}
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
