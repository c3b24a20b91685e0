package queue

import "github.com/prometheus/client_golang/prometheus"

// Metrics are registered against the default registry rather than
// threading a *prometheus.Registry through Config: this process exposes
// one /metrics endpoint for its one queue.
var (
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runner",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Number of runs currently waiting in the pending queue.",
	})

	runningGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runner",
		Subsystem: "queue",
		Name:      "running",
		Help:      "Number of runs currently in PREPARING or RUNNING.",
	})

	projectActiveGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "runner",
		Subsystem: "queue",
		Name:      "project_active",
		Help:      "Number of active (PREPARING or RUNNING) runs per project.",
	}, []string{"project_id"})

	eventDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "runner",
		Subsystem: "queue",
		Name:      "event_drops_total",
		Help:      "Total run events dropped because a run's event or screenshot buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(queueDepth, runningGauge, projectActiveGauge, eventDropsTotal)
}

// recomputeMetricsLocked refreshes the gauges from current queue state.
// Callers must hold q.mu.
func (q *Queue) recomputeMetricsLocked() {
	queueDepth.Set(float64(len(q.pending)))
	runningGauge.Set(float64(len(q.running)))

	counts := make(map[string]int, len(q.running))
	for _, je := range q.running {
		counts[je.job.ProjectID.String()]++
	}
	projectActiveGauge.Reset()
	for projectID, n := range counts {
		projectActiveGauge.WithLabelValues(projectID).Set(float64(n))
	}
}
