package spawner

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the spawner's Prometheus instruments, registered the way
// octoreflex's observability/metrics.go registers its gauges/counters onto
// its own registry rather than the global default one.
type Metrics struct {
	QueueDepth    *prometheus.GaugeVec
	SessionsTotal *prometheus.CounterVec
}

// NewMetrics builds and registers the spawner's metrics onto reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "switchboard",
			Subsystem: "spawner",
			Name:      "queue_depth",
			Help:      "Current depth of a butler's ephemeral-session FIFO queue.",
		}, []string{"butler"}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "switchboard",
			Subsystem: "spawner",
			Name:      "sessions_total",
			Help:      "Completed ephemeral sessions by butler and outcome.",
		}, []string{"butler", "outcome"}),
	}
	reg.MustRegister(m.QueueDepth, m.SessionsTotal)
	return m
}

func (m *Metrics) observeQueueDepth(butler string, depth int64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(butler).Set(float64(depth))
}

func (m *Metrics) observeSessionOutcome(butler string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.SessionsTotal.WithLabelValues(butler, outcome).Inc()
}
