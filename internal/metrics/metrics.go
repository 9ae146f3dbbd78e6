// Package metrics exposes job-control counters through
// prometheus/client_golang, the dependency canonical-pebble's go.mod
// carries but (per our survey of the pack) never actually wires into a
// handler - internals/metrics implements its own bespoke registry
// instead. Here the shell's optional introspection API wires the real
// client library, since the job-count/launch/reap events are a natural
// fit for Counter/Gauge/CounterVec.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the metrics the optional API server exposes at
// /metrics.
type Collector struct {
	JobsLaunched prometheus.Counter
	JobsReaped   *prometheus.CounterVec
	JobsActive   prometheus.Gauge
}

// NewCollector builds and registers a Collector against reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		JobsLaunched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cash_jobs_launched_total",
			Help: "Total number of pipelines launched by the shell.",
		}),
		JobsReaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cash_jobs_reaped_total",
			Help: "Total number of process groups reaped, by result.",
		}, []string{"result"}),
		JobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cash_jobs_active",
			Help: "Number of jobs currently tracked in the job table.",
		}),
	}
	reg.MustRegister(c.JobsLaunched, c.JobsReaped, c.JobsActive)
	return c
}

// ObserveLaunch records a successful pipeline launch.
func (c *Collector) ObserveLaunch() {
	c.JobsLaunched.Inc()
}

// ObserveReap records a process group's terminal transition.
func (c *Collector) ObserveReap(result string) {
	c.JobsReaped.WithLabelValues(result).Inc()
}

// SetActive sets the current job table occupancy.
func (c *Collector) SetActive(n int) {
	c.JobsActive.Set(float64(n))
}
