// Package promexporter exposes rrdcached client and pool statistics as
// Prometheus metrics.
package promexporter

import (
	"net/http"

	"github.com/pior/rrdcached"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"
)

// StatsSource is implemented by *rrdcached.Client.
type StatsSource interface {
	Stats() rrdcached.ClientStats
	AllPoolStats() []rrdcached.ServerPoolStats
}

// Collector is a prometheus.Collector reading a StatsSource at scrape time.
type Collector struct {
	source StatsSource

	operations     *prometheus.Desc
	errors         *prometheus.Desc
	poolConns      *prometheus.Desc
	poolCreated    *prometheus.Desc
	poolDestroyed  *prometheus.Desc
	poolAcquires   *prometheus.Desc
	poolWaits      *prometheus.Desc
	poolWaitTime   *prometheus.Desc
	poolErrors     *prometheus.Desc
	circuitState   *prometheus.Desc
	circuitFailure *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for source.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		operations: prometheus.NewDesc(
			"rrdcached_client_operations_total",
			"Total number of rrdcached operations",
			[]string{"operation"}, nil,
		),
		errors: prometheus.NewDesc(
			"rrdcached_client_errors_total",
			"Total number of failed rrdcached operations",
			nil, nil,
		),
		poolConns: prometheus.NewDesc(
			"rrdcached_pool_sessions",
			"Sessions in the pool",
			[]string{"server", "state"}, nil, // total, active, idle
		),
		poolCreated: prometheus.NewDesc(
			"rrdcached_pool_sessions_created_total",
			"Total sessions created",
			[]string{"server"}, nil,
		),
		poolDestroyed: prometheus.NewDesc(
			"rrdcached_pool_sessions_destroyed_total",
			"Total sessions destroyed",
			[]string{"server"}, nil,
		),
		poolAcquires: prometheus.NewDesc(
			"rrdcached_pool_acquires_total",
			"Total session acquires",
			[]string{"server"}, nil,
		),
		poolWaits: prometheus.NewDesc(
			"rrdcached_pool_acquire_waits_total",
			"Total acquires that waited for a session",
			[]string{"server"}, nil,
		),
		poolWaitTime: prometheus.NewDesc(
			"rrdcached_pool_acquire_wait_seconds_total",
			"Total time spent waiting for a session",
			[]string{"server"}, nil,
		),
		poolErrors: prometheus.NewDesc(
			"rrdcached_pool_acquire_errors_total",
			"Total failed acquires",
			[]string{"server"}, nil,
		),
		circuitState: prometheus.NewDesc(
			"rrdcached_circuit_breaker_state",
			"Circuit breaker state (0=closed, 1=half-open, 2=open)",
			[]string{"server"}, nil,
		),
		circuitFailure: prometheus.NewDesc(
			"rrdcached_circuit_breaker_failures",
			"Circuit breaker failure counts in the current interval",
			[]string{"server", "type"}, nil, // total, consecutive
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.operations
	ch <- c.errors
	ch <- c.poolConns
	ch <- c.poolCreated
	ch <- c.poolDestroyed
	ch <- c.poolAcquires
	ch <- c.poolWaits
	ch <- c.poolWaitTime
	ch <- c.poolErrors
	ch <- c.circuitState
	ch <- c.circuitFailure
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	ops := []struct {
		name  string
		value uint64
	}{
		{"update", stats.Updates},
		{"create", stats.Creates},
		{"auto_create", stats.AutoCreates},
		{"batch", stats.Batches},
		{"flush", stats.Flushes},
		{"wrote", stats.Wrotes},
		{"forget", stats.Forgets},
		{"read", stats.Reads},
	}
	for _, op := range ops {
		ch <- prometheus.MustNewConstMetric(c.operations, prometheus.CounterValue, float64(op.value), op.name)
	}
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(stats.Errors))

	for _, sp := range c.source.AllPoolStats() {
		ps := sp.PoolStats
		ch <- prometheus.MustNewConstMetric(c.poolConns, prometheus.GaugeValue, float64(ps.TotalConns), sp.Addr, "total")
		ch <- prometheus.MustNewConstMetric(c.poolConns, prometheus.GaugeValue, float64(ps.ActiveConns), sp.Addr, "active")
		ch <- prometheus.MustNewConstMetric(c.poolConns, prometheus.GaugeValue, float64(ps.IdleConns), sp.Addr, "idle")
		ch <- prometheus.MustNewConstMetric(c.poolCreated, prometheus.CounterValue, float64(ps.CreatedConns), sp.Addr)
		ch <- prometheus.MustNewConstMetric(c.poolDestroyed, prometheus.CounterValue, float64(ps.DestroyedConns), sp.Addr)
		ch <- prometheus.MustNewConstMetric(c.poolAcquires, prometheus.CounterValue, float64(ps.AcquireCount), sp.Addr)
		ch <- prometheus.MustNewConstMetric(c.poolWaits, prometheus.CounterValue, float64(ps.AcquireWaitCount), sp.Addr)
		ch <- prometheus.MustNewConstMetric(c.poolWaitTime, prometheus.CounterValue, float64(ps.AcquireWaitTimeNs)/1e9, sp.Addr)
		ch <- prometheus.MustNewConstMetric(c.poolErrors, prometheus.CounterValue, float64(ps.AcquireErrors), sp.Addr)

		ch <- prometheus.MustNewConstMetric(c.circuitState, prometheus.GaugeValue, circuitStateValue(sp.CircuitBreakerState), sp.Addr)
		ch <- prometheus.MustNewConstMetric(c.circuitFailure, prometheus.GaugeValue, float64(sp.CircuitBreakerCounts.TotalFailures), sp.Addr, "total")
		ch <- prometheus.MustNewConstMetric(c.circuitFailure, prometheus.GaugeValue, float64(sp.CircuitBreakerCounts.ConsecutiveFailures), sp.Addr, "consecutive")
	}
}

func circuitStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Handler registers a collector for source in a new registry and returns
// the HTTP handler serving it.
func Handler(source StatsSource) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(source))
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
