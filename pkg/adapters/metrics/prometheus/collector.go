package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	runsSubmitted     *prometheus.CounterVec
	runsCompleted     *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	activeRuns        prometheus.Gauge
	nodesExecuted     *prometheus.CounterVec
	nodeDuration      *prometheus.HistogramVec
	cacheLookups      *prometheus.CounterVec
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
	queueWaitTime     prometheus.Histogram
	standaloneRuns    *prometheus.CounterVec
	standaloneLatency *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector registered with
// reg. A nil reg uses the default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		runsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagflow_runs_submitted_total",
				Help: "Total number of workflow runs submitted",
			},
			[]string{"status"},
		),
		runsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagflow_runs_completed_total",
				Help: "Total number of workflow runs finished, by final status",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dagflow_run_duration_seconds",
				Help:    "Workflow run duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"status"},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dagflow_active_runs",
				Help: "Number of runs currently executing",
			},
		),
		nodesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagflow_nodes_executed_total",
				Help: "Total number of nodes settled, by type and status",
			},
			[]string{"node_type", "status"},
		),
		nodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dagflow_node_duration_seconds",
				Help:    "Node execution duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"node_type"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagflow_cache_lookups_total",
				Help: "Result cache lookups by outcome",
			},
			[]string{"result"},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dagflow_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dagflow_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dagflow_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
		queueWaitTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dagflow_queue_wait_time_seconds",
				Help:    "Time a node job spent waiting for a worker",
				Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5},
			},
		),
		standaloneRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagflow_standalone_runs_total",
				Help: "Single-plugin executions by plugin, mode and outcome",
			},
			[]string{"plugin", "mode", "outcome"},
		),
		standaloneLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dagflow_standalone_duration_seconds",
				Help:    "Single-plugin execution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"plugin", "mode"},
		),
	}
}

// RecordRunSubmitted records a run submission
func (c *Collector) RecordRunSubmitted(status string) {
	c.runsSubmitted.WithLabelValues(status).Inc()
}

// RecordRunCompleted records the final status and duration of a run
func (c *Collector) RecordRunCompleted(status string, duration time.Duration) {
	c.runsCompleted.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordNodeExecuted records a settled node
func (c *Collector) RecordNodeExecuted(nodeType, status string, duration time.Duration) {
	c.nodesExecuted.WithLabelValues(nodeType, status).Inc()
	if duration > 0 {
		c.nodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
	}
}

// RecordCacheLookup records a result cache hit or miss
func (c *Collector) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}

// ObserveQueueWaitTime records how long a job waited for a worker
func (c *Collector) ObserveQueueWaitTime(duration time.Duration) {
	c.queueWaitTime.Observe(duration.Seconds())
}

// SetActiveRuns sets the number of currently executing runs
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}

// ObserveStandalone records one single-plugin execution
func (c *Collector) ObserveStandalone(pluginID, mode string, duration time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.standaloneRuns.WithLabelValues(pluginID, mode, outcome).Inc()
	c.standaloneLatency.WithLabelValues(pluginID, mode).Observe(duration.Seconds())
}
