package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Swarm metrics
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hivemind_agents_total",
			Help: "Total number of agents by type and status",
		},
		[]string{"type", "status"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hivemind_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hivemind_queue_depth",
			Help: "Number of tasks waiting for dispatch",
		},
	)

	// Scheduler metrics
	ScheduleLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hivemind_scheduling_latency_seconds",
			Help:    "Time from task admission to assignment in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hivemind_tasks_scheduled_total",
			Help: "Total number of tasks assigned to agents",
		},
	)

	TasksFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hivemind_tasks_failed_total",
			Help: "Total number of tasks that exhausted their retry budget",
		},
	)

	// Consensus metrics
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivemind_consensus_decisions_total",
			Help: "Total consensus outcomes by algorithm and status",
		},
		[]string{"algorithm", "status"},
	)

	// Memory metrics
	MemoryEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hivemind_memory_entries",
			Help: "Memory entries by namespace",
		},
		[]string{"namespace"},
	)

	MemoryCacheHits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hivemind_memory_cache_hits_total",
			Help: "Memory cache hits since start",
		},
	)

	MemoryCacheMisses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hivemind_memory_cache_misses_total",
			Help: "Memory cache misses since start",
		},
	)

	// Bus metrics
	BusMessagesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hivemind_bus_messages_total",
			Help: "Bus messages by type since start",
		},
		[]string{"type"},
	)

	BusDroppedTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hivemind_bus_dropped_total",
			Help: "Bus messages dropped since start",
		},
	)
)

func init() {
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(ScheduleLatency)
	prometheus.MustRegister(TasksScheduledTotal)
	prometheus.MustRegister(TasksFailedTotal)
	prometheus.MustRegister(DecisionsTotal)
	prometheus.MustRegister(MemoryEntries)
	prometheus.MustRegister(MemoryCacheHits)
	prometheus.MustRegister(MemoryCacheMisses)
	prometheus.MustRegister(BusMessagesTotal)
	prometheus.MustRegister(BusDroppedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
