package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	startTime = time.Now()

	// UptimeSeconds tracks the service uptime in seconds
	UptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "uptime_seconds",
		Help:      "Time passed since the aggregator started in seconds",
	})

	// Memory usage metrics
	MemoryUsageBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "memory_usage_bytes",
		Help:      "Memory consumption",
	})

	// CPU usage metrics
	CPUUsagePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "cpu_usage_percent",
		Help:      "CPU utilization percentage",
	})

	// Goroutines active metrics
	GoroutinesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "goroutines_active",
		Help:      "Number of active goroutines",
	})

	// Tasks initialized
	TasksInitializedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "tasks_initialized_total",
		Help:      "Aggregation tasks created",
	})

	// Signatures accepted
	SignaturesAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "signatures_accepted_total",
		Help:      "Partial signatures accepted into task state",
	})

	// Signatures rejected by reason
	SignaturesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "signatures_rejected_total",
		Help:      "Partial signatures rejected",
	}, []string{"reason"})

	// Thresholds reached
	ThresholdsReachedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "thresholds_reached_total",
		Help:      "Tasks whose quorum threshold was crossed",
	})

	// Tasks marked submitted
	TasksSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "tasks_submitted_total",
		Help:      "Tasks marked as submitted on-chain",
	})

	// Tasks removed by cleanup sweeps
	TasksCleanedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "tasks_cleaned_total",
		Help:      "Tasks removed by cleanup sweeps",
	}, []string{"sweep"})

	// Task partition gauges
	TasksTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "tasks_total",
		Help:      "Tasks currently tracked",
	})

	TasksPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "tasks_pending",
		Help:      "Tasks below threshold",
	})

	TasksReady = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "tasks_ready",
		Help:      "Tasks at or above threshold awaiting submission",
	})

	TasksSubmitted = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "tasks_submitted",
		Help:      "Tasks frozen after submission",
	})

	TasksExpired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "tasks_expired",
		Help:      "Tasks past their TTL",
	})

	// Snapshot outcomes
	SnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "snapshots_total",
		Help:      "Persistence snapshot attempts",
	}, []string{"status"})

	// RPC requests
	RPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "rpc_requests_total",
		Help:      "RPC requests received",
	}, []string{"method", "status"})

	// HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triggerx",
		Subsystem: "aggregator",
		Name:      "http_requests_total",
		Help:      "HTTP API requests received",
	}, []string{"method", "endpoint", "status_code"})
)
