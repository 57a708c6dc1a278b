package metrics

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// StartMetricsCollection starts the background system metric collectors
func StartMetricsCollection() {
	// Update uptime every 15 seconds
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			UptimeSeconds.Set(time.Since(startTime).Seconds())
		}
	}()

	// Update memory, CPU and goroutine usage every 5 seconds
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			if vmStat, err := mem.VirtualMemory(); err == nil {
				MemoryUsageBytes.Set(float64(vmStat.Used))
			}

			if cpuPercent, err := cpu.Percent(time.Second, false); err == nil && len(cpuPercent) > 0 {
				CPUUsagePercent.Set(cpuPercent[0])
			}

			GoroutinesActive.Set(float64(runtime.NumGoroutine()))
		}
	}()
}

// TrackTaskInitialized tracks a newly created aggregation task
func TrackTaskInitialized() {
	TasksInitializedTotal.Inc()
}

// TrackSignatureAccepted tracks an accepted partial signature
func TrackSignatureAccepted(thresholdMet bool) {
	SignaturesAcceptedTotal.Inc()
	if thresholdMet {
		ThresholdsReachedTotal.Inc()
	}
}

// TrackSignatureRejected tracks a rejected partial signature
func TrackSignatureRejected(reason string) {
	SignaturesRejectedTotal.WithLabelValues(reason).Inc()
}

// TrackTaskSubmitted tracks a task frozen after on-chain submission
func TrackTaskSubmitted() {
	TasksSubmittedTotal.Inc()
}

// TrackTasksCleaned tracks tasks removed by a cleanup sweep
func TrackTasksCleaned(sweep string, count int) {
	if count > 0 {
		TasksCleanedTotal.WithLabelValues(sweep).Add(float64(count))
	}
}

// TrackTaskCounts updates the task partition gauges
func TrackTaskCounts(total, pending, ready, submitted, expired int) {
	TasksTotal.Set(float64(total))
	TasksPending.Set(float64(pending))
	TasksReady.Set(float64(ready))
	TasksSubmitted.Set(float64(submitted))
	TasksExpired.Set(float64(expired))
}

// TrackSnapshot tracks a persistence snapshot attempt
func TrackSnapshot(success bool) {
	status := "failed"
	if success {
		status = "success"
	}
	SnapshotsTotal.WithLabelValues(status).Inc()
}

// TrackRPCRequest tracks an RPC request by method and outcome
func TrackRPCRequest(method, status string) {
	RPCRequestsTotal.WithLabelValues(method, status).Inc()
}

// TrackHTTPRequest tracks HTTP request metrics
func TrackHTTPRequest(method, endpoint, statusCode string) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
}
