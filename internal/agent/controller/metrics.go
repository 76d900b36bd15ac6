package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the agent lifecycle controller, exposed at
// /metrics by whatever host process embeds the controller.
var (
	heartbeatSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_agent_heartbeats_success_total",
		Help: "Total number of heartbeat-loop ticks that reached the authority successfully",
	})
	heartbeatFailureTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_agent_heartbeats_failure_total",
		Help: "Total number of heartbeat-loop ticks that failed to reach the authority",
	})
	statusGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "license_agent_status",
		Help: "Current agent status (0=INVALID, 1=DEGRADED, 2=ONLINE)",
	})
)

// statusMetricValue maps Status onto the gauge's documented 0/1/2 scale;
// note this differs from Status's own iota ordering (Invalid=0, ValidOnline=1,
// ValidDegraded=2), so it can't just be cast.
func statusMetricValue(s Status) float64 {
	switch s {
	case ValidOnline:
		return 2
	case ValidDegraded:
		return 1
	default:
		return 0
	}
}
