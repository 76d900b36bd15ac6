package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the protocol engine, exposed at /metrics
// alongside the Go-runtime default metrics. Registered once at package init
// against the default registry that promhttp.Handler serves.
var (
	nodesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "license_nodes_online",
		Help: "Current number of nodes with a live heartbeat",
	})
	registrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_registrations_total",
		Help: "Total number of successful node registrations",
	})
	heartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_heartbeats_total",
		Help: "Total number of successful heartbeats",
	})
	unregistrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_unregistrations_total",
		Help: "Total number of node unregistrations",
	})
	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_sweeps_total",
		Help: "Total number of sweep cycles that removed at least one stale node",
	})
)
