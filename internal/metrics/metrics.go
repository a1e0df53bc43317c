// Package metrics holds the client's prometheus collectors as
// package-level vars registered by the caller rather than an owned
// registry — this library never calls prometheus.MustRegister itself.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// CallsTotal counts every pool.Exec attempt, labeled by the RPC service,
// method, and outcome ("ok", "recoverable", "nonrecoverable",
// "circuit_open").
var CallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kvcoord",
		Subsystem: "pool",
		Name:      "calls_total",
		Help:      "Total number of connection pool call attempts by outcome.",
	},
	[]string{"service", "method", "outcome"},
)

// HostCircuitOpenTotal counts every time a Host's circuit breaker trips
// open.
var HostCircuitOpenTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kvcoord",
		Subsystem: "pool",
		Name:      "host_circuit_open_total",
		Help:      "Total number of times a host's circuit breaker opened.",
	},
	[]string{"endpoint"},
)

// ActiveWatchers is the number of watchers currently attached to the
// multiplexer, across all states.
var ActiveWatchers = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "kvcoord",
		Subsystem: "watch",
		Name:      "active_watchers",
		Help:      "Number of watchers currently attached to the watch multiplexer.",
	},
)

// ReconnectsTotal counts every reconnect the watch multiplexer starts
// after the shared watch stream errors, whether or not it succeeds.
var ReconnectsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "kvcoord",
		Subsystem: "watch",
		Name:      "reconnects_total",
		Help:      "Total number of watch stream reconnect attempts.",
	},
)

// LeaseKeepaliveFailuresTotal counts keep-alive stream failures across
// every lease.
var LeaseKeepaliveFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "kvcoord",
		Subsystem: "lease",
		Name:      "keepalive_failures_total",
		Help:      "Total number of lease keepalive stream failures.",
	},
)

// LeasesLostTotal counts leases that transitioned to Revoked via loss
// rather than an explicit Revoke/Release call.
var LeasesLostTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "kvcoord",
		Subsystem: "lease",
		Name:      "lost_total",
		Help:      "Total number of leases lost (server expiry or keepalive timeout).",
	},
)

// STMConflictsTotal counts STM commit attempts that failed their
// compare clauses and were retried or surfaced as STMConflict.
var STMConflictsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "kvcoord",
		Subsystem: "stm",
		Name:      "conflicts_total",
		Help:      "Total number of STM transaction commit conflicts.",
	},
)

// All returns every collector this package owns, for the caller to pass
// to prometheus.Registry.MustRegister (or promauto's default registry).
func All() []prometheus.Collector {
	return []prometheus.Collector{
		CallsTotal,
		HostCircuitOpenTotal,
		ActiveWatchers,
		ReconnectsTotal,
		LeaseKeepaliveFailuresTotal,
		LeasesLostTotal,
		STMConflictsTotal,
	}
}
