// Package metrics exposes Prometheus instrumentation for the sync layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SnapshotsApplied counts full queue snapshots merged into the local store,
	// from either the broker or a REST fetch.
	SnapshotsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queuewatch_snapshots_applied_total",
		Help: "Queue snapshots applied to the local store.",
	})

	// ParseFailures counts inbound topic payloads that could not be decoded.
	ParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queuewatch_parse_failures_total",
		Help: "Broker messages dropped because the body could not be parsed.",
	})

	// DuplicateInService counts snapshots violating the at-most-one
	// IN_SERVICE invariant.
	DuplicateInService = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queuewatch_duplicate_in_service_total",
		Help: "Snapshots carrying more than one IN_SERVICE token.",
	})

	// Reconnects counts reconnect attempts after an unexpected disconnect.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queuewatch_reconnects_total",
		Help: "Reconnect attempts made by the connection manager.",
	})

	// Resubscribes counts physical subscriptions re-established after a
	// (re)connect.
	Resubscribes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queuewatch_resubscribes_total",
		Help: "Physical subscriptions replayed after a connect.",
	})

	// ConnectionState reflects the manager state: 0 disconnected,
	// 1 connecting, 2 connected, 3 error.
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queuewatch_connection_state",
		Help: "Current connection state (0=disconnected 1=connecting 2=connected 3=error).",
	})

	// PollFetches counts REST fallback polls.
	PollFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queuewatch_poll_fetches_total",
		Help: "Fallback REST snapshot fetches.",
	})
)
