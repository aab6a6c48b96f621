// Package metrics exposes the Prometheus instruments for the sync server.
// Everything is registered on the default registry and served by the
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "sonicline"
	subsystem = "sync"
)

var (
	// EventsTotal counts routed inbound frames by event type. Pass-through
	// kinds are counted under their caller-defined type string.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "events_total",
		Help:      "Inbound session events processed, by event type.",
	}, []string{"type"})

	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "frames_malformed_total",
		Help:      "Inbound frames that failed envelope parsing.",
	})

	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "broadcasts_total",
		Help:      "Fanout operations performed.",
	})

	DeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "deliveries_total",
		Help:      "Per-connection event deliveries enqueued.",
	})

	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "delivery_failures_total",
		Help:      "Per-connection deliveries that failed and were skipped.",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sessions_active",
		Help:      "Sessions currently held in the registry.",
	})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "connections_active",
		Help:      "Live websocket connections.",
	})

	SessionsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sessions_reaped_total",
		Help:      "Sessions evicted by the inactivity reaper.",
	})

	ActionsPerformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "actions_performed_total",
		Help:      "Action executions through the action table, by outcome.",
	}, []string{"outcome"})
)
