package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Subscription engine, message correlation and connection lifecycle
// collectors. Owner labels are "account" or "tab".

var (
	// Subscriptions
	SubscriptionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "wallet",
		Subsystem: "subscription",
		Name:      "active",
		Help:      "Contract subscriptions currently alive",
	}, []string{"owner"})

	PollingPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "subscription",
		Name:      "polling_passes_total",
		Help:      "Completed polling passes by polling method",
	}, []string{"method"})

	PollingErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "subscription",
		Name:      "polling_errors_total",
		Help:      "Recovered polling errors by stage",
	}, []string{"stage"})

	PollingMethodTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "subscription",
		Name:      "polling_method_transitions_total",
		Help:      "Polling method changes reported by contract handles",
	}, []string{"from", "to"})

	BlockWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wallet",
		Subsystem: "subscription",
		Name:      "block_wait_duration_seconds",
		Help:      "Time spent waiting for the next block in reliable polling",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// Pending messages
	PendingMessages = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "wallet",
		Subsystem: "messages",
		Name:      "pending",
		Help:      "Sent messages awaiting confirmation or expiry",
	}, []string{"owner"})

	MessageSettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "messages",
		Name:      "settlements_total",
		Help:      "Settled pending messages by outcome",
	}, []string{"owner", "outcome"})

	DuplicateNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "messages",
		Name:      "duplicate_notifications_total",
		Help:      "Handle notifications for already settled or unknown messages",
	}, []string{"owner", "kind"})

	// Connection lifecycle
	ConnectionSwitchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "connection",
		Name:      "switches_total",
		Help:      "Network switch attempts by status",
	}, []string{"status"})

	ConnectionLeasesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wallet",
		Subsystem: "connection",
		Name:      "leases_active",
		Help:      "Acquired and not yet released connection leases",
	})

	ConnectionsRetiring = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wallet",
		Subsystem: "connection",
		Name:      "retiring",
		Help:      "Replaced connections still referenced by leases",
	})

	// Lite-server RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Lite-server calls by method and status",
	}, []string{"network", "method", "status"})

	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total times lite-server calls waited for the rate limiter",
	}, []string{"network"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "wallet",
		Subsystem: "rpc",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"network"})

	// UI fan-out
	TabSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wallet",
		Subsystem: "tabs",
		Name:      "subscriptions",
		Help:      "Tab/address subscription entries",
	})

	TabNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "tabs",
		Name:      "notifications_total",
		Help:      "Notifications routed to tabs by channel",
	}, []string{"channel"})

	PortsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wallet",
		Subsystem: "ui",
		Name:      "ports_connected",
		Help:      "Connected UI ports",
	})

	StateBroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "ui",
		Name:      "state_broadcasts_total",
		Help:      "Debounced state snapshots broadcast to UI ports",
	})
)
