// Package metrics provides Prometheus instrumentation for the collaborative
// session peer. It exposes counters for broadcast event throughput and drop
// reasons, and gauges for the derived state each synchronizer maintains.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsReceived counts inbound broadcast events, labeled by channel:
	// "users", "chat", or "counter".
	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_events_received_total",
		Help: "Total number of inbound broadcast events",
	}, []string{"channel"})

	// EventsDropped counts discarded inbound events, labeled by channel and
	// reason: "stale", "malformed", or "duplicate".
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_events_dropped_total",
		Help: "Total number of discarded inbound broadcast events",
	}, []string{"channel", "reason"})

	// RosterSize tracks known participants, labeled by state: "active" or
	// "inactive".
	RosterSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "collab_roster_size",
		Help: "Current number of known participants by liveness state",
	}, []string{"state"})

	// ChatLogSize tracks the current number of non-expired messages in the
	// local chat log.
	ChatLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collab_chat_log_size",
		Help: "Current number of messages in the local chat log",
	})

	// TypingActive tracks the current number of live typing indicators.
	TypingActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collab_typing_active",
		Help: "Current number of participants with a live typing indicator",
	})

	// CounterValue mirrors the local view of the shared counter.
	CounterValue = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collab_counter_value",
		Help: "Local view of the shared counter value",
	})

	// GatewayConnections tracks active local UI WebSocket connections.
	GatewayConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collab_gateway_connections",
		Help: "Current number of active gateway WebSocket connections",
	})
)

func init() {
	prometheus.MustRegister(
		EventsReceived,
		EventsDropped,
		RosterSize,
		ChatLogSize,
		TypingActive,
		CounterValue,
		GatewayConnections,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
