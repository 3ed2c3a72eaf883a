// Package metrics registers the prometheus collectors of the sync core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsGauge tracks live websocket connections.
	ConnectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "openmates_ws_connections",
		Help: "Current number of active websocket connections",
	})

	// FramesSent counts outgoing frames by message type.
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openmates_ws_frames_sent_total",
		Help: "Total outgoing websocket frames by type",
	}, []string{"type"})

	// FramesReceived counts inbound frames by message type.
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openmates_ws_frames_received_total",
		Help: "Total inbound websocket frames by type",
	}, []string{"type"})

	// SendFailures counts per-device send failures during fan-out.
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openmates_ws_send_failures_total",
		Help: "Total failed sends to individual devices",
	})

	// ListenerRestarts counts event-bus listener loop recoveries.
	ListenerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openmates_listener_restarts_total",
		Help: "Total event listener recoveries after a handler panic",
	}, []string{"listener"})

	// ActiveAITasks tracks chats with a live AI task.
	ActiveAITasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "openmates_active_ai_tasks",
		Help: "Chats with a live AI task",
	})

	// QueuedAIRequests counts requests deferred by the single-flight guard.
	QueuedAIRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openmates_queued_ai_requests_total",
		Help: "AI requests queued behind an active task",
	})
)
