// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatroom_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatroom_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Room metrics
	OnlineSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatroom_online_sessions",
			Help: "Currently connected sessions",
		},
	)

	MessagesAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatroom_messages_accepted_total",
			Help: "Messages and replies persisted and broadcast",
		},
		[]string{"kind"}, // "message" or "reply"
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatroom_messages_rejected_total",
			Help: "Messages and replies rejected before broadcast",
		},
		[]string{"reason"},
	)

	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatroom_events_broadcast_total",
			Help: "Outbound events fanned out to the room",
		},
		[]string{"type"},
	)

	ReactionsToggled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatroom_reactions_toggled_total",
			Help: "Reaction toggles",
		},
		[]string{"action"},
	)

	ModerationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatroom_moderation_actions_total",
			Help: "Admin moderation actions",
		},
		[]string{"action"},
	)

	MalformedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatroom_malformed_frames_total",
			Help: "Inbound frames that could not be parsed",
		},
	)

	// Storage metrics
	SecondaryWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatroom_secondary_write_failures_total",
			Help: "Asynchronous secondary tier writes that failed",
		},
		[]string{"tier"},
	)

	SecondaryWritesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatroom_secondary_writes_dropped_total",
			Help: "Secondary tier writes dropped because the queue was full",
		},
	)

	SecondaryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatroom_secondary_queue_depth",
			Help: "Secondary tier writes waiting to be applied",
		},
	)

	// Rate limit metrics
	APIRateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatroom_api_rate_limit_hits_total",
			Help: "HTTP requests rejected by the per-IP limiter",
		},
	)
)
