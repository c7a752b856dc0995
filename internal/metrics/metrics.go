package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_active_connections",
		Help: "Active websocket connections",
	})

	SessionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_sessions_closed_total",
		Help: "Websocket sessions closed, by close code",
	}, []string{"code"})

	FramesIn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_frames_in_total",
		Help: "Inbound websocket frames, by type and outcome",
	}, []string{"type", "outcome"})

	Broadcasts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_broadcasts_total",
		Help: "Events fanned out to conversation groups, by kind and origin",
	}, []string{"kind", "origin"})

	DeliveriesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_deliveries_dropped_total",
		Help: "Frames not delivered because the connection was closed or too slow",
	})

	MessagesPersisted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_persisted_total",
		Help: "Messages written to the repository, by message type",
	}, []string{"message_type"})

	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_published_total",
		Help: "Domain events handed to the event producer, by outcome",
	}, []string{"outcome"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_http_requests_total",
		Help: "HTTP requests, by route and status",
	}, []string{"method", "route", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

var once sync.Once

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			Connections, SessionsClosed, FramesIn, Broadcasts, DeliveriesDropped,
			MessagesPersisted, EventsPublished, HTTPRequests, HTTPDuration,
		)
	})
}
