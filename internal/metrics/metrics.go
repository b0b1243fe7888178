// Package metrics holds the Prometheus collectors of the sync service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	SocketConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "wesal_sync",
			Subsystem: "socket",
			Name:      "connections",
			Help:      "Open namespaced socket connections.",
		},
		[]string{"namespace"},
	)

	SocketEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wesal_sync",
			Subsystem: "socket",
			Name:      "events_total",
			Help:      "Socket events relayed, by namespace and event.",
		},
		[]string{"namespace", "event"},
	)

	RealtimeMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wesal_sync",
			Subsystem: "realtime",
			Name:      "channel_members",
			Help:      "Joined realtime channel members.",
		},
	)

	RealtimeChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wesal_sync",
			Subsystem: "realtime",
			Name:      "changes_total",
			Help:      "Row changes published to the broker, by table.",
		},
		[]string{"table"},
	)

	SessionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wesal_sync",
			Subsystem: "sessions",
			Name:      "opened_total",
			Help:      "Remote sessions opened, by activity type and whether a row was created.",
		},
		[]string{"activity_type", "created"},
	)

	SessionsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wesal_sync",
			Subsystem: "sessions",
			Name:      "swept_total",
			Help:      "Idle sessions archived and deleted by the sweeper.",
		},
	)

	PresenceWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wesal_sync",
			Subsystem: "presence",
			Name:      "writes_total",
			Help:      "Presence writes, by kind (online, offline, touch).",
		},
		[]string{"kind"},
	)

	PushNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wesal_sync",
			Subsystem: "push",
			Name:      "notifications_total",
			Help:      "Partner push notifications, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		SocketConnections,
		SocketEvents,
		RealtimeMembers,
		RealtimeChanges,
		SessionsOpened,
		SessionsSwept,
		PresenceWrites,
		PushNotifications,
	)
}

// Handler exposes Registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
