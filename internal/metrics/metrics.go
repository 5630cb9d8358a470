package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_connections",
		Help: "Live WebSocket sessions in the Joined state.",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_rooms",
		Help: "Rooms with at least one registered connection.",
	})

	MessagesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_persisted_total",
		Help: "Messages appended to the store, by kind.",
	}, []string{"kind"})

	Broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_broadcasts_total",
		Help: "Events fanned out to a room.",
	})

	BroadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_broadcast_drops_total",
		Help: "Per-connection deliveries that failed during broadcast.",
	})

	RejectedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_rejected_events_total",
		Help: "Inbound events that were not persisted, by reason.",
	}, []string{"reason"})
)
