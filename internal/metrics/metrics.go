package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "groupcall",
		Name:      "active_rooms",
		Help:      "Rooms currently held by the signaling registry.",
	})

	ActiveParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "groupcall",
		Name:      "active_participants",
		Help:      "Participants currently joined across all rooms.",
	})

	ActivePresentations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "groupcall",
		Name:      "active_presentations",
		Help:      "Rooms with an active presenter.",
	})

	SignalingMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groupcall",
		Name:      "signaling_messages_total",
		Help:      "Inbound signaling messages by kind.",
	}, []string{"kind"})

	EngineFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "groupcall",
		Name:      "engine_failures_total",
		Help:      "Failed media engine calls.",
	})
)
