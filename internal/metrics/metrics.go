// Package metrics exposes Prometheus collectors for the transport and match
// lifecycle. Collectors are registered on the default registry; relayd and
// any embedding process serve them via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duel_messages_published_total",
		Help: "Match-channel messages published, by message kind.",
	}, []string{"kind"})

	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duel_messages_received_total",
		Help: "Match-channel messages received, by message kind.",
	}, []string{"kind"})

	PublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duel_publish_errors_total",
		Help: "Best-effort publishes that returned an error.",
	})

	MatchesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duel_matches_completed_total",
		Help: "Matches that reached the results phase.",
	})

	ForfeitsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duel_forfeits_detected_total",
		Help: "Opponent forfeits observed via message or presence fallback.",
	})
)
