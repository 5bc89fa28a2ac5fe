// Package monitoring exposes process metrics on /metrics.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webhangin_rooms_active",
		Help: "Number of rooms currently registered.",
	})
	PlayersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webhangin_players_online",
		Help: "Number of connected players.",
	})
	FramesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhangin_frames_in_total",
		Help: "Inbound signaling frames processed.",
	})
	FramesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhangin_frames_out_total",
		Help: "Outbound signaling frames enqueued.",
	})
	PublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhangin_publishes_total",
		Help: "Publish completions by outcome.",
	}, []string{"outcome"})
	SubscribesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhangin_subscribes_total",
		Help: "Subscribe completions by outcome.",
	}, []string{"outcome"})
)
