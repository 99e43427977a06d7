package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livequiz"

var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_created_total",
		Help:      "Number of game sessions started.",
	})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_transitions_total",
		Help:      "Host actions applied to game sessions.",
	}, []string{"action"})

	PlayersJoined = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "players_joined_total",
		Help:      "Number of players who joined a game.",
	})

	PlayersKicked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "players_kicked_total",
		Help:      "Number of players removed by a host.",
	})

	AnswersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "answers_submitted_total",
		Help:      "Recorded answers by result.",
	}, []string{"result"})

	Watchers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_watchers",
		Help:      "Open snapshot streams.",
	})
)
