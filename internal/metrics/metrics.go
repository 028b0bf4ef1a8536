package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rainytalk_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rainytalk_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rainytalk_messages_posted_total",
			Help: "Total messages written to the chain",
		},
		[]string{"origin"}, // "direct" or "generated"
	)

	TurnsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rainytalk_turns_generated_total",
			Help: "Total turns produced by the dialogue generator",
		},
		[]string{"mode"}, // "agent" or "with_human"
	)

	GeneratorLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rainytalk_generator_latency_seconds",
			Help:    "Dialogue generator call latency",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	SummariesGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rainytalk_summaries_generated_total",
			Help: "Total history summaries produced",
		},
	)

	// Chain integrity metrics
	RacesLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rainytalk_generation_races_lost_total",
			Help: "Generated turns discarded because a concurrent writer won",
		},
	)

	ChainRollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rainytalk_chain_rollbacks_total",
			Help: "Cascading ancestry deletions after a broken chain",
		},
	)

	// Poll-wait metrics
	PollWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rainytalk_poll_waits_total",
			Help: "Next-turn requests that waited on the child poll",
		},
	)

	PollTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rainytalk_poll_timeouts_total",
			Help: "Child polls that exhausted their attempt budget",
		},
	)
)
