package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus instruments.
type Metrics struct {
	messages        prometheus.Counter
	promotions      prometheus.Counter
	contextRequests prometheus.Counter
	tierTimeouts    *prometheus.CounterVec
	contextLatency  prometheus.Histogram
}

// NewMetrics creates and registers the engine metrics. reg may be nil to
// use the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memlayer",
			Name:      "messages_total",
			Help:      "Messages ingested into short-term memory.",
		}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memlayer",
			Name:      "promotions_total",
			Help:      "Completed STM to MTM promotions.",
		}),
		contextRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memlayer",
			Name:      "context_requests_total",
			Help:      "GetContext calls.",
		}),
		tierTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memlayer",
			Name:      "tier_timeouts_total",
			Help:      "Tier retrievals that missed their deadline.",
		}, []string{"tier"}),
		contextLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "memlayer",
			Name:      "get_context_seconds",
			Help:      "End-to-end GetContext latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.messages, m.promotions, m.contextRequests, m.tierTimeouts, m.contextLatency)
	return m
}
