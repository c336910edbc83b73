package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codepair/matching-service/internal/domain"
)

// Metrics holds the engine's instrumentation. All components share one
// instance from the container.
type Metrics struct {
	registry *prometheus.Registry

	MatchLatency  prometheus.Histogram
	QueueDepth    *prometheus.GaugeVec
	LiveStreams   prometheus.Gauge
	Matches       prometheus.Counter
	Timeouts      prometheus.Counter
	Cancellations prometheus.Counter
	UpstreamFails prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "matching",
			Name:      "match_latency_seconds",
			Help:      "Time from request creation to committed match.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "matching",
			Name:      "queue_depth",
			Help:      "Requests currently waiting, per difficulty tier.",
		}, []string{"difficulty"}),
		LiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "matching",
			Name:      "live_streams",
			Help:      "Open live status streams.",
		}),
		Matches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "matching",
			Name:      "matches_total",
			Help:      "Committed pairings.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "matching",
			Name:      "timeouts_total",
			Help:      "Requests evicted by the sweeper.",
		}),
		Cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "matching",
			Name:      "cancellations_total",
			Help:      "Requests cancelled by their user, explicit or implicit.",
		}),
		UpstreamFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "matching",
			Name:      "upstream_failures_total",
			Help:      "Failed or timed-out session-creation calls.",
		}),
	}

	m.registry.MustRegister(
		m.MatchLatency, m.QueueDepth, m.LiveStreams,
		m.Matches, m.Timeouts, m.Cancellations, m.UpstreamFails,
	)
	return m
}

// Registry exposes the registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// SetQueueDepth records the sampled depth for one tier.
func (m *Metrics) SetQueueDepth(difficulty domain.Difficulty, depth int64) {
	m.QueueDepth.WithLabelValues(string(difficulty)).Set(float64(depth))
}
