package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the ingestion pipeline.
type Metrics struct {
	PollCyclesTotal       *prometheus.CounterVec
	SnapshotsTotal        *prometheus.CounterVec
	SearchFailuresTotal   *prometheus.CounterVec
	MentionsIngestedTotal prometheus.Counter
	PostsSeenTotal        prometheus.Counter
	LastPollTimestamp     prometheus.Gauge
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PollCyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentions_poll_cycles_total",
				Help: "Poll cycles by result",
			},
			[]string{"result"},
		),
		SnapshotsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentions_snapshots_total",
				Help: "Backfill snapshots by trigger and result",
			},
			[]string{"trigger", "result"},
		),
		SearchFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentions_search_failures_total",
				Help: "Search API failures by category",
			},
			[]string{"reason"},
		),
		MentionsIngestedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mentions_ingested_total",
			Help: "Qualifying mentions persisted by poll cycles",
		}),
		PostsSeenTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mentions_posts_seen_total",
			Help: "Raw search results inspected, qualifying or not",
		}),
		LastPollTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mentions_last_poll_timestamp_seconds",
			Help: "Unix time of the last completed poll cycle",
		}),
	}
}
