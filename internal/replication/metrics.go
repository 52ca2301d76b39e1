package replication

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the replication Prometheus metrics
type Metrics struct {
	ReplayOutcomes   *prometheus.CounterVec
	ReplayDuration   *prometheus.HistogramVec
	SuppressedValues prometheus.Counter
	StorageRetries   prometheus.Counter
	UUIDMismatches   prometheus.Counter
	QueueDepth       *prometheus.GaugeVec
	CatchUpPulled    *prometheus.CounterVec
	TombstonesPurged prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg.
// A nil reg creates unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ReplayOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirsync_replay_outcomes_total",
				Help: "Total number of replayed operations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		ReplayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dirsync_replay_duration_seconds",
				Help:    "Duration of one replayed operation including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		SuppressedValues: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dirsync_suppressed_values_total",
				Help: "Total number of attribute values dropped by conflict resolution",
			},
		),

		StorageRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dirsync_storage_retries_total",
				Help: "Total number of replays retried after a storage write conflict",
			},
		),

		UUIDMismatches: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dirsync_uuid_mismatches_total",
				Help: "Total number of operations dropped because the entry UUID did not match",
			},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dirsync_dispatcher_queue_depth",
				Help: "Number of operations waiting in a dispatcher",
			},
			[]string{"domain"},
		),

		CatchUpPulled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirsync_catchup_pulled_total",
				Help: "Total number of operations pulled from peers during catch-up",
			},
			[]string{"peer"},
		),

		TombstonesPurged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dirsync_tombstones_purged_total",
				Help: "Total number of tombstones removed from storage",
			},
		),
	}
}
