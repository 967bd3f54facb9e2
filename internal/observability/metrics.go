package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for LevFarm.
type Metrics struct {
	// --- Executor ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	Journals         *prometheus.CounterVec
	Sequence         prometheus.Gauge

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupTier2Errors      prometheus.Counter
	DedupLRUSize          prometheus.Gauge
	SequenceGaps          *prometheus.CounterVec
	OutOfOrder            *prometheus.CounterVec

	// --- Strategy ---
	CollateralRatio      prometheus.Gauge
	DebtRatio            *prometheus.GaugeVec
	EstimatedTotalAssets prometheus.Gauge
	GuardTrips           *prometheus.CounterVec
	RealizedGain         prometheus.Counter
	RealizedLoss         prometheus.Counter

	// --- Keeper ---
	TriggerEvaluations *prometheus.CounterVec
	TWAPObservations   prometheus.Counter

	// --- Channels ---
	ProjectionDrops prometheus.Counter
	PublishDrops    prometheus.Counter

	// --- Persistence ---
	PersistOperationsWritten prometheus.Counter
	PersistJournalsWritten   prometheus.Counter
	PersistBatchSize         prometheus.Histogram
	PersistBatchDur          prometheus.Histogram
	PersistErrors            *prometheus.CounterVec
	PersistLastSequence      prometheus.Gauge
	ProjectionUpdateDur      prometheus.Histogram

	// --- Snapshot & replay ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge
	ReplayCommands   prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() so that repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	opBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}
	ioBuckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	return &Metrics{
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "levfarm_commands_applied_total",
			Help: "Commands applied by the executor",
		}, []string{"command_type"}),

		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "levfarm_commands_rejected_total",
			Help: "Commands rejected (duplicate, sequence, strategy error)",
		}, []string{"command_type", "reason"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "levfarm_command_duration_seconds",
			Help:    "Time to run one command in the executor",
			Buckets: opBuckets,
		}, []string{"command_type"}),

		Journals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "levfarm_journals_generated_total",
			Help: "Position journal entries generated",
		}, []string{"journal_type"}),

		Sequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "levfarm_executor_sequence",
			Help: "Next sequence the executor will assign",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "levfarm_idempotency_duplicates_total",
			Help: "Duplicate commands detected",
		}, []string{"command_type", "tier"}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "levfarm_idempotency_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "levfarm_idempotency_lru_size",
			Help: "Keys held in the dedup LRU",
		}),

		SequenceGaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "levfarm_sequence_gaps_total",
			Help: "Source sequence gaps detected",
		}, []string{"partition"}),

		OutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "levfarm_sequence_out_of_order_total",
			Help: "New commands received behind the expected source sequence",
		}, []string{"partition"}),

		CollateralRatio: f.NewGauge(prometheus.GaugeOpts{
			Name: "levfarm_collateral_ratio_bps",
			Help: "Debt value over collateral value",
		}),

		DebtRatio: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "levfarm_debt_ratio_bps",
			Help: "Borrowed amount over the pool-implied share",
		}, []string{"leg"}),

		EstimatedTotalAssets: f.NewGauge(prometheus.GaugeOpts{
			Name: "levfarm_estimated_total_assets",
			Help: "Strategy net value in whole want tokens",
		}),

		GuardTrips: f.NewCounterVec(prometheus.CounterOpts{
			Name: "levfarm_price_guard_trips_total",
			Help: "Operations aborted by the price guard",
		}, []string{"pair"}),

		RealizedGain: f.NewCounter(prometheus.CounterOpts{
			Name: "levfarm_realized_gain_total",
			Help: "Gain reported to the vault, whole want tokens",
		}),

		RealizedLoss: f.NewCounter(prometheus.CounterOpts{
			Name: "levfarm_realized_loss_total",
			Help: "Loss reported to the vault, whole want tokens",
		}),

		TriggerEvaluations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "levfarm_keeper_trigger_evaluations_total",
			Help: "Keeper trigger evaluations",
		}, []string{"trigger", "fired"}),

		TWAPObservations: f.NewCounter(prometheus.CounterOpts{
			Name: "levfarm_keeper_twap_observations_total",
			Help: "TWAP samples taken by the keeper",
		}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "levfarm_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "levfarm_publish_drops_total",
			Help: "Outcomes dropped because the publish channel was full",
		}),

		PersistOperationsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "levfarm_persist_operations_written_total",
			Help: "Operation rows written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "levfarm_persist_journals_written_total",
			Help: "Journal rows written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "levfarm_persist_batch_size",
			Help:    "Operations per persistence batch",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "levfarm_persist_batch_duration_seconds",
			Help:    "Time to commit one persistence batch",
			Buckets: ioBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "levfarm_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"op"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "levfarm_persist_last_sequence",
			Help: "Highest sequence committed to Postgres",
		}),

		ProjectionUpdateDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "levfarm_projection_update_duration_seconds",
			Help:    "Time to apply one output to the projections",
			Buckets: ioBuckets,
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "levfarm_snapshots_taken_total",
			Help: "Snapshots saved",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "levfarm_snapshot_duration_seconds",
			Help:    "Time to capture and save a snapshot",
			Buckets: ioBuckets,
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "levfarm_snapshot_last_sequence",
			Help: "Sequence of the latest snapshot",
		}),

		ReplayCommands: f.NewCounter(prometheus.CounterOpts{
			Name: "levfarm_replay_commands_total",
			Help: "Commands replayed from the operation log at startup",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "levfarm_query_requests_total",
			Help: "HTTP query requests",
		}, []string{"endpoint"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "levfarm_query_duration_seconds",
			Help:    "HTTP query latency",
			Buckets: ioBuckets,
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "levfarm_query_errors_total",
			Help: "HTTP query errors",
		}, []string{"endpoint"}),
	}
}
