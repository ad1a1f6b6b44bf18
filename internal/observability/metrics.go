package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the clearing house.
type Metrics struct {
	// --- Core processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreJournals         *prometheus.CounterVec
	CoreRecords          *prometheus.CounterVec
	CoreSequence         prometheus.Gauge

	// --- Channels & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupTier2Errors      prometheus.Counter
	SequenceGap           *prometheus.CounterVec
	SequenceOutOfOrder    *prometheus.CounterVec
	OracleSlotGap         *prometheus.CounterVec

	// --- Risk ---
	FundingRateUpdates     *prometheus.CounterVec
	FundingPaymentsSettled *prometheus.CounterVec
	OracleRejected         *prometheus.CounterVec
	Liquidations           *prometheus.CounterVec
	LiquidationDeficits    *prometheus.CounterVec
	InsuranceVaultBalance  prometheus.Gauge

	// --- Ingestion ---
	IngestReceived    *prometheus.CounterVec
	IngestParseErrors *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistRecordsWritten  prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Tests pass a
// fresh prometheus.NewRegistry() so repeated construction does not panic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreCommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_core_commands_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"command"}),

		CoreCommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_core_commands_rejected_total",
			Help: "Commands rejected, by error category",
		}, []string{"command", "reason"}),

		CoreCommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ch_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_core_history_records_total",
			Help: "History records produced",
		}, []string{"history"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "ch_core_sequence",
			Help: "Current global sequence number",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ch_channel_size",
			Help: "Current channel occupancy",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ch_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_projection_drops_total",
			Help: "Outputs dropped because a projection channel was full",
		}, []string{"channel"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "ch_publish_drops_total",
			Help: "History records not published",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "ch_persist_backpressure_total",
			Help: "Times the core blocked on a full persist channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_idempotency_duplicates_total",
			Help: "Duplicate commands detected",
		}, []string{"command", "tier"}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "ch_dedup_tier2_errors_total",
			Help: "Postgres idempotency lookups that failed",
		}),

		SequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_sequence_gap_total",
			Help: "Source sequence gaps detected",
		}, []string{"partition"}),

		SequenceOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_sequence_out_of_order_total",
			Help: "Out-of-order source sequences rejected",
		}, []string{"partition"}),

		OracleSlotGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_oracle_slot_gap_total",
			Help: "Oracle updates that skipped slots",
		}, []string{"market"}),

		FundingRateUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_funding_rate_updates_total",
			Help: "Funding rate updates applied",
		}, []string{"market"}),

		FundingPaymentsSettled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_funding_payments_settled_total",
			Help: "Position funding payments settled",
		}, []string{"market"}),

		OracleRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_oracle_rejected_total",
			Help: "Oracle readings rejected by the guard rails",
		}, []string{"market", "validity"}),

		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_liquidations_total",
			Help: "Liquidations executed",
		}, []string{"market", "kind"}),

		LiquidationDeficits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_liquidation_deficits_total",
			Help: "Liquidations that left negative equity",
		}, []string{"market"}),

		InsuranceVaultBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "ch_insurance_vault_balance",
			Help: "Insurance vault balance in QUOTE_PRECISION units",
		}),

		IngestReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_ingest_received_total",
			Help: "Commands received, by ingest surface",
		}, []string{"source", "command"}),

		IngestParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_ingest_parse_errors_total",
			Help: "Messages that failed to parse",
		}, []string{"source"}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "ch_persist_events_written_total",
			Help: "Event envelopes written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "ch_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistRecordsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "ch_persist_records_written_total",
			Help: "History records written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ch_persist_batch_size",
			Help:    "Events per persisted batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ch_persist_batch_duration_seconds",
			Help:    "Time to commit one batch",
			Buckets: prometheus.DefBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_persist_errors_total",
			Help: "Persistence errors by stage",
		}, []string{"stage"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "ch_persist_retry_total",
			Help: "Persistence batch retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "ch_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "ch_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ch_snapshot_duration_seconds",
			Help:    "Time to write a snapshot",
			Buckets: prometheus.DefBuckets,
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "ch_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "ch_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "ch_replay_events_total",
			Help: "Events replayed on startup",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ch_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ch_query_errors_total",
			Help: "Query API errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics records the occupancy of a named channel.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
}
