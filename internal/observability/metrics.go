package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for OptionSettle.
type Metrics struct {
	// --- Core Processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreEventsEmitted    *prometheus.CounterVec
	CoreJournals         *prometheus.CounterVec
	CoreSequence         prometheus.Gauge
	CoreClockViolations  *prometheus.CounterVec

	// --- Settlement ---
	SweepBatchWidth prometheus.Histogram
	HoldersSwept    *prometheus.CounterVec
	FeesClaimed     *prometheus.CounterVec
	SeriesCreated   prometheus.Counter

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    *prometheus.CounterVec
	PublishDrops       prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge

	// --- Ingestion & Publishing ---
	IngestReceived  *prometheus.CounterVec
	IngestToApply   *prometheus.HistogramVec
	EventsPublished *prometheus.CounterVec
	PublishErrors   prometheus.Counter

	// --- Persistence ---
	PersistCommandsWritten prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge
	ProjectionUpdateDur    *prometheus.HistogramVec

	// --- Recovery ---
	CheckpointsWritten prometheus.Counter
	ReplayCommands     prometheus.Counter
	ReplayDuration     prometheus.Gauge

	// --- Keeper ---
	KeeperRuns       *prometheus.CounterVec
	KeeperStatements prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics registers all metrics with the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.05,
	}

	return &Metrics{
		// Core Processing
		CoreCommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optsettle_core_commands_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"command_type"}),

		CoreCommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optsettle_core_commands_rejected_total",
			Help: "Commands rejected (duplicate or domain error code)",
		}, []string{"command_type", "reason"}),

		CoreCommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optsettle_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"command_type"}),

		CoreEventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optsettle_core_events_emitted_total",
			Help: "Settlement events emitted by applied commands",
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optsettle_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "optsettle_core_sequence",
			Help: "Current global sequence number",
		}),

		CoreClockViolations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optsettle_core_clock_violations_total",
			Help: "Commands rejected for an out-of-order or future timestamp",
		}, []string{"command_type", "kind"}),

		// Settlement
		SweepBatchWidth: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "optsettle_sweep_batch_width",
			Help:    "Holder indexes covered by one sweep",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		HoldersSwept: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optsettle_holders_swept_total",
			Help: "Holders paid out by sweeps",
		}, []string{"series_id"}),

		FeesClaimed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optsettle_fee_claims_total",
			Help: "Non-empty fee claims",
		}, []string{"series_id"}),

		SeriesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "optsettle_series_created_total",
			Help: "Series created by the factory",
		}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "optsettle_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "optsettle_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "optsettle_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optsettle_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "optsettle_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		// Idempotency
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optsettle_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"command_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "optsettle_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		// Ingestion & Publishing
		IngestReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optsettle_ingest_received_total",
			Help: "Commands received by source and outcome",
		}, []string{"source", "outcome"}),

		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optsettle_ingest_to_apply_seconds",
			Help:    "Receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"command_type"}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optsettle_events_published_total",
			Help: "Settlement events published to NATS",
		}, []string{"event_type"}),

		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "optsettle_publish_errors_total",
			Help: "NATS publish failures",
		}),

		// Persistence
		PersistCommandsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "optsettle_persist_commands_written_total",
			Help: "Commands written to the Postgres log",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "optsettle_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "optsettle_persist_batch_size",
			Help:    "Commands per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "optsettle_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optsettle_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "optsettle_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "optsettle_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optsettle_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Recovery
		CheckpointsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "optsettle_checkpoints_written_total",
			Help: "Checkpoints written",
		}),

		ReplayCommands: f.NewCounter(prometheus.CounterOpts{
			Name: "optsettle_replay_commands_total",
			Help: "Commands replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "optsettle_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Keeper
		KeeperRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optsettle_keeper_runs_total",
			Help: "Keeper sweep runs by outcome",
		}, []string{"outcome"}),

		KeeperStatements: f.NewCounter(prometheus.CounterOpts{
			Name: "optsettle_keeper_statements_total",
			Help: "Settlement statements archived",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optsettle_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optsettle_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
