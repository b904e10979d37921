// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Price feed metrics
	SamplesAccepted  *prometheus.CounterVec
	SamplesRejected  *prometheus.CounterVec
	DecodeErrors     prometheus.Counter
	SourceFailovers  prometheus.Counter
	WSReconnects     prometheus.Counter
	ActiveSubs       prometheus.Gauge
	RESTFetchLatency *prometheus.HistogramVec

	// Exit engine metrics
	ExitsExecuted prometheus.Counter
	ExitsByReason *prometheus.CounterVec
	ExitFailures  prometheus.Counter

	// Candidate queue metrics
	CandidatesQueued   prometheus.Counter
	CandidatesRejected prometheus.Counter
	QueueDepth         prometheus.Gauge

	// Mirror pipeline metrics
	MirrorTxIngested  prometheus.Counter
	MirrorTxFiltered  *prometheus.CounterVec
	MirrorTrades      *prometheus.CounterVec
	MirrorFailures    prometheus.Counter
	MirrorQueueDepth  prometheus.Gauge
	DrainBatchSize    prometheus.Histogram
	SnapshotWrites    prometheus.Counter

	// Health metrics
	LastSampleAt  prometheus.Gauge
	UptimeSeconds prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pump_trader"
	}

	return &Metrics{
		SamplesAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "samples_accepted_total",
			Help:      "Total number of price samples accepted by source",
		}, []string{"source"}),
		SamplesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "samples_rejected_total",
			Help:      "Total number of price samples rejected by reason",
		}, []string{"reason"}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "decode_errors_total",
			Help:      "Total number of bonding curve decode failures",
		}),
		SourceFailovers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "source_failovers_total",
			Help:      "Total number of falls to a lower-ranked price source",
		}),
		WSReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "ws_reconnects_total",
			Help:      "Total number of WebSocket reconnects",
		}),
		ActiveSubs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "active_subscriptions",
			Help:      "Current number of account subscriptions",
		}),
		RESTFetchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "rest_fetch_latency_seconds",
			Help:      "REST fallback fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),

		ExitsExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exits",
			Name:      "executed_total",
			Help:      "Total number of executed exits",
		}),
		ExitsByReason: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exits",
			Name:      "by_reason_total",
			Help:      "Total number of exits by reason",
		}, []string{"reason"}),
		ExitFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exits",
			Name:      "failures_total",
			Help:      "Total number of failed exit executions",
		}),

		CandidatesQueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candidates",
			Name:      "queued_total",
			Help:      "Total number of candidates newly queued",
		}),
		CandidatesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candidates",
			Name:      "rejected_total",
			Help:      "Total number of candidates marked rejected",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "candidates",
			Name:      "queue_depth",
			Help:      "Current candidate queue size",
		}),

		MirrorTxIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "tx_ingested_total",
			Help:      "Total number of wallet transactions ingested",
		}),
		MirrorTxFiltered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "tx_filtered_total",
			Help:      "Total number of wallet transactions filtered by reason",
		}, []string{"reason"}),
		MirrorTrades: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "trades_total",
			Help:      "Total number of mirrored trades by side",
		}, []string{"side"}),
		MirrorFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "failures_total",
			Help:      "Total number of failed mirrored trades",
		}),
		MirrorQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "queue_depth",
			Help:      "Current size of the mirror ingestion buffer",
		}),
		DrainBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "drain_batch_size",
			Help:      "Number of transactions processed per drain batch",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		}),
		SnapshotWrites: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "snapshot_writes_total",
			Help:      "Total number of coalesced state snapshot writes",
		}),

		LastSampleAt: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_sample_timestamp",
			Help:      "Unix timestamp of the last accepted price sample",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
