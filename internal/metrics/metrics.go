package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	instance *Metrics
	once     sync.Once
)

// Metrics holds the Prometheus instruments for the bot. Counters are
// registered once on first Get(); the debug server exposes them on
// /metrics.
type Metrics struct {
	// Source
	SourceRequestsTotal *prometheus.CounterVec
	SourceItemsTotal    prometheus.Counter
	SourceDuration      prometheus.Histogram

	// Dedup
	DedupChecksTotal prometheus.Counter
	DedupHitsTotal   *prometheus.CounterVec
	DedupSweptTotal  prometheus.Counter
	DedupRecords     prometheus.Gauge

	// Translate
	TranslateTotal  *prometheus.CounterVec
	TranslateErrors prometheus.Counter

	// Commands
	CommandsTotal *prometheus.CounterVec
	Subscribers   prometheus.Gauge

	// Broadcast
	BroadcastSendsTotal *prometheus.CounterVec
	BroadcastBatches    prometheus.Counter
	BroadcastDuration   prometheus.Histogram

	// Monitor
	CyclesTotal   *prometheus.CounterVec
	CycleDuration prometheus.Histogram
}

// Get returns the metrics singleton.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.SourceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zvnews_source_requests_total",
			Help: "Total number of news source requests",
		},
		[]string{"lang", "status"},
	)

	m.SourceItemsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zvnews_source_items_total",
			Help: "Total number of articles returned by the source",
		},
	)

	m.SourceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zvnews_source_request_duration_seconds",
			Help:    "News source request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // from 50ms to ~25s
		},
	)

	m.DedupChecksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zvnews_dedup_checks_total",
			Help: "Total number of duplicate checks",
		},
	)

	m.DedupHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zvnews_dedup_hits_total",
			Help: "Total number of duplicate verdicts",
		},
		[]string{"kind"}, // exact, fuzzy
	)

	m.DedupSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zvnews_dedup_swept_total",
			Help: "Total number of delivery records removed by sweeps",
		},
	)

	m.DedupRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zvnews_dedup_records",
			Help: "Current number of delivery records",
		},
	)

	m.TranslateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zvnews_translate_total",
			Help: "Total number of translation calls",
		},
		[]string{"status"}, // ok, error, skipped
	)

	m.TranslateErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zvnews_translate_errors_total",
			Help: "Total number of translation failures (identity fallback used)",
		},
	)

	m.CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zvnews_commands_total",
			Help: "Total number of consumed subscriber commands",
		},
		[]string{"command"}, // start, stop, status, ignored
	)

	m.Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zvnews_subscribers",
			Help: "Current number of subscribers",
		},
	)

	m.BroadcastSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zvnews_broadcast_sends_total",
			Help: "Total number of broadcast message sends",
		},
		[]string{"status"}, // ok, error
	)

	m.BroadcastBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zvnews_broadcast_batches_total",
			Help: "Total number of broadcast batches",
		},
	)

	m.BroadcastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zvnews_broadcast_duration_seconds",
			Help:    "Broadcast batch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // from 100ms to ~3.5min
		},
	)

	m.CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zvnews_monitor_cycles_total",
			Help: "Total number of monitor cycles",
		},
		[]string{"outcome"}, // ok, degraded, canceled
	)

	m.CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zvnews_monitor_cycle_duration_seconds",
			Help:    "Monitor cycle duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	return m
}
