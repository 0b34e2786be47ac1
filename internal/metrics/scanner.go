// Package metrics exposes application metrics collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/model"
)

var (
	scannerFetchBlockTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ordscan",
		Subsystem: "scanner",
		Name:      "fetch_block_total",
		Help:      "Count of block fetch and parse attempts.",
	}, []string{"network", "status"})

	scannerFetchBlockDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ordscan",
		Subsystem: "scanner",
		Name:      "fetch_block_duration_seconds",
		Help:      "Duration of fetching and parsing a single block.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"network", "status"})

	scannerCommitBlockTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ordscan",
		Subsystem: "scanner",
		Name:      "commit_block_total",
		Help:      "Count of block commit attempts.",
	}, []string{"network", "status"})

	scannerCommitBlockDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ordscan",
		Subsystem: "scanner",
		Name:      "commit_block_duration_seconds",
		Help:      "Duration of committing a single block.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"network", "status"})

	scannerInscriptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ordscan",
		Subsystem: "scanner",
		Name:      "inscriptions_total",
		Help:      "Count of inscriptions emitted to sinks.",
	}, []string{"network"})

	scannerRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ordscan",
		Subsystem: "scanner",
		Name:      "rejections_total",
		Help:      "Count of envelopes and inscriptions rejected.",
	}, []string{"network"})
)

// Scanner tracks metrics for the block scanning pipeline.
type Scanner struct {
	network model.Network
}

// NewScanner constructs a Scanner metrics collector.
func NewScanner(network model.Network) *Scanner {
	if network == "" {
		network = "unknown"
	}
	return &Scanner{network: network}
}

// ObserveFetchBlock records one block fetch and parse outcome.
func (m Scanner) ObserveFetchBlock(err error, _ uint64, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	scannerFetchBlockTotal.WithLabelValues(string(m.network), status).Inc()
	scannerFetchBlockDuration.WithLabelValues(string(m.network), status).
		Observe(time.Since(started).Seconds())
}

// ObserveCommitBlock records one block commit outcome.
func (m Scanner) ObserveCommitBlock(err error, _ uint64, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	scannerCommitBlockTotal.WithLabelValues(string(m.network), status).Inc()
	scannerCommitBlockDuration.WithLabelValues(string(m.network), status).
		Observe(time.Since(started).Seconds())
}

// AddInscriptions counts inscriptions emitted to sinks.
func (m Scanner) AddInscriptions(count int) {
	if count > 0 {
		scannerInscriptionsTotal.WithLabelValues(string(m.network)).Add(float64(count))
	}
}

// AddRejections counts rejected envelopes and sink refusals.
func (m Scanner) AddRejections(count int) {
	if count > 0 {
		scannerRejectionsTotal.WithLabelValues(string(m.network)).Add(float64(count))
	}
}
