package status

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/woonkaart/importer/internal/pipeline"
)

// Metrics are the importer's Prometheus collectors, registered on their own
// registry so only importer metrics are exposed.
type Metrics struct {
	registry *prometheus.Registry

	// RecordsTotal mirrors the per-source Stats counters by outcome.
	RecordsTotal *prometheus.GaugeVec

	// RowsFlushed counts rows handed to a flusher by table and result.
	RowsFlushed *prometheus.CounterVec

	// FlushDuration tracks batch flush latency per table.
	FlushDuration *prometheus.HistogramVec

	// FlushFailures counts dropped batches.
	FlushFailures *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RecordsTotal: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "importer_records",
				Help: "Mirror records processed in the current run by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		RowsFlushed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "importer_rows_flushed_total",
				Help: "Rows sent to the destination by table and result",
			},
			[]string{"source", "table", "result"},
		),
		FlushDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "importer_flush_duration_seconds",
				Help:    "Duration of batch flushes in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"table"},
		),
		FlushFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "importer_flush_failures_total",
				Help: "Batches dropped after a failed flush",
			},
			[]string{"source", "table"},
		),
	}
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveFlush records one flush attempt.
func (m *Metrics) ObserveFlush(source, table string, rows, inserted int, elapsed time.Duration, err error) {
	m.FlushDuration.WithLabelValues(table).Observe(elapsed.Seconds())
	if err != nil {
		m.FlushFailures.WithLabelValues(source, table).Inc()
		m.RowsFlushed.WithLabelValues(source, table, "dropped").Add(float64(rows))
		return
	}
	m.RowsFlushed.WithLabelValues(source, table, "inserted").Add(float64(inserted))
	m.RowsFlushed.WithLabelValues(source, table, "duplicate").Add(float64(rows - inserted))
}

// setStats copies a stats snapshot into the records gauge.
func (m *Metrics) setStats(s pipeline.Stats) {
	outcomes := map[string]int{
		"read":            s.Read(),
		"matched_exact":   s.ExactMatched,
		"matched_loose":   s.LooseMatched,
		"matched_spatial": s.SpatialMatched,
		"skipped":         s.Skipped,
		"duplicate":       s.Duplicate,
		"errors":          s.Errors,
	}
	for outcome, v := range outcomes {
		m.RecordsTotal.WithLabelValues(s.Source, outcome).Set(float64(v))
	}
}
