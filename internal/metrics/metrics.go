// Package metrics exposes the pipeline's run counters: records ingested,
// duplicates discarded, quality-gate outcomes, and window finalization
// progress. Counters are registered on a private prometheus registry and
// served over /metrics; Snapshot gives stages programmatic per-run access.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all pipeline metrics for a run.
type Collector struct {
	registry *prometheus.Registry

	RecordsIngested     prometheus.Counter
	DuplicatesDiscarded prometheus.Counter
	RowsExploded        prometheus.Counter
	RowsDropped         *prometheus.CounterVec
	Warnings            *prometheus.CounterVec
	Failures            prometheus.Counter
	LateRowsDropped     *prometheus.CounterVec
	WindowsFinalized    *prometheus.CounterVec

	WatermarkAgeSeconds *prometheus.GaugeVec
	BronzeLogRecords    prometheus.Gauge

	// Mirror counts kept for Snapshot so stages can read their own run
	// totals without gathering the registry.
	mu        sync.Mutex
	dropped   map[string]uint64
	warned    map[string]uint64
	late      map[string]uint64
	finalized map[string]uint64
	ingested  uint64
	dupes     uint64
	exploded  uint64
	failures  uint64
}

// Snapshot is a point-in-time copy of the run counters.
type Snapshot struct {
	RecordsIngested     uint64            `json:"records_ingested"`
	DuplicatesDiscarded uint64            `json:"duplicates_discarded"`
	RowsExploded        uint64            `json:"rows_exploded"`
	RowsDropped         map[string]uint64 `json:"rows_dropped"`
	Warnings            map[string]uint64 `json:"warnings"`
	Failures            uint64            `json:"failures"`
	LateRowsDropped     map[string]uint64 `json:"late_rows_dropped"`
	WindowsFinalized    map[string]uint64 `json:"windows_finalized"`
}

// NewCollector creates a metrics collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,

		RecordsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lakeline_bronze_records_ingested_total",
			Help: "Total number of events appended to the bronze log",
		}),
		DuplicatesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lakeline_bronze_duplicates_discarded_total",
			Help: "Total number of re-delivered events absorbed by identity dedup",
		}),
		RowsExploded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lakeline_silver_rows_exploded_total",
			Help: "Total number of silver rows produced by line-item explosion",
		}),
		RowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lakeline_silver_rows_dropped_total",
			Help: "Silver rows discarded by the quality gate, by rule",
		}, []string{"rule"}),
		Warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lakeline_silver_warnings_total",
			Help: "Non-critical quality violations recorded without dropping the row, by rule",
		}, []string{"rule"}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lakeline_pipeline_failures_total",
			Help: "Structural quality violations that halted a stage run",
		}),
		LateRowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lakeline_gold_late_rows_dropped_total",
			Help: "Silver rows behind the view watermark, dropped from finalized windows",
		}, []string{"view"}),
		WindowsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lakeline_gold_windows_finalized_total",
			Help: "Windows finalized and emitted, by view",
		}, []string{"view"}),
		WatermarkAgeSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lakeline_gold_watermark_age_seconds",
			Help: "Distance between the view watermark and the max event time seen",
		}, []string{"view"}),
		BronzeLogRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lakeline_bronze_log_records",
			Help: "Number of records currently in the bronze log",
		}),

		dropped:   make(map[string]uint64),
		warned:    make(map[string]uint64),
		late:      make(map[string]uint64),
		finalized: make(map[string]uint64),
	}

	registry.MustRegister(
		c.RecordsIngested,
		c.DuplicatesDiscarded,
		c.RowsExploded,
		c.RowsDropped,
		c.Warnings,
		c.Failures,
		c.LateRowsDropped,
		c.WindowsFinalized,
		c.WatermarkAgeSeconds,
		c.BronzeLogRecords,
	)

	return c
}

// Handler returns an HTTP handler serving the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// IncIngested counts one appended bronze record.
func (c *Collector) IncIngested() {
	c.RecordsIngested.Inc()
	c.mu.Lock()
	c.ingested++
	c.mu.Unlock()
}

// IncDuplicate counts one absorbed duplicate delivery.
func (c *Collector) IncDuplicate() {
	c.DuplicatesDiscarded.Inc()
	c.mu.Lock()
	c.dupes++
	c.mu.Unlock()
}

// IncExploded counts silver rows produced by explosion.
func (c *Collector) IncExploded(n int) {
	c.RowsExploded.Add(float64(n))
	c.mu.Lock()
	c.exploded += uint64(n)
	c.mu.Unlock()
}

// IncDropped counts one row dropped by the named quality rule.
func (c *Collector) IncDropped(rule string) {
	c.RowsDropped.WithLabelValues(rule).Inc()
	c.mu.Lock()
	c.dropped[rule]++
	c.mu.Unlock()
}

// IncWarning counts one warning raised by the named quality rule.
func (c *Collector) IncWarning(rule string) {
	c.Warnings.WithLabelValues(rule).Inc()
	c.mu.Lock()
	c.warned[rule]++
	c.mu.Unlock()
}

// IncFailure counts one pipeline-halting failure.
func (c *Collector) IncFailure() {
	c.Failures.Inc()
	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
}

// IncLate counts one row dropped behind the watermark of the named view.
func (c *Collector) IncLate(view string) {
	c.LateRowsDropped.WithLabelValues(view).Inc()
	c.mu.Lock()
	c.late[view]++
	c.mu.Unlock()
}

// IncFinalized counts one emitted window for the named view.
func (c *Collector) IncFinalized(view string) {
	c.WindowsFinalized.WithLabelValues(view).Inc()
	c.mu.Lock()
	c.finalized[view]++
	c.mu.Unlock()
}

// Snapshot returns a copy of the current run counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		RecordsIngested:     c.ingested,
		DuplicatesDiscarded: c.dupes,
		RowsExploded:        c.exploded,
		Failures:            c.failures,
		RowsDropped:         make(map[string]uint64, len(c.dropped)),
		Warnings:            make(map[string]uint64, len(c.warned)),
		LateRowsDropped:     make(map[string]uint64, len(c.late)),
		WindowsFinalized:    make(map[string]uint64, len(c.finalized)),
	}
	for k, v := range c.dropped {
		s.RowsDropped[k] = v
	}
	for k, v := range c.warned {
		s.Warnings[k] = v
	}
	for k, v := range c.late {
		s.LateRowsDropped[k] = v
	}
	for k, v := range c.finalized {
		s.WindowsFinalized[k] = v
	}
	return s
}
