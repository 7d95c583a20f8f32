// Package metrics exposes run counters in the Prometheus text format. Each
// run gets its own registry so the written file describes that run only.
package metrics

import (
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"aala/internal"
)

type RunMetrics struct {
	registry      *prometheus.Registry
	files         *prometheus.CounterVec
	rows          *prometheus.CounterVec
	records       prometheus.Counter
	rejections    *prometheus.CounterVec
	continuations prometheus.Counter
	pages         *prometheus.CounterVec
	fileDuration  prometheus.Histogram
	runDuration   prometheus.Gauge
	lastRun       prometheus.Gauge
}

func NewRunMetrics() *RunMetrics {
	m := &RunMetrics{
		registry: prometheus.NewRegistry(),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aala_files_total",
			Help: "Input files processed, by final status.",
		}, []string{"status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aala_rows_total",
			Help: "Extracted rows, by classifier verdict.",
		}, []string{"verdict"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aala_records_total",
			Help: "Vehicle records written to the dataset.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aala_rejections_total",
			Help: "Rows that did not become records, by stage and kind.",
		}, []string{"stage", "kind"}),
		continuations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aala_continuation_rows_total",
			Help: "Wrapped rows merged into the previous record.",
		}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aala_pages_total",
			Help: "Pages read, by outcome.",
		}, []string{"outcome"}),
		fileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aala_file_duration_seconds",
			Help:    "Time spent per input file.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aala_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aala_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
	}
	m.registry.MustRegister(m.files, m.rows, m.records, m.rejections, m.continuations, m.pages, m.fileDuration, m.runDuration, m.lastRun)
	return m
}

// Registry is exposed for tests and for callers that serve it.
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *RunMetrics) Observe(report internal.RunReport) {
	for _, fr := range report.Files {
		m.files.WithLabelValues(fr.Status).Inc()
		for kind, n := range fr.Verdicts {
			m.rows.WithLabelValues(string(kind)).Add(float64(n))
		}
		m.continuations.Add(float64(fr.Continuations))
		m.records.Add(float64(fr.Records))
		m.pages.WithLabelValues("read").Add(float64(fr.Pages - fr.EmptyPages - fr.PageErrors))
		m.pages.WithLabelValues("empty").Add(float64(fr.EmptyPages))
		m.pages.WithLabelValues("error").Add(float64(fr.PageErrors))
		m.fileDuration.Observe(float64(fr.DurationMs) / 1000)
	}
	for _, rej := range report.Rejections {
		m.rejections.WithLabelValues(string(rej.Stage), rej.Kind).Inc()
	}
	if !report.FinishedAt.IsZero() {
		m.runDuration.Set(report.FinishedAt.Sub(report.StartedAt).Seconds())
		m.lastRun.Set(float64(report.FinishedAt.Unix()))
	}
}

// WriteTextfile writes the registry for the node exporter textfile
// collector. The write is atomic.
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
