package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aala/internal"
)

func sampleReport() internal.RunReport {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return internal.RunReport{
		RunID:      "r1",
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
		Files: []internal.FileReport{
			{
				File: "MY2023_AALA.pdf", Status: internal.FileStatusOK, Pages: 4, EmptyPages: 1,
				Verdicts:      map[internal.VerdictKind]int{internal.VerdictAccepted: 10, internal.VerdictHeader: 2},
				Continuations: 1, Records: 9, DurationMs: 1200,
			},
			{File: "MY2024_AALA.pdf", Status: internal.FileStatusTimeout},
		},
		Rejections: []internal.Rejection{
			{Stage: internal.StageClassify, Kind: "header"},
			{Stage: internal.StageClassify, Kind: "header"},
			{Stage: internal.StageAssemble, Kind: "no_manufacturer"},
		},
	}
}

// value sums the samples of a family whose labels include want.
func value(t *testing.T, m *RunMetrics, name string, want map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			switch {
			case metric.GetCounter() != nil:
				total += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				total += metric.GetGauge().GetValue()
			}
		}
	}
	return total
}

func TestObserve(t *testing.T) {
	m := NewRunMetrics()
	m.Observe(sampleReport())

	assert.Equal(t, 1.0, value(t, m, "aala_files_total", map[string]string{"status": internal.FileStatusOK}))
	assert.Equal(t, 1.0, value(t, m, "aala_files_total", map[string]string{"status": internal.FileStatusTimeout}))
	assert.Equal(t, 10.0, value(t, m, "aala_rows_total", map[string]string{"verdict": "accepted"}))
	assert.Equal(t, 9.0, value(t, m, "aala_records_total", nil))
	assert.Equal(t, 2.0, value(t, m, "aala_rejections_total", map[string]string{"stage": "classify", "kind": "header"}))
	assert.Equal(t, 3.0, value(t, m, "aala_pages_total", map[string]string{"outcome": "read"}))
	assert.Equal(t, 3.0, value(t, m, "aala_run_duration_seconds", nil))
}

func TestWriteTextfile(t *testing.T) {
	m := NewRunMetrics()
	m.Observe(sampleReport())

	path := filepath.Join(t.TempDir(), "textfile", "aala.prom")
	require.NoError(t, m.WriteTextfile(path))

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(blob)
	assert.True(t, strings.Contains(text, `aala_records_total 9`), text)
	assert.True(t, strings.Contains(text, `aala_files_total{status="timeout"} 1`), text)
}
