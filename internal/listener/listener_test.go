package listener

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aala/internal"
	"aala/internal/config"
	"aala/internal/pipeline"
	"aala/internal/storage"
	"aala/internal/tables"
)

type staticDoc struct{ page internal.Page }

func (d staticDoc) NumPages() int                   { return 1 }
func (d staticDoc) Page(int) (internal.Page, error) { return d.page, nil }
func (d staticDoc) Close() error                    { return nil }

func openStatic(page internal.Page) pipeline.Opener {
	return func(string) (pipeline.Document, error) { return staticDoc{page: page}, nil }
}

func recordPage() internal.Page {
	cells := []string{"Acme Motors", "Acme", "Roadster", "PC", "45", "30%G", "-", "G", "-", "J", "-", "Detroit, MI", "-"}
	page := internal.Page{Number: 1}
	for i, text := range cells {
		page.Fragments = append(page.Fragments, internal.Fragment{
			Text: text, X: 20 + float64(i)*90, Y: 700, W: float64(len(text)) * 4, FontSize: 8, Seq: i,
		})
	}
	return page
}

func newTestService(t *testing.T) (*Service, config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Config{
		InputDir:           filepath.Join(root, "in"),
		OutputDir:          filepath.Join(root, "out"),
		Workers:            2,
		FileTimeoutSec:     30,
		HeaderFuzz:         pipeline.DefaultHeaderFuzz,
		MetricsFile:        filepath.Join(root, "metrics", "aala.prom"),
		ListenerSchedule:   "@every 1h",
		ListenerAutoExport: true,
	}
	require.NoError(t, os.MkdirAll(cfg.InputDir, 0o755))

	db, err := storage.Open(filepath.Join(root, "aala.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tbl, err := tables.Default()
	require.NoError(t, err)
	svc, err := NewService(db, cfg, tbl, zerolog.Nop())
	require.NoError(t, err)
	svc.Processor().WithOpener(openStatic(recordPage()))
	return svc, cfg
}

func TestRunOnceProcessesOnlyOnChange(t *testing.T) {
	svc, cfg := newTestService(t)
	ctx := context.Background()

	res, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Zero(t, res.Scanned)

	report := filepath.Join(cfg.InputDir, "MY2024_AALA.pdf")
	require.NoError(t, os.WriteFile(report, []byte("v1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.InputDir, "readme.txt"), []byte("x"), 0o644))

	res, err = svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 1, res.Scanned)
	assert.NotEmpty(t, res.RunID)
	require.Len(t, res.Exported, 2)

	csv, err := os.ReadFile(res.Exported[0])
	require.NoError(t, err)
	assert.Contains(t, string(csv), "Acme Motors,2024,Germany,Japan,United States,Detroit,45")

	prom, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(prom), "aala_records_total 1"), string(prom))

	res, err = svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	require.NoError(t, os.WriteFile(report, []byte("v2"), 0o644))
	res, err = svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, res.Changed)

	require.NoError(t, os.Remove(report))
	res, err = svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Empty(t, res.RunID)
}

func TestRunStopsWithContext(t *testing.T) {
	svc, cfg := newTestService(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.InputDir, "MY2024_AALA.pdf"), []byte("v1"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(cfg.OutputDir, "listener", "aala.csv"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	svc, _ := newTestService(t)
	svc.cfg.ListenerSchedule = "every now and then"
	assert.Error(t, svc.Run(context.Background()))
}
