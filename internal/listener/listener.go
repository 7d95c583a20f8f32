package listener

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"aala/internal"
	"aala/internal/config"
	"aala/internal/metrics"
	"aala/internal/pipeline"
	"aala/internal/storage"
	"aala/internal/tables"
)

// Service watches INPUT_DIR on a cron schedule and rebuilds the dataset
// whenever the set of report files or their contents change.
type Service struct {
	db        *storage.DB
	cfg       config.Config
	log       zerolog.Logger
	processor *pipeline.ProcessingService

	mu sync.Mutex
}

type CycleResult struct {
	Scanned  int
	Changed  bool
	RunID    string
	Exported []string
}

func NewService(db *storage.DB, cfg config.Config, t *tables.Tables, log zerolog.Logger) (*Service, error) {
	processor, err := pipeline.NewProcessingService(db, cfg, t, log)
	if err != nil {
		return nil, err
	}
	return &Service{
		db:        db,
		cfg:       cfg,
		log:       log.With().Str("component", "listener").Logger(),
		processor: processor,
	}, nil
}

// Processor exposes the pipeline the listener runs.
func (s *Service) Processor() *pipeline.ProcessingService {
	return s.processor
}

// Run scans once right away and then on LISTENER_SCHEDULE until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.cfg.ListenerSchedule, func() { s.cycle(ctx) })
	if err != nil {
		return fmt.Errorf("listener schedule %q: %w", s.cfg.ListenerSchedule, err)
	}

	s.cycle(ctx)
	c.Start()
	s.log.Info().Str("schedule", s.cfg.ListenerSchedule).Str("dir", s.cfg.InputDir).Msg("listener started")

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info().Msg("listener stopped")
	return nil
}

func (s *Service) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.RunOnce(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("listener cycle failed")
		return
	}
	if res.Changed {
		s.log.Info().Int("files", res.Scanned).Str("run", res.RunID).Strs("exported", res.Exported).Msg("listener cycle done")
	}
}

// RunOnce processes INPUT_DIR if its PDFs differ from the last processed
// set. Overlapping calls are serialized.
func (s *Service) RunOnce(ctx context.Context) (CycleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inputs, err := s.scan()
	if err != nil {
		return CycleResult{}, err
	}
	res := CycleResult{Scanned: len(inputs)}

	current, err := fingerprints(inputs)
	if err != nil {
		return res, err
	}
	previous, err := s.db.Fingerprints()
	if err != nil {
		return res, err
	}
	if sameFingerprints(current, previous) {
		s.log.Debug().Int("files", len(inputs)).Msg("no changes")
		return res, nil
	}
	res.Changed = true
	if len(inputs) == 0 {
		return res, s.db.ReplaceFingerprints(current, "")
	}

	ds, report, runErr := s.processor.Run(ctx, inputs)
	res.RunID = report.RunID
	for _, f := range report.Files {
		if f.Status != internal.FileStatusOK {
			s.log.Warn().Str("file", f.File).Str("status", f.Status).Msg(f.Error)
		}
	}

	if s.cfg.ListenerAutoExport {
		dir := filepath.Join(s.cfg.OutputDir, "listener")
		out := pipeline.Outputs{CSV: filepath.Join(dir, "aala.csv"), XLSX: filepath.Join(dir, "aala.xlsx")}
		written, err := out.Write(ds, report)
		res.Exported = written
		if err != nil {
			return res, err
		}
	}

	if s.cfg.MetricsFile != "" {
		m := metrics.NewRunMetrics()
		m.Observe(report)
		if err := m.WriteTextfile(s.cfg.MetricsFile); err != nil {
			return res, err
		}
	}

	if runErr != nil {
		return res, runErr
	}
	// Stored last, so a failed export or save is retried on the next cycle.
	return res, s.db.ReplaceFingerprints(current, report.RunID)
}

func (s *Service) scan() ([]pipeline.Input, error) {
	entries, err := os.ReadDir(s.cfg.InputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var inputs []pipeline.Input
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		inputs = append(inputs, pipeline.Input{Path: filepath.Join(s.cfg.InputDir, e.Name())})
	}
	return inputs, nil
}

func fingerprints(inputs []pipeline.Input) (map[string]string, error) {
	out := make(map[string]string, len(inputs))
	for _, in := range inputs {
		sum, err := fileSHA256(in.Path)
		if err != nil {
			return nil, err
		}
		out[filepath.Base(in.Path)] = sum
	}
	return out, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sameFingerprints(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
