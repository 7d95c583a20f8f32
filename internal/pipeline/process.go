package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"aala/internal"
	"aala/internal/config"
	"aala/internal/registry"
	"aala/internal/storage"
	"aala/internal/tables"
)

// ProcessingService runs report files through extraction, classification,
// normalization and assembly. The tables and everything derived from them
// are read-only, so one service is shared by all workers.
type ProcessingService struct {
	db  *storage.DB
	cfg config.Config
	log zerolog.Logger

	tables     *tables.Tables
	registry   *registry.Registry
	classifier *Classifier
	normalizer *Normalizer
	extractor  TableExtractor
	open       Opener
	timeout    time.Duration
}

// NewProcessingService builds a service over t. db may be nil, in which
// case runs are not persisted.
func NewProcessingService(db *storage.DB, cfg config.Config, t *tables.Tables, log zerolog.Logger) (*ProcessingService, error) {
	reg := registry.New(t)
	classifier, err := NewClassifier(t, reg, cfg.HeaderFuzz)
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}
	return &ProcessingService{
		db:         db,
		cfg:        cfg,
		log:        log,
		tables:     t,
		registry:   reg,
		classifier: classifier,
		normalizer: NewNormalizer(t, reg),
		extractor:  NewTableExtractor(cfg.BandTolerance, cfg.CellGap),
		open:       OpenPDF,
		timeout:    cfg.FileTimeout(),
	}, nil
}

// WithOpener replaces the document opener, OpenPDF by default.
func (s *ProcessingService) WithOpener(open Opener) *ProcessingService {
	s.open = open
	return s
}

type FileResult struct {
	Report     internal.FileReport
	Records    []internal.VehicleRecord
	Rejections []internal.Rejection
}

// Run processes inputs on a pool of workers, one file per job. File-level
// problems end up in the report; the returned error is set only when the
// finished run could not be stored.
func (s *ProcessingService) Run(ctx context.Context, inputs []Input) (internal.Dataset, internal.RunReport, error) {
	report := internal.RunReport{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := s.log.With().Str("run", report.RunID).Logger()

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, max(len(inputs), 1))
	log.Info().Int("files", len(inputs)).Int("workers", workers).Msg("run started")

	jobs := make(chan Input)
	results := make(chan FileResult, len(inputs))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for in := range jobs {
				results <- s.processWithTimeout(ctx, in)
			}
		}()
	}
	go func() {
		for _, in := range inputs {
			jobs <- in
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	var ds internal.Dataset
	for res := range results {
		report.Files = append(report.Files, res.Report)
		ds.Records = append(ds.Records, res.Records...)
		report.Rejections = append(report.Rejections, res.Rejections...)
	}

	sort.SliceStable(ds.Records, func(i, j int) bool {
		return ds.Records[i].Provenance.Less(ds.Records[j].Provenance)
	})
	sort.SliceStable(report.Rejections, func(i, j int) bool {
		return report.Rejections[i].Provenance.Less(report.Rejections[j].Provenance)
	})
	sort.SliceStable(report.Files, func(i, j int) bool {
		return report.Files[i].File < report.Files[j].File
	})

	report.FinishedAt = time.Now().UTC()
	report.Summary = summarize(report, ds)
	log.Info().
		Int("files_ok", report.Summary.FilesOK).
		Int("files_failed", report.Summary.FilesFailed).
		Int("rows", report.Summary.Rows).
		Int("records", report.Summary.Records).
		Int("rejections", report.Summary.Rejections).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("run finished")

	if s.db != nil {
		if err := s.db.SaveRun(report, ds); err != nil {
			return ds, report, fmt.Errorf("save run %s: %w", report.RunID, err)
		}
	}
	return ds, report, nil
}

func summarize(report internal.RunReport, ds internal.Dataset) internal.RunSummary {
	sum := internal.RunSummary{
		Files:      len(report.Files),
		Records:    len(ds.Records),
		Rejections: len(report.Rejections),
	}
	for _, f := range report.Files {
		if f.Status == internal.FileStatusOK {
			sum.FilesOK++
		} else {
			sum.FilesFailed++
		}
		sum.Rows += f.Rows
	}
	return sum
}

// processWithTimeout bounds one file by FILE_TIMEOUT. A file that runs over
// is reported as timed out and none of its output is kept.
func (s *ProcessingService) processWithTimeout(ctx context.Context, in Input) FileResult {
	fctx, cancel := ctx, context.CancelFunc(func() {})
	if s.timeout > 0 {
		fctx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	defer cancel()
	if in.ModelYear == 0 {
		in.ModelYear, _ = ModelYearFromPath(in.Path)
	}

	done := make(chan FileResult, 1)
	go func() { done <- s.ProcessFile(fctx, in) }()

	select {
	case res := <-done:
		return res
	case <-fctx.Done():
		return FileResult{Report: s.abortReport(ctx, in, fctx.Err())}
	}
}

func (s *ProcessingService) abortReport(parent context.Context, in Input, err error) internal.FileReport {
	report := internal.FileReport{
		File:      filepath.Base(in.Path),
		ModelYear: in.ModelYear,
		Status:    internal.FileStatusTimeout,
		Error:     fmt.Sprintf("exceeded %s", s.timeout),
	}
	if parent.Err() != nil || !errors.Is(err, context.DeadlineExceeded) {
		report.Status = internal.FileStatusFailed
		report.Error = err.Error()
	}
	s.log.Warn().Str("file", report.File).Str("status", report.Status).Msg(report.Error)
	return report
}

// ProcessFile extracts the records of one report file. It never returns an
// error: failures are reported through FileReport.Status.
func (s *ProcessingService) ProcessFile(ctx context.Context, in Input) (res FileResult) {
	start := time.Now()
	name := filepath.Base(in.Path)
	res.Report = internal.FileReport{
		File:      name,
		ModelYear: in.ModelYear,
		Status:    internal.FileStatusOK,
		Verdicts:  map[internal.VerdictKind]int{},
	}
	log := s.log.With().Str("file", name).Logger()

	fail := func(err error) {
		res.Records, res.Rejections = nil, nil
		res.Report.Status = internal.FileStatusFailed
		res.Report.Error = err.Error()
		log.Error().Err(err).Msg("file failed")
	}
	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Errorf("panic: %v", r))
		}
		res.Report.DurationMs = time.Since(start).Milliseconds()
	}()

	year := in.ModelYear
	if year == 0 {
		y, err := ModelYearFromPath(in.Path)
		if err != nil {
			fail(err)
			return res
		}
		year = y
	}
	res.Report.ModelYear = year

	doc, err := s.open(in.Path)
	if err != nil {
		fail(err)
		return res
	}
	defer doc.Close()

	layout := s.tables.LayoutFor(year)
	for n := 1; n <= doc.NumPages(); n++ {
		if err := ctx.Err(); err != nil {
			res.Records, res.Rejections = nil, nil
			res.Report = s.abortReport(context.Background(), Input{Path: in.Path, ModelYear: year}, err)
			return res
		}
		res.Report.Pages++

		page, err := readPage(doc, n)
		if err != nil {
			res.Report.PageErrors++
			log.Warn().Err(err).Int("page", n).Msg("page skipped")
			continue
		}
		if !s.processPage(page, name, year, layout, &res) {
			res.Report.EmptyPages++
			log.Warn().Int("page", n).Msg("page has no rows")
		}
	}

	log.Debug().
		Int("pages", res.Report.Pages).
		Int("rows", res.Report.Rows).
		Int("records", res.Report.Records).
		Msg("file processed")
	return res
}

func readPage(doc Document, n int) (page internal.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read page %d: panic: %v", n, r)
		}
	}()
	return doc.Page(n)
}

// processPage runs one page through the row stages. It reports false when
// the page yielded no rows.
func (s *ProcessingService) processPage(page internal.Page, file string, year int, layout tables.Layout, res *FileResult) bool {
	rows, verdicts := s.classifyPage(page, file, year)
	if len(rows) == 0 {
		return false
	}

	var accepted []internal.RawRow
	for i, v := range verdicts {
		res.Report.Rows++
		res.Report.Verdicts[v.Kind]++
		if v.Accepted() {
			accepted = append(accepted, rows[i])
		}
	}
	anchors := ColumnAnchors(accepted)

	groups := s.normalizer.Group(rows, verdicts, layout, anchors)
	merged := map[int]bool{}
	for _, g := range groups {
		for _, idx := range g.Continuations {
			merged[idx] = true
		}
		res.Report.Continuations += len(g.Continuations)
	}

	for i, v := range verdicts {
		if v.Accepted() || merged[i] {
			continue
		}
		res.Rejections = append(res.Rejections, internal.Rejection{
			Provenance: rows[i].Provenance,
			Stage:      internal.StageClassify,
			Kind:       string(v.Kind),
			Reason:     v.Reason,
			Text:       strings.Join(rows[i].Texts(), " | "),
		})
	}

	for _, g := range groups {
		norm := s.normalizer.Normalize(g, layout)
		rec, err := Assemble(norm)
		if err != nil {
			res.Report.AssemblyRejected++
			res.Rejections = append(res.Rejections, internal.Rejection{
				Provenance: norm.Provenance,
				Stage:      internal.StageAssemble,
				Kind:       rejectionKind(err),
				Reason:     err.Error(),
				Text:       norm.Text,
			})
			continue
		}
		res.Records = append(res.Records, rec)
		res.Report.Records++
	}
	return true
}

func (s *ProcessingService) classifyPage(page internal.Page, file string, year int) ([]internal.RawRow, []internal.RowVerdict) {
	var rows []internal.RawRow
	var verdicts []internal.RowVerdict
	for row := range s.extractor.Rows(page) {
		row.Provenance.File = file
		row.Provenance.ModelYear = year
		rows = append(rows, row)
		verdicts = append(verdicts, s.classifier.Classify(row))
	}
	return rows, verdicts
}

type ClassifiedRow struct {
	Row     internal.RawRow
	Verdict internal.RowVerdict
}

// ClassifyFile returns every extracted row of a file with its verdict, for
// inspecting how a report is read.
func (s *ProcessingService) ClassifyFile(ctx context.Context, in Input) ([]ClassifiedRow, error) {
	year := in.ModelYear
	if year == 0 {
		y, err := ModelYearFromPath(in.Path)
		if err != nil {
			return nil, err
		}
		year = y
	}
	doc, err := s.open(in.Path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	var out []ClassifiedRow
	for n := 1; n <= doc.NumPages(); n++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		page, err := readPage(doc, n)
		if err != nil {
			s.log.Warn().Err(err).Int("page", n).Msg("page skipped")
			continue
		}
		rows, verdicts := s.classifyPage(page, filepath.Base(in.Path), year)
		for i := range rows {
			out = append(out, ClassifiedRow{Row: rows[i], Verdict: verdicts[i]})
		}
	}
	return out, nil
}
