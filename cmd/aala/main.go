package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"aala/internal"
	"aala/internal/catalog"
	"aala/internal/config"
	"aala/internal/listener"
	"aala/internal/logging"
	"aala/internal/metrics"
	"aala/internal/pipeline"
	"aala/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	switch cmd {
	case "run":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", cfg.InputDir, "report PDFs or directories, comma separated")
		year := fs.Int("year", 0, "model year for every input (default: from file name)")
		out := fs.String("out", filepath.Join(cfg.OutputDir, "aala.csv"), "dataset csv path")
		xlsx := fs.String("xlsx", "", "audit workbook path")
		report := fs.String("report", "", "run report json path")
		metricsFile := fs.String("metrics", cfg.MetricsFile, "prometheus textfile path")
		_ = fs.Parse(os.Args[2:])

		paths := fs.Args()
		if len(paths) == 0 || *input != cfg.InputDir {
			paths = append(splitList(*input), paths...)
		}
		inputs, err := pipeline.ExpandInputs(paths, *year)
		must(err)
		processor := newProcessor(db, cfg, log)
		ds, rep, runErr := processor.Run(ctx, inputs)

		_, err = pipeline.Outputs{CSV: *out, XLSX: *xlsx, Report: *report}.Write(ds, rep)
		must(err)
		if *metricsFile != "" {
			m := metrics.NewRunMetrics()
			m.Observe(rep)
			must(m.WriteTextfile(*metricsFile))
		}

		fmt.Printf("run %s done files=%d ok=%d failed=%d rows=%d records=%d rejected=%d output=%s\n",
			rep.RunID, rep.Summary.Files, rep.Summary.FilesOK, rep.Summary.FilesFailed,
			rep.Summary.Rows, rep.Summary.Records, rep.Summary.Rejections, *out)
		printFailures(rep.Files)
		must(runErr)
	case "classify":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "report PDF")
		year := fs.Int("year", 0, "model year (default: from file name)")
		only := fs.String("only", "", "accepted|legend|header|malformed")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*input) == "" {
			must(fmt.Errorf("--input is required"))
		}

		rows, err := newProcessor(nil, cfg, log).ClassifyFile(ctx, pipeline.Input{Path: *input, ModelYear: *year})
		must(err)
		counts := map[internal.VerdictKind]int{}
		for _, r := range rows {
			counts[r.Verdict.Kind]++
			if *only != "" && string(r.Verdict.Kind) != *only {
				continue
			}
			verdict := string(r.Verdict.Kind)
			if r.Verdict.Reason != "" {
				verdict += "/" + r.Verdict.Reason
			}
			fmt.Printf("p%d r%d %-28s %s\n", r.Row.Provenance.Page, r.Row.Provenance.Row, verdict, strings.Join(r.Row.Texts(), " | "))
		}
		fmt.Printf("rows=%d accepted=%d legend=%d header=%d malformed=%d\n", len(rows),
			counts[internal.VerdictAccepted], counts[internal.VerdictLegend],
			counts[internal.VerdictHeader], counts[internal.VerdictMalformed])
	case "export:csv", "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		runID := fs.String("run", "", "run id (default: latest run)")
		out := fs.String("out", "", "output path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--out is required"))
		}

		id := resolveRunID(db, *runID)
		ds, err := db.LoadDataset(id)
		must(err)
		if cmd == "export:csv" {
			must(pipeline.ExportDatasetToCSV(ds, *out))
		} else {
			rejections, err := db.LoadRejections(id)
			must(err)
			files, err := db.LoadFileReports(id)
			must(err)
			must(pipeline.ExportDatasetToXLSX(ds, rejections, files, *out))
		}
		fmt.Printf("exported run %s records=%d to %s\n", id, len(ds.Records), *out)
	case "tables:dump":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		out := fs.String("out", "", "output path (default: stdout)")
		_ = fs.Parse(os.Args[2:])

		t, err := catalog.LoadTables(cfg)
		must(err)
		data, err := t.Marshal()
		must(err)
		if *out == "" {
			_, err = os.Stdout.Write(data)
			must(err)
			return
		}
		must(os.MkdirAll(filepath.Dir(*out), 0o755))
		must(os.WriteFile(*out, data, 0o644))
		fmt.Printf("tables version=%s written to %s\n", t.Version, *out)
	case "tables:sync":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		force := fs.Bool("force", false, "sync even if the last sync is recent")
		_ = fs.Parse(os.Args[2:])
		must(cfg.Require("TABLES_URL", cfg.TablesURL))

		res, err := catalog.NewSyncService(db, cfg).Sync(ctx, *force)
		must(err)
		switch {
		case res.Skipped:
			fmt.Printf("tables sync skipped: last sync is recent (use --force)\n")
		case res.Updated:
			fmt.Printf("tables sync complete version=%s countries=%d aliases=%d path=%s\n", res.Version, res.Countries, res.Aliases, res.Path)
		default:
			fmt.Printf("tables unchanged path=%s\n", res.Path)
		}
	case "listen":
		t, err := catalog.LoadTables(cfg)
		must(err)
		s, err := listener.NewService(db, cfg, t, log)
		must(err)
		must(s.Run(ctx))
	default:
		usage()
		os.Exit(1)
	}
}

func newProcessor(db *storage.DB, cfg config.Config, log zerolog.Logger) *pipeline.ProcessingService {
	t, err := catalog.LoadTables(cfg)
	must(err)
	p, err := pipeline.NewProcessingService(db, cfg, t, log)
	must(err)
	return p
}

func resolveRunID(db *storage.DB, runID string) string {
	if strings.TrimSpace(runID) != "" {
		return runID
	}
	latest, err := db.LatestRunID()
	must(err)
	if latest == nil {
		must(fmt.Errorf("no runs stored yet"))
	}
	return *latest
}

func printFailures(files []internal.FileReport) {
	for _, f := range files {
		if f.Status != internal.FileStatusOK {
			fmt.Printf("  %s %s: %s\n", f.Status, f.File, f.Error)
		}
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func usage() {
	fmt.Println("usage: aala <command>")
	fmt.Println("commands:")
	fmt.Println("  run [--input=dir,file.pdf] [--year=2024] [--out=./out/aala.csv] [--xlsx=...] [--report=...json] [--metrics=...prom]")
	fmt.Println("  classify --input=MY2024_AALA.pdf [--year=2024] [--only=accepted|legend|header|malformed]")
	fmt.Println("  export:csv [--run=<id>] --out=./out/aala.csv")
	fmt.Println("  export:xlsx [--run=<id>] --out=./out/aala.xlsx")
	fmt.Println("  tables:dump [--out=tables.yaml]")
	fmt.Println("  tables:sync [--force]")
	fmt.Println("  listen")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
