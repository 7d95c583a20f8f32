package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/xuri/excelize/v2"

	"aala/internal"
	"aala/internal/util"
)

// datasetRow is the fixed CSV field set. Unresolved values are empty cells.
type datasetRow struct {
	Manufacturer       string `csv:"manufacturer"`
	ModelYear          int    `csv:"model_year"`
	EngineOrigin       string `csv:"engine_origin"`
	TransmissionOrigin string `csv:"transmission_origin"`
	AssemblyCountry    string `csv:"assembly_country"`
	AssemblyCity       string `csv:"assembly_city"`
	USCanadaContentPct string `csv:"us_canada_content_pct"`
}

func WriteCSV(w io.Writer, ds internal.Dataset) error {
	rows := make([]*datasetRow, 0, len(ds.Records))
	for _, r := range ds.Records {
		rows = append(rows, &datasetRow{
			Manufacturer:       r.Manufacturer,
			ModelYear:          r.ModelYear,
			EngineOrigin:       r.EngineOrigin.String(),
			TransmissionOrigin: r.TransmissionOrigin.String(),
			AssemblyCountry:    r.AssemblyCountry.String(),
			AssemblyCity:       util.Deref(r.AssemblyCity),
			USCanadaContentPct: r.USCanadaContent.String(),
		})
	}
	return gocsv.Marshal(&rows, w)
}

func ExportDatasetToCSV(ds internal.Dataset, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, ds); err != nil {
		f.Close()
		return fmt.Errorf("write csv %s: %w", outputPath, err)
	}
	return f.Close()
}

// ExportDatasetToXLSX writes the audit workbook: the dataset with its
// provenance and resolution flags, the rejected rows and the per-file
// report.
func ExportDatasetToXLSX(ds internal.Dataset, rejections []internal.Rejection, files []internal.FileReport, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), "Dataset"); err != nil {
		return err
	}
	for _, name := range []string{"Rejections", "Files"} {
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
	}

	writeSheet(f, "Dataset", []string{
		"manufacturer", "model_year", "engine_origin", "transmission_origin",
		"assembly_country", "assembly_city", "us_canada_content_pct",
		"car_line", "vehicle_type", "sources",
		"engine_resolution", "transmission_resolution", "assembly_resolution",
		"engine_code", "transmission_code", "assembly_code",
		"file", "page", "row",
	}, len(ds.Records), func(i int) []any {
		r := ds.Records[i]
		return []any{
			r.Manufacturer, r.ModelYear, r.EngineOrigin.String(), r.TransmissionOrigin.String(),
			r.AssemblyCountry.String(), util.Deref(r.AssemblyCity), percentCell(r.USCanadaContent),
			util.Deref(r.CarLine), util.Deref(r.VehicleType), formatSources(r.Sources),
			string(r.EngineOrigin.Resolution), string(r.TransmissionOrigin.Resolution), string(r.AssemblyCountry.Resolution),
			r.EngineOrigin.Code, r.TransmissionOrigin.Code, r.AssemblyCountry.Code,
			r.Provenance.File, r.Provenance.Page, r.Provenance.Row,
		}
	})

	writeSheet(f, "Rejections", []string{
		"file", "model_year", "page", "row", "stage", "kind", "reason", "text",
	}, len(rejections), func(i int) []any {
		r := rejections[i]
		return []any{
			r.Provenance.File, r.Provenance.ModelYear, r.Provenance.Page, r.Provenance.Row,
			string(r.Stage), r.Kind, r.Reason, r.Text,
		}
	})

	writeSheet(f, "Files", []string{
		"file", "model_year", "status", "error", "pages", "empty_pages", "page_errors",
		"rows", "accepted", "legend", "header", "malformed", "continuations",
		"assembly_rejected", "records", "duration_ms",
	}, len(files), func(i int) []any {
		r := files[i]
		return []any{
			r.File, r.ModelYear, r.Status, r.Error, r.Pages, r.EmptyPages, r.PageErrors,
			r.Rows, r.Verdicts[internal.VerdictAccepted], r.Verdicts[internal.VerdictLegend],
			r.Verdicts[internal.VerdictHeader], r.Verdicts[internal.VerdictMalformed], r.Continuations,
			r.AssemblyRejected, r.Records, r.DurationMs,
		}
	})

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func writeSheet(f *excelize.File, sheet string, headers []string, n int, row func(int) []any) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i := 0; i < n; i++ {
		for col, value := range row(i) {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, value)
		}
	}
}

// percentCell keeps valid percentages numeric in the workbook.
func percentCell(p internal.Percent) any {
	if !p.Valid {
		return ""
	}
	return p.Value.InexactFloat64()
}

func formatSources(sources []internal.SourceShare) string {
	parts := make([]string, 0, len(sources))
	for _, s := range sources {
		name := s.Country.String()
		if name == "" {
			name = "?"
		}
		if s.Percent.Valid {
			parts = append(parts, fmt.Sprintf("%s %s%%", name, s.Percent))
		} else {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "; ")
}

// WriteReport writes the run report as indented JSON.
func WriteReport(report internal.RunReport, outputPath string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outputPath, append(data, '\n'), 0o644)
}

// Outputs names the files a finished run is written to. Empty paths are
// skipped.
type Outputs struct {
	CSV    string
	XLSX   string
	Report string
}

// Write exports the run and returns the paths written, in CSV, XLSX,
// report order. It stops at the first failing export.
func (o Outputs) Write(ds internal.Dataset, report internal.RunReport) ([]string, error) {
	var written []string
	if o.CSV != "" {
		if err := ExportDatasetToCSV(ds, o.CSV); err != nil {
			return written, err
		}
		written = append(written, o.CSV)
	}
	if o.XLSX != "" {
		if err := ExportDatasetToXLSX(ds, report.Rejections, report.Files, o.XLSX); err != nil {
			return written, err
		}
		written = append(written, o.XLSX)
	}
	if o.Report != "" {
		if err := WriteReport(report, o.Report); err != nil {
			return written, err
		}
		written = append(written, o.Report)
	}
	return written, nil
}
