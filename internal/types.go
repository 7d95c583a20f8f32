package internal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fragment is one positioned piece of text on a PDF page. Y grows upwards,
// Seq is the fragment's position in document order.
type Fragment struct {
	Text     string
	X        float64
	Y        float64
	W        float64
	FontSize float64
	Seq      int
}

type Page struct {
	Number    int
	Fragments []Fragment
}

// Provenance identifies where a row came from.
type Provenance struct {
	File      string `json:"file"`
	ModelYear int    `json:"modelYear"`
	Page      int    `json:"page"`
	Row       int    `json:"row"`
}

// Less orders by model year, then file, page and row.
func (p Provenance) Less(o Provenance) bool {
	if p.ModelYear != o.ModelYear {
		return p.ModelYear < o.ModelYear
	}
	if p.File != o.File {
		return p.File < o.File
	}
	if p.Page != o.Page {
		return p.Page < o.Page
	}
	return p.Row < o.Row
}

type Cell struct {
	Text string
	X    float64
}

type RawRow struct {
	Provenance Provenance
	Cells      []Cell
}

func (r RawRow) Texts() []string {
	out := make([]string, 0, len(r.Cells))
	for _, c := range r.Cells {
		out = append(out, c.Text)
	}
	return out
}

// NewRawRow builds a row from bare texts, without positions.
func NewRawRow(prov Provenance, texts ...string) RawRow {
	cells := make([]Cell, 0, len(texts))
	for _, t := range texts {
		cells = append(cells, Cell{Text: t})
	}
	return RawRow{Provenance: prov, Cells: cells}
}

type VerdictKind string

const (
	VerdictAccepted  VerdictKind = "accepted"
	VerdictLegend    VerdictKind = "legend"
	VerdictHeader    VerdictKind = "header"
	VerdictMalformed VerdictKind = "malformed"
)

const (
	ReasonTooFewCells      = "too_few_cells"
	ReasonEmptyFirstCell   = "empty_first_cell"
	ReasonNumericFirstCell = "numeric_first_cell"
	ReasonNonDataMarker    = "non_data_marker"
)

type RowVerdict struct {
	Kind   VerdictKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

func (v RowVerdict) Accepted() bool { return v.Kind == VerdictAccepted }

type Resolution string

const (
	ResolutionExact      Resolution = "exact"
	ResolutionBestEffort Resolution = "best_effort"
	ResolutionNone       Resolution = "unresolved"
)

// Country is a registry resolution. Name is set only when resolved; Code
// keeps the normalized input for auditing.
type Country struct {
	Name       string     `json:"name,omitempty"`
	Code       string     `json:"code,omitempty"`
	Resolution Resolution `json:"resolution"`
}

func UnresolvedCountry(code string) Country {
	return Country{Code: code, Resolution: ResolutionNone}
}

func (c Country) Resolved() bool {
	return c.Resolution == ResolutionExact || c.Resolution == ResolutionBestEffort
}

// String returns the canonical name, or "" when unresolved.
func (c Country) String() string {
	if !c.Resolved() {
		return ""
	}
	return c.Name
}

// Percent is a share in [0,100]. Valid is false when the source value was
// missing, non-numeric or out of range.
type Percent struct {
	Value decimal.Decimal
	Valid bool
}

func (p Percent) String() string {
	if !p.Valid {
		return ""
	}
	return p.Value.String()
}

type SourceShare struct {
	Country Country `json:"country"`
	Percent Percent `json:"-"`
}

type VehicleRecord struct {
	Manufacturer       string
	ModelYear          int
	CarLine            *string
	VehicleType        *string
	EngineOrigin       Country
	TransmissionOrigin Country
	AssemblyCountry    Country
	AssemblyCity       *string
	USCanadaContent    Percent
	Sources            []SourceShare
	Provenance         Provenance
}

type Dataset struct {
	Records []VehicleRecord
}

type RejectionStage string

const (
	StageClassify RejectionStage = "classify"
	StageAssemble RejectionStage = "assemble"
)

type Rejection struct {
	Provenance Provenance     `json:"provenance"`
	Stage      RejectionStage `json:"stage"`
	Kind       string         `json:"kind"`
	Reason     string         `json:"reason,omitempty"`
	Text       string         `json:"text"`
}

const (
	FileStatusOK      = "ok"
	FileStatusFailed  = "failed"
	FileStatusTimeout = "timeout"
)

type FileReport struct {
	File             string              `json:"file"`
	ModelYear        int                 `json:"modelYear"`
	Status           string              `json:"status"`
	Error            string              `json:"error,omitempty"`
	Pages            int                 `json:"pages"`
	EmptyPages       int                 `json:"emptyPages"`
	PageErrors       int                 `json:"pageErrors"`
	Rows             int                 `json:"rows"`
	Verdicts         map[VerdictKind]int `json:"verdicts"`
	Continuations    int                 `json:"continuations"`
	AssemblyRejected int                 `json:"assemblyRejected"`
	Records          int                 `json:"records"`
	DurationMs       int64               `json:"durationMs"`
}

type RunSummary struct {
	Files       int `json:"files"`
	FilesOK     int `json:"filesOk"`
	FilesFailed int `json:"filesFailed"`
	Rows        int `json:"rows"`
	Records     int `json:"records"`
	Rejections  int `json:"rejections"`
}

type RunReport struct {
	RunID      string       `json:"runId"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Summary    RunSummary   `json:"summary"`
	Files      []FileReport `json:"files"`
	Rejections []Rejection  `json:"-"`
}
