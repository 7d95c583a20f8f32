package pipeline

import (
	"iter"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"aala/internal"
)

const (
	DefaultBandTolerance = 2.5
	DefaultCellGap       = 6.0

	// fraction of the font size treated as a space between words
	wordGapRatio = 0.25
	// glyph width estimate for fragments that carry none
	glyphWidthRatio = 0.5
)

// TableExtractor groups the positioned fragments of a page into rows and
// cells. It keeps no state between calls.
type TableExtractor struct {
	BandTolerance float64
	CellGap       float64
}

func NewTableExtractor(bandTolerance, cellGap float64) TableExtractor {
	if bandTolerance <= 0 {
		bandTolerance = DefaultBandTolerance
	}
	if cellGap <= 0 {
		cellGap = DefaultCellGap
	}
	return TableExtractor{BandTolerance: bandTolerance, CellGap: cellGap}
}

// Rows yields one RawRow per horizontal band, top to bottom. Provenance
// carries the page number and a 1-based row index; file and model year are
// left for the caller. Cells of a band are built only when the consumer
// pulls it, and every range re-derives the rows from the page.
func (e TableExtractor) Rows(page internal.Page) iter.Seq[internal.RawRow] {
	return func(yield func(internal.RawRow) bool) {
		row := 0
		for _, band := range e.bands(page.Fragments) {
			cells := e.cells(band)
			if len(cells) == 0 {
				continue
			}
			row++
			raw := internal.RawRow{
				Provenance: internal.Provenance{Page: page.Number, Row: row},
				Cells:      cells,
			}
			if !yield(raw) {
				return
			}
		}
	}
}

func (e TableExtractor) bands(fragments []internal.Fragment) [][]internal.Fragment {
	sorted := make([]internal.Fragment, 0, len(fragments))
	for _, f := range fragments {
		if strings.TrimSpace(f.Text) != "" {
			sorted = append(sorted, f)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	var out [][]internal.Fragment
	var current []internal.Fragment
	sumY := 0.0
	for _, f := range sorted {
		if len(current) > 0 && math.Abs(f.Y-sumY/float64(len(current))) <= e.BandTolerance {
			current = append(current, f)
			sumY += f.Y
			continue
		}
		if len(current) > 0 {
			out = append(out, current)
		}
		current = []internal.Fragment{f}
		sumY = f.Y
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

func (e TableExtractor) cells(band []internal.Fragment) []internal.Cell {
	frags := append([]internal.Fragment(nil), band...)
	sort.SliceStable(frags, func(i, j int) bool {
		if frags[i].X != frags[j].X {
			return frags[i].X < frags[j].X
		}
		return frags[i].Seq < frags[j].Seq
	})

	var out []internal.Cell
	var text strings.Builder
	cellX := 0.0
	end := 0.0
	open := false

	flush := func() {
		if !open {
			return
		}
		if s := strings.TrimSpace(text.String()); s != "" {
			out = append(out, internal.Cell{Text: s, X: cellX})
		}
		text.Reset()
		open = false
	}

	for _, f := range frags {
		s := strings.TrimSpace(f.Text)
		if s == "" {
			continue
		}
		gap := f.X - end
		switch {
		case !open:
			cellX, end, open = f.X, f.X, true
		case gap >= e.CellGap:
			flush()
			cellX, end, open = f.X, f.X, true
		case gap > wordGapRatio*fontSize(f):
			text.WriteByte(' ')
		}
		text.WriteString(s)
		end = math.Max(end, f.X+width(f))
	}
	flush()
	return out
}

func width(f internal.Fragment) float64 {
	if f.W > 0 {
		return f.W
	}
	return float64(utf8.RuneCountInString(f.Text)) * fontSize(f) * glyphWidthRatio
}

func fontSize(f internal.Fragment) float64 {
	if f.FontSize > 0 {
		return f.FontSize
	}
	return 10
}

// ColumnAnchors estimates column X positions from the rows sharing the most
// common cell count. It returns nil unless at least two rows agree on two or
// more cells.
func ColumnAnchors(rows []internal.RawRow) []float64 {
	counts := map[int]int{}
	for _, r := range rows {
		if hasPositions(r) {
			counts[len(r.Cells)]++
		}
	}

	modal, freq := 0, 0
	for n, c := range counts {
		if c > freq || (c == freq && n > modal) {
			modal, freq = n, c
		}
	}
	if modal < 2 || freq < 2 {
		return nil
	}

	anchors := make([]float64, modal)
	for _, r := range rows {
		if len(r.Cells) != modal || !hasPositions(r) {
			continue
		}
		for i, c := range r.Cells {
			anchors[i] += c.X
		}
	}
	for i := range anchors {
		anchors[i] /= float64(freq)
	}
	return anchors
}

// AlignCells places each cell in the column of its nearest anchor. Without
// anchors, or for rows without positions, cells stay in reading order.
func AlignCells(row internal.RawRow, anchors []float64) []string {
	if len(anchors) == 0 || !hasPositions(row) {
		return row.Texts()
	}

	out := make([]string, len(anchors))
	for _, c := range row.Cells {
		best := 0
		for i, a := range anchors {
			if math.Abs(c.X-a) < math.Abs(c.X-anchors[best]) {
				best = i
			}
		}
		if out[best] != "" {
			out[best] += " " + c.Text
		} else {
			out[best] = c.Text
		}
	}
	return out
}

func hasPositions(row internal.RawRow) bool {
	for _, c := range row.Cells {
		if c.X != 0 {
			return true
		}
	}
	return false
}
