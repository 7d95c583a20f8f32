package pipeline

import (
	"reflect"
	"testing"

	"aala/internal"
)

func frag(text string, x, y float64, seq int) internal.Fragment {
	return internal.Fragment{Text: text, X: x, Y: y, W: float64(len(text)) * 4, FontSize: 8, Seq: seq}
}

func collectRows(e TableExtractor, page internal.Page) []internal.RawRow {
	var out []internal.RawRow
	for row := range e.Rows(page) {
		out = append(out, row)
	}
	return out
}

func TestRowsBandsAndCells(t *testing.T) {
	page := internal.Page{Number: 3, Fragments: []internal.Fragment{
		frag("ZZ", 100, 680, 5),
		frag("Acme", 10, 700, 0),
		frag("Motors", 29, 700.8, 1),
		frag(" ", 60, 700, 2),
		frag("G", 100, 699.5, 3),
		frag("Zenith", 10, 680.4, 4),
	}}

	rows := collectRows(NewTableExtractor(0, 0), page)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if got := rows[0].Texts(); !reflect.DeepEqual(got, []string{"Acme Motors", "G"}) {
		t.Fatalf("row 1 cells=%q", got)
	}
	if got := rows[1].Texts(); !reflect.DeepEqual(got, []string{"Zenith", "ZZ"}) {
		t.Fatalf("row 2 cells=%q", got)
	}
	if rows[0].Cells[0].X != 10 || rows[0].Cells[1].X != 100 {
		t.Fatalf("cell positions=%+v", rows[0].Cells)
	}
	for i, r := range rows {
		if r.Provenance.Page != 3 || r.Provenance.Row != i+1 {
			t.Fatalf("provenance=%+v", r.Provenance)
		}
	}
}

func TestRowsOrdering(t *testing.T) {
	cases := []struct {
		name  string
		frags []internal.Fragment
		want  [][]string
	}{
		{
			name: "equal x keeps document order",
			frags: []internal.Fragment{
				frag("Motors", 10, 700, 1),
				frag("Acme", 10, 700, 0),
				frag("G", 100, 700, 2),
			},
			want: [][]string{{"AcmeMotors", "G"}},
		},
		{
			name: "equal x with reversed sequence",
			frags: []internal.Fragment{
				frag("Motors", 10, 700, 0),
				frag("Acme", 10, 700, 1),
			},
			want: [][]string{{"MotorsAcme"}},
		},
		{
			name: "off-count bands are still emitted",
			frags: []internal.Fragment{
				frag("Acme", 10, 700, 0), frag("G", 100, 700, 1), frag("J", 190, 700, 2),
				frag("Motors Inc", 10, 680, 3),
				frag("Zenith", 10, 660, 4), frag("ZZ", 100, 660, 5), frag("US", 190, 660, 6),
				frag("Note", 10, 640, 7), frag("a", 100, 640, 8), frag("b", 190, 640, 9), frag("c", 280, 640, 10), frag("d", 370, 640, 11),
			},
			want: [][]string{
				{"Acme", "G", "J"},
				{"Motors Inc"},
				{"Zenith", "ZZ", "US"},
				{"Note", "a", "b", "c", "d"},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows := collectRows(NewTableExtractor(0, 0), internal.Page{Number: 1, Fragments: tc.frags})
			var got [][]string
			for _, r := range rows {
				got = append(got, r.Texts())
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestRowsIsRestartableAndStopsEarly(t *testing.T) {
	page := internal.Page{Number: 1, Fragments: []internal.Fragment{
		frag("a", 10, 300, 0),
		frag("b", 10, 280, 1),
		frag("c", 10, 260, 2),
	}}
	e := NewTableExtractor(0, 0)

	seen := 0
	for range e.Rows(page) {
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Fatalf("seen=%d", seen)
	}
	if n := len(collectRows(e, page)); n != 3 {
		t.Fatalf("second pass rows=%d", n)
	}
}

func TestRowsSkipsBlankPage(t *testing.T) {
	page := internal.Page{Number: 1, Fragments: []internal.Fragment{frag("  ", 10, 300, 0)}}
	if rows := collectRows(NewTableExtractor(0, 0), page); len(rows) != 0 {
		t.Fatalf("expected no rows, got %+v", rows)
	}
}

func TestCellWordSpacing(t *testing.T) {
	// "Land" ends at 42; a 1pt gap is below the word gap, a 3pt gap is not
	tests := []struct {
		name string
		x    float64
		want []string
	}{
		{name: "glued", x: 43, want: []string{"LandRover"}},
		{name: "spaced", x: 45, want: []string{"Land Rover"}},
		{name: "new cell", x: 50, want: []string{"Land", "Rover"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			page := internal.Page{Number: 1, Fragments: []internal.Fragment{
				frag("Land", 26, 100, 0),
				frag("Rover", tc.x, 100, 1),
			}}
			rows := collectRows(NewTableExtractor(0, 0), page)
			if len(rows) != 1 || !reflect.DeepEqual(rows[0].Texts(), tc.want) {
				t.Fatalf("rows=%+v", rows)
			}
		})
	}
}

func TestColumnAnchors(t *testing.T) {
	row := func(xs ...float64) internal.RawRow {
		r := internal.RawRow{}
		for _, x := range xs {
			r.Cells = append(r.Cells, internal.Cell{Text: "x", X: x})
		}
		return r
	}

	anchors := ColumnAnchors([]internal.RawRow{
		row(10, 100, 200),
		row(12, 102, 204),
		row(10, 150),
	})
	want := []float64{11, 101, 202}
	if !reflect.DeepEqual(anchors, want) {
		t.Fatalf("anchors=%v want %v", anchors, want)
	}

	if got := ColumnAnchors([]internal.RawRow{row(10, 100, 200)}); got != nil {
		t.Fatalf("single row should give no anchors, got %v", got)
	}
	if got := ColumnAnchors([]internal.RawRow{row(10), row(11)}); got != nil {
		t.Fatalf("one column should give no anchors, got %v", got)
	}
}

func TestAlignCells(t *testing.T) {
	anchors := []float64{10, 100, 200}
	row := internal.RawRow{Cells: []internal.Cell{
		{Text: "Acme", X: 12},
		{Text: "Motors", X: 30},
		{Text: "US", X: 205},
	}}
	got := AlignCells(row, anchors)
	if !reflect.DeepEqual(got, []string{"Acme Motors", "", "US"}) {
		t.Fatalf("aligned=%q", got)
	}

	bare := internal.NewRawRow(internal.Provenance{}, "a", "b")
	if got := AlignCells(bare, anchors); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("rows without positions stay positional, got %q", got)
	}
	if got := AlignCells(row, nil); len(got) != 3 || got[1] != "Motors" {
		t.Fatalf("no anchors should keep reading order, got %q", got)
	}
}
