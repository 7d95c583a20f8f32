package pipeline

import (
	"regexp"
	"strings"

	"aala/internal"
	"aala/internal/registry"
	"aala/internal/tables"
	"aala/internal/util"
)

var reSourceShare = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*%\s*([A-Za-z][A-Za-z.]*(?:\s+[A-Z][a-z]+)*)?`)

const maxSources = 2

// RowGroup is an accepted row together with the wrapped lines that continue
// it. Columns holds the merged, layout-aligned cell texts.
type RowGroup struct {
	Head          internal.RawRow
	Columns       []string
	Continuations []int
}

// NormalizedRow carries every field of a row after cleaning. Fields are
// resolved independently: one unresolved field never blocks another.
type NormalizedRow struct {
	Provenance         internal.Provenance
	Manufacturer       *string
	CarLine            *string
	VehicleType        *string
	EngineOrigin       internal.Country
	TransmissionOrigin internal.Country
	AssemblyCountry    internal.Country
	AssemblyCity       *string
	USCanadaContent    internal.Percent
	Sources            []internal.SourceShare
	Text               string
}

type Normalizer struct {
	registry *registry.Registry
	matcher  *ManufacturerMatcher
}

func NewNormalizer(t *tables.Tables, reg *registry.Registry) *Normalizer {
	return &Normalizer{registry: reg, matcher: NewManufacturerMatcher(t)}
}

// Group pairs every accepted row with the continuation lines that follow it
// on the same page. A continuation is a too_few_cells row whose non-empty
// columns all fall on text fields of the layout.
func (n *Normalizer) Group(rows []internal.RawRow, verdicts []internal.RowVerdict, layout tables.Layout, anchors []float64) []RowGroup {
	var groups []RowGroup
	open := -1

	for i, row := range rows {
		v := verdicts[i]
		if v.Accepted() {
			groups = append(groups, RowGroup{Head: row, Columns: AlignCells(row, anchors)})
			open = len(groups) - 1
			continue
		}

		if open >= 0 && v.Kind == internal.VerdictMalformed && v.Reason == internal.ReasonTooFewCells {
			g := &groups[open]
			cont := alignLike(row, anchors, len(g.Columns))
			if isContinuation(cont, layout) {
				for col, text := range cont {
					if text == "" {
						continue
					}
					if g.Columns[col] == "" {
						g.Columns[col] = text
					} else {
						g.Columns[col] += "\n" + text
					}
				}
				g.Continuations = append(g.Continuations, i)
				continue
			}
		}
		open = -1
	}
	return groups
}

// alignLike aligns a row to the head's width. Rows without anchors keep
// their reading order from the first column.
func alignLike(row internal.RawRow, anchors []float64, width int) []string {
	cells := AlignCells(row, anchors)
	if len(cells) == width {
		return cells
	}
	out := make([]string, width)
	for i, c := range cells {
		if i >= width {
			break
		}
		out[i] = c
	}
	return out
}

func isContinuation(cols []string, layout tables.Layout) bool {
	width := len(cols)
	text := map[int]bool{}
	for _, field := range tables.TextFields {
		if idx, ok := layout.Column(field, width); ok {
			text[idx] = true
		}
	}

	found := false
	for col, c := range cols {
		if strings.TrimSpace(c) == "" {
			continue
		}
		if !text[col] {
			return false
		}
		found = true
	}
	return found
}

// Normalize cleans every field of a group. Model year always comes from the
// group's provenance.
func (n *Normalizer) Normalize(g RowGroup, layout tables.Layout) NormalizedRow {
	cols := g.Columns
	year := g.Head.Provenance.ModelYear
	get := func(field string) string {
		idx, ok := layout.Column(field, len(cols))
		if !ok {
			return ""
		}
		return cols[idx]
	}

	out := NormalizedRow{
		Provenance:         g.Head.Provenance,
		Manufacturer:       n.CleanManufacturer(get(tables.FieldManufacturer)),
		CarLine:            cleanText(get(tables.FieldCarLine)),
		VehicleType:        cleanText(get(tables.FieldVehicleType)),
		EngineOrigin:       n.ResolveCountry(get(tables.FieldEngine), year),
		TransmissionOrigin: n.ResolveCountry(get(tables.FieldTransmission), year),
		USCanadaContent:    util.ParsePercent(get(tables.FieldUSCanadaPct)),
		Sources:            n.ParseSources(year, get(tables.FieldPrimarySource), get(tables.FieldSecondarySource)),
		Text:               strings.Join(cols, " | "),
	}
	out.AssemblyCountry, out.AssemblyCity = n.ParseAssembly(get(tables.FieldAssembly), year)
	return out
}

func (n *Normalizer) CleanManufacturer(raw string) *string {
	return n.matcher.Clean(raw)
}

// ResolveCountry resolves an origin cell for the given model year.
func (n *Normalizer) ResolveCountry(raw string, year int) internal.Country {
	s := util.CollapseSpaces(util.FirstLine(raw))
	return n.registry.Resolve(s, year)
}

// ParseAssembly splits a final assembly point into a country and a city.
// The country is taken, in order, from a state or province code, a known
// plant city, trailing country words, a trailing country code, a code after
// the last comma, a leading code before a comma, and finally the whole
// value. State and province codes win over country codes that share the
// same letters ("Fremont CA", "Kosice SK").
func (n *Normalizer) ParseAssembly(raw string, year int) (internal.Country, *string) {
	s := util.CollapseSpaces(util.StripParentheticals(util.RepairLineWraps(raw)))
	s = util.TrimNoise(s)
	if s == "" {
		return internal.UnresolvedCountry(""), nil
	}

	parts := splitComma(s)
	words := strings.Fields(strings.ReplaceAll(s, ",", " "))

	if len(parts) >= 2 {
		if c, ok := n.registry.ResolveSubdivision(parts[len(parts)-1]); ok {
			return c, cityPtr(strings.Join(parts[:len(parts)-1], ", "))
		}
	}
	if c, city, ok := n.subdivisionWord(words, year); ok {
		return c, city
	}

	if c, ok := n.registry.ResolveCity(s); ok {
		return c, cityPtr(s)
	}
	for _, p := range parts {
		if c, ok := n.registry.ResolveCity(p); ok {
			return c, cityPtr(p)
		}
	}
	for _, w := range words {
		if c, ok := n.registry.ResolveCity(w); ok {
			return c, cityPtr(w)
		}
	}

	if len(words) >= 2 {
		for k := min(3, len(words)-1); k >= 1; k-- {
			tail := strings.Join(words[len(words)-k:], " ")
			if c, ok := n.registry.ResolveName(tail); ok {
				return c, cityPtr(strings.Join(words[:len(words)-k], " "))
			}
		}
	}
	if len(words) >= 2 {
		if c := n.registry.Resolve(words[len(words)-1], year); c.Resolved() {
			return c, cityPtr(strings.Join(words[:len(words)-1], " "))
		}
	}
	if len(parts) >= 2 {
		if c := n.registry.Resolve(parts[len(parts)-1], year); c.Resolved() {
			return c, cityPtr(strings.Join(parts[:len(parts)-1], ", "))
		}
	}

	if len(parts) >= 2 {
		if c := n.registry.Resolve(parts[0], year); c.Resolved() {
			return c, cityPtr(strings.Join(parts[1:], ", "))
		}
	}

	c := n.registry.Resolve(s, year)
	return c, nil
}

// subdivisionWord finds a state or province code after the first word, as
// in "Detroit MI" or "Smyrna TN USA". Anything after the code must resolve
// to a country; when that country differs from the code's, it wins.
func (n *Normalizer) subdivisionWord(words []string, year int) (internal.Country, *string, bool) {
	for i := len(words) - 1; i >= 1; i-- {
		c, ok := n.registry.ResolveSubdivision(words[i])
		if !ok {
			continue
		}
		city := cityPtr(strings.Join(words[:i], " "))
		if i == len(words)-1 {
			return c, city, true
		}
		tail := n.registry.Resolve(strings.Join(words[i+1:], " "), year)
		if !tail.Resolved() {
			continue
		}
		if tail.Name != c.Name {
			return tail, city, true
		}
		return c, city, true
	}
	return internal.Country{}, nil, false
}

// ParseSources reads the major foreign parts sources ("50%G", "26% H"),
// keeping at most two shares across both cells.
func (n *Normalizer) ParseSources(year int, cells ...string) []internal.SourceShare {
	var out []internal.SourceShare
	for _, cell := range cells {
		for _, m := range reSourceShare.FindAllStringSubmatch(util.CollapseSpaces(cell), -1) {
			if len(out) == maxSources {
				return out
			}
			if strings.TrimSpace(m[2]) == "" {
				continue
			}
			out = append(out, internal.SourceShare{
				Country: n.registry.Resolve(m[2], year),
				Percent: util.ParsePercent(m[1]),
			})
		}
	}
	return out
}

func cleanText(raw string) *string {
	return util.StringPtr(util.TrimNoise(util.RepairLineWraps(raw)))
}

func cityPtr(s string) *string {
	s = util.TrimNoise(s)
	if !util.HasLetter(s) {
		return nil
	}
	return &s
}

func splitComma(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
