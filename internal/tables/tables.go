// Package tables holds the reference data the pipeline runs on: country
// codes, aliases, OCR corrections, header vocabulary and column layouts.
// Tables are loaded once per process and treated as read-only afterwards.
package tables

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

const (
	FieldManufacturer    = "manufacturer"
	FieldCarLine         = "car_line"
	FieldVehicleType     = "vehicle_type"
	FieldUSCanadaPct     = "us_canada_pct"
	FieldPrimarySource   = "primary_source"
	FieldSecondarySource = "secondary_source"
	FieldEngine          = "engine"
	FieldTransmission    = "transmission"
	FieldAssembly        = "assembly"
)

// TextFields are the columns a wrapped continuation line may extend.
var TextFields = []string{FieldManufacturer, FieldCarLine, FieldVehicleType, FieldAssembly}

var allFields = []string{
	FieldManufacturer,
	FieldCarLine,
	FieldVehicleType,
	FieldUSCanadaPct,
	FieldPrimarySource,
	FieldSecondarySource,
	FieldEngine,
	FieldTransmission,
	FieldAssembly,
}

type Tables struct {
	Version             string                    `yaml:"version"`
	MinCells            int                       `yaml:"min_cells"`
	Countries           []Country                 `yaml:"countries"`
	CodeRevisions       map[string]map[int]string `yaml:"code_revisions"`
	Subdivisions        []Subdivision             `yaml:"subdivisions"`
	Cities              []City                    `yaml:"cities"`
	ManufacturerAliases []Alias                   `yaml:"manufacturer_aliases"`
	OCRCorrections      OCRCorrections            `yaml:"ocr_corrections"`
	LegendWords         []string                  `yaml:"legend_words"`
	HeaderPhrases       []string                  `yaml:"header_phrases"`
	HeaderLines         []string                  `yaml:"header_lines"`
	HeaderPatterns      []string                  `yaml:"header_patterns"`
	NonDataMarkers      []string                  `yaml:"non_data_markers"`
	Layouts             map[string]Layout         `yaml:"layouts"`
}

type Country struct {
	Name    string   `yaml:"name"`
	Codes   []string `yaml:"codes"`
	Aliases []string `yaml:"aliases,omitempty"`
}

type Subdivision struct {
	Country string   `yaml:"country"`
	Codes   []string `yaml:"codes"`
}

type City struct {
	Country string   `yaml:"country"`
	Names   []string `yaml:"names"`
}

type Alias struct {
	Canonical string   `yaml:"canonical"`
	Variants  []string `yaml:"variants"`
}

// OCRCorrections are applied to manufacturer names. Digits maps a single
// digit to the letter it is misread for; it is only used inside word-like
// tokens and is off when empty.
type OCRCorrections struct {
	Whole  map[string]string `yaml:"whole"`
	Tokens map[string]string `yaml:"tokens"`
	Digits map[string]string `yaml:"digits,omitempty"`
}

// Layout maps field names to column indexes. Negative indexes count from the
// end of the row.
type Layout map[string]int

// Column resolves field against a row of width cells.
func (l Layout) Column(field string, width int) (int, bool) {
	idx, ok := l[field]
	if !ok {
		return 0, false
	}
	if idx < 0 {
		idx += width
	}
	if idx < 0 || idx >= width {
		return 0, false
	}
	return idx, true
}

// FieldAt returns the field mapped to column col of a row of width cells.
func (l Layout) FieldAt(col, width int) (string, bool) {
	for _, field := range allFields {
		if idx, ok := l.Column(field, width); ok && idx == col {
			return field, true
		}
	}
	return "", false
}

// Default returns a fresh copy of the embedded tables.
func Default() (*Tables, error) {
	return Parse(defaultsYAML)
}

// Load reads tables from path, falling back to the embedded defaults when
// path is empty.
func Load(path string) (*Tables, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tables %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("tables %s: %w", path, err)
	}
	return t, nil
}

func Parse(data []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode tables: %w", err)
	}
	if t.MinCells == 0 {
		t.MinCells = 4
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Tables) Marshal() ([]byte, error) {
	return yaml.Marshal(t)
}

// Validate checks that every code maps to one country, every referenced
// country exists, patterns compile and a default layout names the
// manufacturer column.
func (t *Tables) Validate() error {
	var errs []error

	if t.MinCells < 1 {
		errs = append(errs, fmt.Errorf("min_cells must be positive, got %d", t.MinCells))
	}
	if len(t.Countries) == 0 {
		errs = append(errs, errors.New("no countries defined"))
	}

	names := map[string]bool{}
	owner := map[string]string{}
	for i, c := range t.Countries {
		if strings.TrimSpace(c.Name) == "" {
			errs = append(errs, fmt.Errorf("country #%d has no name", i+1))
			continue
		}
		if len(c.Codes) == 0 {
			errs = append(errs, fmt.Errorf("country %q has no codes", c.Name))
		}
		names[c.Name] = true
		for _, code := range c.Codes {
			key := NormalizeCode(code)
			if key == "" {
				errs = append(errs, fmt.Errorf("country %q has an empty code", c.Name))
				continue
			}
			if prev, ok := owner[key]; ok && prev != c.Name {
				errs = append(errs, fmt.Errorf("code %s maps to both %s and %s", key, prev, c.Name))
				continue
			}
			owner[key] = c.Name
		}
	}

	for code, revs := range t.CodeRevisions {
		for year, name := range revs {
			if !names[name] {
				errs = append(errs, fmt.Errorf("code_revisions %s/%d: unknown country %q", code, year, name))
			}
		}
	}
	for _, s := range t.Subdivisions {
		if !names[s.Country] {
			errs = append(errs, fmt.Errorf("subdivisions: unknown country %q", s.Country))
		}
	}
	for _, c := range t.Cities {
		if !names[c.Country] {
			errs = append(errs, fmt.Errorf("cities: unknown country %q", c.Country))
		}
	}
	for _, a := range t.ManufacturerAliases {
		if strings.TrimSpace(a.Canonical) == "" {
			errs = append(errs, errors.New("manufacturer alias without canonical name"))
		}
	}

	for from, to := range t.OCRCorrections.Digits {
		if utf8.RuneCountInString(from) != 1 || !unicode.IsDigit([]rune(from)[0]) {
			errs = append(errs, fmt.Errorf("ocr_corrections.digits: key %q is not a single digit", from))
		}
		if utf8.RuneCountInString(to) != 1 || !unicode.IsLetter([]rune(to)[0]) {
			errs = append(errs, fmt.Errorf("ocr_corrections.digits: %q maps to %q, not a single letter", from, to))
		}
	}

	for _, p := range append(append([]string{}, t.HeaderPatterns...), t.NonDataMarkers...) {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("pattern %q: %w", p, err))
		}
	}

	def, ok := t.Layouts["default"]
	if !ok {
		errs = append(errs, errors.New("layouts: missing default layout"))
	} else if _, ok := def[FieldManufacturer]; !ok {
		errs = append(errs, errors.New("layouts: default layout has no manufacturer column"))
	}
	for key, layout := range t.Layouts {
		if key != "default" {
			if _, _, err := parseYearKey(key); err != nil {
				errs = append(errs, fmt.Errorf("layouts: %w", err))
			}
		}
		for field := range layout {
			if !slices.Contains(allFields, field) {
				errs = append(errs, fmt.Errorf("layouts %s: unknown field %q", key, field))
			}
		}
	}

	return errors.Join(errs...)
}

// LayoutFor picks the layout for a model year: an exact year key first, then
// the narrowest range containing the year, then the default.
func (t *Tables) LayoutFor(year int) Layout {
	if l, ok := t.Layouts[strconv.Itoa(year)]; ok {
		return l
	}

	keys := make([]string, 0, len(t.Layouts))
	for key := range t.Layouts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	best := ""
	bestSpan := 0
	for _, key := range keys {
		if key == "default" {
			continue
		}
		from, to, err := parseYearKey(key)
		if err != nil || year < from || year > to {
			continue
		}
		if best == "" || to-from < bestSpan {
			best = key
			bestSpan = to - from
		}
	}
	if best != "" {
		return t.Layouts[best]
	}
	return t.Layouts["default"]
}

func parseYearKey(key string) (int, int, error) {
	fromRaw, toRaw, isRange := strings.Cut(key, "-")
	from, err := strconv.Atoi(strings.TrimSpace(fromRaw))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid layout key %q", key)
	}
	if !isRange {
		return from, from, nil
	}
	to, err := strconv.Atoi(strings.TrimSpace(toRaw))
	if err != nil || to < from {
		return 0, 0, fmt.Errorf("invalid layout key %q", key)
	}
	return from, to, nil
}

// NormalizeCode uppercases, drops dots and collapses spaces, so "U.S." and "us"
// share a key.
func NormalizeCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, ".", "")
	return strings.Join(strings.Fields(s), " ")
}
