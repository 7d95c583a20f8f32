package tables

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTablesValidate(t *testing.T) {
	tbl, err := Default()
	require.NoError(t, err)
	assert.Equal(t, 4, tbl.MinCells)
	assert.NotEmpty(t, tbl.Countries)
	assert.Equal(t, "United States", tbl.Countries[0].Name)
	assert.Equal(t, 0, tbl.LayoutFor(2024)[FieldManufacturer])
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	tbl, err := Load("")
	require.NoError(t, err)
	def, err := Default()
	require.NoError(t, err)
	assert.Equal(t, def.Version, tbl.Version)
}

func TestLoadOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	data := []byte(`
version: test
countries:
  - name: Germany
    codes: [G]
  - name: Switzerland
    codes: [SZ]
code_revisions:
  CH:
    2008: Switzerland
layouts:
  default: {manufacturer: 0, engine: 1}
  "2010-2014": {manufacturer: 0, engine: 2}
  "2012": {manufacturer: 0, engine: 3}
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	tbl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, tbl.MinCells)
	assert.Equal(t, "Switzerland", tbl.CodeRevisions["CH"][2008])
	assert.Equal(t, 1, tbl.LayoutFor(2009)[FieldEngine])
	assert.Equal(t, 2, tbl.LayoutFor(2011)[FieldEngine])
	assert.Equal(t, 3, tbl.LayoutFor(2012)[FieldEngine])
	assert.Equal(t, 1, tbl.LayoutFor(2020)[FieldEngine])
}

func TestValidateRejectsBadTables(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"duplicate code", `
countries:
  - {name: Germany, codes: [G]}
  - {name: Gabon, codes: [g]}
layouts: {default: {manufacturer: 0}}
`},
		{"unknown revision country", `
countries: [{name: Germany, codes: [G]}]
code_revisions: {G: {2010: Atlantis}}
layouts: {default: {manufacturer: 0}}
`},
		{"bad pattern", `
countries: [{name: Germany, codes: [G]}]
non_data_markers: ['([']
layouts: {default: {manufacturer: 0}}
`},
		{"missing default layout", `
countries: [{name: Germany, codes: [G]}]
layouts: {"2010": {manufacturer: 0}}
`},
		{"digit mapped to a word", `
countries: [{name: Germany, codes: [G]}]
ocr_corrections: {digits: {"0": oo}}
layouts: {default: {manufacturer: 0}}
`},
		{"letter used as digit key", `
countries: [{name: Germany, codes: [G]}]
ocr_corrections: {digits: {O: o}}
layouts: {default: {manufacturer: 0}}
`},
		{"unknown field", `
countries: [{name: Germany, codes: [G]}]
layouts: {default: {manufacturer: 0, colour: 2}}
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLayoutColumn(t *testing.T) {
	l := Layout{FieldManufacturer: 0, FieldAssembly: -3}

	idx, ok := l.Column(FieldAssembly, 10)
	require.True(t, ok)
	assert.Equal(t, 7, idx)

	_, ok = l.Column(FieldAssembly, 2)
	assert.False(t, ok)
	_, ok = l.Column(FieldEngine, 10)
	assert.False(t, ok)

	field, ok := l.FieldAt(7, 10)
	require.True(t, ok)
	assert.Equal(t, FieldAssembly, field)
}

func TestMarshalRoundTrip(t *testing.T) {
	tbl, err := Default()
	require.NoError(t, err)
	data, err := tbl.Marshal()
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, tbl.Countries, again.Countries)
	assert.Equal(t, tbl.Layouts, again.Layouts)
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "US", NormalizeCode(" u.s. "))
	assert.Equal(t, "WEST GERMANY", NormalizeCode("west   germany"))
}
