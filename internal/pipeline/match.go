package pipeline

import (
	"strings"
	"unicode"

	"aala/internal/catalog"
	"aala/internal/tables"
	"aala/internal/util"
)

// minRepairLetters is the letter count below which a token is treated as a
// model code and its digits are left alone.
const minRepairLetters = 4

// ManufacturerMatcher cleans raw manufacturer cells and maps known spellings
// to a canonical manufacturer. Unknown spellings pass through cleaned.
type ManufacturerMatcher struct {
	index  *catalog.Index
	whole  map[string]string
	tokens map[string]string
	digits map[rune]rune
}

func NewManufacturerMatcher(t *tables.Tables) *ManufacturerMatcher {
	m := &ManufacturerMatcher{
		index:  catalog.BuildIndex(t.ManufacturerAliases),
		whole:  map[string]string{},
		tokens: map[string]string{},
		digits: map[rune]rune{},
	}
	for from, to := range t.OCRCorrections.Whole {
		m.whole[strings.ToUpper(util.CollapseSpaces(from))] = to
	}
	for from, to := range t.OCRCorrections.Tokens {
		m.tokens[strings.ToUpper(strings.TrimSpace(from))] = to
	}
	for from, to := range t.OCRCorrections.Digits {
		d, l := []rune(from), []rune(to)
		if len(d) == 1 && len(l) == 1 {
			m.digits[d[0]] = unicode.ToLower(l[0])
		}
	}
	return m
}

// Clean returns nil when nothing usable is left.
func (m *ManufacturerMatcher) Clean(raw string) *string {
	s := util.RepairLineWraps(raw)
	if s == "" {
		return nil
	}

	if fixed, ok := m.whole[strings.ToUpper(s)]; ok {
		s = fixed
	}

	words := strings.Fields(s)
	for i, w := range words {
		words[i] = m.repairDigits(m.correctToken(w))
	}
	words = dropRepeats(words)

	s = util.TrimNoise(strings.Join(words, " "))
	if s == "" {
		return nil
	}
	if canonical, ok := m.index.Canonical(s); ok {
		s = canonical
	}
	return &s
}

func (m *ManufacturerMatcher) correctToken(w string) string {
	if fixed, ok := m.tokens[strings.ToUpper(w)]; ok {
		return fixed
	}
	core := util.TrimNoise(w)
	if core == "" || core == w {
		return w
	}
	if fixed, ok := m.tokens[strings.ToUpper(core)]; ok {
		return strings.Replace(w, core, fixed, 1)
	}
	return w
}

// repairDigits replaces single configured digits that sit between two
// letters, as in "M0tors". Tokens with fewer than minRepairLetters letters
// or with adjacent digits look like model codes ("A8L", "CX50") and are
// returned unchanged.
func (m *ManufacturerMatcher) repairDigits(w string) string {
	if len(m.digits) == 0 {
		return w
	}
	rs := []rune(w)
	letters := 0
	for i, r := range rs {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r) && i > 0 && unicode.IsDigit(rs[i-1]):
			return w
		}
	}
	if letters < minRepairLetters {
		return w
	}

	changed := false
	for i := 1; i < len(rs)-1; i++ {
		r, ok := m.digits[rs[i]]
		if !ok || !unicode.IsLetter(rs[i-1]) || !unicode.IsLetter(rs[i+1]) {
			continue
		}
		if unicode.IsUpper(rs[i-1]) && unicode.IsUpper(rs[i+1]) {
			r = unicode.ToUpper(r)
		}
		rs[i] = r
		changed = true
	}
	if !changed {
		return w
	}
	return string(rs)
}

func dropRepeats(words []string) []string {
	out := words[:0]
	for _, w := range words {
		if len(out) > 0 && strings.EqualFold(util.TrimNoise(out[len(out)-1]), util.TrimNoise(w)) && util.TrimNoise(w) != "" {
			continue
		}
		out = append(out, w)
	}
	return out
}
