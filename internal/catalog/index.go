package catalog

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"aala/internal/tables"
	"aala/internal/util"
)

// Index canonicalizes manufacturer spellings by their longest known prefix.
type Index struct {
	ByVariant map[string]string
	Variants  []string
}

func BuildIndex(aliases []tables.Alias) *Index {
	idx := &Index{ByVariant: map[string]string{}}

	add := func(variant, canonical string) {
		key := normalizeName(variant)
		if key == "" {
			return
		}
		if _, ok := idx.ByVariant[key]; ok {
			return
		}
		idx.ByVariant[key] = canonical
		idx.Variants = append(idx.Variants, key)
	}

	for _, a := range aliases {
		canonical := strings.TrimSpace(a.Canonical)
		if canonical == "" {
			continue
		}
		for _, v := range a.Variants {
			add(v, canonical)
		}
		add(canonical, canonical)
	}

	sort.SliceStable(idx.Variants, func(i, j int) bool {
		if len(idx.Variants[i]) != len(idx.Variants[j]) {
			return len(idx.Variants[i]) > len(idx.Variants[j])
		}
		return idx.Variants[i] < idx.Variants[j]
	})
	return idx
}

// Canonical returns the canonical manufacturer for name when a known variant
// is a prefix of it ending on a word boundary. Matching ignores case.
func (idx *Index) Canonical(name string) (string, bool) {
	key := normalizeName(name)
	if key == "" {
		return "", false
	}
	for _, v := range idx.Variants {
		if !strings.HasPrefix(key, v) {
			continue
		}
		rest := key[len(v):]
		if rest == "" {
			return idx.ByVariant[v], true
		}
		r, _ := utf8.DecodeRuneInString(rest)
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return idx.ByVariant[v], true
		}
	}
	return "", false
}

func normalizeName(s string) string {
	return strings.ToUpper(util.CollapseSpaces(s))
}
