// Package registry resolves country codes, names, subdivisions and plant
// cities found in AALA reports to canonical country names.
package registry

import (
	"sort"
	"strings"

	"aala/internal"
	"aala/internal/tables"
	"aala/internal/util"
)

type revision struct {
	from int
	name string
}

// Registry is immutable after New and safe for concurrent use.
type Registry struct {
	codes        map[string]string
	names        map[string]string
	primary      map[string]string
	revisions    map[string][]revision
	subdivisions map[string]string
	cities       map[string]string
	ordered      []string
	vocabulary   []string
}

func New(t *tables.Tables) *Registry {
	r := &Registry{
		codes:        map[string]string{},
		names:        map[string]string{},
		primary:      map[string]string{},
		revisions:    map[string][]revision{},
		subdivisions: map[string]string{},
		cities:       map[string]string{},
	}

	vocab := map[string]bool{}
	for _, c := range t.Countries {
		r.ordered = append(r.ordered, c.Name)
		r.names[tables.NormalizeCode(c.Name)] = c.Name
		for _, w := range util.Tokenize(strings.ToUpper(c.Name)) {
			vocab[w] = true
		}
		for _, alias := range c.Aliases {
			r.names[tables.NormalizeCode(alias)] = c.Name
			for _, w := range util.Tokenize(strings.ToUpper(alias)) {
				vocab[w] = true
			}
		}
		for i, code := range c.Codes {
			key := tables.NormalizeCode(code)
			if key == "" {
				continue
			}
			r.codes[key] = c.Name
			vocab[key] = true
			if i == 0 {
				r.primary[c.Name] = key
			}
		}
	}

	for code, revs := range t.CodeRevisions {
		key := tables.NormalizeCode(code)
		list := make([]revision, 0, len(revs))
		for year, name := range revs {
			list = append(list, revision{from: year, name: name})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].from < list[j].from })
		r.revisions[key] = list
		vocab[key] = true
	}

	for _, s := range t.Subdivisions {
		for _, code := range s.Codes {
			r.subdivisions[tables.NormalizeCode(code)] = s.Country
		}
	}
	for _, c := range t.Cities {
		for _, name := range c.Names {
			r.cities[tables.NormalizeCode(name)] = c.Country
		}
	}

	for w := range vocab {
		r.vocabulary = append(r.vocabulary, w)
	}
	sort.Strings(r.vocabulary)

	return r
}

// Resolve maps a code (or a country name) seen in a report of the given
// model year to a country. It never fails: unknown input comes back
// unresolved with the normalized code kept for auditing.
func (r *Registry) Resolve(code string, year int) internal.Country {
	key := normalize(code)
	if key == "" {
		return internal.UnresolvedCountry("")
	}

	if revs := r.revisions[key]; len(revs) > 0 {
		for i := len(revs) - 1; i >= 0; i-- {
			if revs[i].from <= year {
				return internal.Country{Name: revs[i].name, Code: key, Resolution: internal.ResolutionExact}
			}
		}
		if name, ok := r.codes[key]; ok {
			return internal.Country{Name: name, Code: key, Resolution: internal.ResolutionBestEffort}
		}
		return internal.Country{Name: revs[len(revs)-1].name, Code: key, Resolution: internal.ResolutionBestEffort}
	}

	if name, ok := r.codes[key]; ok {
		return internal.Country{Name: name, Code: key, Resolution: internal.ResolutionExact}
	}
	if name, ok := r.names[key]; ok {
		return internal.Country{Name: name, Code: key, Resolution: internal.ResolutionExact}
	}
	return internal.UnresolvedCountry(key)
}

// ResolveName accepts only country names and aliases, never codes.
func (r *Registry) ResolveName(name string) (internal.Country, bool) {
	key := normalize(name)
	if canonical, ok := r.names[key]; ok {
		return internal.Country{Name: canonical, Code: key, Resolution: internal.ResolutionExact}, true
	}
	return internal.UnresolvedCountry(key), false
}

// Code returns the primary code of a country name or alias.
func (r *Registry) Code(name string) (string, bool) {
	canonical, ok := r.names[tables.NormalizeCode(name)]
	if !ok {
		return "", false
	}
	code, ok := r.primary[canonical]
	return code, ok
}

// ResolveSubdivision maps US state and Canadian province abbreviations.
func (r *Registry) ResolveSubdivision(token string) (internal.Country, bool) {
	key := normalize(token)
	if name, ok := r.subdivisions[key]; ok {
		return internal.Country{Name: name, Code: key, Resolution: internal.ResolutionExact}, true
	}
	return internal.UnresolvedCountry(key), false
}

// ResolveCity maps known plant cities.
func (r *Registry) ResolveCity(name string) (internal.Country, bool) {
	key := normalize(name)
	if country, ok := r.cities[key]; ok {
		return internal.Country{Name: country, Code: key, Resolution: internal.ResolutionExact}, true
	}
	return internal.UnresolvedCountry(key), false
}

// Names lists canonical country names in table order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.ordered...)
}

// Vocabulary lists every code and country-name word, uppercased and sorted.
func (r *Registry) Vocabulary() []string {
	return append([]string(nil), r.vocabulary...)
}

func normalize(raw string) string {
	line := util.FirstLine(raw)
	s := util.StripParentheticals(line)
	if strings.TrimSpace(s) == "" {
		s = strings.NewReplacer("(", " ", ")", " ").Replace(line)
	}
	return tables.NormalizeCode(util.TrimNoise(s))
}
