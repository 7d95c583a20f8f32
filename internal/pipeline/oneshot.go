package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var ErrNoModelYear = errors.New("cannot determine model year")

var (
	reTaggedYear = regexp.MustCompile(`(?i)MY[ _-]?((?:19|20)\d{2})`)
	reBareYear   = regexp.MustCompile(`(?:^|[^0-9])((?:19|20)\d{2})(?:[^0-9]|$)`)
)

// Input is one report file. A zero ModelYear is taken from the file name.
type Input struct {
	Path      string
	ModelYear int
}

// ModelYearFromPath reads the model year from a report file name such as
// MY2024_AALA.pdf or 2019-aala.pdf.
func ModelYearFromPath(path string) (int, error) {
	name := filepath.Base(path)
	if m := reTaggedYear.FindStringSubmatch(name); m != nil {
		return strconv.Atoi(m[1])
	}
	if m := reBareYear.FindStringSubmatch(name); m != nil {
		return strconv.Atoi(m[1])
	}
	return 0, fmt.Errorf("%s: %w", name, ErrNoModelYear)
}

// ExpandInputs turns files and directories into report inputs. Directories
// contribute their *.pdf files in name order; duplicates are dropped. A
// non-zero year applies to every input.
//
// A path that cannot be read is still returned, so the run reports it as a
// failed file next to the others. An error comes back only when none of the
// paths could be read.
func ExpandInputs(paths []string, year int) ([]Input, error) {
	var out []Input
	var errs []error
	readable := 0
	seen := map[string]bool{}
	add := func(p string) {
		clean := filepath.Clean(p)
		if seen[clean] {
			return
		}
		seen[clean] = true
		out = append(out, Input{Path: clean, ModelYear: year})
	}

	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			errs = append(errs, err)
			add(p)
			continue
		}
		if !info.IsDir() {
			readable++
			add(p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			readable++
			add(filepath.Join(p, name))
		}
	}

	if readable == 0 {
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return nil, errors.New("no input files")
	}
	return out, nil
}
