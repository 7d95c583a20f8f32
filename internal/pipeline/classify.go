package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"aala/internal"
	"aala/internal/registry"
	"aala/internal/tables"
	"aala/internal/util"
)

const DefaultHeaderFuzz = 0.2

// Classifier decides, for every extracted row, whether it is a vehicle
// record, a legend row, a repeated header or malformed. The first matching
// rule wins, in that order.
type Classifier struct {
	minCells   int
	vocabulary map[string]bool

	mu      sync.Mutex
	phrases *ahocorasick.Matcher

	headerLines    []string
	headerFuzz     float64
	headerPatterns []*regexp.Regexp
	nonData        []*regexp.Regexp
}

func NewClassifier(t *tables.Tables, reg *registry.Registry, headerFuzz float64) (*Classifier, error) {
	if headerFuzz < 0 {
		headerFuzz = DefaultHeaderFuzz
	}
	c := &Classifier{
		minCells:   t.MinCells,
		vocabulary: map[string]bool{},
		headerFuzz: headerFuzz,
	}

	for _, w := range reg.Vocabulary() {
		c.vocabulary[w] = true
	}
	for _, w := range t.LegendWords {
		c.vocabulary[strings.ToUpper(strings.TrimSpace(w))] = true
	}

	if len(t.HeaderPhrases) > 0 {
		phrases := make([]string, 0, len(t.HeaderPhrases))
		for _, p := range t.HeaderPhrases {
			phrases = append(phrases, strings.ToUpper(p))
		}
		c.phrases = ahocorasick.NewStringMatcher(phrases)
	}
	for _, line := range t.HeaderLines {
		c.headerLines = append(c.headerLines, strings.ToUpper(util.CollapseSpaces(line)))
	}
	for _, p := range t.HeaderPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("header pattern %q: %w", p, err)
		}
		c.headerPatterns = append(c.headerPatterns, re)
	}
	for _, p := range t.NonDataMarkers {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("non-data marker %q: %w", p, err)
		}
		c.nonData = append(c.nonData, re)
	}
	return c, nil
}

// Classify returns exactly one verdict for row. It is safe for concurrent
// use.
func (c *Classifier) Classify(row internal.RawRow) internal.RowVerdict {
	text := util.CollapseSpaces(strings.Join(row.Texts(), " "))

	if c.isLegend(text) {
		return internal.RowVerdict{Kind: internal.VerdictLegend}
	}
	if reason, ok := c.isHeader(text); ok {
		return internal.RowVerdict{Kind: internal.VerdictHeader, Reason: reason}
	}

	if len(row.Cells) < c.minCells {
		return internal.RowVerdict{Kind: internal.VerdictMalformed, Reason: internal.ReasonTooFewCells}
	}
	first := strings.TrimSpace(row.Cells[0].Text)
	if first == "" {
		return internal.RowVerdict{Kind: internal.VerdictMalformed, Reason: internal.ReasonEmptyFirstCell}
	}
	if util.HasDigit(first) && !util.HasLetter(first) {
		return internal.RowVerdict{Kind: internal.VerdictMalformed, Reason: internal.ReasonNumericFirstCell}
	}
	for _, re := range c.nonData {
		if re.MatchString(first) {
			return internal.RowVerdict{Kind: internal.VerdictMalformed, Reason: internal.ReasonNonDataMarker}
		}
	}
	return internal.RowVerdict{Kind: internal.VerdictAccepted}
}

// isLegend reports whether every token of the row is a code, a country name
// word or a legend word.
func (c *Classifier) isLegend(text string) bool {
	tokens := util.Tokenize(strings.ToUpper(text))
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		if !c.vocabulary[tok] {
			return false
		}
	}
	return true
}

func (c *Classifier) isHeader(text string) (string, bool) {
	upper := strings.ToUpper(text)
	if upper == "" {
		return "", false
	}

	if c.phrases != nil {
		c.mu.Lock()
		hits := c.phrases.Match([]byte(upper))
		c.mu.Unlock()
		distinct := map[int]bool{}
		for _, h := range hits {
			distinct[h] = true
		}
		if len(distinct) >= 2 {
			return "column_titles", true
		}
	}

	for _, line := range c.headerLines {
		longest := max(len(line), len(upper))
		if longest == 0 {
			continue
		}
		dist := fuzzy.LevenshteinDistance(upper, line)
		if float64(dist)/float64(longest) <= c.headerFuzz {
			return "page_title", true
		}
	}

	for _, re := range c.headerPatterns {
		if re.MatchString(text) {
			return "page_marker", true
		}
	}
	return "", false
}
