package util

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	reSpaces        = regexp.MustCompile(`\s+`)
	reParenthetical = regexp.MustCompile(`\([^)]*\)`)
	reHyphenWrap    = regexp.MustCompile(`(\p{L})-\s*\n\s*(\p{L})`)
	reTokenSplit    = regexp.MustCompile(`[\s=:,;./()\-]+`)
)

// CollapseSpaces replaces runs of whitespace, line breaks included, with a
// single space.
func CollapseSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}

// RepairLineWraps joins words split by a hyphenated line break and turns the
// remaining breaks into spaces. The hyphen stays when the next line starts
// with a capital, as in "Mercedes-\nBenz".
func RepairLineWraps(input string) string {
	s := strings.ReplaceAll(input, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = reHyphenWrap.ReplaceAllStringFunc(s, func(m string) string {
		parts := reHyphenWrap.FindStringSubmatch(m)
		next, _ := utf8.DecodeRuneInString(parts[2])
		if unicode.IsUpper(next) {
			return parts[1] + "-" + parts[2]
		}
		return parts[1] + parts[2]
	})
	return CollapseSpaces(s)
}

func StripParentheticals(input string) string {
	return reParenthetical.ReplaceAllString(input, " ")
}

func FirstLine(input string) string {
	s := strings.ReplaceAll(input, "\r\n", "\n")
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}

// TrimNoise strips leading and trailing characters that are neither letters
// nor digits, keeping a closing dot after a letter ("Co.", "Inc.").
func TrimNoise(input string) string {
	s := strings.TrimSpace(input)
	s = strings.TrimLeftFunc(s, func(r rune) bool { return !isWordRune(r) })
	s = strings.TrimRightFunc(s, func(r rune) bool { return !isWordRune(r) && r != '.' && r != ')' })
	for strings.HasSuffix(s, "..") {
		s = strings.TrimSuffix(s, ".")
	}
	if strings.HasSuffix(s, ".") {
		rs := []rune(s)
		if len(rs) < 2 || !unicode.IsLetter(rs[len(rs)-2]) {
			s = strings.TrimRight(s, ".")
		}
	}
	if strings.HasSuffix(s, ")") && strings.Count(s, "(") < strings.Count(s, ")") {
		s = strings.TrimRight(s, ")")
	}
	return strings.TrimSpace(s)
}

// Tokenize splits on whitespace and legend punctuation and drops empty parts.
func Tokenize(input string) []string {
	parts := reTokenSplit.Split(input, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func HasLetter(input string) bool {
	for _, r := range input {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func HasDigit(input string) bool {
	for _, r := range input {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func Deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
