package util

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"aala/internal"
)

var (
	reNumber    = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)
	reThousands = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d*)?$`)
	hundred     = decimal.NewFromInt(100)
	percentTrim = " \t\r\n%*~"
)

// ParsePercent reads a share in [0,100]. Values that are not numeric, lie
// outside the range or are bounds such as "<5" come back invalid; nothing is
// clamped. A comma followed by three digits groups thousands, any other
// comma is a decimal separator.
func ParsePercent(input string) internal.Percent {
	if strings.ContainsAny(input, "<>") {
		return internal.Percent{}
	}
	s := strings.ReplaceAll(input, "\u00a0", " ")
	s = strings.Trim(s, percentTrim)
	s = strings.ReplaceAll(s, " ", "")
	if reThousands.MatchString(s) {
		s = strings.ReplaceAll(s, ",", "")
	} else {
		s = strings.Replace(s, ",", ".", 1)
	}
	if s == "" || !reNumber.MatchString(s) {
		return internal.Percent{}
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return internal.Percent{}
	}
	if v.IsNegative() || v.GreaterThan(hundred) {
		return internal.Percent{}
	}
	return internal.Percent{Value: v, Valid: true}
}
