package util

import "testing"

func TestParsePercent(t *testing.T) {
	cases := []struct {
		name  string
		input string
		valid bool
		want  string
	}{
		{name: "plain", input: "45", valid: true, want: "45"},
		{name: "percent sign", input: " 70% ", valid: true, want: "70"},
		{name: "decimal", input: "12.5", valid: true, want: "12.5"},
		{name: "decimal comma", input: "12,5", valid: true, want: "12.5"},
		{name: "zero", input: "0", valid: true, want: "0"},
		{name: "upper bound", input: "100", valid: true, want: "100"},
		{name: "above range", input: "140", valid: false},
		{name: "negative", input: "-5", valid: false},
		{name: "text", input: "N/A", valid: false},
		{name: "empty", input: "", valid: false},
		{name: "footnote star", input: "35*", valid: true, want: "35"},
		{name: "thousands separator", input: "1,000", valid: false},
		{name: "less than", input: "<5", valid: false},
		{name: "greater than", input: ">95%", valid: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParsePercent(tc.input)
			if got.Valid != tc.valid {
				t.Fatalf("valid=%v want %v", got.Valid, tc.valid)
			}
			if tc.valid && got.String() != tc.want {
				t.Fatalf("got %q want %q", got.String(), tc.want)
			}
			if !tc.valid && got.String() != "" {
				t.Fatalf("invalid percent rendered %q", got.String())
			}
		})
	}
}
