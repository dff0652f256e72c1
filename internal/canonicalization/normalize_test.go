package canonicalization

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already normal", "bearing worn", "bearing worn"},
		{"uppercase", "BEARING WORN", "bearing worn"},
		{"leading/trailing space", "  bearing worn  ", "bearing worn"},
		{"collapsed internal whitespace", "bearing    worn", "bearing worn"},
		{"tabs and newlines", "bearing\tworn\n", "bearing worn"},
		{"empty string", "", ""},
		{"whitespace only", "   ", ""},
		{"mixed case with punctuation", "Gel Leak - Hull", "gel leak - hull"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.input)
			if got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}
