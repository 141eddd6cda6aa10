package ingest

import "testing"

func TestCanonicalPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5551230000", "+15551230000"},
		{"15551230000", "+15551230000"},
		{"+1 (555) 123-0000", "+15551230000"},
		{"+15551230000", "+15551230000"},
		{"+442071838750", "+442071838750"},
		{"555", "+555"},
		{"", ""},
		{"no digits", ""},
	}
	for _, tc := range tests {
		if got := CanonicalPhone(tc.in); got != tc.want {
			t.Errorf("CanonicalPhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
