package ingest

import "strings"

// CanonicalPhone normalizes a carrier-supplied or user-entered number to a
// single storage form: "+" followed by digits, with bare 10-digit US numbers
// promoted to +1. Carriers deliver the same subscriber as "5551230000",
// "15551230000", or "+1 (555) 123-0000" depending on path; canonicalizing at
// ingestion keeps one conversation per subscriber.
func CanonicalPhone(value string) string {
	digits := digitsOnly(value)
	if digits == "" {
		return ""
	}
	if len(digits) == 10 {
		digits = "1" + digits
	}
	return "+" + digits
}

func digitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
