package models

import "strings"

// NormalizePhone strips everything but ASCII digits. The result is the
// driver's primary key; an empty result is not a usable identifier.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MaskPhone hides all but the last four digits, for logs.
func MaskPhone(phone string) string {
	clean := NormalizePhone(phone)
	if len(clean) <= 4 {
		return clean
	}
	return strings.Repeat("*", len(clean)-4) + clean[len(clean)-4:]
}
