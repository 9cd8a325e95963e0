package validators

import (
	"strings"
	"unicode"
)

// SanitizeString cleans free text that ends up in timelines, notifications
// and payout records: control characters become spaces, whitespace runs
// collapse, and the result is cut to maxLen runes so multi-byte names are
// never split.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, input)
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if maxLen <= 0 {
		return cleaned
	}
	runes := []rune(cleaned)
	if len(runes) <= maxLen {
		return cleaned
	}
	return strings.TrimSpace(string(runes[:maxLen]))
}
