package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString trims surrounding space, drops control characters other
// than newlines and tabs, and truncates to maxRunes without splitting a rune.
func SanitizeString(input string, maxRunes int) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == utf8.RuneError || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			return -1
		}
		return r
	}, strings.TrimSpace(input))
	if maxRunes > 0 && utf8.RuneCountInString(cleaned) > maxRunes {
		cleaned = string([]rune(cleaned)[:maxRunes])
	}
	return strings.TrimSpace(cleaned)
}
