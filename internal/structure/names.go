package structure

import (
	"strings"
	"unicode"
)

// snakeCase converts a Go field name to its snake_case code name.
// Runs of capitals are kept together: "NTPEnabled" becomes "ntp_enabled"
// and "IsUTC" becomes "is_utc".
func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteRune('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// WireName returns the dash-delimited name used in structures.
func WireName(snake string) string {
	return strings.ReplaceAll(snake, "_", "-")
}

// CodeName is the inverse of WireName.
func CodeName(wire string) string {
	return strings.ReplaceAll(wire, "-", "_")
}
