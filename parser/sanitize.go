package parser

import "strings"

const (
	maxNameLength   = 100
	truncatedMarker = "..."
)

func allowedNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.', r == '(', r == ')', r == ' ':
		return true
	}
	return false
}

// SanitizeFilename strips characters outside [A-Za-z0-9 _.()-], turns spaces into
// underscores and caps the result at 100 characters, ending in "..." when truncated.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if !allowedNameRune(r) {
			continue
		}
		if r == ' ' {
			r = '_'
		}
		b.WriteRune(r)
	}

	sanitized := b.String()
	if len(sanitized) > maxNameLength {
		sanitized = sanitized[:maxNameLength-len(truncatedMarker)] + truncatedMarker
	}
	return sanitized
}
