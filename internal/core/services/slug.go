package services

import "strings"

// Slugify normalizes a user-supplied job name into something safe to embed
// in filenames: alphanumerics, '-' and '_' survive, everything else becomes
// '_'. An empty result falls back to "asset" so published names never start
// with the separator.
func Slugify(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := strings.Trim(b.String(), "_")
	if s == "" {
		return "asset"
	}
	return s
}
