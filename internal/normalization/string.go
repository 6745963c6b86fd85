package normalization

import (
	"strings"
)

func ParseInputString(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// NameKey folds a concept name down to a comparison key: lowercased, trimmed,
// punctuation and repeated whitespace collapsed. Two concepts with equal keys
// are near-certain duplicates; the agent still decides.
func NameKey(name string) string {
	lowered := ParseInputString(name)
	var b strings.Builder
	b.Grow(len(lowered))
	lastSpace := false
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
