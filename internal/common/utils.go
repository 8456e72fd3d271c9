package common

import "strings"

// SplitFields splits a delimited line into trimmed, upper-cased tokens.
func SplitFields(line string, sep string) []string {
	parts := strings.Split(line, sep)
	for i, p := range parts {
		parts[i] = strings.ToUpper(strings.TrimSpace(p))
	}
	return parts
}

// HasAll returns true if every wanted token is present in tokens.
func HasAll(tokens []string, want ...string) bool {
	for _, w := range want {
		if !HasAny(tokens, w) {
			return false
		}
	}
	return true
}

// HasAny returns true if tokens contains any of the wanted tokens.
func HasAny(tokens []string, want ...string) bool {
	for _, t := range tokens {
		for _, w := range want {
			if t == w {
				return true
			}
		}
	}
	return false
}

// IsComment reports whether a trimmed line is blank or a '#' comment.
func IsComment(line string) bool {
	line = strings.TrimSpace(line)
	return line == "" || strings.HasPrefix(line, "#")
}
