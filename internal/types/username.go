package types

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultUsername replaces a display name that is missing or sanitizes to
// nothing.
const DefaultUsername = "anonymous"

const maxUsernameRunes = 32

// SanitizeUsername strips control and markup characters, trims whitespace
// and caps the length of a display name.
func SanitizeUsername(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune("<>\"'&`", r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxUsernameRunes {
		name = strings.TrimSpace(string([]rune(name)[:maxUsernameRunes]))
	}
	if name == "" {
		return DefaultUsername
	}
	return name
}
