package source

import (
	"regexp"
	"strings"
)

// PlaceholderName replaces a group name that sanitization emptied.
const PlaceholderName = "unnamed-group"

var (
	htmlTagRe     = regexp.MustCompile(`<[^>]*>`)
	controlRe     = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	scriptWordsRe = regexp.MustCompile(`(?i)javascript:|script|onerror|onload|onclick|eval`)
)

// sqlComments are stripped as whole markers, not per character.
var sqlComments = []string{"--", "/*", "*/"}

// SanitizeName cleans an externally-supplied group name: HTML tags,
// script-related keywords, quote/semicolon/backslash characters, SQL
// comment markers, control characters, and parentheses are removed. A
// name emptied by cleaning becomes PlaceholderName.
func SanitizeName(name string) string {
	s := htmlTagRe.ReplaceAllString(name, "")
	s = scriptWordsRe.ReplaceAllString(s, "")
	for _, marker := range sqlComments {
		s = strings.ReplaceAll(s, marker, "")
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\'', '"', '`', ';', '\\', '(', ')':
			return -1
		}
		return r
	}, s)
	s = controlRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "" {
		return PlaceholderName
	}
	return s
}
