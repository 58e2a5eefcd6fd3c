package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Specificity tiers for capability name patterns. Higher wins when
// several same-action rules match the same request.
const (
	specExact      = 3
	specPrefixStar = 2
	specCategory   = 1
	specWildcard   = 0
)

var patternRe = regexp.MustCompile(`^[A-Za-z0-9*]+(\.[A-Za-z0-9*]+)+$`)

// ValidatePattern enforces the rule-pattern invariant: the literal "*"
// or at least two dot-separated alphanumeric segments (segments may
// carry a trailing star).
func ValidatePattern(pattern string) error {
	if pattern == "*" {
		return nil
	}
	if !patternRe.MatchString(pattern) {
		return fmt.Errorf("policy: invalid permission pattern %q", pattern)
	}
	return nil
}

// Matches reports whether pattern matches the capability name.
// "*" matches anything; "foo.*" matches names under the foo category;
// "foo*" is a plain prefix match; anything else is exact equality.
func Matches(pattern, name string) bool {
	switch {
	case pattern == "*":
		return true
	case pattern == name:
		return true
	case strings.HasSuffix(pattern, ".*"):
		// Category wildcard: prefix plus the dot.
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	default:
		return false
	}
}

// Specificity ranks a pattern: exact > trailing-star prefix > category
// wildcard > bare star.
func Specificity(pattern string) int {
	switch {
	case pattern == "*":
		return specWildcard
	case strings.HasSuffix(pattern, ".*"):
		return specCategory
	case strings.HasSuffix(pattern, "*"):
		return specPrefixStar
	default:
		return specExact
	}
}
