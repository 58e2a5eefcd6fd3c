package policy

import (
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// conditionMet evaluates all present sub-conditions against the request
// context; they combine with logical AND.
func conditionMet(cond *Condition, rc *RequestContext, now time.Time) bool {
	if cond.Empty() {
		return true
	}
	if cond.NodeFilter != "" && !nodeFilterMatches(cond.NodeFilter, rc) {
		return false
	}
	if cond.TimeWindow != "" && !timeWindowContains(cond.TimeWindow, now) {
		return false
	}
	if len(cond.AllowedIPs) > 0 && !ipAllowed(cond.AllowedIPs, rc) {
		return false
	}
	return true
}

// nodeFilterMatches evaluates `field(=|~)value` against the target node.
// A missing field value fails closed.
func nodeFilterMatches(filter string, rc *RequestContext) bool {
	if rc == nil || rc.Node == nil {
		return false
	}
	idx := strings.IndexAny(filter, "=~")
	if idx <= 0 || idx == len(filter)-1 {
		return false
	}
	field := filter[:idx]
	op := filter[idx]
	want := filter[idx+1:]

	var have string
	switch field {
	case "environment":
		have = rc.Node.Environment
	case "role":
		have = rc.Node.Role
	case "name", "node":
		have = rc.Node.Name
	default:
		have = rc.Node.Metadata[field]
	}
	if have == "" {
		return false
	}

	if op == '=' {
		return have == want
	}
	re, err := compileGlob(want)
	if err != nil {
		return false
	}
	return re.MatchString(have)
}

// compileGlob turns a `*`/`?` glob into an anchored regexp.
func compileGlob(glob string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(glob)
	escaped = strings.ReplaceAll(escaped, `\*`, `.*`)
	escaped = strings.ReplaceAll(escaped, `\?`, `.`)
	return regexp.Compile("^" + escaped + "$")
}

// timeWindowContains reports whether now falls inside the window.
// Ranges are inclusive on both ends, computed in minutes since midnight
// in the evaluator's local time.
func timeWindowContains(window string, now time.Time) bool {
	if window == "always" {
		return true
	}

	spec := window
	switch {
	case strings.HasPrefix(spec, "weekdays:"):
		if d := now.Weekday(); d == time.Saturday || d == time.Sunday {
			return false
		}
		spec = strings.TrimPrefix(spec, "weekdays:")
	case strings.HasPrefix(spec, "weekend:"):
		if d := now.Weekday(); d != time.Saturday && d != time.Sunday {
			return false
		}
		spec = strings.TrimPrefix(spec, "weekend:")
	}

	start, end, ok := parseTimeRange(spec)
	if !ok {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	return minute >= start && minute <= end
}

// parseTimeRange parses "HH:MM-HH:MM" into minutes since midnight.
func parseTimeRange(spec string) (start, end int, ok bool) {
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, ok = parseClock(parts[0])
	if !ok {
		return 0, 0, false
	}
	end, ok = parseClock(parts[1])
	if !ok {
		return 0, 0, false
	}
	return start, end, true
}

func parseClock(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// ipAllowed reports whether the client address matches any entry:
// a literal IP, a CIDR block, or a dotted pattern with `*` wildcards.
func ipAllowed(allowed []string, rc *RequestContext) bool {
	if rc == nil || rc.ClientIP == "" {
		return false
	}
	clientIP := net.ParseIP(rc.ClientIP)
	for _, entry := range allowed {
		switch {
		case entry == rc.ClientIP:
			return true
		case strings.Contains(entry, "/"):
			if clientIP == nil {
				continue
			}
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				continue
			}
			if network.Contains(clientIP) {
				return true
			}
		case strings.Contains(entry, "*"):
			if wildcardIPMatches(entry, rc.ClientIP) {
				return true
			}
		}
	}
	return false
}

// wildcardIPMatches compiles each `*` octet to a digit run.
func wildcardIPMatches(pattern, ip string) bool {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `\d+`)
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return false
	}
	return re.MatchString(ip)
}
