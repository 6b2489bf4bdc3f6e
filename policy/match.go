package policy

import "strings"

// Matches reports whether a granted permission pattern covers a requested
// permission. Patterns are colon-segmented; a "*" segment matches any single
// segment in that position, and segment counts must align. The bare pattern
// "*" matches everything regardless of depth.
//
// "resource:*" matches "resource:read" and "resource:write" but not
// "resource:sub:read"; covering the deeper name takes "resource:*:*".
func Matches(granted, requested string) bool {
	if granted == "*" {
		return true
	}
	if granted == "" || requested == "" {
		return false
	}

	g := strings.Split(granted, ":")
	r := strings.Split(requested, ":")
	if len(g) != len(r) {
		return false
	}

	for i, seg := range g {
		if seg != "*" && seg != r[i] {
			return false
		}
	}
	return true
}

// MatchesAny reports whether any pattern in the set covers the request.
func MatchesAny(granted []string, requested string) bool {
	for _, g := range granted {
		if Matches(g, requested) {
			return true
		}
	}
	return false
}
