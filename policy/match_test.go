package policy

import "testing"

func TestMatches(t *testing.T) {
	cases := []struct {
		granted   string
		requested string
		want      bool
	}{
		{"resource:read", "resource:read", true},
		{"resource:read", "resource:write", false},
		{"resource:*", "resource:read", true},
		{"resource:*", "resource:write", true},
		{"resource:*", "other:read", false},
		{"resource:*", "resource:sub:read", false},
		{"resource:*:*", "resource:sub:read", true},
		{"resource:*:read", "resource:sub:read", true},
		{"resource:*:read", "resource:read", false},
		{"*", "anything", true},
		{"*", "deeply:nested:permission", true},
		{"*:read", "resource:read", true},
		{"*:read", "resource:write", false},
		{"", "resource:read", false},
		{"resource:read", "", false},
	}

	for _, tc := range cases {
		if got := Matches(tc.granted, tc.requested); got != tc.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tc.granted, tc.requested, got, tc.want)
		}
	}
}

func TestMatchesAny(t *testing.T) {
	granted := []string{"billing:read", "reports:*"}

	if !MatchesAny(granted, "reports:export") {
		t.Error("expected reports:export to match")
	}
	if MatchesAny(granted, "billing:write") {
		t.Error("billing:write must not match")
	}
	if MatchesAny(nil, "anything") {
		t.Error("empty grant set must match nothing")
	}
}
