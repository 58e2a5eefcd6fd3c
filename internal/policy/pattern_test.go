package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"*", "anything.at.all", true},
		{"*", "x", true},
		{"inventory.list", "inventory.list", true},
		{"inventory.list", "inventory.get", false},
		{"a.*", "a.b", true},
		{"a.*", "a.b.c", true},
		{"a.*", "ab", false},
		{"a*", "ab.c", true},
		{"a*", "b.c", false},
		{"inventory*", "inventory.list", true},
		{"nodes.view", "nodes.viewer", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Matches(tc.pattern, tc.name), "pattern=%s name=%s", tc.pattern, tc.name)
	}
}

func TestSpecificity(t *testing.T) {
	require.Equal(t, 3, Specificity("inventory.list"))
	require.Equal(t, 2, Specificity("inventory*"))
	require.Equal(t, 1, Specificity("inventory.*"))
	require.Equal(t, 0, Specificity("*"))

	// Exact beats suffix-star beats category wildcard beats bare star.
	require.Greater(t, Specificity("a.b"), Specificity("a.b*"))
	require.Greater(t, Specificity("a.b*"), Specificity("a.*"))
	require.Greater(t, Specificity("a.*"), Specificity("*"))
}

func TestValidatePattern(t *testing.T) {
	for _, valid := range []string{"*", "inventory.list", "inventory.*", "a.b.c", "node9.restart"} {
		require.NoError(t, ValidatePattern(valid))
	}
	for _, invalid := range []string{"", "inventory", "inventory.", ".list", "inv entory.list", "a..b"} {
		require.Error(t, ValidatePattern(invalid), "pattern=%q", invalid)
	}
}
