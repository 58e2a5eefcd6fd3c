package source

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"webservers", "webservers"},
		{"web servers", "web servers"},
		{"<b>web</b>", "web"},
		{"web; DROP TABLE groups", "web DROP TABLE groups"},
		{`quoted "name"`, "quoted name"},
		{"back\\slash", "backslash"},
		{"comment--injection", "commentinjection"},
		{"block/*comment*/done", "blockcommentdone"},
		{"tabs\tand\nnewlines", "tabsandnewlines"},
		{"call(me)", "callme"},
		{"<script></script>", PlaceholderName},
		{"", PlaceholderName},
		{"   ", PlaceholderName},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, SanitizeName(tc.in), "input=%q", tc.in)
	}
}

func TestSanitizeStripsScriptKeywords(t *testing.T) {
	require.NotContains(t, SanitizeName("javascript:doThing"), "javascript:")
	require.NotContains(t, SanitizeName("onerror=steal"), "onerror")
	require.NotContains(t, SanitizeName("my-script-group"), "script")
}
