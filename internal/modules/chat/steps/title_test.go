package steps

import (
	"strings"
	"testing"
)

func TestCleanTitle(t *testing.T) {
	cases := map[string]string{
		"Weekend plans":                   "Weekend plans",
		"  \"Quoted title.\"  ":           "Quoted title",
		"Title: Budget review!\nmore":     "Budget review",
		"**Bold**":                        "Bold",
		"":                                "",
		strings.Repeat("word ", 40) + ".": strings.TrimSpace(strings.Repeat("word ", 16)),
	}
	for in, want := range cases {
		if got := cleanTitle(in); got != want {
			t.Fatalf("cleanTitle(%q): want=%q got=%q", in, want, got)
		}
	}
}
