// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timelineui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
)

// plain strips ANSI styling so tests can assert on text content.
func plain(s string) string {
	return ansi.Strip(s)
}

func TestRenderMessageBodyReflowsParagraphs(t *testing.T) {
	// Hard-wrapped source: the single newline is a soft break and
	// must reflow to the render width, not be preserved.
	input := "this is a sentence\nthat was hard wrapped"
	got := plain(renderMessageBody(input, DefaultTheme, 80))
	if got != "this is a sentence that was hard wrapped" {
		t.Fatalf("rendered = %q", got)
	}
}

func TestRenderMessageBodyWraps(t *testing.T) {
	input := strings.Repeat("word ", 20)
	got := plain(renderMessageBody(input, DefaultTheme, 24))
	for _, line := range strings.Split(got, "\n") {
		if ansi.StringWidth(line) > 24 {
			t.Fatalf("line %q exceeds width", line)
		}
	}
}

func TestRenderMessageBodyCodeBlock(t *testing.T) {
	input := "before\n\n```go\nfunc main() {}\n```\n\nafter"
	got := plain(renderMessageBody(input, DefaultTheme, 80))
	if !strings.Contains(got, "func main() {}") {
		t.Fatalf("code block lost: %q", got)
	}
	if !strings.Contains(got, "before") || !strings.Contains(got, "after") {
		t.Fatalf("surrounding paragraphs lost: %q", got)
	}
	// Code lines are indented, not reflowed.
	for _, line := range strings.Split(got, "\n") {
		if strings.Contains(line, "func main") && !strings.HasPrefix(line, "  ") {
			t.Fatalf("code line not indented: %q", line)
		}
	}
}

func TestRenderMessageBodyLists(t *testing.T) {
	input := "- first\n- second\n"
	got := plain(renderMessageBody(input, DefaultTheme, 80))
	if !strings.Contains(got, "• first") || !strings.Contains(got, "• second") {
		t.Fatalf("list bullets missing: %q", got)
	}

	ordered := "1. one\n2. two\n"
	got = plain(renderMessageBody(ordered, DefaultTheme, 80))
	if !strings.Contains(got, "1. one") || !strings.Contains(got, "2. two") {
		t.Fatalf("ordered list numbering missing: %q", got)
	}
}

func TestRenderMessageBodyBlockquote(t *testing.T) {
	got := plain(renderMessageBody("> quoted text", DefaultTheme, 80))
	if !strings.Contains(got, "│ quoted text") {
		t.Fatalf("quote prefix missing: %q", got)
	}
}

func TestRenderMessageBodyLink(t *testing.T) {
	got := plain(renderMessageBody("see [the docs](https://example.com)", DefaultTheme, 80))
	if !strings.Contains(got, "the docs") || !strings.Contains(got, "https://example.com") {
		t.Fatalf("link text or destination missing: %q", got)
	}
}

func TestRenderMessageBodyEmpty(t *testing.T) {
	if got := renderMessageBody("", DefaultTheme, 80); got != "" {
		t.Fatalf("empty input rendered %q", got)
	}
}
