// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timelineui

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// markdownParserInstance is initialized once and reused. The parser
// configuration never changes and the goldmark parser is safe to
// share: parsing creates per-call state via Parse(reader).
var (
	markdownParserInstance goldmark.Markdown
	markdownParserOnce     sync.Once
)

func getMarkdownParser() goldmark.Markdown {
	markdownParserOnce.Do(func() {
		markdownParserInstance = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return markdownParserInstance
}

// renderMessageBody parses a message body as markdown and renders it
// as styled terminal output wrapped to width. Soft line breaks become
// spaces so hard-wrapped source reflows at any terminal width; code
// blocks keep their formatting and get chroma syntax highlighting.
func renderMessageBody(input string, theme Theme, width int) string {
	if input == "" {
		return ""
	}
	if width < 8 {
		width = 8
	}
	source := []byte(input)
	document := getMarkdownParser().Parser().Parse(text.NewReader(source))

	// Force the ANSI256 profile: output always targets the bubbletea
	// alt screen, and auto-detection would strip color when stdout is
	// not a TTY (tests, pipes).
	lipRenderer := lipgloss.NewRenderer(os.Stderr, termenv.WithProfile(termenv.ANSI256))
	lipRenderer.SetColorProfile(termenv.ANSI256)

	renderer := &messageRenderer{
		source:      source,
		theme:       theme,
		width:       width,
		lipRenderer: lipRenderer,
	}
	ast.Walk(document, renderer.walk)
	return strings.TrimRight(renderer.output.String(), "\n")
}

// messageRenderer walks a goldmark AST and accumulates styled
// terminal text. Inline content collects in a buffer and is
// word-wrapped as a unit when its containing block closes.
type messageRenderer struct {
	source []byte
	theme  Theme
	width  int

	output strings.Builder
	inline strings.Builder

	// Inline style counters; counters rather than booleans so nested
	// emphasis unwinds correctly.
	boldCount   int
	italicCount int
	strikeCount int

	quoteDepth  int
	listDepth   int
	orderedItem int

	lipRenderer *lipgloss.Renderer
}

func (r *messageRenderer) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch typed := node.(type) {
	// Tight list items carry their text in a TextBlock rather than a
	// Paragraph; both flush the same way.
	case *ast.Paragraph, *ast.Heading, *ast.TextBlock:
		if entering {
			r.inline.Reset()
		} else {
			bold := false
			if heading, ok := node.(*ast.Heading); ok && heading.Level <= 2 {
				bold = true
			}
			r.flushInline(bold)
		}
	case *ast.Text:
		if entering {
			r.writeStyled(string(typed.Segment.Value(r.source)))
			if typed.SoftLineBreak() {
				r.inline.WriteString(" ")
			}
			if typed.HardLineBreak() {
				r.inline.WriteString("\n")
			}
		}
	case *ast.Emphasis:
		if typed.Level >= 2 {
			r.count(&r.boldCount, entering)
		} else {
			r.count(&r.italicCount, entering)
		}
	case *extast.Strikethrough:
		r.count(&r.strikeCount, entering)
	case *ast.CodeSpan:
		if entering {
			style := r.lipRenderer.NewStyle().Foreground(r.theme.CodeForeground)
			r.inline.WriteString(style.Render(string(typed.Text(r.source))))
			return ast.WalkSkipChildren, nil
		}
	case *ast.Link:
		if !entering {
			style := r.lipRenderer.NewStyle().Foreground(r.theme.LinkForeground)
			r.inline.WriteString(style.Render(fmt.Sprintf(" (%s)", typed.Destination)))
		}
	case *ast.AutoLink:
		if entering {
			style := r.lipRenderer.NewStyle().Foreground(r.theme.LinkForeground)
			r.inline.WriteString(style.Render(string(typed.URL(r.source))))
		}
	case *ast.FencedCodeBlock:
		if entering {
			r.renderCodeBlock(typed)
			return ast.WalkSkipChildren, nil
		}
	case *ast.CodeBlock:
		if entering {
			r.renderIndentedCode(typed)
			return ast.WalkSkipChildren, nil
		}
	case *ast.Blockquote:
		if entering {
			r.quoteDepth++
		} else {
			r.quoteDepth--
		}
	case *ast.List:
		if entering {
			r.listDepth++
			if typed.IsOrdered() {
				r.orderedItem = typed.Start
			} else {
				r.orderedItem = 0
			}
		} else {
			r.listDepth--
		}
	case *ast.ListItem:
		if entering {
			bullet := "• "
			if r.orderedItem > 0 {
				bullet = fmt.Sprintf("%d. ", r.orderedItem)
				r.orderedItem++
			}
			r.output.WriteString(strings.Repeat("  ", r.listDepth-1))
			r.output.WriteString(bullet)
			// The item's paragraph flushes inline onto this line.
			r.inline.Reset()
		}
	case *ast.ThematicBreak:
		if !entering {
			rule := r.lipRenderer.NewStyle().Foreground(r.theme.FaintText)
			r.output.WriteString(rule.Render(strings.Repeat("─", min(r.width, 24))))
			r.output.WriteString("\n")
		}
	}
	return ast.WalkContinue, nil
}

func (r *messageRenderer) count(counter *int, entering bool) {
	if entering {
		*counter++
	} else {
		*counter--
	}
}

// writeStyled appends text with the current inline style applied.
func (r *messageRenderer) writeStyled(content string) {
	style := r.lipRenderer.NewStyle().Foreground(r.theme.NormalText)
	if r.boldCount > 0 {
		style = style.Bold(true)
	}
	if r.italicCount > 0 {
		style = style.Italic(true)
	}
	if r.strikeCount > 0 {
		style = style.Strikethrough(true)
	}
	if r.quoteDepth > 0 {
		style = style.Foreground(r.theme.QuoteForeground)
	}
	r.inline.WriteString(style.Render(content))
}

// flushInline word-wraps the accumulated inline buffer and appends it
// to the output, with blockquote prefixes when inside a quote.
func (r *messageRenderer) flushInline(bold bool) {
	content := r.inline.String()
	r.inline.Reset()
	if content == "" {
		return
	}
	prefix := strings.Repeat("│ ", r.quoteDepth)
	wrapped := ansi.Wordwrap(content, r.width-ansi.StringWidth(prefix), " ")
	if bold {
		style := r.lipRenderer.NewStyle().Bold(true)
		wrapped = style.Render(wrapped)
	}
	for line := range strings.Lines(wrapped) {
		if prefix != "" {
			quoteStyle := r.lipRenderer.NewStyle().Foreground(r.theme.QuoteForeground)
			r.output.WriteString(quoteStyle.Render(prefix))
		}
		r.output.WriteString(strings.TrimRight(line, "\n"))
		r.output.WriteString("\n")
	}
}

// renderCodeBlock emits a fenced code block with chroma highlighting.
// Unknown languages fall back to plain styled text.
func (r *messageRenderer) renderCodeBlock(block *ast.FencedCodeBlock) {
	var code strings.Builder
	for i := range block.Lines().Len() {
		segment := block.Lines().At(i)
		code.Write(segment.Value(r.source))
	}
	language := string(block.Language(r.source))

	var highlighted strings.Builder
	err := quick.Highlight(&highlighted, code.String(), language, "terminal256", "monokai")
	rendered := highlighted.String()
	if err != nil || language == "" {
		style := r.lipRenderer.NewStyle().Foreground(r.theme.CodeForeground)
		rendered = style.Render(code.String())
	}
	for line := range strings.Lines(rendered) {
		r.output.WriteString("  ")
		r.output.WriteString(strings.TrimRight(line, "\n"))
		r.output.WriteString("\n")
	}
}

func (r *messageRenderer) renderIndentedCode(block *ast.CodeBlock) {
	style := r.lipRenderer.NewStyle().Foreground(r.theme.CodeForeground)
	for i := range block.Lines().Len() {
		segment := block.Lines().At(i)
		r.output.WriteString("  ")
		r.output.WriteString(style.Render(strings.TrimRight(string(segment.Value(r.source)), "\n")))
		r.output.WriteString("\n")
	}
}
