// Package render turns answers and history snapshots into displayable output.
package render

import (
	"bytes"
	"html"
	"log/slog"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// md renders CommonMark plus GFM tables and strikethrough. Raw HTML in model
// output is dropped rather than passed to the browser.
var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
)

// HTML renders markdown source to an HTML fragment. If rendering fails the
// escaped source is returned inside a paragraph.
func HTML(source string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		slog.Warn("markdown render failed", "error", err)
		return "<p>" + html.EscapeString(source) + "</p>"
	}
	return buf.String()
}

// Terminal renders markdown for a terminal of the given width.
func Terminal(source string, width int) string {
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return source
	}
	out, err := r.Render(source)
	if err != nil {
		return source
	}
	return strings.TrimRight(out, "\n") + "\n"
}
