// Package render writes diagram markup to disk and turns it into SVG images
// and PDF documents. Every step after the markup file is best effort.
package render

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrUnavailable is recorded when no renderer is configured.
var ErrUnavailable = errors.New("render: renderer unavailable")

// Renderer turns Mermaid markup into an SVG image.
type Renderer interface {
	Render(ctx context.Context, markup string) ([]byte, error)
}

// Converter turns an SVG image into a PDF document.
type Converter interface {
	Convert(ctx context.Context, svg []byte) ([]byte, error)
}

var mermaidFenceRe = regexp.MustCompile("(?s)```(?:mermaid)?[ \\t]*\\n(.*?)```")

// MermaidSource returns the diagram source to hand to a renderer. When the
// markup carries a fenced block, the block body is used; otherwise the
// trimmed markup.
func MermaidSource(markup string) string {
	if m := mermaidFenceRe.FindStringSubmatch(markup); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(markup)
}
