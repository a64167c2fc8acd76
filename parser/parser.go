// Package parser turns BRD inputs of various formats into plain text.
package parser

import "context"

// ParseResult is what a parser produces from a document file.
type ParseResult struct {
	Text   string // Plain text in document order
	Units  int    // Pages, paragraphs, or rows, depending on the format
	Method string // "native"
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, data []byte) (*ParseResult, error)
	SupportedFormats() []string
}
