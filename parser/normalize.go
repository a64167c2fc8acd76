package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNoText means the input held no usable text.
	ErrNoText = errors.New("parser: no text")
	// ErrDecode means a document could not be read or decoded.
	ErrDecode = errors.New("parser: decode failed")
)

// Source is one raw BRD input. A file (Data with Name, or Path) takes
// precedence over Text.
type Source struct {
	Text string
	Name string // declared file name; its extension selects the parser
	Data []byte
	Path string
}

// Document is the normalized plain text of a Source.
type Document struct {
	Text     string
	Source   string // "text" or the file name
	Format   string
	Units    int
	Warnings []string
}

// Normalize converts a Source into plain text. Decode failures, including
// panics raised inside format readers, come back as an error wrapping
// ErrDecode together with a Document carrying an explicit warning. A
// Document with no text comes back with ErrNoText. Plain text passes
// through unchanged.
func Normalize(ctx context.Context, reg *Registry, src Source) (*Document, error) {
	if src.Data == nil && src.Path == "" {
		doc := &Document{Text: src.Text, Source: "text", Format: "text"}
		if strings.TrimSpace(src.Text) == "" {
			doc.Text = ""
			return doc, ErrNoText
		}
		return doc, nil
	}

	name := src.Name
	data := src.Data
	if data == nil {
		if name == "" {
			name = filepath.Base(src.Path)
		}
		b, err := os.ReadFile(src.Path)
		if err != nil {
			doc := &Document{Source: name, Format: FormatOf(name)}
			return doc, decodeFailure(doc, err)
		}
		data = b
	}

	doc := &Document{Source: name, Format: FormatOf(name)}

	p, err := reg.Get(doc.Format)
	if err != nil {
		return doc, decodeFailure(doc, err)
	}

	result, err := safeParse(ctx, p, data)
	if err != nil {
		if ctx.Err() != nil {
			return doc, ctx.Err()
		}
		return doc, decodeFailure(doc, err)
	}

	doc.Units = result.Units
	if strings.TrimSpace(result.Text) == "" {
		if doc.Format == "pdf" {
			doc.Warnings = append(doc.Warnings,
				fmt.Sprintf("%s: no text extracted from PDF; it may be a scanned image", name))
		} else {
			doc.Warnings = append(doc.Warnings, fmt.Sprintf("%s: document contains no text", name))
		}
		slog.Warn("ingest: empty document", "source", name, "format", doc.Format)
		return doc, ErrNoText
	}

	doc.Text = result.Text
	slog.Debug("ingest: document normalized",
		"source", name, "format", doc.Format, "units", doc.Units, "chars", len(doc.Text))
	return doc, nil
}

// safeParse runs p, converting a panic inside the reader into an error.
func safeParse(ctx context.Context, p Parser, data []byte) (result *ParseResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("reader panic: %v", r)
		}
	}()
	return p.Parse(ctx, data)
}

func decodeFailure(doc *Document, cause error) error {
	msg := fmt.Sprintf("%s: could not read document: %v", doc.Source, cause)
	doc.Warnings = append(doc.Warnings, msg)
	slog.Warn("ingest: decode failed", "source", doc.Source, "format", doc.Format, "error", cause)
	return fmt.Errorf("%w: %v", ErrDecode, cause)
}
