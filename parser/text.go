package parser

import (
	"bytes"
	"context"
	"fmt"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TextParser handles plain text and Markdown files. Content must be UTF-8.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md", "markdown"} }

func (p *TextParser) Parse(ctx context.Context, data []byte) (*ParseResult, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("text file is not valid UTF-8")
	}

	content := string(data)
	return &ParseResult{
		Text:   content,
		Units:  bytes.Count(data, []byte("\n")) + 1,
		Method: "native",
	}, nil
}
