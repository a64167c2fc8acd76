package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const wordMLNamespace = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// DOCXParser extracts the text of each body paragraph in document order.
// Tables, headers, footers and images are ignored.
type DOCXParser struct{}

func (p *DOCXParser) SupportedFormats() []string { return []string{"docx"} }

func (p *DOCXParser) Parse(ctx context.Context, data []byte) (*ParseResult, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening DOCX: %w", err)
	}

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in DOCX")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("opening document.xml: %w", err)
	}
	defer rc.Close()

	paras, err := docxParagraphs(rc)
	if err != nil {
		return nil, fmt.Errorf("parsing DOCX XML: %w", err)
	}

	return &ParseResult{
		Text:   strings.Join(paras, "\n"),
		Units:  len(paras),
		Method: "native",
	}, nil
}

// docxParagraphs streams document.xml and returns the text of every
// paragraph that is a direct child of w:body. Tabs and breaks inside runs
// are kept as "\t" and "\n".
func docxParagraphs(r io.Reader) ([]string, error) {
	decoder := xml.NewDecoder(r)

	var (
		paras     []string
		stack     []string
		current   strings.Builder
		paraDepth = -1 // stack depth of the open body-level paragraph
		inText    bool
	)

	isWord := func(n xml.Name) bool { return n.Space == wordMLNamespace || n.Space == "" }

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			if !isWord(t.Name) {
				continue
			}
			switch t.Name.Local {
			case "p":
				if paraDepth < 0 && len(stack) >= 2 && stack[len(stack)-2] == "body" {
					paraDepth = len(stack)
					current.Reset()
				}
			case "t":
				inText = paraDepth > 0
			case "tab":
				// Tab stops under w:pPr/w:tabs share the name; only run tabs are text.
				if paraDepth > 0 && inRun(stack) {
					current.WriteByte('\t')
				}
			case "br", "cr":
				if paraDepth > 0 && inRun(stack) {
					current.WriteByte('\n')
				}
			}

		case xml.CharData:
			if inText {
				current.Write(t)
			}

		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
			if t.Name.Local == "p" && len(stack) == paraDepth {
				paras = append(paras, current.String())
				paraDepth = -1
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if len(stack) != 0 {
		return nil, fmt.Errorf("unexpected end of document.xml")
	}
	return paras, nil
}

// inRun reports whether the element on top of stack is a child of w:r.
func inRun(stack []string) bool {
	return len(stack) >= 2 && stack[len(stack)-2] == "r"
}
