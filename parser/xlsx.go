package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser flattens every sheet into lines of tab-separated cells,
// each sheet introduced by its name.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx"} }

func (p *XLSXParser) Parse(ctx context.Context, data []byte) (*ParseResult, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var (
		content strings.Builder
		rowsOut int
	)

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}

		var sheetLines []string
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if strings.TrimSpace(line) == "" {
				continue
			}
			sheetLines = append(sheetLines, line)
		}
		if len(sheetLines) == 0 {
			continue
		}

		if content.Len() > 0 {
			content.WriteString("\n")
		}
		content.WriteString(sheet + "\n")
		content.WriteString(strings.Join(sheetLines, "\n"))
		rowsOut += len(sheetLines)
	}

	return &ParseResult{
		Text:   content.String(),
		Units:  rowsOut,
		Method: "native",
	}, nil
}
