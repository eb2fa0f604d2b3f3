package processors

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/athapong/docgraph/pkg/graph"
	"github.com/athapong/docgraph/pkg/graph/normalize"
	"github.com/xuri/excelize/v2"
)

// XLSXProcessor emits one page per worksheet holding a single table element.
type XLSXProcessor struct{}

func NewXLSXProcessor() *XLSXProcessor {
	return &XLSXProcessor{}
}

func (p *XLSXProcessor) Process(ctx context.Context, content []byte) (*Extraction, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	pages := make([][]graph.Element, 0, len(sheets))
	for idx, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}

		var data [][]string
		for _, row := range rows {
			if strings.TrimSpace(strings.Join(row, "")) != "" {
				data = append(data, row)
			}
		}

		t := normalize.TableFromRows(data)
		pages = append(pages, []graph.Element{{
			ID:         fmt.Sprintf("table_%d", idx),
			Type:       graph.ElementTable,
			Text:       "Table: " + sheet,
			BBox:       fullPage(),
			Confidence: 1,
			Table:      &t,
		}})
	}

	return &Extraction{Layouts: synthesized(pages...)}, nil
}

func (p *XLSXProcessor) SupportedTypes() []string {
	return []string{".xlsx"}
}
