package processors

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/athapong/docgraph/pkg/graph"
	"github.com/athapong/docgraph/pkg/graph/normalize"
)

// maxHTMLElements caps the elements taken from one HTML page.
const maxHTMLElements = 200

const htmlBlocks = "h1, h2, h3, h4, h5, h6, p, li, table, figcaption, img, pre, blockquote"

// HTMLProcessor is responsible for processing HTML content into a single
// synthesized page of block elements in document order.
type HTMLProcessor struct{}

// NewHTMLProcessor creates a new instance of HTMLProcessor.
func NewHTMLProcessor() *HTMLProcessor {
	return &HTMLProcessor{}
}

// Process parses the HTML content and maps block elements to layout elements.
func (p *HTMLProcessor) Process(ctx context.Context, content []byte) (*Extraction, error) {
	// Create a new document from the HTML content
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to create document from HTML content: %w", err)
	}

	var elements []graph.Element
	doc.Find("body").Find(htmlBlocks).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if len(elements) >= maxHTMLElements || ctx.Err() != nil {
			return false
		}
		if el, ok := htmlElement(len(elements), s); ok {
			elements = append(elements, el)
		}
		return true
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Extraction{Layouts: synthesized(elements)}, nil
}

func htmlElement(idx int, s *goquery.Selection) (graph.Element, bool) {
	tag := goquery.NodeName(s)

	// tables are taken whole; their cells are not separate elements
	if tag != "table" && s.ParentsFiltered("table").Length() > 0 {
		return graph.Element{}, false
	}
	if tag == "p" && s.ParentsFiltered("li, blockquote").Length() > 0 {
		return graph.Element{}, false
	}

	el := graph.Element{
		ID:         fmt.Sprintf("html_%d", idx),
		BBox:       graph.BBox{},
		Confidence: 1,
	}

	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		el.Type = graph.ElementHeading
	case "li":
		el.Type = graph.ElementList
	case "figcaption":
		el.Type = graph.ElementCaption
	case "img":
		el.Type = graph.ElementImage
		el.Text = strings.TrimSpace(s.AttrOr("alt", ""))
		return el, true
	case "table":
		el.Type = graph.ElementTable
		t := normalize.TableFromRows(htmlRows(s))
		el.Table = &t
		if caption := strings.TrimSpace(s.Find("caption").First().Text()); caption != "" {
			el.Text = caption
		} else {
			el.Text = fmt.Sprintf("Table %d", idx+1)
		}
		return el, true
	default:
		el.Type = graph.ElementParagraph
	}

	el.Text = strings.TrimSpace(s.Text())
	if el.Text == "" {
		return graph.Element{}, false
	}
	return el, true
}

func htmlRows(table *goquery.Selection) [][]string {
	var rows [][]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var row []string
		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			row = append(row, strings.Join(strings.Fields(cell.Text()), " "))
		})
		if len(row) > 0 {
			rows = append(rows, row)
		}
	})
	return rows
}

// SupportedTypes returns the file extensions supported by the HTMLProcessor.
func (p *HTMLProcessor) SupportedTypes() []string {
	return []string{".html", ".htm"}
}
