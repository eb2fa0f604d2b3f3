package processors

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/athapong/docgraph/pkg/graph"
	"github.com/athapong/docgraph/pkg/graph/normalize"
)

// DOCXProcessor lays a word-processing document out on a single page:
// paragraphs first, stacked top to bottom, then tables.
type DOCXProcessor struct {
	maxParagraphs int
	maxTables     int
}

func NewDOCXProcessor(maxParagraphs, maxTables int) *DOCXProcessor {
	return &DOCXProcessor{maxParagraphs: maxParagraphs, maxTables: maxTables}
}

type docxParagraph struct {
	text  string
	style string
}

func (p *DOCXProcessor) Process(ctx context.Context, content []byte) (*Extraction, error) {
	r, err := openZip(content)
	if err != nil {
		return nil, err
	}
	docFile := findZipFile(r, "word/document.xml")
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in archive")
	}

	decoder, closer, err := zipDecoder(docFile)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	paragraphs, tables := parseDocx(decoder)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.maxParagraphs > 0 && len(paragraphs) > p.maxParagraphs {
		paragraphs = paragraphs[:p.maxParagraphs]
	}
	if p.maxTables > 0 && len(tables) > p.maxTables {
		tables = tables[:p.maxTables]
	}

	elements := make([]graph.Element, 0, len(paragraphs)+len(tables))
	for i, para := range paragraphs {
		typ := graph.ElementParagraph
		if docxHeadingLevel(para.style) > 0 {
			typ = graph.ElementHeading
		}
		y := float64(i * 20)
		elements = append(elements, graph.Element{
			ID:         fmt.Sprintf("para_%d", i),
			Type:       typ,
			Text:       para.text,
			BBox:       graph.BBox{0, y, 100, y + 20},
			Confidence: 1,
		})
	}
	for i, rows := range tables {
		t := normalize.TableFromRows(rows)
		elements = append(elements, graph.Element{
			ID:         fmt.Sprintf("table_%d", i),
			Type:       graph.ElementTable,
			Text:       fmt.Sprintf("Table %d", i+1),
			BBox:       fullPage(),
			Confidence: 1,
			Table:      &t,
		})
	}

	return &Extraction{Layouts: synthesized(elements)}, nil
}

// parseDocx walks document.xml once. Paragraphs inside tables belong to
// their cell, not to the paragraph list.
func parseDocx(decoder *xml.Decoder) ([]docxParagraph, [][][]string) {
	var (
		paragraphs []docxParagraph
		tables     [][][]string

		tableDepth int
		rows       [][]string
		row        []string
		cell       []string

		text   strings.Builder
		style  string
		inText bool
	)

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
				if tableDepth == 1 {
					rows = nil
				}
			case "tr":
				if tableDepth == 1 {
					row = nil
				}
			case "tc":
				if tableDepth == 1 {
					cell = nil
				}
			case "p":
				text.Reset()
				style = ""
			case "pStyle":
				style = attr(t, "val")
			case "t":
				inText = true
			case "tab":
				text.WriteByte('\t')
			}

		case xml.CharData:
			if inText {
				text.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				s := strings.TrimSpace(text.String())
				if tableDepth > 0 {
					if s != "" {
						cell = append(cell, s)
					}
				} else if s != "" {
					paragraphs = append(paragraphs, docxParagraph{text: s, style: style})
				}
			case "tc":
				if tableDepth == 1 {
					row = append(row, strings.Join(cell, "\n"))
				}
			case "tr":
				if tableDepth == 1 {
					rows = append(rows, row)
				}
			case "tbl":
				if tableDepth == 1 && len(rows) > 0 {
					tables = append(tables, rows)
				}
				tableDepth--
			}
		}
	}

	return paragraphs, tables
}

// docxHeadingLevel extracts the heading level from a paragraph style name.
// e.g. "Heading1" → 1, "Title" → 1, "Subtitle" → 2.
func docxHeadingLevel(style string) int {
	lower := strings.ToLower(style)

	switch lower {
	case "title":
		return 1
	case "subtitle":
		return 2
	}

	if rest, ok := strings.CutPrefix(lower, "heading"); ok {
		if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
			return int(rest[0] - '0')
		}
	}
	return 0
}

func (p *DOCXProcessor) SupportedTypes() []string {
	return []string{".docx"}
}
